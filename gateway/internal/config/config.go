package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ServiceName        string
	LogLevel           string
	GatewayPort        int
	OrdersServiceURL   string
	PaymentsServiceURL string
	AllowedOrigins     []string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.ServiceName = getEnvOrDefault("SERVICE_NAME", "gateway")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	port, err := strconv.Atoi(getEnvOrDefault("GATEWAY_PORT", "80"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_PORT: %w", err)
	}
	cfg.GatewayPort = port

	cfg.OrdersServiceURL = getEnvOrDefault("ORDERS_SERVICE_HOST", "http://localhost:8081")
	cfg.PaymentsServiceURL = getEnvOrDefault("PAYMENTS_SERVICE_HOST", "http://localhost:8082")
	cfg.AllowedOrigins = splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173"))

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
