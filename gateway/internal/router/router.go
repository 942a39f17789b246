package router

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"orderpay/gateway/internal/config"
)

const requestTimeout = 30 * time.Second

func NewRouter(cfg *config.Config, logger *zap.Logger) (http.Handler, error) {
	ordersURL, err := url.Parse(cfg.OrdersServiceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Order Service URL (%s): %w", cfg.OrdersServiceURL, err)
	}
	paymentsURL, err := url.Parse(cfg.PaymentsServiceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Payments Service URL (%s): %w", cfg.PaymentsServiceURL, err)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	orderProxy := createProxy(ordersURL, logger)
	paymentProxy := createProxy(paymentsURL, logger)

	// Live connections are long-lived, so only REST routes get a deadline.
	r.Handle("/ws/*", orderProxy)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", orderProxy.ServeHTTP)
			r.Get("/", orderProxy.ServeHTTP)
			r.Get("/{orderID}", orderProxy.ServeHTTP)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", paymentProxy.ServeHTTP)
			r.Get("/balance", paymentProxy.ServeHTTP)
			r.Post("/topup", paymentProxy.ServeHTTP)
			r.Get("/transactions", paymentProxy.ServeHTTP)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Gateway is up"))
	})

	return r, nil
}

func createProxy(target *url.URL, logger *zap.Logger) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("Proxy error",
				zap.String("path", r.URL.Path),
				zap.String("target", target.String()),
				zap.Error(err))

			var netErr net.Error
			switch {
			case os.IsTimeout(err):
				renderJSONError(w, "Gateway Timeout", http.StatusGatewayTimeout)
			case errors.As(err, &netErr):
				renderJSONError(w, "Service Unavailable", http.StatusServiceUnavailable)
			default:
				renderJSONError(w, "Bad Gateway", http.StatusBadGateway)
			}
		},
	}
}

func renderJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	fmt.Fprintf(w, `{"error": "%s", "code": %d}`, message, statusCode)
}
