// Package ws streams order status to browsers over WebSocket.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"orderpay/orders/internal/app/orders"
	"orderpay/orders/internal/fanout"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

type Handler struct {
	orders   orders.OrderService
	hub      *fanout.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHandler(s orders.OrderService, hub *fanout.Hub, l *zap.Logger) *Handler {
	return &Handler{
		orders: s,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origin policy is enforced by the gateway
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: l,
	}
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/ws/orders/{orderID}", h.ServeOrder)
}

// ServeOrder sends the current order snapshot, then every status update for
// the order until the client disconnects.
func (h *Handler) ServeOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = strings.TrimSpace(r.Header.Get("X-User-Id"))
	}
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if _, err := h.orders.GetOrder(r.Context(), userID, orderID); err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to load order for live updates", zap.String("order_id", orderID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	sub := &connSubscriber{conn: conn}
	defer sub.close()

	// Subscribe before reading the snapshot so no update can fall between
	// the two; updates that arrive first are held until the snapshot is out.
	h.hub.Subscribe(orderID, sub)
	defer h.hub.Unsubscribe(orderID, sub)

	order, err := h.orders.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		h.logger.Error("Failed to load order snapshot", zap.String("order_id", orderID), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "order unavailable"),
			time.Now().Add(writeWait))
		return
	}
	snapshot := fanout.Message{
		Type:    fanout.TypeSnapshot,
		OrderID: order.ID,
		Status:  order.Status,
		Amount:  order.Amount,
	}
	if err := sub.sendSnapshot(snapshot); err != nil {
		h.logger.Debug("Failed to send snapshot", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	h.logger.Debug("Live subscriber connected", zap.String("order_id", orderID))

	done := make(chan struct{})
	defer close(done)
	go sub.keepAlive(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Debug("Live subscriber disconnected", zap.String("order_id", orderID), zap.Error(err))
			return
		}
	}
}

// connSubscriber serialises writes; gorilla connections allow one writer.
// Updates sent before the snapshot are queued and written right after it.
type connSubscriber struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	primed  bool
	pending []fanout.Message
}

func (s *connSubscriber) Send(_ context.Context, msg fanout.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.primed {
		s.pending = append(s.pending, msg)
		return nil
	}
	return s.write(msg)
}

func (s *connSubscriber) sendSnapshot(snapshot fanout.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(snapshot); err != nil {
		return err
	}
	for _, msg := range s.pending {
		if err := s.write(msg); err != nil {
			return err
		}
	}
	s.pending = nil
	s.primed = true
	return nil
}

func (s *connSubscriber) write(msg fanout.Message) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

func (s *connSubscriber) keepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *connSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close()
}
