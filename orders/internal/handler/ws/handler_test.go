package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderpay/internal/event"
	"orderpay/orders/internal/app/orders"
	"orderpay/orders/internal/fanout"
)

type fakeOrders struct {
	order *orders.OrderResponse
	// afterRead runs after each successful GetOrder lookup.
	afterRead func()
}

func (f *fakeOrders) CreateOrder(context.Context, string, *orders.CreateOrderRequest) (*orders.OrderResponse, error) {
	return nil, nil
}

func (f *fakeOrders) GetOrder(_ context.Context, userID, orderID string) (*orders.OrderResponse, error) {
	if f.order.ID != orderID || f.order.UserID != userID {
		return nil, orders.ErrOrderNotFound
	}
	snapshot := *f.order
	if f.afterRead != nil {
		f.afterRead()
	}
	return &snapshot, nil
}

func (f *fakeOrders) GetOrdersByUserID(context.Context, string) ([]*orders.OrderResponse, error) {
	return nil, nil
}

func (f *fakeOrders) HandlePaymentResult(context.Context, string, *event.PaymentResult) error {
	return nil
}

func newServer(t *testing.T) (*httptest.Server, *fanout.Hub) {
	t.Helper()
	hub := fanout.NewHub(zap.NewNop())
	svc := &fakeOrders{order: &orders.OrderResponse{ID: "o-1", UserID: "u1", Amount: "100.00", Status: "NEW"}}
	return serve(t, svc, hub), hub
}

func serve(t *testing.T, svc orders.OrderService, hub *fanout.Hub) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(svc, hub, zap.NewNop()))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestServeOrder_SnapshotThenUpdates(t *testing.T) {
	srv, hub := newServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/orders/o-1?user_id=u1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var snapshot fanout.Message
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, fanout.TypeSnapshot, snapshot.Type)
	assert.Equal(t, "NEW", snapshot.Status)
	assert.Equal(t, "100.00", snapshot.Amount)

	require.Eventually(t, func() bool { return hub.Count("o-1") == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(context.Background(), "o-1", fanout.Message{
		Type: fanout.TypeUpdate, OrderID: "o-1", Status: "FINISHED", PaymentStatus: "succeeded",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var update fanout.Message
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, fanout.TypeUpdate, update.Type)
	assert.Equal(t, "FINISHED", update.Status)
}

func TestServeOrder_UnsubscribesOnDisconnect(t *testing.T) {
	srv, hub := newServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/orders/o-1?user_id=u1"), nil)
	require.NoError(t, err)
	var snapshot fanout.Message
	require.NoError(t, conn.ReadJSON(&snapshot))
	require.Eventually(t, func() bool { return hub.Count("o-1") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Count("o-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeOrder_RejectsBeforeUpgrade(t *testing.T) {
	srv, _ := newServer(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{name: "foreign order", path: "/ws/orders/o-1?user_id=u2", code: http.StatusNotFound},
		{name: "unknown order", path: "/ws/orders/o-404?user_id=u1", code: http.StatusNotFound},
		{name: "no user", path: "/ws/orders/o-1", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tt.path), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestServeOrder_UpdateDuringSnapshotReadIsDelivered(t *testing.T) {
	hub := fanout.NewHub(zap.NewNop())
	svc := &fakeOrders{order: &orders.OrderResponse{ID: "o-1", UserID: "u1", Amount: "100.00", Status: "NEW"}}
	svc.afterRead = func() {
		hub.Broadcast(context.Background(), "o-1", fanout.Message{
			Type: fanout.TypeUpdate, OrderID: "o-1", Status: "FINISHED", PaymentStatus: "succeeded",
		})
	}
	srv := serve(t, svc, hub)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/orders/o-1?user_id=u1"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snapshot fanout.Message
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, fanout.TypeSnapshot, snapshot.Type)
	assert.Equal(t, "NEW", snapshot.Status)

	var update fanout.Message
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, fanout.TypeUpdate, update.Type)
	assert.Equal(t, "FINISHED", update.Status)
}
