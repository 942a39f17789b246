package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderpay/internal/event"
	"orderpay/orders/internal/app/orders"
	"orderpay/orders/internal/domain"
)

type fakeService struct {
	created map[string]*orders.OrderResponse
	failAll bool
}

func (f *fakeService) CreateOrder(_ context.Context, userID string, req *orders.CreateOrderRequest) (*orders.OrderResponse, error) {
	if f.failAll {
		return nil, errors.New("db down")
	}
	o, err := domain.NewOrder(userID, req.Description, req.Amount)
	if err != nil {
		return nil, err
	}
	res := &orders.OrderResponse{ID: o.ID, UserID: o.UserID, Amount: o.Amount.StringFixed(2), Status: string(o.Status)}
	f.created[o.ID] = res
	return res, nil
}

func (f *fakeService) GetOrder(_ context.Context, userID, orderID string) (*orders.OrderResponse, error) {
	o, ok := f.created[orderID]
	if !ok || o.UserID != userID {
		return nil, orders.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeService) GetOrdersByUserID(_ context.Context, userID string) ([]*orders.OrderResponse, error) {
	out := []*orders.OrderResponse{}
	for _, o := range f.created {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeService) HandlePaymentResult(context.Context, string, *event.PaymentResult) error {
	return nil
}

func newRouter(svc *fakeService) http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, svc, zap.NewNop())
	return r
}

func do(h http.Handler, method, target, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetOrder(t *testing.T) {
	svc := &fakeService{created: map[string]*orders.OrderResponse{}}
	h := newRouter(svc)

	rec := do(h, http.MethodPost, "/orders", "u1", `{"amount":"100","description":"book"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created orders.OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "NEW", created.Status)
	assert.Equal(t, "100.00", created.Amount)

	rec = do(h, http.MethodGet, "/orders/"+created.ID, "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/orders/"+created.ID, "u2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodGet, "/orders", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []orders.OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestCreateOrder_BadRequests(t *testing.T) {
	h := newRouter(&fakeService{created: map[string]*orders.OrderResponse{}})

	tests := []struct {
		name   string
		userID string
		body   string
	}{
		{name: "missing user", userID: "", body: `{"amount":"1"}`},
		{name: "broken json", userID: "u1", body: `{`},
		{name: "negative amount", userID: "u1", body: `{"amount":"-1"}`},
		{name: "too precise", userID: "u1", body: `{"amount":"0.001"}`},
		{name: "long description", userID: "u1", body: fmt.Sprintf(`{"amount":"1","description":%q}`, strings.Repeat("x", 513))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/orders", tt.userID, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateOrder_InternalError(t *testing.T) {
	h := newRouter(&fakeService{created: map[string]*orders.OrderResponse{}, failAll: true})

	rec := do(h, http.MethodPost, "/orders", "u1", `{"amount":"1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
