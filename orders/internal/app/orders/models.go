package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"orderpay/orders/internal/domain"
)

type CreateOrderRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type OrderResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func mapOrderToResponse(o *domain.Order) *OrderResponse {
	return &OrderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Description: o.Description,
		Amount:      o.Amount.StringFixed(2),
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   o.UpdatedAt.Format(time.RFC3339),
	}
}

func mapOrdersToResponse(orders []*domain.Order) []*OrderResponse {
	res := make([]*OrderResponse, 0, len(orders))
	for _, o := range orders {
		res = append(res, mapOrderToResponse(o))
	}
	return res
}
