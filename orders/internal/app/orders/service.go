package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orderpay/internal/database"
	"orderpay/internal/event"
	"orderpay/internal/inbox"
	"orderpay/internal/outbox"
	"orderpay/orders/internal/domain"
	"orderpay/orders/internal/fanout"
	"orderpay/orders/internal/repository/order_repo"
)

const aggregateOrder = "order"

var (
	ErrOrderNotFound = domain.ErrOrderNotFound
	ErrInvalidOrder  = domain.ErrInvalidOrder
)

type OrderService interface {
	// CreateOrder stores a NEW order and its PaymentRequested event in one
	// transaction.
	CreateOrder(ctx context.Context, userID string, req *CreateOrderRequest) (*OrderResponse, error)
	// GetOrder hides orders of other users behind ErrOrderNotFound.
	GetOrder(ctx context.Context, userID, orderID string) (*OrderResponse, error)
	GetOrdersByUserID(ctx context.Context, userID string) ([]*OrderResponse, error)
	// HandlePaymentResult applies a payment decision at most once per message
	// id and announces the resulting status on every delivery.
	HandlePaymentResult(ctx context.Context, messageID string, res *event.PaymentResult) error
}

type orderService struct {
	tx         database.Transactor
	orderRepo  order_repo.OrderRepository
	inboxRepo  inbox.Repository
	outboxRepo outbox.Repository
	status     fanout.Publisher
	producer   string
	logger     *zap.Logger
}

func NewOrderService(
	tx database.Transactor,
	orderRepo order_repo.OrderRepository,
	inboxRepo inbox.Repository,
	outboxRepo outbox.Repository,
	status fanout.Publisher,
	producer string,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		tx:         tx,
		orderRepo:  orderRepo,
		inboxRepo:  inboxRepo,
		outboxRepo: outboxRepo,
		status:     status,
		producer:   producer,
		logger:     logger,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, userID string, req *CreateOrderRequest) (*OrderResponse, error) {
	order, err := domain.NewOrder(userID, req.Description, req.Amount)
	if err != nil {
		s.logger.Warn("Rejected order", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	env, err := event.NewEnvelope(event.TypePaymentRequested, s.producer, event.PaymentRequested{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Amount:      order.Amount,
		Description: order.Description,
	})
	if err != nil {
		return nil, err
	}
	outboxEvent, err := outbox.NewEvent(env, aggregateOrder, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to build outbox event: %w", err)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		if err := s.orderRepo.CreateOrder(ctx, q, order); err != nil {
			return err
		}
		return s.outboxRepo.Create(ctx, q, outboxEvent)
	})
	if err != nil {
		s.logger.Error("Failed to save order and outbox event", zap.String("order_id", order.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.Info("Order created and payment request added to outbox",
		zap.String("order_id", order.ID),
		zap.String("event_id", outboxEvent.ID),
		zap.String("amount", order.Amount.StringFixed(2)))
	return mapOrderToResponse(order), nil
}

func (s *orderService) GetOrder(ctx context.Context, userID, orderID string) (*OrderResponse, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, ErrOrderNotFound
	}

	var order *domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		var err error
		order, err = s.orderRepo.GetOrderByID(ctx, q, orderID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}
	if order.UserID != strings.TrimSpace(userID) {
		s.logger.Debug("Order requested by another user", zap.String("order_id", orderID))
		return nil, ErrOrderNotFound
	}
	return mapOrderToResponse(order), nil
}

func (s *orderService) GetOrdersByUserID(ctx context.Context, userID string) ([]*OrderResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidOrder)
	}

	var orders []*domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		var err error
		orders, err = s.orderRepo.GetOrdersByUserID(ctx, q, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders for user %s: %w", userID, err)
	}
	return mapOrdersToResponse(orders), nil
}

func (s *orderService) HandlePaymentResult(ctx context.Context, messageID string, res *event.PaymentResult) error {
	target, err := domain.StatusForPayment(res.PaymentStatus)
	if err != nil {
		return fmt.Errorf("%w: %v", event.ErrMalformed, err)
	}
	if _, err := uuid.Parse(res.OrderID); err != nil {
		s.logger.Warn("Payment result for an unknown order id", zap.String("order_id", res.OrderID))
		return nil
	}

	var order *domain.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		fresh, err := s.inboxRepo.TryInsert(ctx, q, messageID)
		if err != nil {
			return err
		}
		if fresh {
			updated, err := s.orderRepo.SetTerminalStatus(ctx, q, res.OrderID, target, time.Now().UTC())
			if err != nil {
				return err
			}
			if !updated {
				s.logger.Info("Order already terminal, payment result ignored",
					zap.String("order_id", res.OrderID),
					zap.String("payment_status", res.PaymentStatus))
			}
		} else {
			s.logger.Info("Payment result already applied",
				zap.String("message_id", messageID),
				zap.String("order_id", res.OrderID))
		}

		order, err = s.orderRepo.GetOrderByID(ctx, q, res.OrderID)
		if errors.Is(err, ErrOrderNotFound) {
			order = nil
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to apply payment result for order %s: %w", res.OrderID, err)
	}
	if order == nil {
		s.logger.Warn("Payment result for an unknown order", zap.String("order_id", res.OrderID))
		return nil
	}

	msg := fanout.Message{
		Type:          fanout.TypeUpdate,
		OrderID:       order.ID,
		Status:        string(order.Status),
		PaymentStatus: res.PaymentStatus,
		Reason:        res.Reason,
	}
	if err := s.status.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish status update for order %s: %w", order.ID, err)
	}

	s.logger.Info("Order status settled",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("payment_status", res.PaymentStatus))
	return nil
}
