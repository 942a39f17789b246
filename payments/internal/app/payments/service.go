package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderpay/internal/database"
	"orderpay/internal/event"
	"orderpay/internal/inbox"
	"orderpay/internal/outbox"
	"orderpay/payments/internal/domain"
	"orderpay/payments/internal/repository/accounts_repo"
	"orderpay/payments/internal/repository/balance_tx_repo"
	"orderpay/payments/internal/repository/payments_repo"
)

const (
	aggregatePayment        = "payment"
	defaultTransactionLimit = 100
	maxTransactionLimit     = 1000
)

type PaymentService interface {
	// ProcessPaymentRequested decides the payment for one order and enqueues
	// the PaymentResult. Redelivering the same request never debits twice;
	// it enqueues the stored decision again.
	ProcessPaymentRequested(ctx context.Context, messageID string, req *event.PaymentRequested) (*domain.Payment, error)
	CreateAccount(ctx context.Context, userID string) (*domain.Account, error)
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	TopUp(ctx context.Context, userID string, amount decimal.Decimal) (*domain.Account, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.BalanceTransaction, error)
}

type paymentService struct {
	tx          database.Transactor
	accountRepo accounts_repo.AccountRepository
	paymentRepo payments_repo.PaymentRepository
	ledgerRepo  balance_tx_repo.BalanceTransactionRepository
	inboxRepo   inbox.Repository
	outboxRepo  outbox.Repository
	producer    string
	logger      *zap.Logger
	now         func() time.Time
}

func NewPaymentService(
	tx database.Transactor,
	accountRepo accounts_repo.AccountRepository,
	paymentRepo payments_repo.PaymentRepository,
	ledgerRepo balance_tx_repo.BalanceTransactionRepository,
	inboxRepo inbox.Repository,
	outboxRepo outbox.Repository,
	producer string,
	logger *zap.Logger,
) PaymentService {
	return &paymentService{
		tx:          tx,
		accountRepo: accountRepo,
		paymentRepo: paymentRepo,
		ledgerRepo:  ledgerRepo,
		inboxRepo:   inboxRepo,
		outboxRepo:  outboxRepo,
		producer:    producer,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *paymentService) ProcessPaymentRequested(ctx context.Context, messageID string, req *event.PaymentRequested) (*domain.Payment, error) {
	var payment *domain.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		// The inbox row is kept for auditing; the order id below is the real
		// idempotency key, so a duplicate message still republishes its result.
		fresh, err := s.inboxRepo.TryInsert(ctx, q, messageID)
		if err != nil {
			return err
		}
		if !fresh {
			s.logger.Info("Payment request redelivered",
				zap.String("message_id", messageID),
				zap.String("order_id", req.OrderID))
		}

		payment, err = s.decide(ctx, q, req)
		if err != nil {
			return err
		}
		return s.enqueueResult(ctx, q, payment)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process payment for order %s: %w", req.OrderID, err)
	}

	fields := []zap.Field{
		zap.String("order_id", payment.OrderID),
		zap.String("payment_id", payment.ID),
		zap.String("status", string(payment.Status)),
	}
	if payment.Reason != nil {
		fields = append(fields, zap.String("reason", string(*payment.Reason)))
	}
	s.logger.Info("Payment decided", fields...)
	return payment, nil
}

func (s *paymentService) decide(ctx context.Context, q database.Querier, req *event.PaymentRequested) (*domain.Payment, error) {
	placeholder := &domain.Payment{
		ID:        uuid.NewString(),
		OrderID:   req.OrderID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Status:    domain.PaymentStatusFailed,
		CreatedAt: s.now(),
	}
	inserted, err := s.paymentRepo.InsertPlaceholder(ctx, q, placeholder)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.paymentRepo.GetByOrderID(ctx, q, req.OrderID)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Payment already decided, republishing result",
			zap.String("order_id", req.OrderID),
			zap.String("status", string(existing.Status)))
		return existing, nil
	}

	payment := placeholder
	account, err := s.accountRepo.GetForUpdate(ctx, q, req.UserID)
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		payment.Fail(domain.ReasonAccountNotFound)
	case err != nil:
		return nil, err
	case account.Balance.GreaterThanOrEqual(req.Amount):
		if err := s.debit(ctx, q, account, req); err != nil {
			return nil, err
		}
		payment.Succeed()
	default:
		payment.Fail(domain.ReasonInsufficientFunds)
	}

	if err := s.paymentRepo.UpdateDecision(ctx, q, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *paymentService) debit(ctx context.Context, q database.Querier, account *domain.Account, req *event.PaymentRequested) error {
	now := s.now()
	if err := s.accountRepo.SetBalance(ctx, q, account.ID, account.Balance.Sub(req.Amount), now); err != nil {
		return err
	}
	orderID := req.OrderID
	return s.ledgerRepo.Insert(ctx, q, &domain.BalanceTransaction{
		ID:        uuid.NewString(),
		UserID:    account.UserID,
		Kind:      domain.KindOrderDebit,
		Amount:    req.Amount.Neg(),
		OrderID:   &orderID,
		CreatedAt: now,
	})
}

func (s *paymentService) enqueueResult(ctx context.Context, q database.Querier, payment *domain.Payment) error {
	env, err := event.NewEnvelope(event.TypePaymentResult, s.producer, payment.Result())
	if err != nil {
		return err
	}
	e, err := outbox.NewEvent(env, aggregatePayment, payment.OrderID)
	if err != nil {
		return fmt.Errorf("failed to build outbox event: %w", err)
	}
	return s.outboxRepo.Create(ctx, q, e)
}

func (s *paymentService) CreateAccount(ctx context.Context, userID string) (*domain.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrMissingUserID
	}

	var account *domain.Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		created, err := s.ensureAccount(ctx, q, userID)
		if err != nil {
			return err
		}
		if created {
			s.logger.Info("Account created", zap.String("user_id", userID))
		}
		account, err = s.accountRepo.GetByUserID(ctx, q, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account for user %s: %w", userID, err)
	}
	return account, nil
}

func (s *paymentService) ensureAccount(ctx context.Context, q database.Querier, userID string) (bool, error) {
	now := s.now()
	return s.accountRepo.CreateIfAbsent(ctx, q, &domain.Account{
		ID:        uuid.NewString(),
		UserID:    userID,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// GetBalance reports zero for users without an account.
func (s *paymentService) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if strings.TrimSpace(userID) == "" {
		return decimal.Zero, domain.ErrMissingUserID
	}

	balance := decimal.Zero
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		account, err := s.accountRepo.GetByUserID(ctx, q, userID)
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		balance = account.Balance
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance for user %s: %w", userID, err)
	}
	return balance, nil
}

// TopUp credits the account, creating it on first use. Concurrent top-ups
// serialise on the account row lock.
func (s *paymentService) TopUp(ctx context.Context, userID string, amount decimal.Decimal) (*domain.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrMissingUserID
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}

	var account *domain.Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		if _, err := s.ensureAccount(ctx, q, userID); err != nil {
			return err
		}
		acc, err := s.accountRepo.GetForUpdate(ctx, q, userID)
		if err != nil {
			return err
		}

		now := s.now()
		acc.Balance = acc.Balance.Add(amount)
		acc.UpdatedAt = now
		if err := s.accountRepo.SetBalance(ctx, q, acc.ID, acc.Balance, now); err != nil {
			return err
		}
		if err := s.ledgerRepo.Insert(ctx, q, &domain.BalanceTransaction{
			ID:        uuid.NewString(),
			UserID:    userID,
			Kind:      domain.KindTopUp,
			Amount:    amount,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		account = acc
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to top up account for user %s: %w", userID, err)
	}

	s.logger.Info("Account topped up",
		zap.String("user_id", userID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("balance", account.Balance.StringFixed(2)))
	return account, nil
}

func (s *paymentService) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.BalanceTransaction, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrMissingUserID
	}
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}

	var txs []domain.BalanceTransaction
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		var err error
		txs, err = s.ledgerRepo.ListByUser(ctx, q, userID, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for user %s: %w", userID, err)
	}
	return txs, nil
}
