package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"orderpay/internal/database"
	"orderpay/internal/outbox"
	"orderpay/payments/internal/domain"
)

// memStore stands in for the payments schema. memTx serialises transactions
// and restores the snapshot when fn fails, which is what row locks plus
// rollback give the service in PostgreSQL.
type memStore struct {
	accounts map[string]domain.Account
	payments map[string]domain.Payment
	ledger   []domain.BalanceTransaction
	inbox    map[string]struct{}
	outbox   []outbox.Event

	failOutbox error
}

func newMemStore() *memStore {
	return &memStore{
		accounts: map[string]domain.Account{},
		payments: map[string]domain.Payment{},
		inbox:    map[string]struct{}{},
	}
}

func (m *memStore) snapshot() *memStore {
	c := &memStore{
		accounts:   make(map[string]domain.Account, len(m.accounts)),
		payments:   make(map[string]domain.Payment, len(m.payments)),
		ledger:     append([]domain.BalanceTransaction(nil), m.ledger...),
		inbox:      make(map[string]struct{}, len(m.inbox)),
		outbox:     append([]outbox.Event(nil), m.outbox...),
		failOutbox: m.failOutbox,
	}
	for k, v := range m.accounts {
		c.accounts[k] = v
	}
	for k, v := range m.payments {
		c.payments[k] = v
	}
	for k := range m.inbox {
		c.inbox[k] = struct{}{}
	}
	return c
}

func (m *memStore) restore(s *memStore) {
	m.accounts, m.payments, m.ledger, m.inbox, m.outbox = s.accounts, s.payments, s.ledger, s.inbox, s.outbox
}

type memTx struct {
	mu    sync.Mutex
	store *memStore
}

func (t *memTx) WithinTx(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.store.snapshot()
	if err := fn(ctx, nil); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

// accounts

func (m *memStore) CreateIfAbsent(_ context.Context, _ database.Querier, a *domain.Account) (bool, error) {
	if _, ok := m.accounts[a.UserID]; ok {
		return false, nil
	}
	m.accounts[a.UserID] = *a
	return true, nil
}

func (m *memStore) GetByUserID(_ context.Context, _ database.Querier, userID string) (*domain.Account, error) {
	a, ok := m.accounts[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &a, nil
}

func (m *memStore) GetForUpdate(ctx context.Context, q database.Querier, userID string) (*domain.Account, error) {
	return m.GetByUserID(ctx, q, userID)
}

func (m *memStore) SetBalance(_ context.Context, _ database.Querier, accountID string, balance decimal.Decimal, at time.Time) error {
	for user, a := range m.accounts {
		if a.ID == accountID {
			a.Balance = balance
			a.UpdatedAt = at
			m.accounts[user] = a
			return nil
		}
	}
	return domain.ErrAccountNotFound
}

// payments

func (m *memStore) InsertPlaceholder(_ context.Context, _ database.Querier, p *domain.Payment) (bool, error) {
	if _, ok := m.payments[p.OrderID]; ok {
		return false, nil
	}
	m.payments[p.OrderID] = *p
	return true, nil
}

func (m *memStore) GetByOrderID(_ context.Context, _ database.Querier, orderID string) (*domain.Payment, error) {
	p, ok := m.payments[orderID]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return &p, nil
}

func (m *memStore) UpdateDecision(_ context.Context, _ database.Querier, p *domain.Payment) error {
	stored, ok := m.payments[p.OrderID]
	if !ok || stored.ID != p.ID {
		return domain.ErrPaymentNotFound
	}
	stored.Status, stored.Reason = p.Status, p.Reason
	m.payments[p.OrderID] = stored
	return nil
}

// ledger

func (m *memStore) Insert(_ context.Context, _ database.Querier, t *domain.BalanceTransaction) error {
	if t.OrderID != nil {
		for _, existing := range m.ledger {
			if existing.OrderID != nil && *existing.OrderID == *t.OrderID {
				return errors.New("duplicate order_id in balance_transactions")
			}
		}
	}
	m.ledger = append(m.ledger, *t)
	return nil
}

func (m *memStore) ListByUser(_ context.Context, _ database.Querier, userID string, limit int) ([]domain.BalanceTransaction, error) {
	var out []domain.BalanceTransaction
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if m.ledger[i].UserID == userID {
			out = append(out, m.ledger[i])
		}
	}
	return out, nil
}

// inbox

func (m *memStore) TryInsert(_ context.Context, _ database.Querier, messageID string) (bool, error) {
	if _, ok := m.inbox[messageID]; ok {
		return false, nil
	}
	m.inbox[messageID] = struct{}{}
	return true, nil
}

// outbox

func (m *memStore) Create(_ context.Context, _ database.Querier, e *outbox.Event) error {
	if m.failOutbox != nil {
		return m.failOutbox
	}
	m.outbox = append(m.outbox, *e)
	return nil
}

func (m *memStore) FetchPending(context.Context, database.Querier, int) ([]outbox.Event, error) {
	return nil, nil
}

func (m *memStore) MarkPublished(context.Context, database.Querier, string, time.Time) error {
	return nil
}

func (m *memStore) MarkFailed(context.Context, database.Querier, string, error) error {
	return nil
}

func (m *memStore) CountPending(context.Context, database.Querier) (int64, error) {
	return int64(len(m.outbox)), nil
}
