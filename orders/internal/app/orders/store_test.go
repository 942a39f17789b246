package orders

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"orderpay/internal/database"
	"orderpay/internal/outbox"
	"orderpay/orders/internal/domain"
	"orderpay/orders/internal/fanout"
)

// memStore is an in-memory orders schema; memTx restores it when the
// transaction function fails.
type memStore struct {
	orders map[string]domain.Order
	inbox  map[string]struct{}
	outbox []outbox.Event

	failOutbox error
}

func newMemStore() *memStore {
	return &memStore{orders: map[string]domain.Order{}, inbox: map[string]struct{}{}}
}

type memTx struct {
	mu    sync.Mutex
	store *memStore
}

func (t *memTx) WithinTx(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.store
	orders := make(map[string]domain.Order, len(s.orders))
	for k, v := range s.orders {
		orders[k] = v
	}
	inbox := make(map[string]struct{}, len(s.inbox))
	for k := range s.inbox {
		inbox[k] = struct{}{}
	}
	events := append([]outbox.Event(nil), s.outbox...)

	if err := fn(ctx, nil); err != nil {
		s.orders, s.inbox, s.outbox = orders, inbox, events
		return err
	}
	return nil
}

func (m *memStore) CreateOrder(_ context.Context, _ database.Querier, o *domain.Order) error {
	if _, ok := m.orders[o.ID]; ok {
		return errors.New("duplicate order id")
	}
	m.orders[o.ID] = *o
	return nil
}

func (m *memStore) GetOrderByID(_ context.Context, _ database.Querier, id string) (*domain.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (m *memStore) GetOrdersByUserID(_ context.Context, _ database.Querier, userID string) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) SetTerminalStatus(_ context.Context, _ database.Querier, id string, status domain.OrderStatus, at time.Time) (bool, error) {
	o, ok := m.orders[id]
	if !ok || o.Status != domain.OrderStatusNew {
		return false, nil
	}
	o.Status, o.UpdatedAt = status, at
	m.orders[id] = o
	return true, nil
}

func (m *memStore) TryInsert(_ context.Context, _ database.Querier, messageID string) (bool, error) {
	if _, ok := m.inbox[messageID]; ok {
		return false, nil
	}
	m.inbox[messageID] = struct{}{}
	return true, nil
}

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

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []fanout.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg fanout.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) published() []fanout.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]fanout.Message(nil), p.msgs...)
}
