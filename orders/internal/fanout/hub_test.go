package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSubscriber struct {
	mu   sync.Mutex
	got  []Message
	fail bool
}

func (s *recordingSubscriber) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("connection closed")
	}
	s.got = append(s.got, msg)
	return nil
}

func (s *recordingSubscriber) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.got...)
}

func TestHub_BroadcastReachesOnlyThatOrder(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a, b, other := &recordingSubscriber{}, &recordingSubscriber{}, &recordingSubscriber{}
	hub.Subscribe("o-1", a)
	hub.Subscribe("o-1", b)
	hub.Subscribe("o-2", other)

	n := hub.Broadcast(context.Background(), "o-1", Message{Type: TypeUpdate, OrderID: "o-1", Status: "FINISHED"})

	assert.Equal(t, 2, n)
	require.Len(t, a.messages(), 1)
	assert.Equal(t, "FINISHED", a.messages()[0].Status)
	assert.Len(t, b.messages(), 1)
	assert.Empty(t, other.messages())
}

func TestHub_PrunesFailedSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	alive, dead := &recordingSubscriber{}, &recordingSubscriber{fail: true}
	hub.Subscribe("o-1", alive)
	hub.Subscribe("o-1", dead)

	n := hub.Broadcast(context.Background(), "o-1", Message{OrderID: "o-1"})

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, hub.Count("o-1"))
}

func TestHub_UnsubscribeDropsEmptySets(t *testing.T) {
	hub := NewHub(zap.NewNop())
	s := &recordingSubscriber{}
	hub.Subscribe("o-1", s)
	hub.Unsubscribe("o-1", s)
	hub.Unsubscribe("o-1", s)

	assert.Equal(t, 0, hub.Count("o-1"))
	assert.Empty(t, hub.subs)
	assert.Equal(t, 0, hub.Broadcast(context.Background(), "o-1", Message{OrderID: "o-1"}))
}

func TestHub_ConcurrentUse(t *testing.T) {
	hub := NewHub(zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		s := &recordingSubscriber{}
		go func() {
			defer wg.Done()
			hub.Subscribe("o-1", s)
			hub.Unsubscribe("o-1", s)
		}()
		go func() {
			defer wg.Done()
			hub.Broadcast(context.Background(), "o-1", Message{OrderID: "o-1"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Count("o-1"))
}
