package outbox

import (
	"time"
	"unicode/utf8"

	"orderpay/internal/event"
)

// maxErrorLength bounds last_error so a verbose broker error cannot blow up the row.
const maxErrorLength = 1000

type Event struct {
	ID            string
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Attempts      int
	LastError     *string
}

// NewEvent turns an envelope into a pending outbox row.
func NewEvent(env *event.Envelope, aggregateType, aggregateID string) (*Event, error) {
	payload, err := env.Marshal()
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            env.EventID,
		EventType:     env.EventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) <= maxErrorLength {
		return msg
	}
	// cut on a rune boundary; Postgres rejects invalid UTF-8 in TEXT
	n := maxErrorLength
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}
