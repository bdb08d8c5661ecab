package domain

import "time"

type OutboxMessageStatus string

const (
	OutboxStatusPending OutboxMessageStatus = "PENDING"
	OutboxStatusSent    OutboxMessageStatus = "SENT"
)

// OutboxMessage is a domain event staged for publication. It is inserted in
// the same transaction as the aggregate mutation and drained asynchronously;
// per-aggregate ordering is preserved by keying the published message with
// the aggregate id.
type OutboxMessage struct {
	ID            string
	EventID       string
	EventType     string
	AggregateID   string
	AggregateType string
	Topic         string
	Key           string
	Payload       []byte
	Status        OutboxMessageStatus
	CreatedAt     time.Time
	SentAt        *time.Time
}

// NewOutboxMessage stages a domain event for the given topic.
func NewOutboxMessage(id string, event *Event, topic string) (*OutboxMessage, error) {
	payload, err := event.Envelope()
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		ID:            id,
		EventID:       event.ID,
		EventType:     event.Type,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		Topic:         topic,
		Key:           event.AggregateID,
		Payload:       payload,
		Status:        OutboxStatusPending,
		CreatedAt:     event.OccurredAt,
	}, nil
}
