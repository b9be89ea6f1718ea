package domain

import "time"

const (
	EventOrderCompleted = "order.completed"
	EventReorderDigest  = "reorder.digest"
)

// OutboxEvent is written in the same transaction as the state change it describes
// and published asynchronously.
type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}
