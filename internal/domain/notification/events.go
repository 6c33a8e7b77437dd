package notification

import "time"

// RequestedEvent carries a Message through the outbox bus to the delivery worker.
type RequestedEvent struct {
	Message    Message
	OccurredAt time.Time
}

func (RequestedEvent) EventName() string { return "notification.requested" }

func NewRequestedEvent(msg Message, at time.Time) RequestedEvent {
	return RequestedEvent{Message: msg, OccurredAt: at.UTC()}
}
