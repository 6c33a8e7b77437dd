package notification

import "context"

// Notifier delivers messages to people. Delivery is best-effort: implementations swallow
// and log their own failures so callers never branch on them.
type Notifier interface {
	NotifyAccountOwner(ctx context.Context, customerID, invoiceID, message string)
	NotifyAdministrator(ctx context.Context, invoiceID, message string)
}

type Audience string

const (
	AudienceAccountOwner  Audience = "account_owner"
	AudienceAdministrator Audience = "administrator"
)

// Message is one notification on its way to a sink.
type Message struct {
	Audience   Audience
	CustomerID string
	InvoiceID  string
	Text       string
}

// Sink is the transport that finally delivers a Message (log, broker, email, ...).
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}
