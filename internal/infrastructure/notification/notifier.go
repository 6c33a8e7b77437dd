package notification

import (
	"context"
	"time"

	domnotification "github.com/Zhima-Mochi/minibilling/internal/domain/notification"
	domoutbox "github.com/Zhima-Mochi/minibilling/internal/domain/outbox"
	"github.com/Zhima-Mochi/minibilling/internal/observability"
	"github.com/Zhima-Mochi/minibilling/internal/observability/logctx"
)

// BusNotifier turns notify calls into events on the outbox bus, so engines never block on a
// slow sink. A failed publish is logged and dropped.
type BusNotifier struct {
	publisher domoutbox.Publisher
	now       func() time.Time
	log       observability.Logger
}

func NewBusNotifier(publisher domoutbox.Publisher, logger observability.Logger) *BusNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &BusNotifier{
		publisher: publisher,
		now:       time.Now,
		log:       logger.With(observability.F("component", "notifier")),
	}
}

func (n *BusNotifier) NotifyAccountOwner(ctx context.Context, customerID, invoiceID, message string) {
	n.publish(ctx, domnotification.Message{
		Audience:   domnotification.AudienceAccountOwner,
		CustomerID: customerID,
		InvoiceID:  invoiceID,
		Text:       message,
	})
}

func (n *BusNotifier) NotifyAdministrator(ctx context.Context, invoiceID, message string) {
	n.publish(ctx, domnotification.Message{
		Audience:  domnotification.AudienceAdministrator,
		InvoiceID: invoiceID,
		Text:      message,
	})
}

func (n *BusNotifier) publish(ctx context.Context, msg domnotification.Message) {
	// Notifications must not be lost because the triggering request was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := n.publisher.Publish(ctx, domnotification.NewRequestedEvent(msg, n.now())); err != nil {
		logctx.FromOr(ctx, n.log).Error("notification_publish_failed",
			observability.F("audience", string(msg.Audience)),
			observability.F("invoice_id", msg.InvoiceID),
			observability.F("error", err.Error()),
		)
	}
}
