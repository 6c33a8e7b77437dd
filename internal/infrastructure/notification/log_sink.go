package notification

import (
	"context"

	domnotification "github.com/Zhima-Mochi/minibilling/internal/domain/notification"
	"github.com/Zhima-Mochi/minibilling/internal/observability"
)

// LogSink writes every notification to the service log. It is the default sink when no
// broker is configured.
type LogSink struct {
	log observability.Logger
}

func NewLogSink(logger observability.Logger) *LogSink {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogSink{log: logger.With(observability.F("component", "notification_sink"))}
}

func (s *LogSink) Deliver(_ context.Context, msg domnotification.Message) error {
	fields := []observability.Field{
		observability.F("audience", string(msg.Audience)),
		observability.F("invoice_id", msg.InvoiceID),
		observability.F("text", msg.Text),
	}
	if msg.CustomerID != "" {
		fields = append(fields, observability.F("customer_id", msg.CustomerID))
	}
	s.log.Info("notification_sent", fields...)
	return nil
}
