package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	domnotification "github.com/Zhima-Mochi/minibilling/internal/domain/notification"
)

// DefaultSubjectPrefix is the NATS subject root; the audience is appended
// (billing.notifications.account_owner, billing.notifications.administrator).
const DefaultSubjectPrefix = "billing.notifications"

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

type NatsSink struct {
	conn   Publisher
	prefix string
}

func NewNatsSink(conn Publisher, prefix string) *NatsSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NatsSink{conn: conn, prefix: prefix}
}

type natsPayload struct {
	Audience   string `json:"audience"`
	CustomerID string `json:"customer_id,omitempty"`
	InvoiceID  string `json:"invoice_id"`
	Text       string `json:"text"`
}

func (s *NatsSink) Subject(a domnotification.Audience) string {
	return s.prefix + "." + string(a)
}

func (s *NatsSink) Deliver(ctx context.Context, msg domnotification.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(natsPayload{
		Audience:   string(msg.Audience),
		CustomerID: msg.CustomerID,
		InvoiceID:  msg.InvoiceID,
		Text:       msg.Text,
	})
	if err != nil {
		return fmt.Errorf("nats sink: encode: %w", err)
	}
	m := nats.NewMsg(s.Subject(msg.Audience))
	m.Data = data
	m.Header.Set("Invoice-Id", msg.InvoiceID)
	if err := s.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("nats sink: publish %s: %w", m.Subject, err)
	}
	return nil
}
