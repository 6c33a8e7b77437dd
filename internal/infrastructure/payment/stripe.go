package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	dominvoice "github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	dompayment "github.com/Zhima-Mochi/minibilling/internal/domain/payment"
)

// CustomerMetadataKey links a Stripe customer to a billing customer ID.
const CustomerMetadataKey = "billing_customer_id"

// StripeGateway charges invoices off-session against the default payment method of the
// Stripe customer carrying our customer ID in its metadata.
type StripeGateway struct {
	client *client.API
}

func NewStripeGateway(apiKey string) *StripeGateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeGateway{client: sc}
}

// NewStripeGatewayWithBackend points the gateway at a custom API backend (stripe-mock, tests).
func NewStripeGatewayWithBackend(apiKey string, backend stripe.Backend) *StripeGateway {
	sc := &client.API{}
	sc.Init(apiKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &StripeGateway{client: sc}
}

func (g *StripeGateway) Charge(ctx context.Context, inv dominvoice.Invoice) (bool, error) {
	cust, err := g.findCustomer(ctx, inv)
	if err != nil {
		return false, err
	}
	currency := strings.ToLower(string(inv.Amount.Currency))
	if cust.Currency != "" && string(cust.Currency) != currency {
		return false, dompayment.NewCurrencyMismatch(inv.ID,
			fmt.Errorf("invoice in %s, stripe customer %s bills in %s", currency, cust.ID, cust.Currency))
	}

	params := &stripe.PaymentIntentParams{
		Amount:     stripe.Int64(inv.Amount.MinorUnits()),
		Currency:   stripe.String(currency),
		Customer:   stripe.String(cust.ID),
		Confirm:    stripe.Bool(true),
		OffSession: stripe.Bool(true),
	}
	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		params.PaymentMethod = stripe.String(cust.InvoiceSettings.DefaultPaymentMethod.ID)
	}
	params.AddMetadata("invoice_id", inv.ID)
	params.Context = ctx

	pi, err := g.client.PaymentIntents.New(params)
	if err != nil {
		return classifyStripeError(inv.ID, err)
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return true, nil
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return false, nil
	default:
		// processing has not settled; a blind retry could charge twice, so it goes to review.
		return false, fmt.Errorf("stripe: payment intent %s ended in status %s", pi.ID, pi.Status)
	}
}

func (g *StripeGateway) findCustomer(ctx context.Context, inv dominvoice.Invoice) (*stripe.Customer, error) {
	params := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("metadata['%s']:'%s'", CustomerMetadataKey, inv.CustomerID),
			Context: ctx,
		},
	}
	params.AddExpand("data.invoice_settings.default_payment_method")

	iter := g.client.Customers.Search(params)
	if iter.Next() {
		return iter.Customer(), nil
	}
	if err := iter.Err(); err != nil {
		_, cerr := classifyStripeError(inv.ID, err)
		return nil, cerr
	}
	return nil, dompayment.NewCustomerNotFound(inv.ID,
		fmt.Errorf("no stripe customer for %s", inv.CustomerID))
}

// classifyStripeError turns a declined charge into a plain "not paid" result and maps the
// remaining failures onto payment error kinds.
func classifyStripeError(invoiceID string, err error) (bool, error) {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		switch {
		case serr.Code == stripe.ErrorCodeCardDeclined, serr.Code == stripe.ErrorCodeBalanceInsufficient:
			return false, nil
		case serr.Code == stripe.ErrorCodeResourceMissing && serr.Param == "customer":
			return false, dompayment.NewCustomerNotFound(invoiceID, err)
		case serr.Code == stripe.ErrorCodeRateLimit, serr.Code == stripe.ErrorCodeLockTimeout:
			return false, dompayment.NewNetworkError(invoiceID, err)
		case serr.HTTPStatusCode >= http.StatusInternalServerError:
			return false, dompayment.NewNetworkError(invoiceID, err)
		}
		return false, fmt.Errorf("stripe: %w", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return false, dompayment.NewNetworkError(invoiceID, err)
	}
	return false, fmt.Errorf("stripe: %w", err)
}
