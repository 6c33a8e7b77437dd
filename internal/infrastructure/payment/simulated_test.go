package payment_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minibilling/internal/domain/customer"
	"github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	"github.com/Zhima-Mochi/minibilling/internal/domain/money"
	dompayment "github.com/Zhima-Mochi/minibilling/internal/domain/payment"
	"github.com/Zhima-Mochi/minibilling/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minibilling/internal/infrastructure/payment"
)

func billFor(customerID string, currency money.Currency) invoice.Invoice {
	return invoice.Invoice{
		ID:         "inv-1",
		CustomerID: customerID,
		Amount:     money.New(decimal.RequireFromString("12.34"), currency),
		Status:     invoice.StatusProcessing,
	}
}

func TestSimulatedGateway(t *testing.T) {
	customers := memory.NewCustomerRepository()
	customers.Put(customer.Customer{ID: "c-1", Currency: money.DKK})
	gw := payment.NewSimulatedGateway(customers, 1, 0, 42)
	ctx := context.Background()

	ok, err := gw.Charge(ctx, billFor("c-1", money.DKK))
	require.NoError(t, err)
	assert.True(t, ok)

	gw.SetRates(0, 0)
	ok, err = gw.Charge(ctx, billFor("c-1", money.DKK))
	require.NoError(t, err)
	assert.False(t, ok)

	gw.SetRates(1, 1)
	_, err = gw.Charge(ctx, billFor("c-1", money.DKK))
	assert.Equal(t, dompayment.KindNetwork, dompayment.KindOf(err))

	_, err = gw.Charge(ctx, billFor("c-1", money.EUR))
	assert.Equal(t, dompayment.KindCurrencyMismatch, dompayment.KindOf(err))

	_, err = gw.Charge(ctx, billFor("nobody", money.DKK))
	assert.Equal(t, dompayment.KindCustomerNotFound, dompayment.KindOf(err))
}
