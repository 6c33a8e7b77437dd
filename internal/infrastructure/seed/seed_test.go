package seed_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	"github.com/Zhima-Mochi/minibilling/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minibilling/internal/infrastructure/seed"
)

func TestRun(t *testing.T) {
	ctx := context.Background()
	customers := memory.NewCustomerRepository()
	invoices := memory.NewInvoiceRepository()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, seed.Run(ctx, customers, invoices, seed.Options{
		Customers:           5,
		InvoicesPerCustomer: 3,
		Seed:                7,
		Now:                 now,
	}))

	cs, err := customers.List(ctx)
	require.NoError(t, err)
	require.Len(t, cs, 5)

	all, err := invoices.List(ctx, invoice.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 15)

	pending, err := invoices.List(ctx, invoice.Filter{Statuses: []invoice.Status{invoice.StatusPending}})
	require.NoError(t, err)
	assert.Len(t, pending, 5)

	currencyOf := map[string]string{}
	for _, c := range cs {
		currencyOf[c.ID] = string(c.Currency)
	}
	low, high := decimal.NewFromInt(10), decimal.NewFromInt(500)
	for _, inv := range all {
		assert.Equal(t, currencyOf[inv.CustomerID], string(inv.Amount.Currency))
		assert.True(t, inv.Amount.Value.GreaterThanOrEqual(low))
		assert.True(t, inv.Amount.Value.LessThan(high))
		assert.Equal(t, int32(-2), inv.Amount.Value.Exponent())
		assert.True(t, inv.CreationTime.Equal(now))
	}
}
