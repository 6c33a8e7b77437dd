// Package seed fills an empty store with demo customers and invoices.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	domcustomer "github.com/Zhima-Mochi/minibilling/internal/domain/customer"
	dominvoice "github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	"github.com/Zhima-Mochi/minibilling/internal/domain/money"
)

type Options struct {
	Customers           int
	InvoicesPerCustomer int
	// Seed makes the generated data reproducible; zero picks a time-based seed.
	Seed int64
	Now  time.Time
}

// Run creates Customers customers with a random currency, each with InvoicesPerCustomer
// invoices in that currency: the first PENDING, the rest already PAID.
func Run(ctx context.Context, customers domcustomer.Repository, invoices dominvoice.Repository, opts Options) error {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	rng := rand.New(rand.NewSource(seed))

	for i := 0; i < opts.Customers; i++ {
		currency := money.Currencies[rng.Intn(len(money.Currencies))]
		c, err := customers.Insert(ctx, currency)
		if err != nil {
			return fmt.Errorf("seed: customer %d: %w", i, err)
		}
		for j := 0; j < opts.InvoicesPerCustomer; j++ {
			status := dominvoice.StatusPaid
			if j == 0 {
				status = dominvoice.StatusPending
			}
			_, err := invoices.Insert(ctx, dominvoice.Draft{
				CustomerID:   c.ID,
				Amount:       money.New(amount(rng), c.Currency),
				Status:       status,
				CreationTime: now,
			})
			if err != nil {
				return fmt.Errorf("seed: invoice %d for customer %s: %w", j, c.ID, err)
			}
		}
	}
	return nil
}

// amount draws a value in [10, 500) with two decimal places.
func amount(rng *rand.Rand) decimal.Decimal {
	cents := 1000 + rng.Int63n(49000)
	return decimal.New(cents, -2)
}
