package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	domcustomer "github.com/Zhima-Mochi/minibilling/internal/domain/customer"
	dominvoice "github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	dompayment "github.com/Zhima-Mochi/minibilling/internal/domain/payment"
)

var errSimulatedOutage = errors.New("simulated provider outage")

// SimulatedGateway stands in for a real provider. It checks the customer like a provider
// would, then settles at random.
type SimulatedGateway struct {
	mu               sync.Mutex
	random           *rand.Rand
	successRate      float64
	networkErrorRate float64
	customers        domcustomer.Repository
}

func NewSimulatedGateway(customers domcustomer.Repository, successRate, networkErrorRate float64, seed int64) *SimulatedGateway {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedGateway{
		random:           rand.New(rand.NewSource(seed)),
		successRate:      clamp(successRate),
		networkErrorRate: clamp(networkErrorRate),
		customers:        customers,
	}
}

func (g *SimulatedGateway) Charge(ctx context.Context, inv dominvoice.Invoice) (bool, error) {
	select {
	case <-ctx.Done():
		return false, dompayment.NewNetworkError(inv.ID, ctx.Err())
	default:
	}

	cust, err := g.customers.Get(ctx, inv.CustomerID)
	if errors.Is(err, domcustomer.ErrNotFound) {
		return false, dompayment.NewCustomerNotFound(inv.ID, err)
	}
	if err != nil {
		return false, err
	}
	if !inv.Amount.SameCurrency(cust.Currency) {
		return false, dompayment.NewCurrencyMismatch(inv.ID,
			fmt.Errorf("invoice in %s, account in %s", inv.Amount.Currency, cust.Currency))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.random.Float64() < g.networkErrorRate {
		return false, dompayment.NewNetworkError(inv.ID, errSimulatedOutage)
	}
	return g.random.Float64() < g.successRate, nil
}

// SetRates adjusts the simulation (primarily for tests).
func (g *SimulatedGateway) SetRates(successRate, networkErrorRate float64) {
	g.mu.Lock()
	g.successRate = clamp(successRate)
	g.networkErrorRate = clamp(networkErrorRate)
	g.mu.Unlock()
}

func clamp(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}
