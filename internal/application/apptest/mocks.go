// Package apptest holds testify mocks for the outbound ports used by application tests.
package apptest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
)

type Notifier struct {
	mock.Mock
}

func (n *Notifier) NotifyAccountOwner(ctx context.Context, customerID, invoiceID, message string) {
	n.Called(customerID, invoiceID, message)
}

func (n *Notifier) NotifyAdministrator(ctx context.Context, invoiceID, message string) {
	n.Called(invoiceID, message)
}

// AllowAll accepts any notification so tests can assert on calls afterwards.
func (n *Notifier) AllowAll() *Notifier {
	n.On("NotifyAccountOwner", mock.Anything, mock.Anything, mock.Anything).Maybe()
	n.On("NotifyAdministrator", mock.Anything, mock.Anything).Maybe()
	return n
}

// Count returns how many times method was called.
func (n *Notifier) Count(method string) int {
	c := 0
	for _, call := range n.Calls {
		if call.Method == method {
			c++
		}
	}
	return c
}

type Gateway struct {
	mock.Mock
}

func (g *Gateway) Charge(ctx context.Context, inv invoice.Invoice) (bool, error) {
	args := g.Called(inv.ID)
	return args.Bool(0), args.Error(1)
}
