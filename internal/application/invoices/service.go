package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minibilling/internal/application"
	dominvoice "github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
)

type Biller interface {
	ProcessAndSave(ctx context.Context, inv dominvoice.Invoice) (dominvoice.Invoice, error)
}

type Validator interface {
	ValidateAndSave(ctx context.Context, inv dominvoice.Invoice) (dominvoice.Invoice, error)
}

// Service is the entry point for on-demand invoice operations issued over HTTP.
type Service struct {
	repo      dominvoice.Repository
	biller    Biller
	validator Validator
	clock     application.Clock
}

func NewService(repo dominvoice.Repository, biller Biller, validator Validator, clock application.Clock) *Service {
	if clock == nil {
		clock = application.SystemClock(time.UTC)
	}
	return &Service{repo: repo, biller: biller, validator: validator, clock: clock}
}

func (s *Service) Fetch(ctx context.Context, id string) (dominvoice.Invoice, error) {
	return s.repo.Get(ctx, id)
}

// List returns every invoice, or only those in one of statuses when given.
func (s *Service) List(ctx context.Context, statuses ...dominvoice.Status) ([]dominvoice.Invoice, error) {
	return s.repo.List(ctx, dominvoice.Filter{Statuses: statuses})
}

// IsDue reports whether inv belongs to a billing period that has already closed.
func (s *Service) IsDue(inv dominvoice.Invoice) bool {
	return inv.IsDue(s.clock())
}

// Retry charges a FAILED invoice right away instead of waiting for the retry sweep.
func (s *Service) Retry(ctx context.Context, id string) (dominvoice.Invoice, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return dominvoice.Invoice{}, err
	}
	if inv.Status != dominvoice.StatusFailed {
		return dominvoice.Invoice{}, fmt.Errorf("invoice %s is %s: %w", id, inv.Status, dominvoice.ErrNotRetryable)
	}
	return s.biller.ProcessAndSave(ctx, inv)
}

func (s *Service) Validate(ctx context.Context, id string) (dominvoice.Invoice, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return dominvoice.Invoice{}, err
	}
	return s.validator.ValidateAndSave(ctx, inv)
}
