package customers

import (
	"context"

	domcustomer "github.com/Zhima-Mochi/minibilling/internal/domain/customer"
)

type Service struct {
	repo domcustomer.Repository
}

func NewService(repo domcustomer.Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Fetch(ctx context.Context, id string) (domcustomer.Customer, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]domcustomer.Customer, error) {
	return s.repo.List(ctx)
}
