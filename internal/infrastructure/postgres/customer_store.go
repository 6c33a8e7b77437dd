package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	domain "github.com/Zhima-Mochi/minibilling/internal/domain/customer"
	"github.com/Zhima-Mochi/minibilling/internal/domain/money"
)

type CustomerStore struct {
	db *sql.DB
}

func NewCustomerStore(db *sql.DB) *CustomerStore {
	return &CustomerStore{db: db}
}

func (s *CustomerStore) Insert(ctx context.Context, currency money.Currency) (domain.Customer, error) {
	if _, err := money.ParseCurrency(string(currency)); err != nil {
		return domain.Customer{}, err
	}
	c := domain.Customer{ID: uuid.NewString(), Currency: currency}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, currency) VALUES ($1, $2)`, c.ID, string(c.Currency)); err != nil {
		return domain.Customer{}, fmt.Errorf("postgres: insert customer: %w", err)
	}
	return c, nil
}

func (s *CustomerStore) Get(ctx context.Context, id string) (domain.Customer, error) {
	var currency string
	err := s.db.QueryRowContext(ctx, `SELECT currency FROM customers WHERE id = $1`, id).Scan(&currency)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Customer{}, fmt.Errorf("customer %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Customer{}, fmt.Errorf("postgres: get customer %s: %w", id, err)
	}
	return domain.Customer{ID: id, Currency: money.Currency(currency)}, nil
}

func (s *CustomerStore) List(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, currency FROM customers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list customers: %w", err)
	}
	defer rows.Close()

	var out []domain.Customer
	for rows.Next() {
		var c domain.Customer
		var currency string
		if err := rows.Scan(&c.ID, &currency); err != nil {
			return nil, fmt.Errorf("postgres: scan customer: %w", err)
		}
		c.Currency = money.Currency(currency)
		out = append(out, c)
	}
	return out, rows.Err()
}
