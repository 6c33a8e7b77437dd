package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	domain "github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	"github.com/Zhima-Mochi/minibilling/internal/domain/money"
)

const invoiceColumns = `id, customer_id, value, currency, status, created_at, retry_payment_at`

type InvoiceStore struct {
	db *sql.DB
}

func NewInvoiceStore(db *sql.DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

func (s *InvoiceStore) Insert(ctx context.Context, draft domain.Draft) (domain.Invoice, error) {
	inv := domain.Invoice{
		ID:           uuid.NewString(),
		CustomerID:   draft.CustomerID,
		Amount:       draft.Amount,
		Status:       draft.Status,
		CreationTime: draft.CreationTime.UTC(),
	}
	if inv.Status == "" {
		inv.Status = domain.StatusPending
	}
	if err := inv.Validate(); err != nil {
		return domain.Invoice{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, NULL)
		 RETURNING `+invoiceColumns,
		inv.ID, inv.CustomerID, inv.Amount.Value, string(inv.Amount.Currency), string(inv.Status), inv.CreationTime,
	)
	out, err := scanInvoice(row)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("postgres: insert invoice: %w", err)
	}
	return out, nil
}

func (s *InvoiceStore) Get(ctx context.Context, id string) (domain.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Invoice{}, fmt.Errorf("invoice %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("postgres: get invoice %s: %w", id, err)
	}
	return inv, nil
}

func (s *InvoiceStore) List(ctx context.Context, filter domain.Filter) ([]domain.Invoice, error) {
	var statuses pq.StringArray
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE ($1::text[] IS NULL OR status = ANY($1))
		   AND ($2::timestamptz IS NULL OR created_at < $2)
		   AND ($3::timestamptz IS NULL OR (retry_payment_at IS NOT NULL AND retry_payment_at <= $3))
		 ORDER BY created_at, id`,
		statuses, nullTime(filter.CreatedBefore), nullTime(filter.RetryDueBy),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list invoices: %w", err)
	}
	defer rows.Close()

	var out []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *InvoiceStore) Update(ctx context.Context, inv domain.Invoice) (domain.Invoice, error) {
	if err := inv.Validate(); err != nil {
		return domain.Invoice{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE invoices SET status = $2, retry_payment_at = $3
		 WHERE id = $1
		 RETURNING `+invoiceColumns,
		inv.ID, string(inv.Status), nullTime(inv.RetryPaymentTime),
	)
	out, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Invoice{}, fmt.Errorf("invoice %s: %w", inv.ID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("postgres: update invoice %s: %w", inv.ID, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row scanner) (domain.Invoice, error) {
	var (
		inv      domain.Invoice
		currency string
		status   string
		retry    sql.NullTime
	)
	if err := row.Scan(&inv.ID, &inv.CustomerID, &inv.Amount.Value, &currency, &status, &inv.CreationTime, &retry); err != nil {
		return domain.Invoice{}, err
	}
	inv.Amount.Currency = money.Currency(currency)
	inv.Status = domain.Status(status)
	inv.CreationTime = inv.CreationTime.UTC()
	if retry.Valid {
		t := retry.Time.UTC()
		inv.RetryPaymentTime = &t
	}
	return inv, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
