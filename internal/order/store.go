package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const pgColumns = `id, number, status, total::text, currency, customer_email, payment_reference, created_at, paid_at`

// PGStore implements Store on PostgreSQL through pgx.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a Store backed by a pgx connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Create(ctx context.Context, in NewOrder) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	in, err := prepareNew(in)
	if err != nil {
		return Order{}, err
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO orders (id, number, status, total, currency, customer_email)
VALUES ($1, $2, $3, $4::numeric, $5, $6) RETURNING `+pgColumns,
		uuid.New(), in.Number, string(StatusPending), in.Total.String(), in.Currency, in.CustomerEmail)
	return scanPG(row)
}

func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	return scanPG(s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM orders WHERE id = $1`, id))
}

// FindByReference returns the most recently created order carrying reference.
func (s *PGStore) FindByReference(ctx context.Context, reference string) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	return scanPG(s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM orders
WHERE payment_reference = $1 ORDER BY created_at DESC LIMIT 1`, reference))
}

// SetReferenceOnce stores reference unless the order already has one, and returns the stored value.
func (s *PGStore) SetReferenceOnce(ctx context.Context, id uuid.UUID, reference string) (string, error) {
	if s == nil || s.pool == nil {
		return "", ErrStoreUnavailable
	}
	var stored string
	err := s.pool.QueryRow(ctx, `UPDATE orders SET payment_reference = $2, updated_at = now()
WHERE id = $1 AND payment_reference IS NULL RETURNING payment_reference`, id, reference).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if current.PaymentReference == nil {
		return "", fmt.Errorf("order %s: reference not persisted", id)
	}
	return *current.PaymentReference, nil
}

func (s *PGStore) MarkPendingPayment(ctx context.Context, id uuid.UUID) (Order, bool, error) {
	if s == nil || s.pool == nil {
		return Order{}, false, ErrStoreUnavailable
	}
	o, err := scanPG(s.pool.QueryRow(ctx, `UPDATE orders SET status = $2, updated_at = now()
WHERE id = $1 AND status = $3 RETURNING `+pgColumns, id, string(StatusPendingPayment), string(StatusPending)))
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Order{}, false, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, false, err
	}
	return unchanged(current, StatusPendingPayment)
}

// MarkPaid finalizes a payable order. The status predicate in the UPDATE is the
// only guard, so concurrent callers converge on a single transition.
func (s *PGStore) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (Order, bool, error) {
	if s == nil || s.pool == nil {
		return Order{}, false, ErrStoreUnavailable
	}
	o, err := scanPG(s.pool.QueryRow(ctx, `UPDATE orders SET status = $2, paid_at = $3, updated_at = $3
WHERE id = $1 AND status IN ($4, $5) RETURNING `+pgColumns,
		id, string(StatusPaid), paidAt, string(StatusPending), string(StatusPendingPayment)))
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Order{}, false, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, false, err
	}
	return unchanged(current, StatusPaid)
}

func scanPG(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
		total  string
	)
	if err := row.Scan(&o.ID, &o.Number, &status, &total, &o.Currency, &o.CustomerEmail, &o.PaymentReference, &o.CreatedAt, &o.PaidAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return Order{}, fmt.Errorf("order total: %w", err)
	}
	o.Status = Status(status)
	o.Total = amount
	return o, nil
}
