package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const sqliteColumns = `id, number, status, total, currency, customer_email, payment_reference, created_at, paid_at`

// SQLiteStore implements Store on an embedded SQLite database for single-node installs.
// Timestamps are stored as unix nanoseconds so ordering by created_at is exact.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens a modernc SQLite database with a busy timeout suitable for concurrent writers.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// NewSQLiteStore constructs a Store on an open SQLite handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) Create(ctx context.Context, in NewOrder) (Order, error) {
	if s == nil || s.db == nil {
		return Order{}, ErrStoreUnavailable
	}
	in, err := prepareNew(in)
	if err != nil {
		return Order{}, err
	}
	now := s.now().UTC().UnixNano()
	row := s.db.QueryRowContext(ctx, `INSERT INTO orders (id, number, status, total, currency, customer_email, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING `+sqliteColumns,
		uuid.NewString(), in.Number, string(StatusPending), in.Total.String(), in.Currency, in.CustomerEmail, now, now)
	return scanSQLite(row)
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	if s == nil || s.db == nil {
		return Order{}, ErrStoreUnavailable
	}
	return scanSQLite(s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM orders WHERE id = ?`, id.String()))
}

func (s *SQLiteStore) FindByReference(ctx context.Context, reference string) (Order, error) {
	if s == nil || s.db == nil {
		return Order{}, ErrStoreUnavailable
	}
	return scanSQLite(s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM orders
WHERE payment_reference = ? ORDER BY created_at DESC LIMIT 1`, reference))
}

func (s *SQLiteStore) SetReferenceOnce(ctx context.Context, id uuid.UUID, reference string) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrStoreUnavailable
	}
	var stored string
	err := s.db.QueryRowContext(ctx, `UPDATE orders SET payment_reference = ?, updated_at = ?
WHERE id = ? AND payment_reference IS NULL RETURNING payment_reference`,
		reference, s.now().UTC().UnixNano(), id.String()).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) MarkPendingPayment(ctx context.Context, id uuid.UUID) (Order, bool, error) {
	if s == nil || s.db == nil {
		return Order{}, false, ErrStoreUnavailable
	}
	o, err := scanSQLite(s.db.QueryRowContext(ctx, `UPDATE orders SET status = ?, updated_at = ?
WHERE id = ? AND status = ? RETURNING `+sqliteColumns,
		string(StatusPendingPayment), s.now().UTC().UnixNano(), id.String(), string(StatusPending)))
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

func (s *SQLiteStore) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (Order, bool, error) {
	if s == nil || s.db == nil {
		return Order{}, false, ErrStoreUnavailable
	}
	at := paidAt.UTC().UnixNano()
	o, err := scanSQLite(s.db.QueryRowContext(ctx, `UPDATE orders SET status = ?, paid_at = ?, updated_at = ?
WHERE id = ? AND status IN (?, ?) RETURNING `+sqliteColumns,
		string(StatusPaid), at, at, id.String(), string(StatusPending), string(StatusPendingPayment)))
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

func scanSQLite(row *sql.Row) (Order, error) {
	var (
		o         Order
		id        string
		status    string
		total     string
		reference sql.NullString
		createdAt int64
		paidAt    sql.NullInt64
	)
	if err := row.Scan(&id, &o.Number, &status, &total, &o.Currency, &o.CustomerEmail, &reference, &createdAt, &paidAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Order{}, fmt.Errorf("order id: %w", err)
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return Order{}, fmt.Errorf("order total: %w", err)
	}
	o.ID = parsed
	o.Status = Status(status)
	o.Total = amount
	o.CreatedAt = time.Unix(0, createdAt).UTC()
	if reference.Valid {
		ref := reference.String
		o.PaymentReference = &ref
	}
	if paidAt.Valid {
		t := time.Unix(0, paidAt.Int64).UTC()
		o.PaidAt = &t
	}
	return o, nil
}
