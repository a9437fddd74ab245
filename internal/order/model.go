package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no order matches the lookup.
	ErrNotFound = errors.New("order: not found")
	// ErrStoreUnavailable indicates the store dependency is not configured.
	ErrStoreUnavailable = errors.New("order: store unavailable")
	// ErrInvalidTransition is returned when an order's current status forbids the requested change.
	ErrInvalidTransition = errors.New("order: invalid status transition")
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPendingPayment Status = "pending-payment"
	StatusPaid           Status = "paid"
	StatusCanceled       Status = "canceled"
)

// Payable reports whether an order in this status may be finalized as paid.
func (s Status) Payable() bool {
	return s == StatusPending || s == StatusPendingPayment
}

// Order is the merchant order a Solana Pay payment settles.
type Order struct {
	ID               uuid.UUID       `json:"id"`
	Number           string          `json:"number"`
	Status           Status          `json:"status"`
	Total            decimal.Decimal `json:"total"`
	Currency         string          `json:"currency"`
	CustomerEmail    string          `json:"customerEmail,omitempty"`
	PaymentReference *string         `json:"paymentReference,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	PaidAt           *time.Time      `json:"paidAt,omitempty"`
}

// Reference returns the stored payment reference or an empty string.
func (o Order) Reference() string {
	if o.PaymentReference == nil {
		return ""
	}
	return *o.PaymentReference
}

// NewOrder carries the fields required to create an order.
type NewOrder struct {
	Number        string          `json:"number"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	CustomerEmail string          `json:"customerEmail"`
}

// Store persists orders and guards their status transitions. Transition methods
// report whether this call performed the change; a call that finds the order
// already in the target status returns false with no error.
type Store interface {
	Create(ctx context.Context, in NewOrder) (Order, error)
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	FindByReference(ctx context.Context, reference string) (Order, error)
	SetReferenceOnce(ctx context.Context, id uuid.UUID, reference string) (string, error)
	MarkPendingPayment(ctx context.Context, id uuid.UUID) (Order, bool, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (Order, bool, error)
}

func prepareNew(in NewOrder) (NewOrder, error) {
	if !in.Total.IsPositive() {
		return in, errors.New("order: total must be positive")
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = "USDC"
	}
	in.Number = strings.TrimSpace(in.Number)
	if in.Number == "" {
		in.Number = "SP-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	}
	in.CustomerEmail = strings.TrimSpace(in.CustomerEmail)
	return in, nil
}

// unchanged decides the outcome of a conditional update that matched no row.
func unchanged(current Order, target Status) (Order, bool, error) {
	if current.Status == target {
		return current, false, nil
	}
	return current, false, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, target)
}
