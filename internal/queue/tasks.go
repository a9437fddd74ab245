package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/noah-isme/solpay-gateway/internal/order"
)

// TypeOrderPaid is the task type enqueued once an order transitions to paid.
const TypeOrderPaid = "order:paid"

// DefaultQueue is the asynq queue fulfillment tasks run on.
const DefaultQueue = "fulfillment"

// OrderPaidPayload is the body of a TypeOrderPaid task.
type OrderPaidPayload struct {
	OrderID       uuid.UUID `json:"orderId"`
	Number        string    `json:"number"`
	CustomerEmail string    `json:"customerEmail,omitempty"`
	Total         string    `json:"total"`
	Currency      string    `json:"currency"`
	Reference     string    `json:"reference"`
	PaidAt        time.Time `json:"paidAt"`
}

// NewOrderPaidTask builds the fulfillment task for a paid order.
func NewOrderPaidTask(o order.Order) (*asynq.Task, error) {
	p := OrderPaidPayload{
		OrderID:       o.ID,
		Number:        o.Number,
		CustomerEmail: o.CustomerEmail,
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
		Reference:     o.Reference(),
	}
	if o.PaidAt != nil {
		p.PaidAt = *o.PaidAt
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode order paid payload: %w", err)
	}
	return asynq.NewTask(TypeOrderPaid, raw), nil
}

// orderPaidTaskID keeps one fulfillment task per order while it is retained.
func orderPaidTaskID(id uuid.UUID) string {
	return TypeOrderPaid + ":" + id.String()
}
