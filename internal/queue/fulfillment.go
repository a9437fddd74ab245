package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/solpay-gateway/internal/common"
	"github.com/noah-isme/solpay-gateway/internal/obs"
	"github.com/noah-isme/solpay-gateway/internal/order"
	"github.com/noah-isme/solpay-gateway/internal/payment"
)

// Fulfillment processes TypeOrderPaid tasks by mailing the customer a receipt.
type Fulfillment struct {
	Orders    order.Store
	Email     common.EmailSender
	Links     payment.Links
	StoreName string
	Logger    zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (f *Fulfillment) ProcessTask(ctx context.Context, t *asynq.Task) error {
	result := "error"
	defer func() { obs.IncCounter(obs.FulfillmentTaskTotal, "process", result) }()

	if f == nil || f.Orders == nil {
		return order.ErrStoreUnavailable
	}
	var p OrderPaidPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		result = "invalid"
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	o, err := f.Orders.Get(ctx, p.OrderID)
	if errors.Is(err, order.ErrNotFound) {
		result = "invalid"
		return fmt.Errorf("order %s: %w", p.OrderID, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if o.Status != order.StatusPaid {
		result = "invalid"
		return fmt.Errorf("order %s is %s: %w", o.ID, o.Status, asynq.SkipRetry)
	}

	logger := f.Logger.With().Str("order_id", o.ID.String()).Str("reference", o.Reference()).Logger()
	if strings.TrimSpace(o.CustomerEmail) == "" || f.Email == nil {
		result = "skipped"
		logger.Info().Msg("fulfillment_receipt_skipped")
		return nil
	}
	if err := f.Email.Send(o.CustomerEmail, f.subject(o), f.receipt(o)); err != nil {
		logger.Error().Err(err).Msg("fulfillment_receipt_failed")
		return fmt.Errorf("send receipt: %w", err)
	}
	result = "ok"
	logger.Info().Msg("fulfillment_receipt_sent")
	return nil
}

func (f *Fulfillment) subject(o order.Order) string {
	name := f.StoreName
	if name == "" {
		name = "Your order"
	}
	return fmt.Sprintf("%s: payment received for order %s", name, o.Number)
}

func (f *Fulfillment) receipt(o order.Order) string {
	var b strings.Builder
	b.WriteString("<p>We received your Solana Pay payment.</p>")
	fmt.Fprintf(&b, "<p>Order <strong>%s</strong>: %s %s</p>", html.EscapeString(o.Number), o.Total.StringFixed(2), html.EscapeString(o.Currency))
	if ref := o.Reference(); ref != "" {
		fmt.Fprintf(&b, "<p>Reference: <code>%s</code></p>", html.EscapeString(ref))
	}
	if f.Links.BaseURL != "" {
		link := html.EscapeString(f.Links.ViewOrder(o))
		fmt.Fprintf(&b, `<p><a href="%s">View your order</a></p>`, link)
	}
	return b.String()
}

// NewServeMux routes fulfillment task types to their handlers.
func NewServeMux(f *Fulfillment) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeOrderPaid, f)
	return mux
}
