package payment

import (
	"strings"

	"github.com/noah-isme/solpay-gateway/internal/order"
)

// ConfirmPath is the route the client notifies after verification succeeds.
const ConfirmPath = "/api/v1/payments/solana/confirm"

// Links renders customer-facing URLs under the public base URL.
type Links struct {
	BaseURL string
}

func (l Links) base() string {
	return strings.TrimRight(l.BaseURL, "/")
}

// OrderReceived is where a customer lands after placing an order for payment.
func (l Links) OrderReceived(o order.Order) string {
	return l.base() + "/checkout/order-received/" + o.ID.String()
}

// ViewOrder is the confirmation page returned once an order is paid.
func (l Links) ViewOrder(o order.Order) string {
	return l.base() + "/orders/" + o.ID.String()
}

// ConfirmEndpoint is the absolute store notification endpoint handed to clients.
func (l Links) ConfirmEndpoint() string {
	return l.base() + ConfirmPath
}
