package payment

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/solpay-gateway/internal/common"
	"github.com/noah-isme/solpay-gateway/internal/order"
)

// OrderHandler exposes order creation and placement for Solana Pay.
type OrderHandler struct {
	Store  order.Store
	Links  Links
	Logger zerolog.Logger
}

type createOrderReq struct {
	Number        string          `json:"number"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	CustomerEmail string          `json:"customerEmail"`
}

// PlaceResponse mirrors a checkout gateway result.
type PlaceResponse struct {
	Result   string `json:"result"`
	Redirect string `json:"redirect"`
}

// Create registers a new pending order.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "ORDER_NOT_CONFIGURED", "order handler unavailable", nil)
		return
	}
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if !req.Total.IsPositive() {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "total must be positive", map[string]string{"total": "must be positive"})
		return
	}
	o, err := h.Store.Create(r.Context(), order.NewOrder{
		Number:        req.Number,
		Total:         req.Total,
		Currency:      req.Currency,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		h.Logger.Error().Err(err).Msg("order_create_failed")
		common.JSONError(w, http.StatusInternalServerError, "ORDER_CREATE_FAILED", "order could not be created", nil)
		return
	}
	common.JSON(w, http.StatusCreated, o)
}

// Get returns a single order.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "ORDER_NOT_CONFIGURED", "order handler unavailable", nil)
		return
	}
	o, ok := loadOrder(w, r, h.Store)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, o)
}

// Pay moves a pending order to pending-payment and points the customer at the
// order-received page where the payment widgets load. Repeating the call is harmless.
func (h *OrderHandler) Pay(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "ORDER_NOT_CONFIGURED", "order handler unavailable", nil)
		return
	}
	o, ok := loadOrder(w, r, h.Store)
	if !ok {
		return
	}
	updated, changed, err := h.Store.MarkPendingPayment(r.Context(), o.ID)
	if err != nil {
		if errors.Is(err, order.ErrInvalidTransition) {
			common.JSONError(w, http.StatusConflict, "ORDER_NOT_PAYABLE", "order cannot be placed for payment", map[string]string{"status": string(o.Status)})
			return
		}
		h.Logger.Error().Err(err).Str("order_id", o.ID.String()).Msg("order_place_failed")
		common.JSONError(w, http.StatusInternalServerError, "ORDER_UPDATE_FAILED", "order update failed", nil)
		return
	}
	if changed {
		h.Logger.Info().Str("order_id", updated.ID.String()).Msg("order_awaiting_payment")
	}
	common.JSON(w, http.StatusOK, PlaceResponse{Result: "success", Redirect: h.Links.OrderReceived(updated)})
}
