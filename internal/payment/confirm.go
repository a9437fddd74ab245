package payment

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/solpay-gateway/internal/common"
	"github.com/noah-isme/solpay-gateway/internal/obs"
	"github.com/noah-isme/solpay-gateway/internal/order"
	"github.com/noah-isme/solpay-gateway/internal/security"
	"github.com/noah-isme/solpay-gateway/internal/verification"
)

// Verifier asks the verification service about a payment.
type Verifier interface {
	Verify(ctx context.Context, query url.Values) (verification.Result, error)
}

// TokenVerifier authenticates anti-forgery tokens.
type TokenVerifier interface {
	Verify(token, action, subject string) error
}

// FulfillmentEnqueuer schedules post-payment work for an order that just became paid.
type FulfillmentEnqueuer interface {
	EnqueueOrderPaid(ctx context.Context, o order.Order) error
}

// ConfirmResponse is returned once the order is paid.
type ConfirmResponse struct {
	RedirectURL string `json:"redirectUrl"`
}

// ErrorsResponse carries field-keyed failures back to the client.
type ErrorsResponse struct {
	Errors FieldErrors `json:"errors"`
}

// ConfirmHandler finalizes an order after the client reports a verified payment.
// The verification service is always consulted again server-side; the client's
// claim alone never marks an order paid. Every failure answers with a
// field-keyed errors body.
type ConfirmHandler struct {
	Store          order.Store
	Verifier       Verifier
	Tokens         TokenVerifier
	Fulfillment    FulfillmentEnqueuer
	Links          Links
	MerchantWallet string
	Logger         zerolog.Logger
	Now            func() time.Time
}

func (h *ConfirmHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Verifier == nil || h.Tokens == nil {
		writeErrors(w, http.StatusInternalServerError, FieldErrors{"request": "Payment confirmation unavailable"})
		return
	}
	ctx, span := otel.Tracer("payment.Confirm").Start(r.Context(), "Payment.Confirm")
	defer span.End()

	start := time.Now()
	cluster := "none"
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.cluster", cluster),
			attribute.String("payment.confirm.result", result),
			attribute.Float64("payment.confirm.duration_ms", obs.DurationMillis(time.Since(start))),
		)
		obs.IncCounter(obs.ConfirmationTotal, cluster, result)
	}()

	if err := r.ParseForm(); err != nil {
		result = "bad_request"
		writeErrors(w, http.StatusBadRequest, FieldErrors{"request": "invalid form body"})
		return
	}
	params, token := DecodeForm(r.PostForm)
	if IsAllowedCluster(params.Cluster) {
		cluster = params.Cluster
	}
	log := h.Logger.With().Str("reference", params.Reference).Logger()

	if err := h.Tokens.Verify(token, security.ConfirmPaymentAction, params.Reference); err != nil {
		result = "forbidden"
		log.Warn().Err(err).Msg("confirm_security_rejected")
		writeErrors(w, http.StatusForbidden, FieldErrors{"security": "invalid security token"})
		return
	}
	if errs := Validate(params); errs != nil {
		result = "invalid"
		writeErrors(w, http.StatusUnprocessableEntity, errs)
		return
	}

	o, err := h.Store.FindByReference(ctx, params.Reference)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			result = "no_order"
			writeErrors(w, http.StatusNotFound, FieldErrors{"order": "No order found for reference: " + params.Reference})
			return
		}
		span.RecordError(err)
		log.Error().Err(err).Msg("confirm_order_lookup_failed")
		writeErrors(w, http.StatusInternalServerError, FieldErrors{"order": "Order lookup failed"})
		return
	}
	span.SetAttributes(attribute.String("order.id", o.ID.String()))
	if errs := h.crossCheck(o, params); errs != nil {
		result = "mismatch"
		log.Warn().Str("order_id", o.ID.String()).Interface("errors", errs).Msg("confirm_parameters_mismatch")
		writeErrors(w, http.StatusUnprocessableEntity, errs)
		return
	}

	res, err := h.Verifier.Verify(ctx, EncodeQuery(params))
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, verification.ErrMalformedResponse) {
			result = "malformed"
			span.SetStatus(codes.Error, "malformed verification response")
			log.Error().Err(err).Msg("confirm_verification_response_invalid")
			writeErrors(w, http.StatusBadGateway, FieldErrors{"request": "Verification response invalid"})
			return
		}
		result = "request_failed"
		log.Warn().Err(err).Msg("confirm_verification_request_failed")
		writeErrors(w, http.StatusBadGateway, FieldErrors{"request": "Verification request failed"})
		return
	}
	if !res.Success {
		result = "unconfirmed"
		common.RawJSON(w, http.StatusOK, res.Body)
		return
	}

	paid, changed, err := h.Store.MarkPaid(ctx, o.ID, h.now())
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, order.ErrInvalidTransition) {
			result = "rejected"
			log.Warn().Err(err).Str("order_id", o.ID.String()).Msg("confirm_order_not_payable")
			writeErrors(w, http.StatusConflict, FieldErrors{"order": "Order cannot be marked as paid"})
			return
		}
		log.Error().Err(err).Str("order_id", o.ID.String()).Msg("confirm_mark_paid_failed")
		writeErrors(w, http.StatusInternalServerError, FieldErrors{"order": "Order update failed"})
		return
	}
	if changed {
		result = "paid"
		h.onPaid(ctx, log, paid)
	} else {
		result = "already_paid"
	}
	common.JSON(w, http.StatusOK, ConfirmResponse{RedirectURL: h.Links.ViewOrder(paid)})
}

// onPaid runs side effects owned by the request that performed the transition.
func (h *ConfirmHandler) onPaid(ctx context.Context, log zerolog.Logger, o order.Order) {
	if obs.OrderFinalizedTotal != nil {
		obs.OrderFinalizedTotal.Inc()
	}
	log.Info().Str("order_id", o.ID.String()).Str("order_number", o.Number).Msg("order_paid")
	if h.Fulfillment == nil {
		return
	}
	if err := h.Fulfillment.EnqueueOrderPaid(ctx, o); err != nil {
		log.Error().Err(err).Str("order_id", o.ID.String()).Msg("fulfillment_enqueue_failed")
	}
}

func (h *ConfirmHandler) crossCheck(o order.Order, p TransactionParameters) FieldErrors {
	errs := FieldErrors{}
	if amount, err := ParseAmount(p.Amount); err != nil || !amount.Equal(o.Total) {
		errs["amount"] = "Amount does not match order total"
	}
	if wallet := strings.TrimSpace(h.MerchantWallet); wallet != "" && p.Recipient != wallet {
		errs["recipient"] = "Recipient does not match merchant wallet"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (h *ConfirmHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func writeErrors(w http.ResponseWriter, status int, errs FieldErrors) {
	common.JSON(w, status, ErrorsResponse{Errors: errs})
}
