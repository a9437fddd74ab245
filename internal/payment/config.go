package payment

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/solpay-gateway/internal/common"
	"github.com/noah-isme/solpay-gateway/internal/order"
	"github.com/noah-isme/solpay-gateway/internal/security"
)

// Element selectors the storefront widgets bind to.
const (
	TimeoutTimerSelector   = ".js-solana-timeout-timer"
	QRCodeElementSelector  = ".js-solana-qr-container"
	WalletsElementSelector = ".js-solana-wallet-container"
)

// ClientConfig is the object a storefront hands to the payment coordinator.
// Interval and timeout are milliseconds.
type ClientConfig struct {
	Transaction                 TransactionParameters `json:"transaction"`
	Cluster                     string                `json:"cluster"`
	VerificationServiceURL      string                `json:"verificationServiceUrl"`
	VerificationServiceInterval int64                 `json:"verificationServiceInterval"`
	VerificationServiceTimeout  int64                 `json:"verificationServiceTimeout"`
	PaymentNotificationEndpoint string                `json:"paymentNotificationEndpoint"`
	TimeoutTimerSelector        string                `json:"timeoutTimerSelector"`
	QRCodeElementSelector       string                `json:"qrCodeElementSelector"`
	WalletsElementSelector      string                `json:"walletsElementSelector"`
}

// Interval returns the poll interval as a duration.
func (c ClientConfig) Interval() time.Duration {
	return time.Duration(c.VerificationServiceInterval) * time.Millisecond
}

// Timeout returns the verification deadline as a duration.
func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.VerificationServiceTimeout) * time.Millisecond
}

// Parameters returns the transaction parameters with the cluster filled in.
func (c ClientConfig) Parameters() TransactionParameters {
	p := c.Transaction
	p.Cluster = c.Cluster
	return p
}

// PaymentConfig is the payment-config endpoint response: the client config plus
// a fresh anti-forgery token and the transfer request URI for QR rendering.
type PaymentConfig struct {
	ClientConfig
	Security          string    `json:"security"`
	SecurityExpiresAt time.Time `json:"securityExpiresAt"`
	TransferURL       string    `json:"transferUrl,omitempty"`
}

// Settings are the merchant options used to build client configs.
type Settings struct {
	StoreName              string
	MerchantWallet         string
	Message                string
	Memo                   string
	DevMode                bool
	VerificationServiceURL string
	Interval               time.Duration
	Timeout                time.Duration
}

// BuildClientConfig assembles the client config for an order that already has a reference.
// Label, message and memo are url-encoded.
func BuildClientConfig(s Settings, links Links, o order.Order, reference string) ClientConfig {
	cluster := ClusterMainnetBeta
	splToken := USDCMint
	if s.DevMode {
		cluster = ClusterDevnet
		splToken = ""
	}
	return ClientConfig{
		Transaction: TransactionParameters{
			Reference: reference,
			Recipient: strings.TrimSpace(s.MerchantWallet),
			SPLToken:  splToken,
			Amount:    o.Total.String(),
			Label:     url.QueryEscape(s.StoreName),
			Message:   url.QueryEscape(s.Message),
			Memo:      url.QueryEscape(s.Memo),
		},
		Cluster:                     cluster,
		VerificationServiceURL:      s.VerificationServiceURL,
		VerificationServiceInterval: s.Interval.Milliseconds(),
		VerificationServiceTimeout:  s.Timeout.Milliseconds(),
		PaymentNotificationEndpoint: links.ConfirmEndpoint(),
		TimeoutTimerSelector:        TimeoutTimerSelector,
		QRCodeElementSelector:       QRCodeElementSelector,
		WalletsElementSelector:      WalletsElementSelector,
	}
}

// TokenIssuer mints anti-forgery tokens.
type TokenIssuer interface {
	Issue(action, subject string) (string, time.Time, error)
}

// ConfigHandler serves GET /orders/{orderId}/payment-config.
type ConfigHandler struct {
	Store      order.Store
	References *ReferenceService
	Tokens     TokenIssuer
	Settings   Settings
	Links      Links
	Logger     zerolog.Logger
}

func (h *ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.References == nil || h.Tokens == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment config unavailable", nil)
		return
	}
	o, ok := loadOrder(w, r, h.Store)
	if !ok {
		return
	}
	if o.Status != order.StatusPendingPayment && o.Status != order.StatusPending {
		common.JSONError(w, http.StatusConflict, "ORDER_NOT_AWAITING_PAYMENT", "order is not awaiting payment", map[string]string{"status": string(o.Status)})
		return
	}
	reference, err := h.References.Ensure(r.Context(), o)
	if err != nil {
		h.Logger.Error().Err(err).Str("order_id", o.ID.String()).Msg("payment_reference_unavailable")
		common.JSONError(w, http.StatusBadGateway, "REFERENCE_UNAVAILABLE", "payment reference could not be created", nil)
		return
	}
	cfg := BuildClientConfig(h.Settings, h.Links, o, reference)
	token, expiresAt, err := h.Tokens.Issue(security.ConfirmPaymentAction, reference)
	if err != nil {
		h.Logger.Error().Err(err).Msg("security_token_issue_failed")
		common.JSONError(w, http.StatusInternalServerError, "TOKEN_ISSUE_FAILED", "could not issue security token", nil)
		return
	}
	resp := PaymentConfig{ClientConfig: cfg, Security: token, SecurityExpiresAt: expiresAt}
	if uri, err := TransferRequestURL(cfg.Parameters()); err == nil {
		resp.TransferURL = uri
	} else {
		h.Logger.Debug().Err(err).Str("order_id", o.ID.String()).Msg("transfer_url_skipped")
	}
	common.JSON(w, http.StatusOK, resp)
}

func loadOrder(w http.ResponseWriter, r *http.Request, store order.Store) (order.Order, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "orderId")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid orderId", nil)
		return order.Order{}, false
	}
	o, err := store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return order.Order{}, false
		}
		common.JSONError(w, http.StatusInternalServerError, "ORDER_LOOKUP_FAILED", "order lookup failed", nil)
		return order.Order{}, false
	}
	return o, true
}
