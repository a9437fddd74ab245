package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/noah-isme/solpay-gateway/internal/obs"
	"github.com/noah-isme/solpay-gateway/internal/payment"
)

var (
	// ErrAlreadyDispatched is returned by Notify after the first call of an attempt.
	ErrAlreadyDispatched = errors.New("verifier: notification already dispatched")
	// ErrMalformedConfirmation is returned when the store answers with a non-JSON body.
	ErrMalformedConfirmation = errors.New("verifier: malformed confirmation response")
	// ErrConfirmationStatus is returned for a failure status whose body names no errors.
	ErrConfirmationStatus = errors.New("verifier: store answered with a failure status")
)

const maxConfirmationBytes = 1 << 20

// ConfirmationResult is the store's reply to a notification.
type ConfirmationResult struct {
	Errors      map[string]any  `json:"errors,omitempty"`
	RedirectURL string          `json:"redirectUrl,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// StoreNotifier posts the verified parameters to the store's confirmation
// endpoint. One notifier belongs to one attempt and sends at most one request.
type StoreNotifier struct {
	Endpoint string
	Security string
	Client   *http.Client
	Logger   zerolog.Logger

	dispatched atomic.Bool
}

// Dispatched reports whether the notification has been sent or is in flight.
func (n *StoreNotifier) Dispatched() bool {
	return n.dispatched.Load()
}

// Notify sends the notification. Only the first call sends; the flag is not
// reset on failure, so recovery requires a new attempt.
func (n *StoreNotifier) Notify(ctx context.Context, params payment.TransactionParameters) (ConfirmationResult, error) {
	if !n.dispatched.CompareAndSwap(false, true) {
		return ConfirmationResult{}, ErrAlreadyDispatched
	}
	result := "error"
	defer func() { obs.IncCounter(obs.StoreNotificationTotal, result) }()

	body := payment.EncodeForm(params, n.Security).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, strings.NewReader(body))
	if err != nil {
		return ConfirmationResult{}, fmt.Errorf("build notification: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		result = "failed"
		n.Logger.Error().Err(err).Msg("store_notification_failed")
		return ConfirmationResult{}, fmt.Errorf("notify store: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxConfirmationBytes))
	if err != nil {
		result = "failed"
		return ConfirmationResult{}, fmt.Errorf("read confirmation: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	var out ConfirmationResult
	if err := json.Unmarshal(raw, &out); err != nil {
		result = "malformed"
		n.Logger.Error().Err(err).Int("status", resp.StatusCode).Msg("store_notification_malformed")
		return ConfirmationResult{}, fmt.Errorf("%w: status %d: %w", ErrMalformedConfirmation, resp.StatusCode, err)
	}
	out.Raw = json.RawMessage(raw)
	if (resp.StatusCode < 200 || resp.StatusCode > 299) && len(out.Errors) == 0 && out.RedirectURL == "" {
		result = "status"
		n.Logger.Error().Int("status", resp.StatusCode).RawJSON("body", raw).Msg("store_notification_status")
		return ConfirmationResult{}, fmt.Errorf("%w: %s", ErrConfirmationStatus, resp.Status)
	}
	result = "ok"
	return out, nil
}
