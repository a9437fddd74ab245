package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/solpay-gateway/internal/obs"
	"github.com/noah-isme/solpay-gateway/internal/payment"
	"github.com/noah-isme/solpay-gateway/internal/verification"
)

// Verifier asks the verification service about a payment.
type Verifier interface {
	Verify(ctx context.Context, query url.Values) (verification.Result, error)
}

// PollResult is the terminal outcome of a poll. Exactly one of Success or Err is set.
type PollResult struct {
	Success bool
	Body    json.RawMessage
	Err     error
}

// Poller issues a verification GET every Interval.
type Poller struct {
	Verifier Verifier
	Interval time.Duration
	Logger   zerolog.Logger
}

// PollHandle controls one running poll.
type PollHandle struct {
	cancel  context.CancelFunc
	results chan PollResult
}

// Results yields at most one PollResult and is then closed. A cancelled poll
// closes the channel without sending.
func (h *PollHandle) Results() <-chan PollResult {
	return h.results
}

// Cancel stops polling silently.
func (h *PollHandle) Cancel() {
	h.cancel()
}

// Start begins polling until success, a failed or unreadable response, or cancellation.
// The first request goes out one Interval after Start.
func (p *Poller) Start(ctx context.Context, params payment.TransactionParameters) *PollHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &PollHandle{cancel: cancel, results: make(chan PollResult, 1)}
	go p.run(ctx, payment.EncodeQuery(params), h)
	return h
}

func (p *Poller) run(ctx context.Context, query url.Values, h *PollHandle) {
	defer close(h.results)
	defer h.cancel()

	interval := p.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res, err := p.Verifier.Verify(ctx, query)
		// A response that arrives after cancellation belongs to a dead attempt.
		if ctx.Err() != nil {
			return
		}
		switch {
		case errors.Is(err, verification.ErrMalformedResponse):
			obs.IncCounter(obs.VerificationPollTotal, "malformed")
			p.Logger.Error().Err(err).Msg("verification_poll_malformed")
			h.results <- PollResult{Err: err}
			return
		case err != nil:
			obs.IncCounter(obs.VerificationPollTotal, "failed")
			p.Logger.Error().Err(err).Msg("verification_poll_failed")
			h.results <- PollResult{Err: err}
			return
		case res.Success:
			obs.IncCounter(obs.VerificationPollTotal, "success")
			h.results <- PollResult{Success: true, Body: res.Body}
			return
		default:
			obs.IncCounter(obs.VerificationPollTotal, "pending")
			p.Logger.Debug().Int("body_bytes", len(res.Body)).Msg("verification_poll_pending")
		}
	}
}
