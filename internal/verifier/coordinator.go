package verifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/solpay-gateway/internal/payment"
)

// Config is the payment config a storefront receives, including its anti-forgery token.
type Config struct {
	payment.ClientConfig
	Security string `json:"security"`
}

// Outcome is how an attempt settled.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeRedirected
	OutcomeRejected
	OutcomeFailed
	OutcomeExpired
	OutcomeCanceled
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRedirected:
		return "redirected"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	case OutcomeExpired:
		return "expired"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "pending"
	}
}

// Options wires a Coordinator.
type Options struct {
	Config     Config
	Verifier   Verifier
	HTTPClient *http.Client
	Reporter   Reporter
	Logger     zerolog.Logger
}

// Coordinator owns the live verification attempt for one payment. It is built
// once per checkout and shared by the QR and wallet paths.
type Coordinator struct {
	cfg      Config
	params   payment.TransactionParameters
	poller   *Poller
	client   *http.Client
	reporter Reporter
	logger   zerolog.Logger

	mu       sync.Mutex
	deadline DeadlineTimer
	current  *attempt
	seq      uint64
}

type attempt struct {
	id       uint64
	parent   context.Context
	cancel   context.CancelFunc
	poll     *PollHandle
	notifier *StoreNotifier
	settled  atomic.Bool
	done     chan struct{}
	once     sync.Once
	outcome  Outcome
}

func (a *attempt) finish(o Outcome) {
	a.once.Do(func() {
		a.outcome = o
		close(a.done)
	})
}

// NewCoordinator validates opts and builds a Coordinator.
func NewCoordinator(opts Options) (*Coordinator, error) {
	cfg := opts.Config
	if opts.Verifier == nil {
		return nil, errors.New("verifier: verification client is required")
	}
	if strings.TrimSpace(cfg.PaymentNotificationEndpoint) == "" {
		return nil, errors.New("verifier: payment notification endpoint is required")
	}
	if cfg.Interval() <= 0 || cfg.Timeout() <= 0 {
		return nil, errors.New("verifier: interval and timeout must be positive")
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = LogReporter{Logger: opts.Logger}
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Coordinator{
		cfg:      cfg,
		params:   cfg.Parameters(),
		poller:   &Poller{Verifier: opts.Verifier, Interval: cfg.Interval(), Logger: opts.Logger},
		client:   client,
		reporter: reporter,
		logger:   opts.Logger,
	}, nil
}

// Parameters returns the transaction parameters being verified.
func (c *Coordinator) Parameters() payment.TransactionParameters {
	return c.params
}

// Start begins a new attempt, superseding any live one.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()

	c.seq++
	actx, cancel := context.WithCancel(ctx)
	a := &attempt{
		id:     c.seq,
		parent: ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		notifier: &StoreNotifier{
			Endpoint: c.cfg.PaymentNotificationEndpoint,
			Security: c.cfg.Security,
			Client:   c.client,
			Logger:   c.logger,
		},
	}
	a.poll = c.poller.Start(actx, c.params)
	c.current = a
	c.deadline.Start(c.cfg.Timeout(), func() { c.expire(a) })
	c.logger.Debug().Uint64("attempt", a.id).Dur("timeout", c.cfg.Timeout()).Msg("verification_attempt_started")
	go c.watch(a)
}

// Restart cancels the live attempt and starts a fresh one.
func (c *Coordinator) Restart(ctx context.Context) {
	c.Start(ctx)
}

// Clear cancels the deadline and polling without starting a replacement.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.current = nil
}

// Done is closed when the live attempt settles. With no attempt it returns an
// already closed channel.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return closedDone
	}
	return c.current.done
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Wait blocks until the live attempt settles or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	a := c.current
	c.mu.Unlock()
	if a == nil {
		return OutcomePending, errors.New("verifier: no attempt started")
	}
	select {
	case <-a.done:
		return a.outcome, nil
	case <-ctx.Done():
		return OutcomePending, ctx.Err()
	}
}

// DeadlineRemaining reports time left on the live attempt, zero once disarmed.
func (c *Coordinator) DeadlineRemaining() time.Duration {
	return c.deadline.Remaining()
}

// DeadlineArmed reports whether the live attempt's deadline is still pending.
func (c *Coordinator) DeadlineArmed() bool {
	return c.deadline.Armed()
}

func (c *Coordinator) cancelLocked() {
	c.deadline.Stop()
	a := c.current
	if a == nil {
		return
	}
	a.cancel()
	if a.settled.CompareAndSwap(false, true) {
		a.finish(OutcomeCanceled)
	}
}

// claim settles a for the caller. The deadline is only disarmed while a is still
// the live attempt, so a newer attempt's deadline is never touched.
func (c *Coordinator) claim(a *attempt) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !a.settled.CompareAndSwap(false, true) {
		return false
	}
	if c.current == a {
		c.deadline.Stop()
	}
	return true
}

func (c *Coordinator) expire(a *attempt) {
	if !c.claim(a) {
		return
	}
	a.cancel()
	c.logger.Info().Uint64("attempt", a.id).Msg("verification_attempt_expired")
	c.reporter.Expired()
	a.finish(OutcomeExpired)
}

func (c *Coordinator) watch(a *attempt) {
	res, ok := <-a.poll.Results()
	if !c.claim(a) {
		return
	}
	a.cancel()
	if !ok {
		// The caller's context ended underneath the attempt.
		a.finish(OutcomeCanceled)
		return
	}
	if res.Err != nil {
		c.reporter.Failure(res.Err)
		a.finish(OutcomeFailed)
		return
	}

	// The notification outlives supersession: an in-flight POST owns its outcome.
	confirmation, err := a.notifier.Notify(a.parent, c.params)
	switch {
	case errors.Is(err, ErrAlreadyDispatched):
		c.logger.Debug().Uint64("attempt", a.id).Msg("store_notification_duplicate")
		a.finish(OutcomeUnchanged)
	case err != nil:
		c.reporter.Failure(err)
		a.finish(OutcomeFailed)
	case len(confirmation.Errors) > 0:
		c.reporter.Errors(confirmation.Errors)
		a.finish(OutcomeRejected)
	case confirmation.RedirectURL != "":
		c.reporter.Redirect(confirmation.RedirectURL)
		a.finish(OutcomeRedirected)
	default:
		c.logger.Debug().Uint64("attempt", a.id).RawJSON("body", confirmation.Raw).Msg("store_notification_no_action")
		a.finish(OutcomeUnchanged)
	}
}
