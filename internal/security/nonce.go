package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ConfirmPaymentAction scopes tokens accepted by the payment confirmation endpoint.
const ConfirmPaymentAction = "check_solana_payment"

const actionClaim = "act"

// ErrInvalidNonce is returned for any token that fails verification.
var ErrInvalidNonce = errors.New("security: invalid nonce")

// NonceConfig configures a Nonce issuer.
type NonceConfig struct {
	Secret    string
	TTL       time.Duration
	Issuer    string
	ClockSkew time.Duration
}

// Nonce issues and verifies short-lived anti-forgery tokens. A token is an
// HS256 JWT bound to an action and a subject (the payment reference), so a
// token minted for one order cannot confirm another.
type Nonce struct {
	secret    []byte
	ttl       time.Duration
	issuer    string
	clockSkew time.Duration
	now       func() time.Time
}

// NewNonce validates the configuration and constructs a Nonce.
func NewNonce(cfg NonceConfig) (*Nonce, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("security: nonce secret is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "solpay-gateway"
	}
	return &Nonce{
		secret:    []byte(secret),
		ttl:       ttl,
		issuer:    issuer,
		clockSkew: cfg.ClockSkew,
		now:       time.Now,
	}, nil
}

// WithNow overrides the clock, primarily for tests.
func (n *Nonce) WithNow(now func() time.Time) *Nonce {
	if now != nil {
		n.now = now
	}
	return n
}

// Issue mints a token for action and subject and returns it with its expiry.
func (n *Nonce) Issue(action, subject string) (string, time.Time, error) {
	now := n.now()
	expiresAt := now.Add(n.ttl)
	token, err := jwt.NewBuilder().
		JwtID(uuid.NewString()).
		Issuer(n.issuer).
		Subject(subject).
		IssuedAt(now).
		NotBefore(now.Add(-n.clockSkew)).
		Expiration(expiresAt).
		Claim(actionClaim, action).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, n.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// Verify checks signature, expiry, issuer, action and subject. Every failure
// wraps ErrInvalidNonce.
func (n *Nonce) Verify(token, action, subject string) error {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return fmt.Errorf("%w: missing token", ErrInvalidNonce)
	}
	options := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, n.secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(n.now)),
		jwt.WithIssuer(n.issuer),
		jwt.WithSubject(subject),
	}
	if n.clockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(n.clockSkew))
	}
	parsed, err := jwt.ParseString(trimmed, options...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNonce, err)
	}
	got, ok := parsed.Get(actionClaim)
	if !ok {
		return fmt.Errorf("%w: missing action", ErrInvalidNonce)
	}
	if s, _ := got.(string); s != action {
		return fmt.Errorf("%w: unexpected action %v", ErrInvalidNonce, got)
	}
	return nil
}
