package security

import (
	"errors"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func newTestNonce(t *testing.T, now time.Time) *Nonce {
	t.Helper()
	n, err := NewNonce(NonceConfig{Secret: "nonce-secret", TTL: time.Hour})
	require.NoError(t, err)
	return n.WithNow(func() time.Time { return now })
}

func TestNonceRoundTrip(t *testing.T) {
	now := time.Now()
	n := newTestNonce(t, now)

	token, expiresAt, err := n.Issue(ConfirmPaymentAction, "R1")
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Hour), expiresAt)
	require.NoError(t, n.Verify(token, ConfirmPaymentAction, "R1"))
}

func TestNonceRejectsOtherReference(t *testing.T) {
	n := newTestNonce(t, time.Now())
	token, _, err := n.Issue(ConfirmPaymentAction, "R1")
	require.NoError(t, err)

	err = n.Verify(token, ConfirmPaymentAction, "R2")
	require.ErrorIs(t, err, ErrInvalidNonce)
}

func TestNonceRejectsOtherAction(t *testing.T) {
	n := newTestNonce(t, time.Now())
	token, _, err := n.Issue("other_action", "R1")
	require.NoError(t, err)

	require.ErrorIs(t, n.Verify(token, ConfirmPaymentAction, "R1"), ErrInvalidNonce)
}

func TestNonceRejectsExpired(t *testing.T) {
	issuedAt := time.Now().Add(-2 * time.Hour)
	n := newTestNonce(t, issuedAt)
	token, _, err := n.Issue(ConfirmPaymentAction, "R1")
	require.NoError(t, err)

	n.WithNow(time.Now)
	require.ErrorIs(t, n.Verify(token, ConfirmPaymentAction, "R1"), ErrInvalidNonce)
}

func TestNonceRejectsForeignSignature(t *testing.T) {
	n := newTestNonce(t, time.Now())
	tok, err := jwt.NewBuilder().
		Issuer(n.issuer).
		Subject("R1").
		Expiration(time.Now().Add(time.Hour)).
		Claim(actionClaim, ConfirmPaymentAction).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("another-secret")))
	require.NoError(t, err)

	err = n.Verify(string(signed), ConfirmPaymentAction, "R1")
	require.True(t, errors.Is(err, ErrInvalidNonce))
}

func TestNonceRejectsEmpty(t *testing.T) {
	n := newTestNonce(t, time.Now())
	require.ErrorIs(t, n.Verify("  ", ConfirmPaymentAction, "R1"), ErrInvalidNonce)
}

func TestNewNonceRequiresSecret(t *testing.T) {
	_, err := NewNonce(NonceConfig{})
	require.Error(t, err)
}
