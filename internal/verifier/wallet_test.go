package verifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/solpay-gateway/internal/payment"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) AuthToken(context.Context) (string, error) { return s.token, s.err }

type recordingSubmitter struct {
	mu     sync.Mutex
	tokens []string
	params []payment.TransactionParameters
	err    error
}

func (r *recordingSubmitter) Submit(_ context.Context, token string, params payment.TransactionParameters) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	r.params = append(r.params, params)
	return r.err
}

func TestWalletPathRestartsVerification(t *testing.T) {
	store := newStoreServer(t, `{"redirectUrl":"https://shop.example/orders/1"}`)
	rep := &recordingReporter{}
	v := succeedOn(1)
	c := newTestCoordinator(t, testConfig(store.URL, 50*time.Millisecond, time.Second), v, rep)

	c.Start(context.Background())
	first := c.Done()

	sub := &recordingSubmitter{}
	w := &WalletPath{Coordinator: c, Tokens: staticTokens{token: "access"}, Submitter: sub, Reporter: rep}
	require.NoError(t, w.Pay(context.Background()))

	// The QR attempt was superseded, and the wallet attempt carries on.
	<-first
	require.NotEqual(t, first, c.Done())
	require.Equal(t, OutcomeRedirected, waitOutcome(t, c))

	require.Equal(t, []string{"access"}, sub.tokens)
	require.Equal(t, "R1", sub.params[0].Reference)
	require.Equal(t, "devnet", sub.params[0].Cluster)
	require.Equal(t, int32(1), store.posts.Load())
	require.Len(t, rep.redirects, 1)
}

func TestWalletPathAuthFailureReported(t *testing.T) {
	store := newStoreServer(t, `{}`)
	rep := &recordingReporter{}
	c := newTestCoordinator(t, testConfig(store.URL, 50*time.Millisecond, time.Second), never(), rep)
	c.Start(context.Background())
	live := c.Done()

	sub := &recordingSubmitter{}
	w := &WalletPath{Coordinator: c, Tokens: staticTokens{err: errors.New("auth down")}, Submitter: sub, Reporter: rep}
	err := w.Pay(context.Background())
	require.Error(t, err)

	require.Len(t, rep.failures, 1)
	require.Empty(t, sub.tokens)
	require.Equal(t, live, c.Done(), "a failed submission leaves the live attempt alone")
}

func TestWalletPathSubmitFailureReported(t *testing.T) {
	store := newStoreServer(t, `{}`)
	rep := &recordingReporter{}
	c := newTestCoordinator(t, testConfig(store.URL, 50*time.Millisecond, time.Second), never(), rep)
	c.Start(context.Background())

	w := &WalletPath{Coordinator: c, Tokens: staticTokens{token: "access"}, Submitter: &recordingSubmitter{err: errors.New("rejected by wallet")}, Reporter: rep}
	require.ErrorContains(t, w.Pay(context.Background()), "rejected by wallet")
	require.Len(t, rep.failures, 1)
}

func TestWalletPathNotConfigured(t *testing.T) {
	var w *WalletPath
	require.Error(t, w.Pay(context.Background()))
}
