package verifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/solpay-gateway/internal/payment"
)

func testParams() payment.TransactionParameters {
	return payment.TransactionParameters{
		Reference: "R1",
		Recipient: "MERCHANT1",
		Amount:    "10.00",
		Label:     "Store",
		Cluster:   "devnet",
	}
}

type storeServer struct {
	*httptest.Server
	posts atomic.Int32
	mu    sync.Mutex
	forms []url.Values
}

func newStoreServer(t *testing.T, body string) *storeServer {
	t.Helper()
	return newStoreServerStatus(t, http.StatusOK, body)
}

func newStoreServerStatus(t *testing.T, status int, body string) *storeServer {
	t.Helper()
	s := &storeServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.posts.Add(1)
		_ = r.ParseForm()
		s.mu.Lock()
		s.forms = append(s.forms, r.PostForm)
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func TestNotifySendsOnce(t *testing.T) {
	store := newStoreServer(t, `{"redirectUrl":"https://shop.example/orders/1"}`)
	n := &StoreNotifier{Endpoint: store.URL, Security: "nonce", Client: store.Client(), Logger: zerolog.Nop()}

	var (
		wg         sync.WaitGroup
		successes  atomic.Int32
		duplicates atomic.Int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := n.Notify(context.Background(), testParams())
			switch {
			case err == nil && res.RedirectURL != "":
				successes.Add(1)
			case err == ErrAlreadyDispatched:
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), store.posts.Load())
	require.Equal(t, int32(1), successes.Load())
	require.Equal(t, int32(4), duplicates.Load())
	require.True(t, n.Dispatched())
}

func TestNotifyFormBody(t *testing.T) {
	store := newStoreServer(t, `{"errors":{"order":"No order found for reference: R1"}}`)
	n := &StoreNotifier{Endpoint: store.URL, Security: "nonce", Client: store.Client()}

	res, err := n.Notify(context.Background(), testParams())
	require.NoError(t, err)
	require.Equal(t, map[string]any{"order": "No order found for reference: R1"}, res.Errors)
	require.NotEmpty(t, res.Raw)

	form := store.forms[0]
	require.Equal(t, "nonce", form.Get(payment.SecurityField))
	require.Equal(t, "R1", form.Get("reference"))
	require.Equal(t, "devnet", form.Get("cluster"))
	_, hasToken := form["splToken"]
	require.False(t, hasToken)
}

func TestNotifyNetworkFailureKeepsFlag(t *testing.T) {
	store := newStoreServer(t, `{}`)
	endpoint := store.URL
	store.Close()

	n := &StoreNotifier{Endpoint: endpoint, Security: "nonce", Client: http.DefaultClient}
	_, err := n.Notify(context.Background(), testParams())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyDispatched)

	_, err = n.Notify(context.Background(), testParams())
	require.ErrorIs(t, err, ErrAlreadyDispatched)
}

func TestNotifyMalformedResponse(t *testing.T) {
	store := newStoreServer(t, `<html>fatal</html>`)
	n := &StoreNotifier{Endpoint: store.URL, Client: store.Client()}

	_, err := n.Notify(context.Background(), testParams())
	require.ErrorIs(t, err, ErrMalformedConfirmation)
}

func TestNotifyFailureStatusWithoutErrors(t *testing.T) {
	store := newStoreServerStatus(t, http.StatusTooManyRequests, `{"error":{"code":"RATE_LIMITED","message":"rate limit exceeded"}}`)
	n := &StoreNotifier{Endpoint: store.URL, Client: store.Client()}

	_, err := n.Notify(context.Background(), testParams())
	require.ErrorIs(t, err, ErrConfirmationStatus)
}

func TestNotifyFailureStatusWithErrorsIsAnAnswer(t *testing.T) {
	store := newStoreServerStatus(t, http.StatusBadGateway, `{"errors":{"request":"Verification request failed"}}`)
	n := &StoreNotifier{Endpoint: store.URL, Client: store.Client()}

	res, err := n.Notify(context.Background(), testParams())
	require.NoError(t, err)
	require.Equal(t, "Verification request failed", res.Errors["request"])
}
