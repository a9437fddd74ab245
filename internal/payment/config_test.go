package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/solpay-gateway/internal/lock"
	"github.com/noah-isme/solpay-gateway/internal/order"
	"github.com/noah-isme/solpay-gateway/internal/order/ordertest"
	"github.com/noah-isme/solpay-gateway/internal/payment"
	"github.com/noah-isme/solpay-gateway/internal/security"
)

const merchantWallet = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

type countingMinter struct {
	calls atomic.Int32
	ref   string
	err   error
	delay time.Duration
}

func (m *countingMinter) MintReference(ctx context.Context) (string, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.ref, m.err
}

func newLocker(t *testing.T) lock.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
}

func TestBuildClientConfigMainnet(t *testing.T) {
	o := order.Order{Total: decimal.RequireFromString("10.50")}
	cfg := payment.BuildClientConfig(payment.Settings{
		StoreName:              "Solana Shop",
		MerchantWallet:         merchantWallet,
		Message:                "Thanks & enjoy",
		VerificationServiceURL: "https://verifier.example/",
		Interval:               3 * time.Second,
		Timeout:                3 * time.Minute,
	}, payment.Links{BaseURL: testBaseURL + "/"}, o, "REF")

	require.Equal(t, "mainnet-beta", cfg.Cluster)
	require.Equal(t, payment.USDCMint, cfg.Transaction.SPLToken)
	require.Equal(t, "10.5", cfg.Transaction.Amount)
	require.Equal(t, "Solana+Shop", cfg.Transaction.Label)
	require.Equal(t, "Thanks+%26+enjoy", cfg.Transaction.Message)
	require.Equal(t, int64(3000), cfg.VerificationServiceInterval)
	require.Equal(t, int64(180000), cfg.VerificationServiceTimeout)
	require.Equal(t, testBaseURL+payment.ConfirmPath, cfg.PaymentNotificationEndpoint)
	require.Equal(t, ".js-solana-timeout-timer", cfg.TimeoutTimerSelector)
	require.Equal(t, ".js-solana-qr-container", cfg.QRCodeElementSelector)
	require.Equal(t, ".js-solana-wallet-container", cfg.WalletsElementSelector)
	require.Equal(t, 3*time.Second, cfg.Interval())
	require.Equal(t, "mainnet-beta", cfg.Parameters().Cluster)
}

func TestBuildClientConfigDevMode(t *testing.T) {
	cfg := payment.BuildClientConfig(payment.Settings{DevMode: true}, payment.Links{}, order.Order{Total: decimal.NewFromInt(1)}, "REF")
	require.Equal(t, "devnet", cfg.Cluster)
	require.Empty(t, cfg.Transaction.SPLToken)
}

func TestReferenceServiceMintsOnce(t *testing.T) {
	store := ordertest.NewStore(t)
	o, err := store.Create(context.Background(), order.NewOrder{Total: decimal.NewFromInt(3)})
	require.NoError(t, err)

	minter := &countingMinter{ref: "REF-1", delay: 10 * time.Millisecond}
	svc := &payment.ReferenceService{Store: store, Minter: minter, Locker: newLocker(t), LockTTL: time.Second, Logger: zerolog.Nop()}

	var wg sync.WaitGroup
	refs := make([]string, 4)
	for i := range refs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := svc.Ensure(context.Background(), o)
			if err == nil {
				refs[i] = ref
			}
		}(i)
	}
	wg.Wait()

	for _, ref := range refs {
		require.Equal(t, "REF-1", ref)
	}
	require.Equal(t, int32(1), minter.calls.Load())
}

func TestReferenceServiceReturnsExisting(t *testing.T) {
	ref := "EXISTING"
	minter := &countingMinter{ref: "NEW"}
	svc := &payment.ReferenceService{Minter: minter}

	got, err := svc.Ensure(context.Background(), order.Order{PaymentReference: &ref})
	require.NoError(t, err)
	require.Equal(t, "EXISTING", got)
	require.Zero(t, minter.calls.Load())
}

func TestReferenceServiceFailsWithoutFallback(t *testing.T) {
	store := ordertest.NewStore(t)
	o, err := store.Create(context.Background(), order.NewOrder{Total: decimal.NewFromInt(3)})
	require.NoError(t, err)

	svc := &payment.ReferenceService{Store: store, Minter: &countingMinter{err: errors.New("down")}}
	_, err = svc.Ensure(context.Background(), o)
	require.ErrorIs(t, err, payment.ErrReferenceUnavailable)

	current, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Nil(t, current.PaymentReference, "no empty reference is persisted")
}

func TestReferenceServiceLocalFallback(t *testing.T) {
	store := ordertest.NewStore(t)
	o, err := store.Create(context.Background(), order.NewOrder{Total: decimal.NewFromInt(3)})
	require.NoError(t, err)

	svc := &payment.ReferenceService{Store: store, Minter: &countingMinter{err: errors.New("down")}, LocalFallback: true, Logger: zerolog.Nop()}
	ref, err := svc.Ensure(context.Background(), o)
	require.NoError(t, err)
	_, err = solana.PublicKeyFromBase58(ref)
	require.NoError(t, err)
}

func newConfigRouter(t *testing.T, store order.Store, minter payment.ReferenceMinter, nonce *security.Nonce) http.Handler {
	t.Helper()
	h := &payment.ConfigHandler{
		Store:      store,
		References: &payment.ReferenceService{Store: store, Minter: minter, Logger: zerolog.Nop()},
		Tokens:     nonce,
		Settings: payment.Settings{
			StoreName:              "Shop",
			MerchantWallet:         merchantWallet,
			VerificationServiceURL: "https://verifier.example/",
			Interval:               3 * time.Second,
			Timeout:                3 * time.Minute,
		},
		Links:  payment.Links{BaseURL: testBaseURL},
		Logger: zerolog.Nop(),
	}
	r := chi.NewRouter()
	r.Get("/orders/{orderId}/payment-config", h.ServeHTTP)
	return r
}

func TestConfigHandlerIssuesBoundToken(t *testing.T) {
	store := ordertest.NewStore(t)
	nonce, err := security.NewNonce(security.NonceConfig{Secret: "s"})
	require.NoError(t, err)
	o, err := store.Create(context.Background(), order.NewOrder{Total: decimal.RequireFromString("10.00")})
	require.NoError(t, err)

	ref := solana.NewWallet().PublicKey().String()
	router := newConfigRouter(t, store, &countingMinter{ref: ref}, nonce)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/"+o.ID.String()+"/payment-config", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var cfg payment.PaymentConfig
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cfg))
	require.Equal(t, ref, cfg.Transaction.Reference)
	require.Equal(t, "10", cfg.Transaction.Amount)
	require.NoError(t, nonce.Verify(cfg.Security, security.ConfirmPaymentAction, ref))
	require.Contains(t, cfg.TransferURL, "solana:"+merchantWallet+"?amount=10")

	stored, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, ref, stored.Reference())
}

func TestConfigHandlerRejectsPaidOrder(t *testing.T) {
	store := ordertest.NewStore(t)
	nonce, err := security.NewNonce(security.NonceConfig{Secret: "s"})
	require.NoError(t, err)
	o := ordertest.AwaitingPayment(t, store, "1", "R1")
	_, _, err = store.MarkPaid(context.Background(), o.ID, time.Now())
	require.NoError(t, err)

	router := newConfigRouter(t, store, &countingMinter{ref: "X"}, nonce)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/"+o.ID.String()+"/payment-config", nil))
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestConfigHandlerBadOrderID(t *testing.T) {
	store := ordertest.NewStore(t)
	nonce, err := security.NewNonce(security.NonceConfig{Secret: "s"})
	require.NoError(t, err)
	router := newConfigRouter(t, store, &countingMinter{}, nonce)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/not-a-uuid/payment-config", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/7b0f3f8e-7c43-4a43-9a4f-2f4a7f0e2d11/payment-config", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
