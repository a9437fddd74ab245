package obs_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/solpay-gateway/internal/obs"
)

func TestDomainMetricsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("solpay", registry)
	obs.MustRegisterDomainMetrics("solpay", registry)

	obs.IncCounter(obs.ConfirmationTotal, "devnet", "paid")
	obs.IncCounter(obs.ConfirmationTotal, "devnet", "paid")
	obs.OrderFinalizedTotal.Inc()

	require.Equal(t, 2.0, testutil.ToFloat64(obs.ConfirmationTotal.WithLabelValues("devnet", "paid")))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.OrderFinalizedTotal))

	families, err := registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	require.True(t, names["solpay_payment_confirmation_total"])
	require.True(t, names["solpay_order_finalized_total"])
}

func TestIncCounterToleratesNil(t *testing.T) {
	require.NotPanics(t, func() {
		obs.IncCounter(nil, "x")
		obs.ObserveMillis(nil, 1, "x")
	})
}
