package payment

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func validParams() TransactionParameters {
	return TransactionParameters{
		Reference: "R1",
		Recipient: "MERCHANT1",
		Amount:    "10.00",
		Label:     "Store",
		Cluster:   "devnet",
	}
}

func TestValidateAcceptsCompleteParameters(t *testing.T) {
	require.Nil(t, Validate(validParams()))

	p := validParams()
	p.Cluster = ""
	require.Nil(t, Validate(p), "cluster is optional")
}

func TestValidateCollectsEveryMissingField(t *testing.T) {
	errs := Validate(TransactionParameters{})
	require.Equal(t, FieldErrors{
		"reference": "reference missing",
		"recipient": "recipient missing",
		"amount":    "amount missing",
	}, errs)
}

func TestValidateRejectsUnknownCluster(t *testing.T) {
	p := validParams()
	p.Cluster = "testnet"
	errs := Validate(p)
	require.Equal(t, FieldErrors{"cluster": "Invalid cluster"}, errs)

	p.Cluster = "mainnet-beta"
	require.Nil(t, Validate(p))
}

func TestValidateRejectsNonPositiveAmount(t *testing.T) {
	for _, amount := range []string{"abc", "0", "-1"} {
		p := validParams()
		p.Amount = amount
		require.Equal(t, FieldErrors{"amount": "Invalid amount"}, Validate(p), amount)
	}
}

func TestAllowedClusters(t *testing.T) {
	require.ElementsMatch(t, []string{"devnet", "mainnet-beta"}, AllowedClusters)
	require.True(t, IsAllowedCluster("devnet"))
	require.False(t, IsAllowedCluster("localnet"))
}

func TestEncodeQueryAlwaysCarriesSPLToken(t *testing.T) {
	q := EncodeQuery(validParams())
	_, ok := q["splToken"]
	require.True(t, ok)
	require.Equal(t, "", q.Get("splToken"))
	require.Equal(t, "R1", q.Get("reference"))
	require.Equal(t, "devnet", q.Get("cluster"))
}

func TestEncodeFormRoundTrip(t *testing.T) {
	p := validParams()
	form := EncodeForm(p, "tok")
	_, hasToken := form["splToken"]
	require.False(t, hasToken)
	require.Equal(t, "tok", form.Get(SecurityField))

	decoded, security := DecodeForm(form)
	require.Equal(t, p, decoded)
	require.Equal(t, "tok", security)
}

func TestDecodeFormTrimsValues(t *testing.T) {
	form := url.Values{"reference": {"  R1 "}, "amount": {" 1.5"}, SecurityField: {" s "}}
	p, security := DecodeForm(form)
	require.Equal(t, "R1", p.Reference)
	require.Equal(t, "1.5", p.Amount)
	require.Equal(t, "s", security)
}

func TestFieldErrorsError(t *testing.T) {
	require.Equal(t, "Invalid cluster", FieldErrors{"cluster": "Invalid cluster"}.Error())
}
