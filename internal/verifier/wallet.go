package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/solpay-gateway/internal/payment"
)

// TokenSource provides the access token a wallet submitter authenticates with.
type TokenSource interface {
	AuthToken(ctx context.Context) (string, error)
}

// Submitter signs and submits the transfer from a connected wallet.
type Submitter interface {
	Submit(ctx context.Context, accessToken string, params payment.TransactionParameters) error
}

// WalletPath is the active payment path: the customer pays from a connected
// wallet, then verification restarts so the store is notified promptly.
type WalletPath struct {
	Coordinator *Coordinator
	Tokens      TokenSource
	Submitter   Submitter
	Reporter    Reporter
	Logger      zerolog.Logger
}

// Pay fetches an access token, submits the transfer and restarts verification.
// Failures go to the Reporter as well as being returned.
func (w *WalletPath) Pay(ctx context.Context) error {
	if w == nil || w.Coordinator == nil || w.Tokens == nil || w.Submitter == nil {
		return errors.New("verifier: wallet path not configured")
	}
	token, err := w.Tokens.AuthToken(ctx)
	if err != nil {
		err = fmt.Errorf("wallet auth: %w", err)
		w.report(err)
		return err
	}
	if err := w.Submitter.Submit(ctx, token, w.Coordinator.Parameters()); err != nil {
		err = fmt.Errorf("wallet submit: %w", err)
		w.report(err)
		return err
	}
	w.Logger.Info().Str("reference", w.Coordinator.Parameters().Reference).Msg("wallet_transfer_submitted")
	w.Coordinator.Clear()
	w.Coordinator.Restart(ctx)
	return nil
}

func (w *WalletPath) report(err error) {
	if w.Reporter != nil {
		w.Reporter.Failure(err)
		return
	}
	w.Logger.Error().Err(err).Msg("wallet_payment_failed")
}
