package verifier

import (
	"github.com/rs/zerolog"
)

// Reporter is the single channel through which an attempt's outcome reaches
// the customer, whichever path (QR or wallet) started it.
type Reporter interface {
	Redirect(url string)
	Errors(fields map[string]any)
	Failure(err error)
	Expired()
}

// LogReporter writes outcomes to a zerolog logger.
type LogReporter struct {
	Logger zerolog.Logger
}

func (r LogReporter) Redirect(url string) {
	r.Logger.Info().Str("redirect_url", url).Msg("payment_confirmed")
}

func (r LogReporter) Errors(fields map[string]any) {
	r.Logger.Warn().Fields(map[string]any{"errors": fields}).Msg("payment_rejected")
}

func (r LogReporter) Failure(err error) {
	r.Logger.Error().Err(err).Msg("payment_verification_failed")
}

func (r LogReporter) Expired() {
	r.Logger.Warn().Msg("payment_verification_timed_out")
}
