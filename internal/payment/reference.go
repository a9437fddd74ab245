package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/solpay-gateway/internal/obs"
	"github.com/noah-isme/solpay-gateway/internal/order"
)

// ErrReferenceUnavailable is returned when no reference could be minted.
var ErrReferenceUnavailable = errors.New("payment: reference unavailable")

// ReferenceMinter obtains fresh payment references.
type ReferenceMinter interface {
	MintReference(ctx context.Context) (string, error)
}

// Locker serializes work across API instances.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// ReferenceService assigns each order exactly one payment reference. Minting
// happens lazily the first time a payment config is requested.
type ReferenceService struct {
	Store         order.Store
	Minter        ReferenceMinter
	Locker        Locker
	LockTTL       time.Duration
	LocalFallback bool
	Logger        zerolog.Logger
}

// Ensure returns the order's reference, minting and persisting one when absent.
func (s *ReferenceService) Ensure(ctx context.Context, o order.Order) (string, error) {
	if ref := o.Reference(); ref != "" {
		return ref, nil
	}
	if s == nil || s.Store == nil || s.Minter == nil {
		return "", fmt.Errorf("%w: reference service not configured", ErrReferenceUnavailable)
	}

	var reference string
	assign := func(ctx context.Context) error {
		current, err := s.Store.Get(ctx, o.ID)
		if err != nil {
			return err
		}
		if ref := current.Reference(); ref != "" {
			reference = ref
			return nil
		}
		candidate, err := s.mint(ctx)
		if err != nil {
			return err
		}
		stored, err := s.Store.SetReferenceOnce(ctx, o.ID, candidate)
		if err != nil {
			return err
		}
		reference = stored
		return nil
	}

	var err error
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, "order-reference:"+o.ID.String(), s.LockTTL, assign)
	} else {
		err = assign(ctx)
	}
	if err != nil {
		return "", err
	}
	return reference, nil
}

func (s *ReferenceService) mint(ctx context.Context) (string, error) {
	ref, err := s.Minter.MintReference(ctx)
	if err == nil {
		obs.IncCounter(obs.ReferenceMintTotal, "service", "ok")
		return ref, nil
	}
	obs.IncCounter(obs.ReferenceMintTotal, "service", "error")
	if !s.LocalFallback {
		return "", fmt.Errorf("%w: %w", ErrReferenceUnavailable, err)
	}
	s.Logger.Warn().Err(err).Msg("reference_mint_fallback_local")
	key, kerr := solana.NewRandomPrivateKey()
	if kerr != nil {
		obs.IncCounter(obs.ReferenceMintTotal, "local", "error")
		return "", fmt.Errorf("%w: %w", ErrReferenceUnavailable, kerr)
	}
	obs.IncCounter(obs.ReferenceMintTotal, "local", "ok")
	return key.PublicKey().String(), nil
}
