// File: internal/usecase/ownership.go
package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"entitlement-sync/internal/domain"
	"entitlement-sync/internal/domain/model"
	"entitlement-sync/internal/domain/ports/repository"
)

// OwnershipGuard decides whether an identity may act on a subscription id.
// It trusts only the locally stored reference and never asks the provider.
type OwnershipGuard struct {
	profiles repository.ProfileRepository
	log      *zerolog.Logger
}

func NewOwnershipGuard(profiles repository.ProfileRepository, logger *zerolog.Logger) *OwnershipGuard {
	l := logger.With().Str("component", "OwnershipGuard").Logger()
	return &OwnershipGuard{profiles: profiles, log: &l}
}

// Verify returns the caller's profile when it references exactly subscriptionID.
// A missing profile, a failed lookup and a different id all deny with
// domain.ErrOwnershipMismatch.
func (g *OwnershipGuard) Verify(ctx context.Context, who model.Identity, subscriptionID string) (*model.Profile, error) {
	if who.IsZero() {
		return nil, domain.ErrUnauthenticated
	}
	p, err := g.profiles.FindByID(ctx, nil, who.UserID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			g.log.Error().Err(err).Str("user_id", who.UserID).Msg("profile lookup failed; denying")
		}
		return nil, domain.ErrOwnershipMismatch
	}
	if !p.Owns(subscriptionID) {
		g.log.Warn().
			Str("user_id", who.UserID).
			Str("subscription_id", subscriptionID).
			Msg("subscription not bound to caller")
		return nil, domain.ErrOwnershipMismatch
	}
	return p, nil
}
