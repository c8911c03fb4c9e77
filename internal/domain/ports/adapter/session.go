package adapter

import (
	"context"

	"entitlement-sync/internal/domain/model"
)

// SessionResolver turns identity provider credential material (an access token)
// into a resolved identity, or domain.ErrUnauthenticated.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (model.Identity, error)
}
