package repository

import (
	"context"
	"time"

	"entitlement-sync/internal/domain/model"
)

// -----------------------------
// Profiles
// -----------------------------

// ProfileRepository is the port for the local entitlement record.
// FindByID returns domain.ErrNotFound when no row exists.
type ProfileRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Profile, error)
	// FindByIDForUpdate locks the row when tx is a transaction.
	FindByIDForUpdate(ctx context.Context, tx Tx, id string) (*model.Profile, error)
	Save(ctx context.Context, tx Tx, p *model.Profile) error
	// CreateIfAbsent inserts p unless a row with its id already exists and
	// reports whether it inserted. An existing row is never modified.
	CreateIfAbsent(ctx context.Context, tx Tx, p *model.Profile) (bool, error)
	// ClearSubscription sets plan=free, subscription_id=NULL, updated_at=at.
	ClearSubscription(ctx context.Context, tx Tx, id string, at time.Time) error
	// ListWithSubscription pages through profiles that reference a subscription, ordered by id.
	ListWithSubscription(ctx context.Context, tx Tx, afterID string, limit int) ([]*model.Profile, error)
}
