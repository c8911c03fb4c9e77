package usecase

import (
	"context"

	"entitlement-sync/internal/domain/model"
)

// SubscriptionReconciler defines the subscription operations needed by background workers.
type SubscriptionReconciler interface {
	// Reconcile brings p back in line with the provider; it reports whether p was downgraded.
	Reconcile(ctx context.Context, p *model.Profile) (bool, error)
}
