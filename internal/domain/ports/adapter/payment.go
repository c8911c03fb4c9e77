package adapter

import (
	"context"

	"entitlement-sync/internal/domain/model"
)

// PaymentProvider is the hex port for billing providers. Each implementation owns
// its provider's auth, request bodies and response envelopes and returns only the
// normalized model types.
type PaymentProvider interface {
	Name() string

	// ValidateSubscriptionID rejects ids that cannot belong to this provider
	// (domain.ErrInvalidArgument) without any network call.
	ValidateSubscriptionID(id string) error

	// CreateCheckout opens a hosted checkout for req.PlanRef.
	CreateCheckout(ctx context.Context, req model.CheckoutRequest) (*model.CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error)
	// CancelSubscription returns the post-cancel provider state.
	CancelSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error)
	// ResumeSubscription returns the post-resume provider state, or domain.ErrUnsupported.
	ResumeSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error)
}
