// File: internal/infra/adapters/payment/stripe_gateway.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"

	"entitlement-sync/internal/domain"
	"entitlement-sync/internal/domain/model"
	"entitlement-sync/internal/domain/ports/adapter"
)

var _ adapter.PaymentProvider = (*StripeGateway)(nil)

// StripeGateway implements adapter.PaymentProvider with the stripe-go client API.
// Stripe has no resume for a cancelled subscription.
type StripeGateway struct {
	sc *client.API
}

// NewStripeGateway builds a client bound to secretKey. A non-nil backend replaces
// the default API backend (used for tests and stripe-mock).
func NewStripeGateway(secretKey string, backend stripe.Backend) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	var backends *stripe.Backends
	if backend != nil {
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	return &StripeGateway{sc: client.New(secretKey, backends)}, nil
}

// NewStripeBackend points the API backend at url with no retries.
func NewStripeBackend(url string) stripe.Backend {
	return stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(url),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) ValidateSubscriptionID(id string) error {
	if !strings.HasPrefix(id, "sub_") || len(id) <= len("sub_") {
		return fmt.Errorf("%w: %q is not a stripe subscription id", domain.ErrInvalidArgument, id)
	}
	return nil
}

// CreateCheckout opens a subscription-mode checkout session for the price in req.PlanRef.
func (g *StripeGateway) CreateCheckout(ctx context.Context, req model.CheckoutRequest) (*model.CheckoutSession, error) {
	if req.PlanRef == "" {
		return nil, fmt.Errorf("%w: price is required", domain.ErrInvalidArgument)
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.FailureURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PlanRef), Quantity: stripe.Int64(1)},
		},
		ClientReferenceID: stripe.String(req.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": req.UserID},
		},
	}
	if req.BuyerEmail != "" {
		params.CustomerEmail = stripe.String(req.BuyerEmail)
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(ulid.Make().String())

	s, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, stripeErr("create checkout session", err)
	}
	cs := &model.CheckoutSession{ID: s.ID, URL: s.URL}
	if s.ExpiresAt > 0 {
		cs.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC().Format(time.RFC3339)
	}
	return cs, nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	if err := g.ValidateSubscriptionID(id); err != nil {
		return nil, err
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("customer")
	sub, err := g.sc.Subscriptions.Get(id, params)
	if err != nil {
		return nil, stripeErr("get subscription "+id, err)
	}
	return normalizeStripe(sub), nil
}

// CancelSubscription sets cancel_at_period_end, so the customer keeps the
// paid period and Stripe reports the subscription as cancelled until it ends.
func (g *StripeGateway) CancelSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	if err := g.ValidateSubscriptionID(id); err != nil {
		return nil, err
	}
	sub, err := g.setCancelAtPeriodEnd(ctx, id, true)
	if err != nil {
		return nil, stripeErr("cancel subscription "+id, err)
	}
	return normalizeStripe(sub), nil
}

// ResumeSubscription clears cancel_at_period_end. Stripe refuses it once the
// subscription has actually ended.
func (g *StripeGateway) ResumeSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	if err := g.ValidateSubscriptionID(id); err != nil {
		return nil, err
	}
	sub, err := g.setCancelAtPeriodEnd(ctx, id, false)
	if err != nil {
		return nil, stripeErr("resume subscription "+id, err)
	}
	return normalizeStripe(sub), nil
}

func (g *StripeGateway) setCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(ulid.Make().String())
	params.AddExpand("customer")
	return g.sc.Subscriptions.Update(id, params)
}

func normalizeStripe(sub *stripe.Subscription) *model.ExternalSubscription {
	out := &model.ExternalSubscription{
		ID:        sub.ID,
		Provider:  "stripe",
		Status:    string(sub.Status),
		Cancelled: sub.CancelAtPeriodEnd || sub.CanceledAt > 0,
		Ended: sub.Status == stripe.SubscriptionStatusCanceled ||
			sub.Status == stripe.SubscriptionStatusIncompleteExpired ||
			sub.EndedAt > 0,
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		if out.Cancelled {
			out.EndsAt = &end
		} else {
			out.RenewsAt = &end
		}
	}
	if sub.EndedAt > 0 {
		ended := time.Unix(sub.EndedAt, 0).UTC()
		out.EndsAt = &ended
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PlanRef = sub.Items.Data[0].Price.ID
	}
	if sub.Customer != nil {
		out.CustomerEmail = sub.Customer.Email
	}
	return out
}

// stripeErr wraps a stripe-go error as ErrProvider, adding ErrNotFound for 404.
func stripeErr(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w: stripe %s: %s", domain.ErrProvider, domain.ErrNotFound, op, se.Msg)
		}
		return &domain.ProviderError{
			Message: se.Msg,
			Err:     fmt.Errorf("%w: stripe %s: %s (http %d)", domain.ErrProvider, op, se.Msg, se.HTTPStatusCode),
		}
	}
	return fmt.Errorf("%w: stripe %s: %w", domain.ErrProvider, op, err)
}
