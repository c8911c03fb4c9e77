package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"entitlement-sync/internal/domain"
	"entitlement-sync/internal/domain/model"
	"entitlement-sync/internal/domain/ports/adapter"
)

var _ adapter.PaymentProvider = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory provider for dev mode and tests.
// Subscriptions exist only after Seed; ids are free-form.
type NoopPaymentGateway struct {
	mu   sync.Mutex
	seq  int64
	subs map[string]*model.ExternalSubscription
	now  func() time.Time
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{subs: make(map[string]*model.ExternalSubscription), now: time.Now}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) ValidateSubscriptionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty subscription id", domain.ErrInvalidArgument)
	}
	return nil
}

// Seed registers an active subscription renewing in 30 days.
func (g *NoopPaymentGateway) Seed(id, planRef, email string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	renews := g.now().Add(30 * 24 * time.Hour).UTC()
	g.subs[id] = &model.ExternalSubscription{
		ID: id, Provider: g.Name(), Status: "active", RenewsAt: &renews, PlanRef: planRef, CustomerEmail: email,
	}
}

func (g *NoopPaymentGateway) CreateCheckout(ctx context.Context, req model.CheckoutRequest) (*model.CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("noop-checkout-%d", g.seq)
	return &model.CheckoutSession{
		ID:        id,
		URL:       "https://example.test/checkout/" + id,
		ExpiresAt: g.now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	}, nil
}

func (g *NoopPaymentGateway) GetSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.find(id)
	if err != nil {
		return nil, err
	}
	cp := *s
	return &cp, nil
}

func (g *NoopPaymentGateway) CancelSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.find(id)
	if err != nil {
		return nil, err
	}
	s.Status = "cancelled"
	s.Cancelled = true
	s.EndsAt, s.RenewsAt = s.RenewsAt, nil
	cp := *s
	return &cp, nil
}

func (g *NoopPaymentGateway) ResumeSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.find(id)
	if err != nil {
		return nil, err
	}
	if s.Ended {
		return nil, fmt.Errorf("%w: noop: subscription %s has ended", domain.ErrProvider, id)
	}
	s.Status = "active"
	if s.Cancelled {
		s.Cancelled = false
		s.RenewsAt, s.EndsAt = s.EndsAt, nil
	}
	cp := *s
	return &cp, nil
}

func (g *NoopPaymentGateway) find(id string) (*model.ExternalSubscription, error) {
	s, ok := g.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %w: noop subscription %s", domain.ErrProvider, domain.ErrNotFound, id)
	}
	return s, nil
}
