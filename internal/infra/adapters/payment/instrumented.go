package payment

import (
	"context"
	"time"

	"entitlement-sync/internal/domain/model"
	"entitlement-sync/internal/domain/ports/adapter"
	"entitlement-sync/internal/infra/metrics"
)

// Compile-time check
var _ adapter.PaymentProvider = (*instrumented)(nil)

type instrumented struct {
	inner adapter.PaymentProvider
}

// Instrument records call counts and latency for every provider operation.
func Instrument(inner adapter.PaymentProvider) adapter.PaymentProvider {
	return &instrumented{inner: inner}
}

func (p *instrumented) Name() string { return p.inner.Name() }

func (p *instrumented) ValidateSubscriptionID(id string) error {
	return p.inner.ValidateSubscriptionID(id)
}

func (p *instrumented) CreateCheckout(ctx context.Context, req model.CheckoutRequest) (*model.CheckoutSession, error) {
	start := time.Now()
	cs, err := p.inner.CreateCheckout(ctx, req)
	metrics.ObserveProviderCall(p.inner.Name(), "create_checkout", time.Since(start), err)
	return cs, err
}

func (p *instrumented) GetSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	return p.observe("get", func() (*model.ExternalSubscription, error) { return p.inner.GetSubscription(ctx, id) })
}

func (p *instrumented) CancelSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	return p.observe("cancel", func() (*model.ExternalSubscription, error) { return p.inner.CancelSubscription(ctx, id) })
}

func (p *instrumented) ResumeSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	return p.observe("resume", func() (*model.ExternalSubscription, error) { return p.inner.ResumeSubscription(ctx, id) })
}

func (p *instrumented) observe(op string, fn func() (*model.ExternalSubscription, error)) (*model.ExternalSubscription, error) {
	start := time.Now()
	sub, err := fn()
	metrics.ObserveProviderCall(p.inner.Name(), op, time.Since(start), err)
	return sub, err
}
