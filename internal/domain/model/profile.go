package model

import (
	"time"

	"entitlement-sync/internal/domain"
)

// Plan is the entitlement tier mirrored on a profile.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// IsPaid reports whether the plan grants a paid entitlement.
func (p Plan) IsPaid() bool { return p != "" && p != PlanFree }

// Profile is the local account record that mirrors the provider's subscription.
// SubscriptionID is set only while Plan is a provider-backed paid tier.
type Profile struct {
	ID             string // identity provider user id
	Plan           Plan
	SubscriptionID *string // provider-scoped, stored as text
	UpdatedAt      time.Time
}

// NewProfile builds the initial free profile for an identity.
func NewProfile(id string) (*Profile, error) {
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Profile{ID: id, Plan: PlanFree, UpdatedAt: time.Now()}, nil
}

// Owns reports whether the profile references exactly subscriptionID.
func (p *Profile) Owns(subscriptionID string) bool {
	if p == nil || p.SubscriptionID == nil || subscriptionID == "" {
		return false
	}
	return *p.SubscriptionID == subscriptionID
}

// Downgrade drops the paid entitlement and the subscription reference.
func (p *Profile) Downgrade(at time.Time) {
	p.Plan = PlanFree
	p.SubscriptionID = nil
	p.UpdatedAt = at
}
