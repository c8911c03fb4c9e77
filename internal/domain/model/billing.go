package model

import "time"

// CheckoutRequest carries everything a provider needs to open a hosted checkout.
type CheckoutRequest struct {
	PlanRef    string // variant id (Lemon Squeezy) or price id (Stripe)
	StoreRef   string // store id; optional when the provider has a default
	UserID     string
	BuyerEmail string
	BuyerName  string
	SuccessURL string
	FailureURL string
}

// CheckoutSession is an ephemeral provider-hosted payment flow. Never persisted.
type CheckoutSession struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"` // provider timestamp, passed through verbatim
}

// ExternalSubscription is the provider's subscription record normalized by an adapter.
// It is always fetched live.
type ExternalSubscription struct {
	ID            string
	Provider      string
	Status        string // provider vocabulary, e.g. active, cancelled, expired
	Cancelled     bool   // cancellation requested or effective
	Ended         bool   // provider no longer grants the entitlement
	RenewsAt      *time.Time
	EndsAt        *time.Time
	PlanRef       string
	CustomerEmail string
}

// Terminal reports whether the entitlement behind the subscription is over at now.
// A cancelled subscription stays entitled until its period ends.
func (s *ExternalSubscription) Terminal(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Ended {
		return true
	}
	return s.Cancelled && s.EndsAt != nil && !s.EndsAt.After(now)
}
