// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"entitlement-sync/internal/domain"
	"entitlement-sync/internal/domain/model"
	"entitlement-sync/internal/domain/ports/adapter"
	"entitlement-sync/internal/domain/ports/repository"
	ucport "entitlement-sync/internal/domain/ports/usecase"
)

// Compile-time checks
var (
	_ SubscriptionUseCase            = (*subscriptionUC)(nil)
	_ ucport.SubscriptionReconciler = (*subscriptionUC)(nil)
)

const (
	defaultProviderTimeout = 15 * time.Second
	defaultLockTTL         = 30 * time.Second
	// localWriteTimeout bounds the profile write that follows a provider cancel;
	// a shorter LockTTL wins so the write never outlives the lock.
	localWriteTimeout = 5 * time.Second

	successPath   = "/billing/success"
	cancelledPath = "/billing/cancelled"
)

// SubscriptionUseCase drives the subscription lifecycle against the configured
// payment provider and keeps the local profile in line with it.
// Every operation takes the already resolved caller identity.
type SubscriptionUseCase interface {
	CreateCheckout(ctx context.Context, who model.Identity, in CheckoutInput) (*model.CheckoutSession, error)
	FetchSubscription(ctx context.Context, who model.Identity, subscriptionID string) (*model.ExternalSubscription, error)
	// CancelSubscription downgrades the local profile once the provider confirms.
	// A failed local write is logged, not returned.
	CancelSubscription(ctx context.Context, who model.Identity, subscriptionID string) (*model.ExternalSubscription, error)
	// ResumeSubscription never writes the profile store.
	ResumeSubscription(ctx context.Context, who model.Identity, subscriptionID string) (*model.ExternalSubscription, error)
	// EnsureProfile returns the caller's profile, creating the free row on first use.
	EnsureProfile(ctx context.Context, who model.Identity) (*model.Profile, error)
	Reconcile(ctx context.Context, p *model.Profile) (bool, error)
}

// CheckoutInput is what the buyer chose. Empty buyer fields fall back to session claims.
type CheckoutInput struct {
	PlanRef    string
	StoreRef   string
	BuyerEmail string
	BuyerName  string
}

type SubscriptionOptions struct {
	CallbackBaseURL string
	ProviderTimeout time.Duration
	LockTTL         time.Duration
	Now             func() time.Time
}

type subscriptionUC struct {
	profiles repository.ProfileRepository
	txm      repository.TransactionManager
	provider adapter.PaymentProvider
	guard    *OwnershipGuard
	locker   adapter.Locker // nil disables per-subscription locking
	opts     SubscriptionOptions
	log      *zerolog.Logger
}

func NewSubscriptionUseCase(
	profiles repository.ProfileRepository,
	txm repository.TransactionManager,
	provider adapter.PaymentProvider,
	guard *OwnershipGuard,
	locker adapter.Locker,
	opts SubscriptionOptions,
	logger *zerolog.Logger,
) *subscriptionUC {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.CallbackBaseURL = strings.TrimRight(opts.CallbackBaseURL, "/")
	l := logger.With().Str("component", "SubscriptionUseCase").Str("provider", provider.Name()).Logger()
	return &subscriptionUC{
		profiles: profiles,
		txm:      txm,
		provider: provider,
		guard:    guard,
		locker:   locker,
		opts:     opts,
		log:      &l,
	}
}

func (uc *subscriptionUC) CreateCheckout(ctx context.Context, who model.Identity, in CheckoutInput) (*model.CheckoutSession, error) {
	if who.IsZero() {
		return nil, domain.ErrUnauthenticated
	}
	if strings.TrimSpace(in.PlanRef) == "" {
		return nil, fmt.Errorf("%w: plan or variant reference is required", domain.ErrInvalidArgument)
	}

	req := model.CheckoutRequest{
		PlanRef:    strings.TrimSpace(in.PlanRef),
		StoreRef:   strings.TrimSpace(in.StoreRef),
		UserID:     who.UserID,
		BuyerEmail: firstNonEmpty(in.BuyerEmail, who.Email),
		BuyerName:  firstNonEmpty(in.BuyerName, who.Name),
		SuccessURL: uc.opts.CallbackBaseURL + successPath,
		FailureURL: uc.opts.CallbackBaseURL + cancelledPath,
	}
	cs, err := withProviderTimeout(ctx, uc.opts.ProviderTimeout, "create checkout", func(ctx context.Context) (*model.CheckoutSession, error) {
		return uc.provider.CreateCheckout(ctx, req)
	})
	if err != nil {
		uc.log.Error().Err(err).Str("user_id", who.UserID).Str("plan_ref", req.PlanRef).Msg("create checkout failed")
		return nil, err
	}
	uc.log.Info().Str("user_id", who.UserID).Str("checkout_id", cs.ID).Msg("checkout created")
	return cs, nil
}

func (uc *subscriptionUC) FetchSubscription(ctx context.Context, who model.Identity, subscriptionID string) (*model.ExternalSubscription, error) {
	if err := uc.authorize(ctx, who, subscriptionID); err != nil {
		return nil, err
	}
	return withProviderTimeout(ctx, uc.opts.ProviderTimeout, "get subscription", func(ctx context.Context) (*model.ExternalSubscription, error) {
		return uc.provider.GetSubscription(ctx, subscriptionID)
	})
}

func (uc *subscriptionUC) CancelSubscription(ctx context.Context, who model.Identity, subscriptionID string) (*model.ExternalSubscription, error) {
	if err := uc.authorize(ctx, who, subscriptionID); err != nil {
		return nil, err
	}
	unlock, err := uc.acquire(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sub, err := withProviderTimeout(ctx, uc.opts.ProviderTimeout, "cancel subscription", func(ctx context.Context) (*model.ExternalSubscription, error) {
		return uc.provider.CancelSubscription(ctx, subscriptionID)
	})
	if err != nil {
		uc.log.Error().Err(err).Str("user_id", who.UserID).Str("subscription_id", subscriptionID).Msg("provider cancel failed")
		return nil, err
	}
	uc.log.Info().
		Str("user_id", who.UserID).
		Str("subscription_id", subscriptionID).
		Str("status", sub.Status).
		Msg("subscription cancelled at provider")

	// The provider already cancelled; the caller gets success whatever happens here.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), min(localWriteTimeout, uc.opts.LockTTL))
	defer cancel()
	if err := uc.profiles.ClearSubscription(wctx, nil, who.UserID, uc.opts.Now()); err != nil {
		uc.log.Error().Err(err).
			Str("user_id", who.UserID).
			Str("subscription_id", subscriptionID).
			Msg("local downgrade failed after provider cancel; profile left stale")
	}
	return sub, nil
}

func (uc *subscriptionUC) ResumeSubscription(ctx context.Context, who model.Identity, subscriptionID string) (*model.ExternalSubscription, error) {
	if err := uc.authorize(ctx, who, subscriptionID); err != nil {
		return nil, err
	}
	unlock, err := uc.acquire(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sub, err := withProviderTimeout(ctx, uc.opts.ProviderTimeout, "resume subscription", func(ctx context.Context) (*model.ExternalSubscription, error) {
		return uc.provider.ResumeSubscription(ctx, subscriptionID)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrUnsupported) {
			uc.log.Error().Err(err).Str("user_id", who.UserID).Str("subscription_id", subscriptionID).Msg("provider resume failed")
		}
		return nil, err
	}
	uc.log.Info().Str("user_id", who.UserID).Str("subscription_id", subscriptionID).Str("status", sub.Status).Msg("subscription resumed")
	return sub, nil
}

func (uc *subscriptionUC) EnsureProfile(ctx context.Context, who model.Identity) (*model.Profile, error) {
	if who.IsZero() {
		return nil, domain.ErrUnauthenticated
	}
	p, err := uc.profiles.FindByID(ctx, nil, who.UserID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	p, err = model.NewProfile(who.UserID)
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = uc.opts.Now()
	created, err := uc.profiles.CreateIfAbsent(ctx, nil, p)
	if err != nil {
		return nil, err
	}
	if !created {
		// another writer created the row after our read; keep theirs
		return uc.profiles.FindByID(ctx, nil, who.UserID)
	}
	uc.log.Info().Str("user_id", who.UserID).Msg("free profile created")
	return p, nil
}

// Reconcile downgrades p when the provider reports its subscription as over
// (or no longer knows it). The profile is re-read under a row lock so a
// concurrent checkout that replaced the subscription is left alone.
func (uc *subscriptionUC) Reconcile(ctx context.Context, p *model.Profile) (bool, error) {
	if p == nil || p.SubscriptionID == nil {
		return false, nil
	}
	subID := *p.SubscriptionID
	if err := uc.provider.ValidateSubscriptionID(subID); err != nil {
		return false, fmt.Errorf("profile %s: %w", p.ID, err)
	}

	sub, err := withProviderTimeout(ctx, uc.opts.ProviderTimeout, "get subscription", func(ctx context.Context) (*model.ExternalSubscription, error) {
		return uc.provider.GetSubscription(ctx, subID)
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		uc.log.Warn().Str("user_id", p.ID).Str("subscription_id", subID).Msg("subscription unknown to provider")
	case err != nil:
		return false, err
	case !sub.Terminal(uc.opts.Now()):
		return false, nil
	}

	unlock, err := uc.acquire(ctx, subID)
	if err != nil {
		return false, err
	}
	defer unlock()

	downgraded := false
	err = uc.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		cur, err := uc.profiles.FindByIDForUpdate(ctx, tx, p.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !cur.Owns(subID) {
			return nil
		}
		cur.Downgrade(uc.opts.Now())
		if err := uc.profiles.Save(ctx, tx, cur); err != nil {
			return err
		}
		downgraded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if downgraded {
		uc.log.Info().Str("user_id", p.ID).Str("subscription_id", subID).Msg("profile downgraded by reconciliation")
	}
	return downgraded, nil
}

// authorize runs the checks shared by every operation on an existing subscription.
func (uc *subscriptionUC) authorize(ctx context.Context, who model.Identity, subscriptionID string) error {
	if who.IsZero() {
		return domain.ErrUnauthenticated
	}
	if err := uc.provider.ValidateSubscriptionID(subscriptionID); err != nil {
		return err
	}
	_, err := uc.guard.Verify(ctx, who, subscriptionID)
	return err
}

func (uc *subscriptionUC) acquire(ctx context.Context, subscriptionID string) (func(), error) {
	if uc.locker == nil {
		return func() {}, nil
	}
	key := "lock:subscription:" + subscriptionID
	token, err := uc.locker.TryLock(ctx, key, uc.opts.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLocked) {
			return nil, err
		}
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	return func() {
		if err := uc.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			uc.log.Warn().Err(err).Str("key", key).Msg("unlock failed; lock will expire")
		}
	}, nil
}

// withProviderTimeout bounds one provider call and classifies its failure.
// Timeouts are reported as provider errors, never as success.
func withProviderTimeout[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (*T, error)) (*T, error) {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	out, err := fn(cctx)
	switch {
	case err == nil && out == nil:
		return nil, fmt.Errorf("%w: %s: empty response", domain.ErrProvider, op)
	case err == nil:
		return out, nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(cctx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %w: %s after %s", domain.ErrProvider, domain.ErrProviderTimeout, op, d)
	case errors.Is(err, domain.ErrProvider), errors.Is(err, domain.ErrUnsupported), errors.Is(err, domain.ErrInvalidArgument):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrProvider, op, err)
	}
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
