//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"entitlement-sync/internal/domain"
	"entitlement-sync/internal/domain/model"
	"entitlement-sync/internal/domain/ports/adapter"
	"entitlement-sync/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func fixedNow() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentProvider ----

type MockPaymentGateway struct {
	mu    sync.Mutex
	Calls []string // "op:id" in call order

	NameFunc           func() string
	ValidateFunc       func(id string) error
	CreateCheckoutFunc func(ctx context.Context, req model.CheckoutRequest) (*model.CheckoutSession, error)
	GetFunc            func(ctx context.Context, id string) (*model.ExternalSubscription, error)
	CancelFunc         func(ctx context.Context, id string) (*model.ExternalSubscription, error)
	ResumeFunc         func(ctx context.Context, id string) (*model.ExternalSubscription, error)
}

var _ adapter.PaymentProvider = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) record(op, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, op+":"+id)
}

func (m *MockPaymentGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func (m *MockPaymentGateway) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

func (m *MockPaymentGateway) ValidateSubscriptionID(id string) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(id)
	}
	if id == "" {
		return domain.ErrInvalidArgument
	}
	return nil
}

func (m *MockPaymentGateway) CreateCheckout(ctx context.Context, req model.CheckoutRequest) (*model.CheckoutSession, error) {
	m.record("checkout", req.PlanRef)
	if m.CreateCheckoutFunc != nil {
		return m.CreateCheckoutFunc(ctx, req)
	}
	return &model.CheckoutSession{ID: "chk_1", URL: "https://pay.test/chk_1", ExpiresAt: "2026-03-02T12:00:00Z"}, nil
}

func (m *MockPaymentGateway) GetSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	m.record("get", id)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return &model.ExternalSubscription{ID: id, Provider: "mock", Status: "active"}, nil
}

func (m *MockPaymentGateway) CancelSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	m.record("cancel", id)
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, id)
	}
	return &model.ExternalSubscription{ID: id, Provider: "mock", Status: "cancelled", Cancelled: true}, nil
}

func (m *MockPaymentGateway) ResumeSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	m.record("resume", id)
	if m.ResumeFunc != nil {
		return m.ResumeFunc(ctx, id)
	}
	return &model.ExternalSubscription{ID: id, Provider: "mock", Status: "active"}, nil
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrLocked
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

func (l *MockLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// =============================
// Repositories
// =============================

// ---- Mock ProfileRepository ----

type MockProfileRepo struct {
	mu     sync.Mutex
	byID   map[string]*model.Profile
	writes int

	FindByIDFunc          func(ctx context.Context, tx repository.Tx, id string) (*model.Profile, error)
	SaveFunc              func(ctx context.Context, tx repository.Tx, p *model.Profile) error
	CreateIfAbsentFunc    func(ctx context.Context, tx repository.Tx, p *model.Profile) (bool, error)
	ClearSubscriptionFunc func(ctx context.Context, tx repository.Tx, id string, at time.Time) error
}

var _ repository.ProfileRepository = (*MockProfileRepo)(nil)

func NewMockProfileRepo(seed ...*model.Profile) *MockProfileRepo {
	r := &MockProfileRepo{byID: map[string]*model.Profile{}}
	for _, p := range seed {
		cp := *p
		r.byID[p.ID] = &cp
	}
	return r
}

func (r *MockProfileRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Profile, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MockProfileRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.Profile, error) {
	return r.FindByID(ctx, tx, id)
}

func (r *MockProfileRepo) Save(ctx context.Context, tx repository.Tx, p *model.Profile) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.byID[p.ID] = &cp
	r.writes++
	return nil
}

func (r *MockProfileRepo) CreateIfAbsent(ctx context.Context, tx repository.Tx, p *model.Profile) (bool, error) {
	if r.CreateIfAbsentFunc != nil {
		return r.CreateIfAbsentFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; ok {
		return false, nil
	}
	cp := *p
	r.byID[p.ID] = &cp
	r.writes++
	return true, nil
}

func (r *MockProfileRepo) ClearSubscription(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	if r.ClearSubscriptionFunc != nil {
		return r.ClearSubscriptionFunc(ctx, tx, id, at)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Downgrade(at)
	r.writes++
	return nil
}

func (r *MockProfileRepo) ListWithSubscription(ctx context.Context, tx repository.Tx, afterID string, limit int) ([]*model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Profile
	for _, p := range r.byID {
		if p.SubscriptionID != nil && p.ID > afterID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Writes counts rows changed by Save, CreateIfAbsent and ClearSubscription.
func (r *MockProfileRepo) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

// WithTx runs fn immediately with a nil tx unless WithTxFunc overrides it.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, nil)
}
