package apiv1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"entitlement-sync/internal/domain"
	"entitlement-sync/internal/domain/model"
	"entitlement-sync/internal/domain/ports/adapter"
	"entitlement-sync/internal/infra/logging"
	"entitlement-sync/internal/infra/metrics"
	redisinfra "entitlement-sync/internal/infra/redis"
	"entitlement-sync/internal/usecase"
)

const maxBodyBytes = 1 << 16

// RateLimiter caps checkout creation per identity.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Options struct {
	CookieName        string
	CheckoutPerMinute int         // 0 disables the limit
	Limiter           RateLimiter // nil disables the limit
	Dev               bool        // log session emails unredacted
}

type Server struct {
	uc       usecase.SubscriptionUseCase
	sessions adapter.SessionResolver
	opts     Options
	log      *zerolog.Logger
}

var _ ServerInterface = (*Server)(nil)

func NewServer(uc usecase.SubscriptionUseCase, sessions adapter.SessionResolver, opts Options, logger *zerolog.Logger) *Server {
	if opts.CookieName == "" {
		opts.CookieName = "access_token"
	}
	return &Server{uc: uc, sessions: sessions, opts: opts, log: logging.Component(logger, "APIV1")}
}

// ---- request / response bodies ----

// ref accepts a JSON string or number; provider ids show up as both.
type ref string

func (r *ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = ref(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*r = ref(n.String())
	return nil
}

type CheckoutRequest struct {
	PlanOrVariantRef ref    `json:"planOrVariantRef"`
	StoreRef         ref    `json:"storeRef,omitempty"`
	BuyerEmail       string `json:"buyerEmail,omitempty"`
	BuyerName        string `json:"buyerName,omitempty"`
}

type CheckoutResponse struct {
	Success  bool                   `json:"success"`
	Checkout *model.CheckoutSession `json:"checkout"`
}

type Subscription struct {
	ID            string     `json:"id"`
	Provider      string     `json:"provider"`
	Status        string     `json:"status"`
	Cancelled     bool       `json:"cancelled"`
	RenewsAt      *time.Time `json:"renews_at"`
	EndsAt        *time.Time `json:"ends_at"`
	PlanRef       string     `json:"plan_ref,omitempty"`
	CustomerEmail string     `json:"customer_email,omitempty"`
}

type SubscriptionResponse struct {
	Success      bool          `json:"success"`
	Subscription *Subscription `json:"subscription"`
}

type Profile struct {
	ID             string    `json:"id"`
	Plan           string    `json:"plan"`
	SubscriptionID *string   `json:"subscription_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ProfileResponse struct {
	Success bool     `json:"success"`
	Profile *Profile `json:"profile"`
}

func toSubscription(s *model.ExternalSubscription) *Subscription {
	return &Subscription{
		ID:            s.ID,
		Provider:      s.Provider,
		Status:        s.Status,
		Cancelled:     s.Cancelled,
		RenewsAt:      s.RenewsAt,
		EndsAt:        s.EndsAt,
		PlanRef:       s.PlanRef,
		CustomerEmail: s.CustomerEmail,
	}
}

// ---- handlers ----

func (s *Server) GetProfile(w http.ResponseWriter, r *http.Request) {
	who, r, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	p, err := s.uc.EnsureProfile(r.Context(), who)
	if err != nil {
		s.fail(w, r, "profile", err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Success: true, Profile: &Profile{
		ID:             p.ID,
		Plan:           string(p.Plan),
		SubscriptionID: p.SubscriptionID,
		UpdatedAt:      p.UpdatedAt,
	}})
}

func (s *Server) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	who, r, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var body CheckoutRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		msg := err.Error()
		if errors.Is(err, io.EOF) {
			msg = "empty body"
		}
		s.fail(w, r, "checkout", fmt.Errorf("%w: %s", domain.ErrInvalidArgument, msg))
		return
	}
	if strings.TrimSpace(string(body.PlanOrVariantRef)) == "" {
		s.fail(w, r, "checkout", fmt.Errorf("%w: planOrVariantRef is required", domain.ErrInvalidArgument))
		return
	}

	if !s.allowCheckout(r.Context(), who.UserID) {
		metrics.IncRateLimited("/checkout")
		s.fail(w, r, "checkout", errRateLimited)
		return
	}

	cs, err := s.uc.CreateCheckout(r.Context(), who, usecase.CheckoutInput{
		PlanRef:    string(body.PlanOrVariantRef),
		StoreRef:   string(body.StoreRef),
		BuyerEmail: strings.TrimSpace(body.BuyerEmail),
		BuyerName:  strings.TrimSpace(body.BuyerName),
	})
	if err != nil {
		s.fail(w, r, "checkout", err)
		return
	}
	metrics.IncLifecycle("checkout", "ok")
	writeJSON(w, http.StatusOK, CheckoutResponse{Success: true, Checkout: cs})
}

func (s *Server) GetSubscription(w http.ResponseWriter, r *http.Request, id string) {
	s.subscriptionOp(w, r, "get", id, s.uc.FetchSubscription)
}

func (s *Server) CancelSubscription(w http.ResponseWriter, r *http.Request, id string) {
	s.subscriptionOp(w, r, "cancel", id, s.uc.CancelSubscription)
}

func (s *Server) ResumeSubscription(w http.ResponseWriter, r *http.Request, id string) {
	s.subscriptionOp(w, r, "resume", id, s.uc.ResumeSubscription)
}

type subscriptionFunc func(ctx context.Context, who model.Identity, subscriptionID string) (*model.ExternalSubscription, error)

func (s *Server) subscriptionOp(w http.ResponseWriter, r *http.Request, op, id string, fn subscriptionFunc) {
	who, r, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	sub, err := fn(r.Context(), who, strings.TrimSpace(id))
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	metrics.IncLifecycle(op, "ok")
	writeJSON(w, http.StatusOK, SubscriptionResponse{Success: true, Subscription: toSubscription(sub)})
}

// ---- helpers ----

// authenticate resolves the session and tags the request context with the user id.
// On failure the 401 has already been written.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (model.Identity, *http.Request, bool) {
	token := bearerToken(r, s.opts.CookieName)
	if token == "" {
		writeError(w, r, domain.ErrUnauthenticated)
		return model.Identity{}, r, false
	}
	who, err := s.sessions.Resolve(r.Context(), token)
	if err != nil || who.IsZero() {
		l := logging.With(r.Context(), s.log)
		l.Debug().Err(err).Msg("session rejected")
		writeError(w, r, domain.ErrUnauthenticated)
		return model.Identity{}, r, false
	}
	ctx := logging.WithUserID(r.Context(), who.UserID)
	l := logging.With(ctx, s.log)
	l.Debug().Str("email", logging.Redact(who.Email, s.opts.Dev)).Msg("session resolved")
	return who, r.WithContext(ctx), true
}

func bearerToken(r *http.Request, cookieName string) string {
	if hdr := r.Header.Get("Authorization"); len(hdr) > 7 && strings.EqualFold(hdr[:7], "bearer ") {
		return strings.TrimSpace(hdr[7:])
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// allowCheckout fails open when the limiter itself errors.
func (s *Server) allowCheckout(ctx context.Context, userID string) bool {
	if s.opts.Limiter == nil || s.opts.CheckoutPerMinute <= 0 {
		return true
	}
	ok, err := s.opts.Limiter.Allow(ctx, redisinfra.CheckoutKey(userID), s.opts.CheckoutPerMinute, time.Minute)
	if err != nil {
		l := logging.With(ctx, s.log)
		l.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	return ok
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code, _ := statusFor(err)
	metrics.IncLifecycle(op, outcome(code))
	if code >= http.StatusInternalServerError && code != http.StatusNotImplemented {
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Str("op", op).Int("status", code).Msg("request failed")
	}
	writeError(w, r, err)
}

func outcome(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusBadRequest:
		return "invalid"
	case http.StatusNotFound:
		return "denied"
	case http.StatusNotImplemented:
		return "unsupported"
	case http.StatusConflict:
		return "locked"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "error"
	}
}
