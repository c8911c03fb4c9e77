// File: internal/infra/adapters/payment/lemonsqueezy_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"entitlement-sync/internal/domain"
	"entitlement-sync/internal/domain/model"
	"entitlement-sync/internal/domain/ports/adapter"
)

var _ adapter.PaymentProvider = (*LemonSqueezyGateway)(nil)

const jsonAPI = "application/vnd.api+json"

// LemonSqueezyGateway implements adapter.PaymentProvider against the Lemon Squeezy
// JSON:API (https://docs.lemonsqueezy.com/api). Subscription ids are numeric.
type LemonSqueezyGateway struct {
	apiKey  string
	baseURL string
	storeID string // used when a checkout request carries no store ref
	client  *http.Client
}

func NewLemonSqueezyGateway(apiKey, baseURL, storeID string) (*LemonSqueezyGateway, error) {
	if apiKey == "" {
		return nil, errors.New("lemonsqueezy api key empty")
	}
	if baseURL == "" {
		baseURL = "https://api.lemonsqueezy.com"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid lemonsqueezy base url: %w", err)
	}
	return &LemonSqueezyGateway{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		storeID: storeID,
		client:  &http.Client{Timeout: 20 * time.Second},
	}, nil
}

func (g *LemonSqueezyGateway) Name() string { return "lemonsqueezy" }

func (g *LemonSqueezyGateway) ValidateSubscriptionID(id string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("%w: subscription id %q is not a positive integer", domain.ErrInvalidArgument, id)
	}
	return nil
}

// CreateCheckout calls POST /v1/checkouts. Lemon Squeezy has no separate
// failure redirect, so req.FailureURL is not sent.
func (g *LemonSqueezyGateway) CreateCheckout(ctx context.Context, req model.CheckoutRequest) (*model.CheckoutSession, error) {
	store := req.StoreRef
	if store == "" {
		store = g.storeID
	}
	if req.PlanRef == "" || store == "" {
		return nil, fmt.Errorf("%w: variant and store are required", domain.ErrInvalidArgument)
	}

	checkoutData := map[string]any{
		"custom": map[string]string{"user_id": req.UserID},
	}
	if req.BuyerEmail != "" {
		checkoutData["email"] = req.BuyerEmail
	}
	if req.BuyerName != "" {
		checkoutData["name"] = req.BuyerName
	}
	payload := map[string]any{
		"data": map[string]any{
			"type": "checkouts",
			"attributes": map[string]any{
				"checkout_data":   checkoutData,
				"product_options": map[string]any{"redirect_url": req.SuccessURL},
			},
			"relationships": map[string]any{
				"store":   relationship("stores", store),
				"variant": relationship("variants", req.PlanRef),
			},
		},
	}

	body, err := g.do(ctx, http.MethodPost, "/v1/checkouts", payload)
	if err != nil {
		return nil, err
	}
	return decodeCheckout(body)
}

func (g *LemonSqueezyGateway) GetSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	if err := g.ValidateSubscriptionID(id); err != nil {
		return nil, err
	}
	body, err := g.do(ctx, http.MethodGet, "/v1/subscriptions/"+id, nil)
	if err != nil {
		return nil, err
	}
	return g.decodeSubscription(body)
}

// CancelSubscription calls DELETE /v1/subscriptions/{id}; the subscription stays
// active until ends_at.
func (g *LemonSqueezyGateway) CancelSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	if err := g.ValidateSubscriptionID(id); err != nil {
		return nil, err
	}
	body, err := g.do(ctx, http.MethodDelete, "/v1/subscriptions/"+id, nil)
	if err != nil {
		return nil, err
	}
	return g.decodeSubscription(body)
}

// ResumeSubscription un-cancels a subscription in its grace period.
func (g *LemonSqueezyGateway) ResumeSubscription(ctx context.Context, id string) (*model.ExternalSubscription, error) {
	if err := g.ValidateSubscriptionID(id); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"data": map[string]any{
			"type":       "subscriptions",
			"id":         id,
			"attributes": map[string]any{"cancelled": false},
		},
	}
	body, err := g.do(ctx, http.MethodPatch, "/v1/subscriptions/"+id, payload)
	if err != nil {
		return nil, err
	}
	return g.decodeSubscription(body)
}

func relationship(typ, id string) map[string]any {
	return map[string]any{"data": map[string]string{"type": typ, "id": id}}
}

// do sends one JSON:API request and returns the raw body of a 2xx response.
// Non-2xx responses become ErrProvider, with ErrNotFound for 404.
func (g *LemonSqueezyGateway) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var rdr io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrProvider, err)
	}
	req.Header.Set("Accept", jsonAPI)
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", jsonAPI)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: lemonsqueezy %s %s: %w", domain.ErrProvider, method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrProvider, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w: lemonsqueezy %s", domain.ErrProvider, domain.ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &domain.ProviderError{
			Message: apiErrorMessage(body),
			Err:     fmt.Errorf("%w: lemonsqueezy http %d: %s", domain.ErrProvider, resp.StatusCode, errorDetail(body)),
		}
	}
	return body, nil
}

// apiErrorMessage returns the first JSON:API error detail or title, or "".
func apiErrorMessage(body []byte) string {
	var out struct {
		Errors []struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &out) != nil || len(out.Errors) == 0 {
		return ""
	}
	if out.Errors[0].Detail != "" {
		return out.Errors[0].Detail
	}
	return out.Errors[0].Title
}

// errorDetail is apiErrorMessage with a truncated raw body as fallback. Log use only.
func errorDetail(body []byte) string {
	if msg := apiErrorMessage(body); msg != "" {
		return msg
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return strings.TrimSpace(string(body))
}

// flexID decodes JSON:API ids that arrive as either strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type lsCheckoutAttrs struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

// decodeCheckout accepts both the JSON:API envelope
// {data:{id, attributes:{url, expires_at}}} and a flat {id, url, expires_at}.
func decodeCheckout(body []byte) (*model.CheckoutSession, error) {
	var env struct {
		Data *struct {
			ID         flexID          `json:"id"`
			Attributes lsCheckoutAttrs `json:"attributes"`
		} `json:"data"`
		ID flexID `json:"id"`
		lsCheckoutAttrs
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode checkout: %w", domain.ErrProvider, err)
	}

	var cs model.CheckoutSession
	if env.Data != nil {
		cs = model.CheckoutSession{ID: string(env.Data.ID), URL: env.Data.Attributes.URL, ExpiresAt: env.Data.Attributes.ExpiresAt}
	} else {
		cs = model.CheckoutSession{ID: string(env.ID), URL: env.URL, ExpiresAt: env.ExpiresAt}
	}
	if cs.URL == "" {
		return nil, fmt.Errorf("%w: checkout response has no url", domain.ErrProvider)
	}
	return &cs, nil
}

type lsSubscriptionAttrs struct {
	Status    string     `json:"status"`
	Cancelled bool       `json:"cancelled"`
	RenewsAt  *time.Time `json:"renews_at"`
	EndsAt    *time.Time `json:"ends_at"`
	VariantID flexID     `json:"variant_id"`
	UserEmail string     `json:"user_email"`
}

func (g *LemonSqueezyGateway) decodeSubscription(body []byte) (*model.ExternalSubscription, error) {
	var env struct {
		Data *struct {
			ID         flexID              `json:"id"`
			Attributes lsSubscriptionAttrs `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode subscription: %w", domain.ErrProvider, err)
	}
	if env.Data == nil || env.Data.ID == "" {
		return nil, fmt.Errorf("%w: subscription response has no data", domain.ErrProvider)
	}
	a := env.Data.Attributes
	return &model.ExternalSubscription{
		ID:            string(env.Data.ID),
		Provider:      g.Name(),
		Status:        a.Status,
		Cancelled:     a.Cancelled || a.Status == "cancelled",
		Ended:         a.Status == "expired",
		RenewsAt:      a.RenewsAt,
		EndsAt:        a.EndsAt,
		PlanRef:       string(a.VariantID),
		CustomerEmail: a.UserEmail,
	}, nil
}
