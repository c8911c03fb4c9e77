package payment_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitlement-sync/internal/domain"
	"entitlement-sync/internal/domain/model"
	"entitlement-sync/internal/infra/adapters/payment"
)

func newStripeServer(t *testing.T, h http.HandlerFunc) *payment.StripeGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	gw, err := payment.NewStripeGateway("sk_test_123", payment.NewStripeBackend(srv.URL))
	require.NoError(t, err)
	return gw
}

const stripeSub = `{
  "id": "sub_123", "object": "subscription", "status": "%s",
  "cancel_at_period_end": %t, "canceled_at": %d, "ended_at": %d,
  "current_period_end": 1775001600,
  "customer": {"id": "cus_1", "object": "customer", "email": "a@b.com"},
  "items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item", "price": {"id": "price_pro", "object": "price"}}]}
}`

func TestStripeGateway_CreateCheckout(t *testing.T) {
	var form map[string]string
	var idem string
	gw := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		idem = r.Header.Get("Idempotency-Key")
		_, _ = io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1","expires_at":1775001600}`)
	})

	cs, err := gw.CreateCheckout(context.Background(), model.CheckoutRequest{
		PlanRef:    "price_pro",
		UserID:     "u1",
		BuyerEmail: "a@b.com",
		SuccessURL: "https://app.test/billing/success",
		FailureURL: "https://app.test/billing/cancelled",
	})

	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", cs.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", cs.URL)
	assert.Equal(t, time.Unix(1775001600, 0).UTC().Format(time.RFC3339), cs.ExpiresAt)
	assert.Equal(t, "subscription", form["mode"])
	assert.Equal(t, "price_pro", form["line_items[0][price]"])
	assert.Equal(t, "a@b.com", form["customer_email"])
	assert.Equal(t, "u1", form["client_reference_id"])
	assert.Equal(t, "https://app.test/billing/cancelled", form["cancel_url"])
	assert.NotEmpty(t, idem)
}

func TestStripeGateway_Subscriptions(t *testing.T) {
	ctx := context.Background()

	t.Run("get normalizes an active subscription", func(t *testing.T) {
		gw := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/v1/subscriptions/sub_123", r.URL.Path)
			_, _ = io.WriteString(w, sprintfStripe("active", false, 0, 0))
		})

		sub, err := gw.GetSubscription(ctx, "sub_123")

		require.NoError(t, err)
		assert.Equal(t, "sub_123", sub.ID)
		assert.Equal(t, "stripe", sub.Provider)
		assert.Equal(t, "active", sub.Status)
		assert.Equal(t, "price_pro", sub.PlanRef)
		assert.Equal(t, "a@b.com", sub.CustomerEmail)
		require.NotNil(t, sub.RenewsAt)
		assert.Nil(t, sub.EndsAt)
		assert.False(t, sub.Terminal(time.Now()))
	})

	t.Run("cancel keeps the paid period", func(t *testing.T) {
		var form map[string]string
		var idem string
		gw := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/subscriptions/sub_123", r.URL.Path)
			require.NoError(t, r.ParseForm())
			form = map[string]string{"cancel_at_period_end": r.PostForm.Get("cancel_at_period_end")}
			idem = r.Header.Get("Idempotency-Key")
			_, _ = io.WriteString(w, sprintfStripe("active", true, 1772323200, 0))
		})

		sub, err := gw.CancelSubscription(ctx, "sub_123")

		require.NoError(t, err)
		assert.Equal(t, "true", form["cancel_at_period_end"])
		assert.NotEmpty(t, idem)
		assert.Equal(t, "active", sub.Status)
		assert.True(t, sub.Cancelled)
		assert.False(t, sub.Ended)
		require.NotNil(t, sub.EndsAt)
		assert.Equal(t, time.Unix(1775001600, 0).UTC(), *sub.EndsAt)
		assert.Nil(t, sub.RenewsAt)
		assert.False(t, sub.Terminal(time.Unix(1772323200, 0)))
	})

	t.Run("resume clears cancel at period end", func(t *testing.T) {
		var got string
		gw := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/subscriptions/sub_123", r.URL.Path)
			require.NoError(t, r.ParseForm())
			got = r.PostForm.Get("cancel_at_period_end")
			_, _ = io.WriteString(w, sprintfStripe("active", false, 0, 0))
		})

		sub, err := gw.ResumeSubscription(ctx, "sub_123")

		require.NoError(t, err)
		assert.Equal(t, "false", got)
		assert.False(t, sub.Cancelled)
		require.NotNil(t, sub.RenewsAt)
		assert.Nil(t, sub.EndsAt)
	})

	t.Run("resume of an ended subscription is a provider error with the stripe message", func(t *testing.T) {
		gw := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"A canceled subscription can only update its cancellation_details."}}`)
		})

		_, err := gw.ResumeSubscription(ctx, "sub_123")

		require.ErrorIs(t, err, domain.ErrProvider)
		var pe *domain.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "A canceled subscription can only update its cancellation_details.", pe.Message)
	})

	t.Run("malformed ids never reach stripe on cancel or resume", func(t *testing.T) {
		called := false
		gw := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) { called = true })

		_, err := gw.CancelSubscription(ctx, "cus_1")
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
		_, err = gw.ResumeSubscription(ctx, "42")
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
		assert.False(t, called)
	})

	t.Run("missing subscription maps to not found", func(t *testing.T) {
		gw := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such subscription: 'sub_123'"}}`)
		})

		_, err := gw.GetSubscription(ctx, "sub_123")

		require.ErrorIs(t, err, domain.ErrProvider)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ids without the sub_ prefix are rejected locally", func(t *testing.T) {
		called := false
		gw := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) { called = true })

		for _, id := range []string{"", "42", "sub_", "cus_123"} {
			_, err := gw.GetSubscription(ctx, id)
			require.ErrorIs(t, err, domain.ErrInvalidArgument, id)
		}
		assert.False(t, called)
	})
}

func sprintfStripe(status string, cancelAtPeriodEnd bool, canceledAt, endedAt int64) string {
	return fmt.Sprintf(stripeSub, status, cancelAtPeriodEnd, canceledAt, endedAt)
}
