package payment_test

import (
	"context"
	"encoding/json"
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

func newLemonServer(t *testing.T, h http.HandlerFunc) *payment.LemonSqueezyGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	gw, err := payment.NewLemonSqueezyGateway("ls_test_key", srv.URL, "9")
	require.NoError(t, err)
	return gw
}

func TestLemonSqueezyGateway_CreateCheckout(t *testing.T) {
	ctx := context.Background()
	req := model.CheckoutRequest{
		PlanRef:    "100",
		StoreRef:   "5",
		UserID:     "u1",
		BuyerEmail: "a@b.com",
		SuccessURL: "https://app.test/billing/success",
		FailureURL: "https://app.test/billing/cancelled",
	}

	t.Run("nested envelope is normalized", func(t *testing.T) {
		var sent map[string]any
		gw := newLemonServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/checkouts", r.URL.Path)
			assert.Equal(t, "Bearer ls_test_key", r.Header.Get("Authorization"))
			assert.Equal(t, "application/vnd.api+json", r.Header.Get("Content-Type"))
			b, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(b, &sent))
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"data":{"id":"c1","attributes":{"url":"https://pay/x","expires_at":"T"}}}`)
		})

		cs, err := gw.CreateCheckout(ctx, req)

		require.NoError(t, err)
		assert.Equal(t, &model.CheckoutSession{ID: "c1", URL: "https://pay/x", ExpiresAt: "T"}, cs)

		data := sent["data"].(map[string]any)
		assert.Equal(t, "checkouts", data["type"])
		rel := data["relationships"].(map[string]any)
		assert.Equal(t, "5", rel["store"].(map[string]any)["data"].(map[string]any)["id"])
		assert.Equal(t, "100", rel["variant"].(map[string]any)["data"].(map[string]any)["id"])
		attrs := data["attributes"].(map[string]any)
		assert.Equal(t, "a@b.com", attrs["checkout_data"].(map[string]any)["email"])
		assert.Equal(t, "https://app.test/billing/success", attrs["product_options"].(map[string]any)["redirect_url"])
	})

	t.Run("flat body is normalized to the same shape", func(t *testing.T) {
		gw := newLemonServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"id":"c1","url":"https://pay/x","expires_at":"T"}`)
		})

		cs, err := gw.CreateCheckout(ctx, req)

		require.NoError(t, err)
		assert.Equal(t, &model.CheckoutSession{ID: "c1", URL: "https://pay/x", ExpiresAt: "T"}, cs)
	})

	t.Run("configured store is used when the request has none", func(t *testing.T) {
		var storeID string
		gw := newLemonServer(t, func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Data struct {
					Relationships struct {
						Store struct {
							Data struct {
								ID string `json:"id"`
							} `json:"data"`
						} `json:"store"`
					} `json:"relationships"`
				} `json:"data"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			storeID = body.Data.Relationships.Store.Data.ID
			_, _ = io.WriteString(w, `{"data":{"id":"c2","attributes":{"url":"https://pay/y","expires_at":null}}}`)
		})
		r := req
		r.StoreRef = ""

		cs, err := gw.CreateCheckout(ctx, r)

		require.NoError(t, err)
		assert.Equal(t, "9", storeID)
		assert.Equal(t, "c2", cs.ID)
	})

	t.Run("api errors become provider errors with the detail", func(t *testing.T) {
		gw := newLemonServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"errors":[{"status":"422","title":"Unprocessable","detail":"The variant is not published."}]}`)
		})

		_, err := gw.CreateCheckout(ctx, req)

		require.ErrorIs(t, err, domain.ErrProvider)
		assert.Contains(t, err.Error(), "The variant is not published.")
		var pe *domain.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "The variant is not published.", pe.Message)
	})

	t.Run("non json error bodies are logged but never surfaced", func(t *testing.T) {
		gw := newLemonServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `<html>upstream 10.1.2.3:8080 unreachable</html>`)
		})

		_, err := gw.CreateCheckout(ctx, req)

		require.ErrorIs(t, err, domain.ErrProvider)
		assert.Contains(t, err.Error(), "10.1.2.3")
		var pe *domain.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Empty(t, pe.Message)
	})

	t.Run("response without url is rejected", func(t *testing.T) {
		gw := newLemonServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"data":{"id":"c1","attributes":{}}}`)
		})
		_, err := gw.CreateCheckout(ctx, req)
		require.ErrorIs(t, err, domain.ErrProvider)
	})
}

func TestLemonSqueezyGateway_Subscriptions(t *testing.T) {
	ctx := context.Background()
	const subJSON = `{"data":{"type":"subscriptions","id":"42","attributes":{
		"status":"%s","cancelled":%t,"renews_at":"2026-04-01T00:00:00.000000Z","ends_at":%s,
		"variant_id":100,"user_email":"a@b.com"}}}`

	t.Run("get normalizes the subscription", func(t *testing.T) {
		gw := newLemonServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/v1/subscriptions/42", r.URL.Path)
			_, _ = fmt.Fprintf(w, subJSON, "active", false, "null")
		})

		sub, err := gw.GetSubscription(ctx, "42")

		require.NoError(t, err)
		assert.Equal(t, "42", sub.ID)
		assert.Equal(t, "lemonsqueezy", sub.Provider)
		assert.Equal(t, "active", sub.Status)
		assert.False(t, sub.Cancelled)
		assert.Equal(t, "100", sub.PlanRef)
		assert.Equal(t, "a@b.com", sub.CustomerEmail)
		require.NotNil(t, sub.RenewsAt)
		assert.True(t, sub.RenewsAt.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
		assert.Nil(t, sub.EndsAt)
	})

	t.Run("cancel issues DELETE and reports the grace period", func(t *testing.T) {
		gw := newLemonServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.Equal(t, "/v1/subscriptions/42", r.URL.Path)
			_, _ = fmt.Fprintf(w, subJSON, "cancelled", true, `"2026-04-01T00:00:00.000000Z"`)
		})

		sub, err := gw.CancelSubscription(ctx, "42")

		require.NoError(t, err)
		assert.True(t, sub.Cancelled)
		assert.False(t, sub.Ended)
		require.NotNil(t, sub.EndsAt)
	})

	t.Run("resume patches cancelled=false", func(t *testing.T) {
		gw := newLemonServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPatch, r.Method)
			var body struct {
				Data struct {
					ID         string         `json:"id"`
					Attributes map[string]any `json:"attributes"`
				} `json:"data"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "42", body.Data.ID)
			assert.Equal(t, false, body.Data.Attributes["cancelled"])
			_, _ = fmt.Fprintf(w, subJSON, "active", false, "null")
		})

		sub, err := gw.ResumeSubscription(ctx, "42")

		require.NoError(t, err)
		assert.Equal(t, "active", sub.Status)
	})

	t.Run("expired subscription is ended", func(t *testing.T) {
		gw := newLemonServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprintf(w, subJSON, "expired", true, `"2026-01-01T00:00:00Z"`)
		})
		sub, err := gw.GetSubscription(ctx, "42")
		require.NoError(t, err)
		assert.True(t, sub.Ended)
	})

	t.Run("404 is a provider not-found", func(t *testing.T) {
		gw := newLemonServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errors":[{"status":"404","title":"Not Found"}]}`)
		})

		_, err := gw.GetSubscription(ctx, "42")

		require.ErrorIs(t, err, domain.ErrProvider)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("non numeric ids never reach the network", func(t *testing.T) {
		called := false
		gw := newLemonServer(t, func(w http.ResponseWriter, r *http.Request) { called = true })

		for _, id := range []string{"", "abc", "-1", "0", "4 2", "sub_123"} {
			_, err := gw.CancelSubscription(ctx, id)
			require.ErrorIs(t, err, domain.ErrInvalidArgument, id)
		}
		assert.False(t, called)
	})

	t.Run("cancelled context aborts the call", func(t *testing.T) {
		gw := newLemonServer(t, func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		})
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err := gw.GetSubscription(cctx, "42")

		require.ErrorIs(t, err, domain.ErrProvider)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
