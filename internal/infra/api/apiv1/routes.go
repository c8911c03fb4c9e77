package apiv1

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"entitlement-sync/internal/domain"
)

// ServerInterface is the v1 HTTP surface.
type ServerInterface interface {
	// (GET /profile)
	GetProfile(w http.ResponseWriter, r *http.Request)
	// (POST /checkout)
	CreateCheckout(w http.ResponseWriter, r *http.Request)
	// (GET /subscription/{id})
	GetSubscription(w http.ResponseWriter, r *http.Request, id string)
	// (POST /subscription/{id}/cancel)
	CancelSubscription(w http.ResponseWriter, r *http.Request, id string)
	// (POST /subscription/{id}/resume)
	ResumeSubscription(w http.ResponseWriter, r *http.Request, id string)
}

// RegisterAPIV1 mounts si on r, binding path parameters before dispatch.
func RegisterAPIV1(r chi.Router, si ServerInterface) {
	r.Get("/profile", si.GetProfile)
	r.Post("/checkout", si.CreateCheckout)
	r.Get("/subscription/{id}", withID(si.GetSubscription))
	r.Post("/subscription/{id}/cancel", withID(si.CancelSubscription))
	r.Post("/subscription/{id}/resume", withID(si.ResumeSubscription))
}

func withID(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id string
		err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid format for parameter id: %v", domain.ErrInvalidArgument, err))
			return
		}
		h(w, r, id)
	}
}
