package apiv1

import (
	"encoding/json"
	"errors"
	"net/http"

	"entitlement-sync/internal/domain"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

var errRateLimited = errors.New("too many checkout requests")

// statusFor maps a domain error to its HTTP status and public message.
// Ownership failures and unknown subscriptions share one 404 so callers
// cannot tell which ids exist.
func statusFor(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, ErrorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"}
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: err.Error()}
	case errors.Is(err, domain.ErrOwnershipMismatch):
		return http.StatusNotFound, ErrorResponse{Error: domain.ErrOwnershipMismatch.Error()}
	case errors.Is(err, domain.ErrUnsupported):
		return http.StatusNotImplemented, ErrorResponse{Error: domain.ErrUnsupported.Error()}
	case errors.Is(err, domain.ErrLocked):
		return http.StatusConflict, ErrorResponse{Error: domain.ErrLocked.Error()}
	case errors.Is(err, domain.ErrProvider):
		return http.StatusInternalServerError, ErrorResponse{Error: "payment provider error", Details: providerDetail(err)}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}

// providerDetail exposes only what the provider chose to tell the caller.
// Transport errors and request paths stay in the logs.
func providerDetail(err error) string {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.Message
	}
	if errors.Is(err, domain.ErrProviderTimeout) {
		return domain.ErrProviderTimeout.Error()
	}
	return ""
}

func writeError(w http.ResponseWriter, _ *http.Request, err error) {
	code, body := statusFor(err)
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
