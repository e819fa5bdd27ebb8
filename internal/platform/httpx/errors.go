package httpx

import (
	"errors"
	"net/http"

	"github.com/pulseboard/pulseboard/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Rate-limit and ban outcomes deliberately carry no threshold details.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrRateLimited):
		Problem(w, http.StatusTooManyRequests, "Too Many Requests", "request quota exceeded")
	case errors.Is(err, shared.ErrBanned):
		Problem(w, http.StatusForbidden, "Forbidden", "address is blocked")
	case errors.Is(err, shared.ErrStoreUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
