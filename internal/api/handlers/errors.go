package handlers

import (
	"errors"
	"net/http"

	"github.com/isdelr/usermgmt-be/internal/common"
	"github.com/isdelr/usermgmt-be/internal/httpx"
	"github.com/rs/zerolog/hlog"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrValidation),
		errors.Is(err, common.ErrConflict),
		errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, common.ErrAccountInactive):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends err as a {"message"} response. Server-side failures are
// logged with their cause and answered with the generic message only.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		httpx.Message(w, status, common.Message(err, "Server error"))
		return
	}
	httpx.Message(w, status, common.Message(err, http.StatusText(status)))
}
