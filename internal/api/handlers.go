package api

import (
	"errors"
	"net/http"

	"cliptide/internal/auth"
	"cliptide/internal/observability/metrics"
	"cliptide/internal/storage"
)

type Handler struct {
	Store        storage.Repository
	Authority    *auth.SessionAuthority
	Codec        *auth.TokenCodec
	CookiePolicy AuthCookiePolicy
	Metrics      *metrics.Recorder
	RateLimiter  Pinger
}

func NewHandler(store storage.Repository, authority *auth.SessionAuthority, codec *auth.TokenCodec) *Handler {
	return &Handler{
		Store:        store,
		Authority:    authority,
		Codec:        codec,
		CookiePolicy: DefaultAuthCookiePolicy(),
	}
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, auth.ErrBadCredentials),
		errors.Is(err, auth.ErrMissingCredential),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrStaleCredential),
		errors.Is(err, auth.ErrPrincipalNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrUsernameTaken),
		errors.Is(err, storage.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, storage.ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) observeAuthEvent(event, outcome string) {
	if h.Metrics != nil {
		h.Metrics.ObserveAuthEvent(event, outcome)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	components, status, code := h.componentHealth(r.Context())
	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}
