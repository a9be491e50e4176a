package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"cliptide/internal/auth"
	"cliptide/internal/models"
)

type contextKey string

const userContextKey contextKey = "authenticatedUser"

// ContextWithUser stores the authenticated user in the provided context.
func ContextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the authenticated user from context if present.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userContextKey).(models.User)
	return user, ok
}

// AuthenticateRequest validates the access token on the request and returns
// the account it names.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.User, error) {
	token := ExtractAccessToken(r)
	if token == "" {
		return models.User{}, auth.ErrMissingCredential
	}
	claims, err := h.Codec.VerifyAccess(token)
	if err != nil {
		return models.User{}, err
	}
	user, exists := h.Store.GetUser(claims.Subject)
	if !exists {
		return models.User{}, auth.ErrPrincipalNotFound
	}
	return user, nil
}

func (h *Handler) requireAuthenticatedUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
		return models.User{}, false
	}
	return user, true
}

// ExtractAccessToken reads the access token from the request. The cookie wins
// over the Authorization header so browser sessions are not overridden by a
// stray stored header.
func ExtractAccessToken(r *http.Request) string {
	if cookie, err := r.Cookie(accessCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return bearerToken(r)
}

// ExtractRefreshToken reads the refresh token from the cookie if present.
func ExtractRefreshToken(r *http.Request) string {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
