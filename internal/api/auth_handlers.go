package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cliptide/internal/auth"
	"cliptide/internal/models"
	"cliptide/internal/storage"
)

type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
	AvatarURL   string `json:"avatarUrl"`
	CoverURL    string `json:"coverUrl"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (req loginRequest) identifier() string {
	switch {
	case req.Identifier != "":
		return req.Identifier
	case req.Username != "":
		return req.Username
	default:
		return req.Email
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type userResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	CoverURL    string `json:"coverUrl,omitempty"`
	HasPassword bool   `json:"hasPassword"`
	CreatedAt   string `json:"createdAt"`
}

type authResponse struct {
	AccessToken      string       `json:"accessToken"`
	AccessExpiresAt  string       `json:"accessExpiresAt"`
	RefreshToken     string       `json:"refreshToken"`
	RefreshExpiresAt string       `json:"refreshExpiresAt"`
	User             userResponse `json:"user"`
}

func newUserResponse(user models.User) userResponse {
	return userResponse{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		CoverURL:    user.CoverURL,
		HasPassword: user.HasPassword(),
		CreatedAt:   user.CreatedAt.Format(time.RFC3339Nano),
	}
}

func newAuthResponse(user models.User, pair auth.TokenPair) authResponse {
	return authResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt.UTC().Format(time.RFC3339Nano),
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt.UTC().Format(time.RFC3339Nano),
		User:             newUserResponse(user),
	}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.Store.CreateUser(storage.CreateUserParams{
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		AvatarURL:   req.AvatarURL,
		CoverURL:    req.CoverURL,
	})
	if err != nil {
		status := statusFromError(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		h.observeAuthEvent("register", "failure")
		writeError(w, status, err)
		return
	}

	h.observeAuthEvent("register", "success")
	slog.Info("account registered", "userId", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, map[string]any{"user": newUserResponse(user)})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	var req loginRequest
	if err := decodeJSONAllowUnknown(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, pair, err := h.Authority.Login(req.identifier(), req.Password)
	if err != nil {
		h.observeAuthEvent("login", "failure")
		writeError(w, statusFromError(err), errors.New("invalid credentials"))
		return
	}

	h.observeAuthEvent("login", "success")
	h.setSessionCookies(w, r, pair)
	writeJSON(w, http.StatusOK, newAuthResponse(user, pair))
}

// Refresh exchanges a refresh token for a fresh pair. The cookie wins over
// the body so browser flows need no payload at all.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	presented := ExtractRefreshToken(r)
	if presented == "" {
		var req refreshRequest
		if err := decodeJSONAllowUnknown(r, &req); err == nil {
			presented = req.RefreshToken
		}
	}

	pair, err := h.Authority.Refresh(presented)
	if err != nil {
		h.observeAuthEvent("refresh", "failure")
		h.ClearSessionCookies(w, r)
		writeError(w, statusFromError(err), errors.New("invalid refresh token"))
		return
	}

	h.observeAuthEvent("refresh", "success")
	h.setSessionCookies(w, r, pair)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":      pair.AccessToken,
		"accessExpiresAt":  pair.AccessExpiresAt.UTC().Format(time.RFC3339Nano),
		"refreshToken":     pair.RefreshToken,
		"refreshExpiresAt": pair.RefreshExpiresAt.UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	user, err := h.AuthenticateRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return
	}
	if err := h.Authority.Logout(user.ID); err != nil {
		writeError(w, statusFromError(err), err)
		return
	}

	h.observeAuthEvent("logout", "success")
	h.ClearSessionCookies(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("password must be at least 8 characters"))
		return
	}

	if err := h.Authority.ChangePassword(user.ID, req.OldPassword, req.NewPassword); err != nil {
		h.observeAuthEvent("change_password", "failure")
		writeError(w, statusFromError(err), err)
		return
	}

	h.observeAuthEvent("change_password", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	token := ExtractAccessToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("missing access token"))
		return
	}
	claims, err := h.Codec.VerifyAccess(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid or expired session"))
		return
	}
	user, exists := h.Store.GetUser(claims.Subject)
	if !exists {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("account not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":      newUserResponse(user),
		"expiresAt": claims.ExpiresAt.Time.UTC().Format(time.RFC3339Nano),
	})
}
