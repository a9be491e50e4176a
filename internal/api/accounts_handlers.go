package api

import (
	"fmt"
	"net/http"

	"cliptide/internal/storage"
)

type updateAccountRequest struct {
	Username    *string `json:"username"`
	Email       *string `json:"email"`
	DisplayName *string `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl"`
	CoverURL    *string `json:"coverUrl"`
}

// Me serves the authenticated account's own profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		user, ok := h.requireAuthenticatedUser(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": newUserResponse(user)})
	case http.MethodPatch:
		user, ok := h.requireAuthenticatedUser(w, r)
		if !ok {
			return
		}
		var req updateAccountRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := h.Store.UpdateUser(user.ID, storage.UserUpdate{
			Username:    req.Username,
			Email:       req.Email,
			DisplayName: req.DisplayName,
			AvatarURL:   req.AvatarURL,
			CoverURL:    req.CoverURL,
		})
		if err != nil {
			status := statusFromError(err)
			if status == http.StatusInternalServerError {
				status = http.StatusBadRequest
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": newUserResponse(updated)})
	default:
		w.Header().Set("Allow", "GET, PATCH")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}
