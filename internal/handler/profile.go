package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/campus-market/internal/auth"
	"github.com/sakif/campus-market/internal/model"
	"github.com/sakif/campus-market/internal/service"
)

// ProfileHandler serves the caller's own profile and other users' public
// profiles.
type ProfileHandler struct {
	profiles *service.ProfileService
	logger   *slog.Logger
}

func NewProfileHandler(profiles *service.ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, logger: logger}
}

// HandleGetOwn returns the logged-in user's account, email included.
//
// HTTP: GET /api/user/profile
// Auth: Required
func (h *ProfileHandler) HandleGetOwn(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.profiles.GetOwn(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleUpdateOwn applies a partial profile update. A missing field is left
// as is; an empty string clears it (except the name).
//
// HTTP: PUT /api/user/profile
// Auth: Required
// REQUEST BODY: any subset of {"name", "department", "bio", "avatarUrl"}
func (h *ProfileHandler) HandleUpdateOwn(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var patch model.ProfilePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.profiles.UpdateOwn(r.Context(), userID, patch)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleGetPublic returns another user's public profile. Email is never
// part of it.
//
// HTTP: GET /api/user/{id}
func (h *ProfileHandler) HandleGetPublic(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.GetPublic(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}
