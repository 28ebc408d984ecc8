package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dkarpov/studenthub/internal/common"
	"github.com/dkarpov/studenthub/internal/logging"
	"github.com/dkarpov/studenthub/internal/server/authz"
	"github.com/dkarpov/studenthub/internal/server/identity"
	"github.com/dkarpov/studenthub/internal/server/models"
)

type handler struct {
	identities *identity.Service
	gate       *authz.Gate
	logger     logging.Logger
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type updateUserRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"isActive"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	ident, err := h.identities.Register(r.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"user":    ident,
		"message": "Registration successful. Please check your email to verify your account.",
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	ident, token, err := h.identities.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrEmailNotVerified) {
			h.writeJSON(w, http.StatusUnauthorized, map[string]any{
				"message":    "Please verify your email before logging in",
				"isVerified": false,
			})
			return
		}
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"user":  ident,
		"token": token,
	})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromContext(r.Context())
	if !ok {
		h.writeError(w, r, common.ErrorUnauthorized)
		return
	}

	h.writeJSON(w, http.StatusOK, ident)
}

// logout exists for the client's sake; the session token is self-contained,
// so there is no server-side state to drop.
func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out successfully"})
}

func (h *handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	ident, err := h.identities.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Email verified successfully. You can now log in.",
		"isVerified": ident.IsVerified,
	})
}

func (h *handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.identities.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}

	// same response whether or not the email exists
	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "If your email is registered, you will receive a password reset link",
	})
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.identities.ResetPassword(r.Context(), chi.URLParam(r, "token"), req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Password reset successful. You can now log in with your new password.",
	})
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromContext(r.Context())
	if !ok {
		h.writeError(w, r, common.ErrorUnauthorized)
		return
	}

	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.identities.ChangePassword(r.Context(), ident.ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"message": "Password changed successfully"})
}

func (h *handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.identities.ResendVerification(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "If your email is registered and not verified, you will receive a verification email",
	})
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.identities.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"count": len(users),
		"data":  users,
	})
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := identityFromContext(r.Context())
	if !ok {
		h.writeError(w, r, common.ErrorUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	if caller.ID != id {
		if err := h.gate.RequireRole(caller, models.RoleAdmin); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	ident, err := h.identities.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, ident)
}

func (h *handler) updateUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := identityFromContext(r.Context())
	if !ok {
		h.writeError(w, r, common.ErrorUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	isAdmin := h.gate.RequireRole(caller, models.RoleAdmin) == nil
	if caller.ID != id && !isAdmin {
		h.writeError(w, r, common.ErrorForbidden)
		return
	}

	var req updateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	// role and activation changes are admin-only
	if (req.Role != nil || req.IsActive != nil) && !isAdmin {
		h.writeError(w, r, common.ErrorForbidden)
		return
	}

	ident, err := h.identities.UpdateProfile(r.Context(), id, identity.Update{
		Name:     req.Name,
		Email:    req.Email,
		Role:     req.Role,
		IsActive: req.IsActive,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, ident)
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid request body"})
		return false
	}
	return true
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error(context.Background(), "response encoding failed", "error", err.Error())
	}
}

// writeError maps the core's error taxonomy to HTTP statuses. Validation
// errors carry their message; everything unexpected is a plain server error
// so internals never leak.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorValidation),
		errors.Is(err, common.ErrDuplicateEmail),
		errors.Is(err, common.ErrAlreadyVerified),
		errors.Is(err, common.ErrInvalidOrExpiredToken),
		errors.Is(err, common.ErrIncorrectPassword):
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
	case errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, common.ErrEmailNotVerified),
		errors.Is(err, common.ErrorUnauthorized):
		h.writeJSON(w, http.StatusUnauthorized, map[string]any{"message": err.Error()})
	case errors.Is(err, common.ErrorForbidden):
		h.writeJSON(w, http.StatusForbidden, map[string]any{"message": err.Error()})
	case errors.Is(err, common.ErrorNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]any{"message": err.Error()})
	default:
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err.Error())
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "server error"})
	}
}
