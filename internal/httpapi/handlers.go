// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/keystone-commerce/keystone/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeDecodeError(w, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	result, err := a.svc.Login(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeOK(w, "Login successful", result)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeDecodeError(w, err)
		return
	}
	name, email := strings.TrimSpace(req.Name), strings.TrimSpace(req.Email)
	if name == "" || email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Name, email and password are required")
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown role")
		return
	}

	result, err := a.svc.Register(r.Context(), name, email, req.Password, role)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeOK(w, "Registration successful", result)
}

func (a *API) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeDecodeError(w, err)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Refresh token is required")
		return
	}

	result, err := a.svc.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeOK(w, "Token refreshed successfully", result)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeDecodeError(w, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	if err := a.svc.ForgotPassword(r.Context(), strings.TrimSpace(req.Email)); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	// Same answer whether or not the account exists.
	writeOK(w, "If an account exists for that email, a reset link has been sent", nil)
}

func (a *API) handleValidateResetToken(w http.ResponseWriter, r *http.Request) {
	valid, err := a.svc.ValidateResetToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeOK(w, "Token checked", validateResponse{Valid: valid})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeDecodeError(w, err)
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "Token and new password are required")
		return
	}

	if err := a.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeOK(w, "Password has been reset", nil)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	profile, err := a.svc.Profile(r.Context(), caller.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeOK(w, "Profile retrieved", profile)
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	target, err := ulid.ParseStrict(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	var patch auth.ProfilePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		a.writeDecodeError(w, err)
		return
	}

	profile, err := a.svc.UpdateProfile(r.Context(), caller.UserID, target, patch)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeOK(w, "Profile updated", profile)
}
