// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

// Package httpapi exposes the credential operations over HTTP. Handlers
// decode requests, call the auth coordinator, and map its errors to status
// codes; no credential logic lives here.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/keystone-commerce/keystone/internal/auth"
)

// Service is the subset of auth.Coordinator the API calls.
type Service interface {
	Login(ctx context.Context, email, password string) (*auth.AuthResult, error)
	Register(ctx context.Context, name, email, password string, role auth.Role) (*auth.AuthResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (*auth.AuthResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ValidateResetToken(ctx context.Context, token string) (bool, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	UpdateProfile(ctx context.Context, callerID, targetID ulid.ULID, patch auth.ProfilePatch) (*auth.UserProfile, error)
	Profile(ctx context.Context, callerID ulid.ULID) (*auth.UserProfile, error)
	Authenticate(ctx context.Context, accessToken string) (*auth.Identity, error)
}

// API holds the handlers.
type API struct {
	svc    Service
	logger *slog.Logger
}

// New returns an API over svc. A nil logger means slog.Default().
func New(svc Service, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{svc: svc, logger: logger}
}

// Routes returns the router for every endpoint.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", a.handleLogin)
		r.Post("/register", a.handleRegister)
		r.Post("/refresh-token", a.handleRefreshToken)
		r.Post("/forgot-password", a.handleForgotPassword)
		r.Post("/reset-password", a.handleResetPassword)
		r.Get("/reset-password/validate", a.handleValidateResetToken)
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/me", a.withIdentity(a.handleMe))
		r.Put("/{id}", a.withIdentity(a.handleUpdateProfile))
	})
	return r
}

// withIdentity resolves the bearer token and hands the caller identity to h.
func (a *API) withIdentity(h func(http.ResponseWriter, *http.Request, *auth.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		identity, err := a.svc.Authenticate(r.Context(), token)
		switch {
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, "Invalid or expired access token")
			return
		case err != nil:
			a.writeServiceError(w, r, err)
			return
		}
		h(w, r, identity)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
