// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/keystone-commerce/keystone/internal/auth"
	"github.com/keystone-commerce/keystone/pkg/errutil"
)

const maxBodyBytes = 1 << 20

// Envelope wraps every response body.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: false, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

type errorMapping struct {
	kind    error
	status  int
	message string
}

// First match wins.
var errorMappings = []errorMapping{
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password"},
	{auth.ErrDuplicateEmail, http.StatusBadRequest, "Email is already registered"},
	{auth.ErrTokenExpired, http.StatusBadRequest, "Token has expired"},
	{auth.ErrInvalidOrExpiredToken, http.StatusBadRequest, "Invalid or expired reset token"},
	{auth.ErrInvalidToken, http.StatusBadRequest, "Invalid token"},
	{auth.ErrUnauthorizedProfileEdit, http.StatusForbidden, "You can only update your own profile"},
	{auth.ErrUserNotFound, http.StatusNotFound, "User not found"},
}

// statusFor maps a service error to a status and client-safe message.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.kind) {
			return m.status, m.message
		}
	}
	return http.StatusInternalServerError, "Internal server error"
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		errutil.LogError(r.Context(), a.logger, "request failed", err, "path", r.URL.Path)
	}
	writeError(w, status, message)
}

func (a *API) writeDecodeError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	if errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Request body is required")
		return
	}
	writeError(w, http.StatusBadRequest, "Invalid request body")
}
