// Copyright 2026 The GateKit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gatekit/gatekit/internal/identity"
	"github.com/gatekit/gatekit/internal/observability/logger"
)

// RequestPasswordReset starts the reset flow. The response is identical
// whether or not the account exists; enumeration through this endpoint
// must be impossible.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string `json:"email"`
		Locale string `json:"locale"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}

	h.identityService.RequestPasswordReset(r.Context(), req.Email, req.Locale)

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "if the account exists, a reset email has been sent",
	})
}

// ValidateResetToken checks a reset token without consuming it, so the
// UI can show the form only for live tokens.
func (h *Handler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	resetToken := r.URL.Query().Get("token")
	if resetToken == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	if _, err := h.identityService.ValidateResetToken(r.Context(), resetToken); err != nil {
		respondJSON(w, http.StatusOK, map[string]bool{"valid": false})
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// ResetPassword consumes a reset token and sets a new password
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondError(w, http.StatusBadRequest, "token and new_password are required")
		return
	}

	user, err := h.identityService.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidResetToken):
			respondError(w, http.StatusUnauthorized, "invalid or expired reset token")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "password does not meet security requirements")
		default:
			slog.ErrorContext(r.Context(), "password reset failed", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to reset password")
		}
		return
	}

	// All outstanding sessions die with the old password
	if err := h.refreshService.RevokeAllForUser(r.Context(), user.ID); err != nil {
		slog.ErrorContext(r.Context(), "failed to revoke tokens after reset", logger.Error(err))
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "password reset successfully",
	})
}

// VerifyEmail consumes an email verification token
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	user, err := h.verificationService.VerifyWithToken(r.Context(), req.Token, getIPAddress(r))
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrVerificationExpired):
			respondError(w, http.StatusGone, "verification token expired")
		case errors.Is(err, identity.ErrAlreadyVerified):
			respondError(w, http.StatusConflict, "email already verified")
		case errors.Is(err, identity.ErrInvalidVerificationToken):
			respondError(w, http.StatusUnauthorized, "invalid verification token")
		default:
			slog.ErrorContext(r.Context(), "verification failed", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to verify email")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": "email verified",
		"user_id": user.ID,
	})
}

// RequestVerification issues a verification email for the current user
func (h *Handler) RequestVerification(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	if principal == nil || principal.UserID == "" {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req struct {
		Locale string `json:"locale"`
	}
	// Body is optional
	_ = json.NewDecoder(r.Body).Decode(&req)

	err := h.verificationService.InitiateVerification(r.Context(), principal.UserID, getIPAddress(r), req.Locale)
	if err != nil {
		if errors.Is(err, identity.ErrAlreadyVerified) {
			respondError(w, http.StatusConflict, "email already verified")
			return
		}
		slog.ErrorContext(r.Context(), "failed to initiate verification", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to send verification email")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "verification email sent",
	})
}

// ResendVerification re-sends the verification email, subject to the
// hourly resend cap.
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	if principal == nil || principal.UserID == "" {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req struct {
		Locale string `json:"locale"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	err := h.verificationService.ResendVerification(r.Context(), principal.UserID, getIPAddress(r), req.Locale)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrResendLimited):
			respondError(w, http.StatusTooManyRequests, "too many verification emails requested")
		case errors.Is(err, identity.ErrAlreadyVerified):
			respondError(w, http.StatusConflict, "email already verified")
		default:
			slog.ErrorContext(r.Context(), "failed to resend verification", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to send verification email")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "verification email sent",
	})
}
