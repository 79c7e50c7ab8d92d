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
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gatekit/gatekit/internal/audit"
	"github.com/gatekit/gatekit/internal/authz"
	"github.com/gatekit/gatekit/internal/identity"
	"github.com/gatekit/gatekit/internal/observability/logger"
	"github.com/gatekit/gatekit/internal/refresh"
	"github.com/gatekit/gatekit/internal/token"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService     *identity.Service
	verificationService *identity.VerificationService
	refreshService      *refresh.Service
	authzService        *authz.Service
	clientService       ClientTokenIssuer
	principals          *authz.Manager
	codec               *token.Codec
	signingKeys         *token.SigningKeys
	auditLogger         audit.Logger
	accessTTL           time.Duration
}

// ClientTokenIssuer issues service tokens for the client_credentials
// grant.
type ClientTokenIssuer interface {
	IssueToken(ctx context.Context, clientID, secret, audience string, userCtx *token.UserContext) (string, error)
}

// NewHandler creates a new HTTP handler
func NewHandler(
	identityService *identity.Service,
	verificationService *identity.VerificationService,
	refreshService *refresh.Service,
	authzService *authz.Service,
	clientService ClientTokenIssuer,
	principals *authz.Manager,
	codec *token.Codec,
	signingKeys *token.SigningKeys,
	auditLogger audit.Logger,
	accessTTL time.Duration,
) *Handler {
	return &Handler{
		identityService:     identityService,
		verificationService: verificationService,
		refreshService:      refreshService,
		authzService:        authzService,
		clientService:       clientService,
		principals:          principals,
		codec:               codec,
		signingKeys:         signingKeys,
		auditLogger:         auditLogger,
		accessTTL:           accessTTL,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.HealthCheck)

	// Key discovery for token verifiers
	r.Get("/.well-known/jwks.json", h.JWKS)

	// Machine-to-machine token endpoint (RFC 6749 Section 4.4)
	r.Post("/oauth/token", h.ClientCredentialsToken)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)
		r.Post("/auth/refresh", h.Refresh)
		r.Post("/auth/oauth/{provider}", h.OAuthSignIn)

		r.Post("/auth/password/reset-request", h.RequestPasswordReset)
		r.Get("/auth/password/reset/validate", h.ValidateResetToken)
		r.Post("/auth/password/reset", h.ResetPassword)

		r.Post("/auth/verify", h.VerifyEmail)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/auth/me", h.GetCurrentUser)
			r.Post("/auth/logout", h.Logout)
			r.Post("/auth/change-password", h.ChangePassword)
			r.Post("/auth/verify/request", h.RequestVerification)
			r.Post("/auth/verify/resend", h.ResendVerification)

			// Role administration needs its own grant
			r.Route("/authz/roles", func(r chi.Router) {
				r.Use(h.RequirePermission("authz:manage", "role"))
				r.Post("/", h.GrantRole)
				r.Delete("/{assignmentID}", h.RevokeRole)
			})
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "gatekit",
	})
}

// RegisterRequest represents registration data
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.identityService.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrEmailExists):
			respondError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "password does not meet security requirements")
		default:
			slog.ErrorContext(r.Context(), "failed to register user",
				logger.Error(err),
				logger.Email(req.Email),
			)
			respondError(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	// Kick off email verification; registration succeeds even if the
	// mail cannot be sent right now.
	if err := h.verificationService.InitiateVerification(r.Context(), user.ID, getIPAddress(r), ""); err != nil {
		slog.WarnContext(r.Context(), "failed to initiate verification",
			logger.Error(err),
			logger.UserID(user.ID),
		)
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is the token pair returned by login, refresh and OAuth
// sign-in.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login authenticates a user and issues a token pair
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identityService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.issueTokenPair(w, r, user)
}

// Refresh rotates a refresh token
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	accessToken, refreshToken, err := h.refreshService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrReuseDetected):
			// The family is already revoked; the client must sign in again.
			respondError(w, http.StatusUnauthorized, "token reuse detected, session revoked")
		case errors.Is(err, refresh.ErrTokenNotFound),
			errors.Is(err, refresh.ErrTokenExpired),
			errors.Is(err, refresh.ErrTokenRevoked),
			errors.Is(err, refresh.ErrUserUnavailable):
			respondError(w, http.StatusUnauthorized, "invalid refresh token")
		default:
			slog.ErrorContext(r.Context(), "refresh failed", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to refresh token")
		}
		return
	}

	respondJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.accessTTL.Seconds()),
	})
}

// Logout revokes every refresh token of the authenticated user
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	if principal == nil || principal.UserID == "" {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := h.refreshService.RevokeAllForUser(r.Context(), principal.UserID); err != nil {
		slog.ErrorContext(r.Context(), "failed to revoke tokens", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to log out")
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeLogout,
		ActorID:   principal.UserID,
		Resource:  "session",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// OAuthSignIn authenticates via a federated provider's id token
func (h *Handler) OAuthSignIn(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	var req struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		respondError(w, http.StatusBadRequest, "id_token is required")
		return
	}

	user, err := h.identityService.AuthenticateWithOAuth(r.Context(), provider, req.IDToken)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUnsupportedProvider):
			respondError(w, http.StatusBadRequest, "unsupported provider")
		case errors.Is(err, identity.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, "invalid id token")
		default:
			slog.ErrorContext(r.Context(), "oauth sign-in failed",
				logger.Error(err),
				logger.Provider(provider),
			)
			respondError(w, http.StatusInternalServerError, "sign-in failed")
		}
		return
	}

	h.issueTokenPair(w, r, user)
}

// GetCurrentUser returns the authenticated user
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	if principal == nil || principal.UserID == "" {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	user, err := h.identityService.GetUser(r.Context(), principal.UserID)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":        user.ID,
		"email":          user.Email,
		"display_name":   user.DisplayName,
		"email_verified": user.EmailVerified,
		"permissions":    principal.Permissions,
	})
}

// ChangePasswordRequest represents password change data
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword changes the user password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	if principal == nil || principal.UserID == "" {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.identityService.ChangePassword(r.Context(), principal.UserID, req.OldPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, "invalid old password")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "new password does not meet security requirements")
		default:
			respondError(w, http.StatusInternalServerError, "failed to change password")
		}
		return
	}

	// A password change invalidates every open session
	if err := h.refreshService.RevokeAllForUser(r.Context(), principal.UserID); err != nil {
		slog.ErrorContext(r.Context(), "failed to revoke tokens after password change", logger.Error(err))
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "password changed successfully",
	})
}

// issueTokenPair creates a fresh refresh token family and access token
// for an authenticated user.
func (h *Handler) issueTokenPair(w http.ResponseWriter, r *http.Request, user *identity.User) {
	perms, err := h.authzService.PermissionsForUser(r.Context(), user.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load permissions", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}

	accessToken, err := h.codec.IssueAccessToken(user.ID, user.Email, perms)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue access token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}

	refreshToken, err := h.refreshService.Create(r.Context(), user.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue refresh token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeTokenIssued,
		ActorID:   user.ID,
		Resource:  "token_pair",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.accessTTL.Seconds()),
	})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
