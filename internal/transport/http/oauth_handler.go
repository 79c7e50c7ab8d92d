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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gatekit/gatekit/internal/observability/logger"
	"github.com/gatekit/gatekit/internal/serviceclient"
	"github.com/gatekit/gatekit/internal/token"
)

// JWKS serves the public signing keys. Verifiers cache this; the
// max-age matches the provider key cache window.
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	if h.signingKeys == nil {
		respondError(w, http.StatusNotFound, "no published keys")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	respondJSON(w, http.StatusOK, h.signingKeys.JWKS())
}

// oauthError writes an RFC 6749 Section 5.2 error response
func oauthError(w http.ResponseWriter, status int, code, description string) {
	respondJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// ClientCredentialsToken implements the token endpoint for machine
// clients (RFC 6749 Section 4.4). Only the client_credentials grant is
// supported; user-facing flows go through /api/v1/auth.
func (h *Handler) ClientCredentialsToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	if grant := r.PostFormValue("grant_type"); grant != "client_credentials" {
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type", "only client_credentials is supported")
		return
	}

	clientID, clientSecret := r.PostFormValue("client_id"), r.PostFormValue("client_secret")
	if id, secret, ok := r.BasicAuth(); ok {
		clientID, clientSecret = id, secret
	}
	if clientID == "" {
		oauthError(w, http.StatusBadRequest, "invalid_request", "client_id is required")
		return
	}

	// audience is optional; the client's registered default applies when
	// it is absent.
	audience := r.PostFormValue("audience")

	// Optional propagated user identity: a valid access token whose
	// subject the service acts on behalf of.
	var userCtx *token.UserContext
	if onBehalf := r.PostFormValue("user_token"); onBehalf != "" {
		claims := h.codec.DecodeAccess(onBehalf)
		if claims == nil {
			oauthError(w, http.StatusBadRequest, "invalid_request", "user_token is not a valid access token")
			return
		}
		userCtx = &token.UserContext{
			UserID:      claims.Subject,
			Permissions: claims.Permissions,
		}
	}

	signed, err := h.clientService.IssueToken(r.Context(), clientID, clientSecret, audience, userCtx)
	if err != nil {
		switch {
		case errors.Is(err, serviceclient.ErrInvalidCredentials):
			w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
			oauthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		case errors.Is(err, serviceclient.ErrClientDisabled):
			oauthError(w, http.StatusForbidden, "invalid_client", "client is disabled")
		case errors.Is(err, serviceclient.ErrAudienceNotAllowed):
			oauthError(w, http.StatusForbidden, "access_denied", "audience not allowed for this client")
		default:
			slog.ErrorContext(r.Context(), "token issuance failed",
				logger.Error(err),
				logger.ClientID(clientID),
			)
			oauthError(w, http.StatusInternalServerError, "server_error", "failed to issue token")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token": signed,
		"token_type":   "Bearer",
		"expires_in":   int64(h.codec.ServiceTTL().Seconds()),
	})
}
