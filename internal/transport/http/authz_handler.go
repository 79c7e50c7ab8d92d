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
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatekit/gatekit/internal/authz"
	"github.com/gatekit/gatekit/internal/observability/logger"
)

// GrantRoleRequest represents a role assignment to create. ScopeType
// defaults to PROFILE; PROJECT and RESOURCE scopes require a scope id.
type GrantRoleRequest struct {
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	ScopeType  string     `json:"scope_type"`
	ScopeID    *string    `json:"scope_id,omitempty"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// GrantRole assigns a role to a user
func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	var req GrantRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.RoleID == "" {
		respondError(w, http.StatusBadRequest, "user_id and role_id are required")
		return
	}

	assignment := &authz.RoleAssignment{
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		ScopeType:  authz.ScopeType(req.ScopeType),
		ScopeID:    req.ScopeID,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
	}
	if assignment.ScopeType == "" {
		assignment.ScopeType = authz.ScopeProfile
	}

	if err := h.authzService.Grant(r.Context(), assignment); err != nil {
		if errors.Is(err, authz.ErrInvalidScope) {
			respondError(w, http.StatusBadRequest, "scope type and scope id do not agree")
			return
		}
		slog.ErrorContext(r.Context(), "failed to grant role",
			logger.Error(err),
			logger.UserID(req.UserID),
		)
		respondError(w, http.StatusInternalServerError, "failed to grant role")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"assignment_id": assignment.ID,
	})
}

// RevokeRole removes a role assignment
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignmentID")

	if err := h.authzService.Revoke(r.Context(), assignmentID); err != nil {
		if errors.Is(err, authz.ErrRoleNotFound) {
			respondError(w, http.StatusNotFound, "assignment not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to revoke role", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to revoke role")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "role assignment revoked",
	})
}
