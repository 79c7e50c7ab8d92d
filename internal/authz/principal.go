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

package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gatekit/gatekit/internal/token"
)

// ErrAuthenticationRequired is returned when no valid credential is
// presented.
var ErrAuthenticationRequired = errors.New("authentication required")

// PrincipalType distinguishes human callers from services
type PrincipalType string

const (
	PrincipalUser    PrincipalType = "USER"
	PrincipalService PrincipalType = "SERVICE"
)

// RequestPrincipal is the authenticated caller of one request, resolved
// once from the bearer token and carried through the request context.
// For service tokens with a propagated user context, UserID names the
// human on whose behalf the service is acting while ServiceID names the
// caller itself.
type RequestPrincipal struct {
	Type        PrincipalType
	UserID      string
	ServiceID   string
	RawToken    string
	Permissions []string
	UserContext *token.UserContext
}

// OnBehalfOf reports whether a service principal carries a propagated
// user identity.
func (p *RequestPrincipal) OnBehalfOf() bool {
	return p.Type == PrincipalService && p.UserContext != nil
}

// DeniedError carries the denial reason for a failed permission check
type DeniedError struct {
	Permission string
	Reason     string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission %q denied: %s", e.Permission, e.Reason)
}

// Manager resolves bearer tokens to principals and enforces permission
// requirements against them.
type Manager struct {
	codec *token.Codec
	authz *Service
}

// NewManager creates a principal manager
func NewManager(codec *token.Codec, authz *Service) *Manager {
	return &Manager{codec: codec, authz: authz}
}

// FromToken resolves a bearer token to a principal. Refresh tokens are
// never a request credential; presenting one fails authentication.
func (m *Manager) FromToken(bearer string) (*RequestPrincipal, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return nil, ErrAuthenticationRequired
	}

	claims, err := m.codec.Validate(bearer)
	if err != nil {
		return nil, ErrAuthenticationRequired
	}

	switch claims.Kind {
	case token.KindAccess:
		return &RequestPrincipal{
			Type:        PrincipalUser,
			UserID:      claims.Subject,
			RawToken:    bearer,
			Permissions: claims.Permissions,
		}, nil
	case token.KindService:
		p := &RequestPrincipal{
			Type:        PrincipalService,
			ServiceID:   claims.Subject,
			RawToken:    bearer,
			Permissions: claims.Permissions,
			UserContext: claims.UserContext,
		}
		if claims.UserContext != nil {
			p.UserID = claims.UserContext.UserID
		}
		return p, nil
	default:
		return nil, ErrAuthenticationRequired
	}
}

// Require enforces a permission for a principal. User principals go
// through the full decision pipeline, with the token's permission
// snapshot as subject attributes, so ABAC policies and fresh role state
// both apply. Service principals are checked against the token's
// permission grant; with a propagated user context the user's embedded
// permissions must also cover the action. Every check lands in the
// decision log, service principals included.
func (m *Manager) Require(ctx context.Context, principal *RequestPrincipal, permission, resourceType, resourceID string, resourceAttrs, contextAttrs map[string]any) error {
	if principal == nil {
		return ErrAuthenticationRequired
	}

	if principal.Type == PrincipalService {
		allowed := true
		reason := "service token grant"
		if !containsPermission(principal.Permissions, permission) {
			allowed = false
			reason = "not granted to service"
		} else if principal.UserContext != nil && !containsPermission(principal.UserContext.Permissions, permission) {
			allowed = false
			reason = "not granted to propagated user"
		}
		m.authz.recordTokenCheck(ctx, principal, permission, resourceType, resourceID, allowed, reason)
		if !allowed {
			return &DeniedError{Permission: permission, Reason: reason}
		}
		return nil
	}

	decision, err := m.authz.CheckPermission(ctx, CheckRequest{
		UserID:        principal.UserID,
		Permission:    permission,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		SubjectAttrs:  map[string]any{"permissions": principal.Permissions},
		ResourceAttrs: resourceAttrs,
		ContextAttrs:  contextAttrs,
	})
	if err != nil {
		return fmt.Errorf("permission check failed: %w", err)
	}
	if !decision.Allowed {
		return &DeniedError{Permission: permission, Reason: decision.Reason}
	}
	return nil
}
