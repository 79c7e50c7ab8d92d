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

package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Validation errors
var (
	ErrMalformed        = errors.New("malformed token")
	ErrExpired          = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrWrongKind        = errors.New("wrong token kind")
)

// Kind discriminates the three token shapes this service issues
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindService Kind = "service"
)

// UserContext is the propagated on-behalf-of identity carried by a
// service token.
type UserContext struct {
	UserID      string
	Permissions []string
}

// Claims is the decoded, validated form of any token this service
// issued. Kind determines which fields are meaningful: Email and
// Permissions for access tokens, Audience/Permissions/UserContext for
// service tokens, only Subject for refresh tokens.
type Claims struct {
	Kind        Kind
	Subject     string
	Email       string
	Audience    string
	Permissions []string
	UserContext *UserContext
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// wireClaims is the superset of claims across all token kinds, used for
// both signing and parsing. The type claim drives interpretation.
type wireClaims struct {
	jwt.RegisteredClaims
	Type            string   `json:"type"`
	Email           string   `json:"email,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
	UserID          string   `json:"user_id,omitempty"`
	UserPermissions []string `json:"user_permissions,omitempty"`
}

// Codec issues and validates HS256 JWTs. It is stateless; the same
// secret validates everything it signs.
type Codec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	serviceTTL time.Duration
	now        func() time.Time
}

// NewCodec creates a token codec
func NewCodec(secret, issuer string, accessTTL, refreshTTL, serviceTTL time.Duration) *Codec {
	return &Codec{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		serviceTTL: serviceTTL,
		now:        time.Now,
	}
}

// IssueAccessToken signs an access token carrying the user's permission
// snapshot. Decoded claims always carry a non-nil permission set, empty
// when the user has none.
func (c *Codec) IssueAccessToken(userID, email string, permissions []string) (string, error) {
	if permissions == nil {
		permissions = []string{}
	}
	return c.sign(wireClaims{
		RegisteredClaims: c.registered(userID, c.accessTTL),
		Type:             string(KindAccess),
		Email:            email,
		Permissions:      permissions,
	})
}

// IssueRefreshToken signs a refresh token. No permissions are embedded;
// they are recomputed from the database at rotation time so stale
// snapshots cannot survive a refresh.
func (c *Codec) IssueRefreshToken(userID string) (string, error) {
	return c.sign(wireClaims{
		RegisteredClaims: c.registered(userID, c.refreshTTL),
		Type:             string(KindRefresh),
	})
}

// IssueServiceToken signs a machine token for one audience, optionally
// carrying a propagated user context.
func (c *Codec) IssueServiceToken(serviceID, audience string, permissions []string, userCtx *UserContext) (string, error) {
	if permissions == nil {
		permissions = []string{}
	}
	claims := wireClaims{
		RegisteredClaims: c.registered(serviceID, c.serviceTTL),
		Type:             string(KindService),
		Permissions:      permissions,
	}
	claims.Audience = jwt.ClaimStrings{audience}
	if userCtx != nil {
		claims.UserID = userCtx.UserID
		claims.UserPermissions = userCtx.Permissions
	}
	return c.sign(claims)
}

// ServiceTTL reports the lifetime applied to issued service tokens
func (c *Codec) ServiceTTL() time.Duration {
	return c.serviceTTL
}

// Validate parses and verifies a token of any kind. It is the single
// verification path; every typed accessor builds on it.
func (c *Codec) Validate(tokenString string) (*Claims, error) {
	var wire wireClaims
	parsed, err := jwt.ParseWithClaims(tokenString, &wire, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSignature
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrMalformed
		}
	}
	if !parsed.Valid {
		return nil, ErrMalformed
	}

	kind := Kind(wire.Type)
	switch kind {
	case KindAccess, KindRefresh, KindService:
	default:
		return nil, ErrMalformed
	}

	claims := &Claims{
		Kind:        kind,
		Subject:     wire.Subject,
		Email:       wire.Email,
		Permissions: wire.Permissions,
	}
	if claims.Permissions == nil && kind != KindRefresh {
		claims.Permissions = []string{}
	}
	if wire.IssuedAt != nil {
		claims.IssuedAt = wire.IssuedAt.Time
	}
	if wire.ExpiresAt != nil {
		claims.ExpiresAt = wire.ExpiresAt.Time
	}
	if len(wire.Audience) > 0 {
		claims.Audience = wire.Audience[0]
	}
	if kind == KindService && wire.UserID != "" {
		claims.UserContext = &UserContext{
			UserID:      wire.UserID,
			Permissions: wire.UserPermissions,
		}
	}
	return claims, nil
}

// DecodeAccess validates a token and requires it to be an access token.
// Any failure, including a refresh or service token in an access slot,
// returns nil: callers treat nil as unauthenticated.
func (c *Codec) DecodeAccess(tokenString string) *Claims {
	return c.decodeKind(tokenString, KindAccess)
}

// DecodeRefresh validates a token and requires it to be a refresh token
func (c *Codec) DecodeRefresh(tokenString string) *Claims {
	return c.decodeKind(tokenString, KindRefresh)
}

// DecodeService validates a token and requires it to be a service token
func (c *Codec) DecodeService(tokenString string) *Claims {
	return c.decodeKind(tokenString, KindService)
}

// IsAccessToken reports whether the token is a valid, unexpired access
// token
func (c *Codec) IsAccessToken(tokenString string) bool {
	return c.DecodeAccess(tokenString) != nil
}

// UserID extracts the subject from a valid access token, "" otherwise
func (c *Codec) UserID(tokenString string) string {
	claims := c.DecodeAccess(tokenString)
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// Permissions extracts the permission snapshot from a valid access
// token; nil otherwise
func (c *Codec) Permissions(tokenString string) []string {
	claims := c.DecodeAccess(tokenString)
	if claims == nil {
		return nil
	}
	return claims.Permissions
}

func (c *Codec) decodeKind(tokenString string, kind Kind) *Claims {
	claims, err := c.Validate(tokenString)
	if err != nil || claims.Kind != kind {
		return nil
	}
	return claims
}

func (c *Codec) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := c.now()
	return jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (c *Codec) sign(claims wireClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}
