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

package oauth

import (
	"context"
	"errors"
	"strings"
)

// Domain errors
var (
	ErrInvalidIDToken  = errors.New("invalid id token")
	ErrMissingEmail    = errors.New("id token has no email claim")
	ErrUnknownProvider = errors.New("unknown oauth provider")
)

// UserClaims is the normalized identity extracted from a verified
// third-party id token.
type UserClaims struct {
	Email         string
	Name          string
	Picture       string
	EmailVerified bool
}

// Provider validates id tokens from one federated identity provider.
//
// ValidateAndExtractClaims returns ErrInvalidIDToken (or a wrapped
// variant) for every verification failure: bad signature, wrong
// audience or issuer, expiry, parse errors. Callers must treat any
// error as an authentication failure, never as "no claims but fine".
type Provider interface {
	Name() string
	ValidateAndExtractClaims(ctx context.Context, idToken string) (*UserClaims, error)
}

// Registry resolves providers by case-insensitive name
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a provider registry
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider, replacing any prior registration of the
// same name
func (r *Registry) Register(p Provider) {
	r.providers[strings.ToLower(p.Name())] = p
}

// Get resolves a provider by name. An unknown name returns false; there
// is deliberately no default fallback.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}
