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
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwk is a single RSA signing key from a provider's JWKS document (RFC 7517)
type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// OIDCProvider verifies RS256 id tokens against a provider's published
// JWKS, checking issuer, audience and expiry.
type OIDCProvider struct {
	name     string
	issuer   string
	clientID string
	jwksURL  string
	client   *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	keyTTL    time.Duration
}

// NewOIDCProvider creates a provider for one federation partner
func NewOIDCProvider(name, issuer, clientID, jwksURL string) *OIDCProvider {
	return &OIDCProvider{
		name:     name,
		issuer:   issuer,
		clientID: clientID,
		jwksURL:  jwksURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		keys:     make(map[string]*rsa.PublicKey),
		keyTTL:   5 * time.Minute,
	}
}

// Name returns the registry name of this provider
func (p *OIDCProvider) Name() string {
	return p.name
}

// ValidateAndExtractClaims verifies the id token and returns normalized
// claims. Email is mandatory; a verified token without one still fails.
func (p *OIDCProvider) ValidateAndExtractClaims(ctx context.Context, idToken string) (*UserClaims, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodRS256 {
			return nil, ErrInvalidIDToken
		}
		kid, _ := t.Header["kid"].(string)
		return p.keyForKid(ctx, kid)
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.clientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidIDToken
	}

	email, _ := claims["email"].(string)
	if email == "" {
		return nil, ErrMissingEmail
	}

	name, _ := claims["name"].(string)
	picture, _ := claims["picture"].(string)
	emailVerified := false
	switch v := claims["email_verified"].(type) {
	case bool:
		emailVerified = v
	case string:
		emailVerified = v == "true"
	}

	return &UserClaims{
		Email:         email,
		Name:          name,
		Picture:       picture,
		EmailVerified: emailVerified,
	}, nil
}

// keyForKid returns the RSA key for a kid, refreshing the cached JWKS
// when the kid is unknown or the cache is stale.
func (p *OIDCProvider) keyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if key, ok := p.keys[kid]; ok && time.Since(p.fetchedAt) < p.keyTTL {
		return key, nil
	}

	if err := p.refreshKeysLocked(ctx); err != nil {
		return nil, err
	}

	key, ok := p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no key for kid %q: %w", kid, ErrInvalidIDToken)
	}
	return key, nil
}

func (p *OIDCProvider) refreshKeysLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build jwks request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("failed to decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	p.keys = keys
	p.fetchedAt = time.Now()
	return nil
}

func parseRSAKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("zero exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
