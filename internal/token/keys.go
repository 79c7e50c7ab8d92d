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
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
)

// JWK represents a JSON Web Key (RFC 7517)
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS represents a JSON Web Key Set (RFC 7517)
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// SigningKeys holds the RSA key pair published at the JWKS endpoint for
// asymmetric-key deployments. The kid is a stable truncated SHA-256
// thumbprint of the modulus.
type SigningKeys struct {
	key *rsa.PrivateKey
	kid string
}

// NewSigningKeys generates a fresh 2048-bit RSA key pair
func NewSigningKeys() (*SigningKeys, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(key.PublicKey.N.Bytes())
	kid := base64.RawURLEncoding.EncodeToString(hash[:16])

	return &SigningKeys{key: key, kid: kid}, nil
}

// KeyID returns the stable key identifier
func (s *SigningKeys) KeyID() string {
	return s.kid
}

// PrivateKey exposes the private key for signing
func (s *SigningKeys) PrivateKey() *rsa.PrivateKey {
	return s.key
}

// JWKS renders the public half as a key set. Modulus and exponent are
// base64url without padding; big.Int.Bytes strips the leading zero byte
// and intToBytes keeps the exponent minimal.
func (s *SigningKeys) JWKS() JWKS {
	pub := s.key.PublicKey
	return JWKS{
		Keys: []JWK{
			{
				Kty: "RSA",
				Use: "sig",
				Alg: "RS256",
				Kid: s.kid,
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(intToBytes(pub.E)),
			},
		},
	}
}

func intToBytes(n int) []byte {
	if n == 0 {
		return []byte{0}
	}
	var res []byte
	for n > 0 {
		res = append([]byte{byte(n & 0xff)}, res...)
		n >>= 8
	}
	return res
}
