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

	"github.com/gatekit/gatekit/internal/authz"
)

type contextKey string

const principalKey contextKey = "principal"

// GetPrincipal retrieves the authenticated principal from context. The
// principal is resolved exactly once per request by AuthMiddleware;
// handlers never parse the bearer token themselves.
func GetPrincipal(ctx context.Context) *authz.RequestPrincipal {
	if val, ok := ctx.Value(principalKey).(*authz.RequestPrincipal); ok {
		return val
	}
	return nil
}

func withPrincipal(ctx context.Context, p *authz.RequestPrincipal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}
