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

package logger

import "log/slog"

// Common attribute keys for consistent logging across the application

// Request attributes
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func Method(method string) slog.Attr {
	return slog.String("method", method)
}

func Path(path string) slog.Attr {
	return slog.String("path", path)
}

func RemoteAddr(addr string) slog.Attr {
	return slog.String("remote_addr", addr)
}

func UserAgent(ua string) slog.Attr {
	return slog.String("user_agent", ua)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

func Duration(ms int64) slog.Attr {
	return slog.Int64("duration_ms", ms)
}

// Identity attributes
func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

func Email(email string) slog.Attr {
	return slog.String("email", email)
}

// Token attributes
func TokenType(t string) slog.Attr {
	return slog.String("token_type", t)
}

func FamilyID(id string) slog.Attr {
	return slog.String("family_id", id)
}

func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// Service client attributes
func ClientID(id string) slog.Attr {
	return slog.String("client_id", id)
}

func Audience(aud string) slog.Attr {
	return slog.String("audience", aud)
}

func GrantType(grantType string) slog.Attr {
	return slog.String("grant_type", grantType)
}

// Authorization attributes
func Permission(name string) slog.Attr {
	return slog.String("permission", name)
}

func ResourceType(t string) slog.Attr {
	return slog.String("resource_type", t)
}

func ResourceID(id string) slog.Attr {
	return slog.String("resource_id", id)
}

func Decision(d string) slog.Attr {
	return slog.String("decision", d)
}

// Error attributes
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Component attributes
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Operation(op string) slog.Attr {
	return slog.String("operation", op)
}

// String creates a generic string attribute
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}
