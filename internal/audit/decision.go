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

package audit

import (
	"context"
	"log/slog"
	"time"
)

// Decision outcomes recorded for authorization checks
const (
	DecisionAllowed      = "ALLOWED"
	DecisionDenied       = "DENIED"
	DecisionNotEvaluated = "NOT_EVALUATED"
)

// DecisionLog is one immutable authorization audit record. Rows are
// append-only; nothing in the system updates or deletes them.
type DecisionLog struct {
	ID              string
	UserID          string
	Groups          []string
	Roles           []string
	RequestedAction string
	ResourceType    string
	ResourceID      string
	RBACResult      string
	ABACResult      *string
	FinalDecision   string
	Timestamp       time.Time
	Metadata        map[string]any
}

// DecisionStore persists authorization decisions
type DecisionStore interface {
	// Append writes a new decision record
	Append(ctx context.Context, log *DecisionLog) error

	// ListForUser retrieves decisions for a user, newest first
	ListForUser(ctx context.Context, userID string, limit int) ([]*DecisionLog, error)
}

// Recorder persists every authorization decision and mirrors it to the
// structured log. A persistence failure must not fail the authorization
// call itself.
type Recorder struct {
	store DecisionStore
}

// NewRecorder creates a decision recorder
func NewRecorder(store DecisionStore) *Recorder {
	return &Recorder{store: store}
}

// Record stores one decision
func (r *Recorder) Record(ctx context.Context, log *DecisionLog) {
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}

	if r.store != nil {
		if err := r.store.Append(ctx, log); err != nil {
			slog.ErrorContext(ctx, "failed to persist authorization decision",
				slog.String("error", err.Error()),
				slog.String("user_id", log.UserID),
				slog.String("action", log.RequestedAction),
			)
		}
	}

	abac := ""
	if log.ABACResult != nil {
		abac = *log.ABACResult
	}
	slog.InfoContext(ctx, "AUTHZ_DECISION",
		slog.String("user_id", log.UserID),
		slog.String("action", log.RequestedAction),
		slog.String("resource_type", log.ResourceType),
		slog.String("resource_id", log.ResourceID),
		slog.String("rbac_result", log.RBACResult),
		slog.String("abac_result", abac),
		slog.String("final_decision", log.FinalDecision),
		slog.String("component", "audit"),
	)
}
