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

package postgres

import (
	"context"
	"fmt"

	"github.com/gatekit/gatekit/internal/audit"
)

// DecisionRepository implements audit.DecisionStore. The table is
// append-only; no update or delete path exists.
type DecisionRepository struct {
	db *DB
}

// NewDecisionRepository creates a new decision log repository
func NewDecisionRepository(db *DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Append writes a new decision record
func (r *DecisionRepository) Append(ctx context.Context, log *audit.DecisionLog) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO decision_logs (
			id, user_id, groups, roles, requested_action, resource_type,
			resource_id, rbac_result, abac_result, final_decision, ts, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		log.ID, log.UserID, log.Groups, log.Roles, log.RequestedAction,
		log.ResourceType, log.ResourceID, log.RBACResult, log.ABACResult,
		log.FinalDecision, log.Timestamp, log.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to append decision log: %w", err)
	}
	return nil
}

// ListForUser retrieves decisions for a user, newest first
func (r *DecisionRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*audit.DecisionLog, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, user_id, groups, roles, requested_action, resource_type,
			resource_id, rbac_result, abac_result, final_decision, ts, metadata
		FROM decision_logs
		WHERE user_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decision logs: %w", err)
	}
	defer rows.Close()

	var logs []*audit.DecisionLog
	for rows.Next() {
		var log audit.DecisionLog
		if err := rows.Scan(
			&log.ID, &log.UserID, &log.Groups, &log.Roles, &log.RequestedAction,
			&log.ResourceType, &log.ResourceID, &log.RBACResult, &log.ABACResult,
			&log.FinalDecision, &log.Timestamp, &log.Metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision log: %w", err)
		}
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}
