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

// One-shot maintenance pass over expiry-bound data: long-expired
// refresh tokens, stale reset rate-limit windows and dead verification
// records. Intended for cron or a scheduled job runner; the server also
// prunes hourly on its own.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gatekit/gatekit/internal/config"
	"github.com/gatekit/gatekit/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	refreshRepo := postgres.NewRefreshRepository(db)
	resetAttemptRepo := postgres.NewResetAttemptRepository(db)
	verificationRepo := postgres.NewVerificationRepository(db)

	now := time.Now()
	if err := refreshRepo.DeleteExpiredBefore(ctx, now.Add(-cfg.Token.RefreshTTL)); err != nil {
		fmt.Printf("Failed to prune refresh tokens: %v\n", err)
		os.Exit(1)
	}
	if err := resetAttemptRepo.DeleteOlderThan(ctx, now.Add(-cfg.Reset.AttemptRetention)); err != nil {
		fmt.Printf("Failed to prune reset attempts: %v\n", err)
		os.Exit(1)
	}
	if err := verificationRepo.DeleteExpiredBefore(ctx, now.Add(-cfg.Verification.TokenTTL)); err != nil {
		fmt.Printf("Failed to prune verification records: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Cleanup complete.")
}
