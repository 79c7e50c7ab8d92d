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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatekit/gatekit/internal/audit"
	"github.com/gatekit/gatekit/internal/authz"
	"github.com/gatekit/gatekit/internal/config"
	"github.com/gatekit/gatekit/internal/identity"
	"github.com/gatekit/gatekit/internal/oauth"
	"github.com/gatekit/gatekit/internal/observability/logger"
	"github.com/gatekit/gatekit/internal/observability/metrics"
	"github.com/gatekit/gatekit/internal/observability/tracing"
	"github.com/gatekit/gatekit/internal/refresh"
	"github.com/gatekit/gatekit/internal/serviceclient"
	"github.com/gatekit/gatekit/internal/store/postgres"
	"github.com/gatekit/gatekit/internal/token"
	transportHTTP "github.com/gatekit/gatekit/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting gatekit auth service")

	ctx := context.Background()

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}
	authMetrics, err := metrics.NewAuthMetrics(meter)
	if err != nil {
		slog.Error("failed to register metrics", logger.Error(err))
	}

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
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Repositories
	userRepo := postgres.NewUserRepository(db)
	refreshRepo := postgres.NewRefreshRepository(db)
	verificationRepo := postgres.NewVerificationRepository(db)
	resetAttemptRepo := postgres.NewResetAttemptRepository(db)
	clientRepo := postgres.NewClientRepository(db)
	assignmentRepo := postgres.NewAuthzRepository(db)
	membershipRepo := postgres.NewMembershipRepository(db)
	permissionRepo := postgres.NewPermissionRepository(db)
	policyRepo := postgres.NewPolicyRepository(db)
	decisionRepo := postgres.NewDecisionRepository(db)

	// Helpers
	auditLogger := audit.NewSlogLogger()
	recorder := audit.NewRecorder(decisionRepo)
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	providers := oauth.NewRegistry()
	for _, p := range cfg.OAuth.Providers {
		providers.Register(oauth.NewOIDCProvider(p.Name, p.Issuer, p.ClientID, p.JWKSURL))
	}

	codec := token.NewCodec(
		cfg.Token.Secret,
		cfg.Token.Issuer,
		cfg.Token.AccessTTL,
		cfg.Token.RefreshTTL,
		cfg.Token.ServiceTTL,
	)
	signingKeys, err := token.NewSigningKeys()
	if err != nil {
		slog.Error("failed to generate signing keys", logger.Error(err))
		os.Exit(1)
	}

	// Services
	emailSender := identity.NewSlogSender()
	rateLimiter := identity.NewRateLimitService(resetAttemptRepo, cfg.Reset.MaxAttemptsPerHour)
	identityService := identity.NewService(
		userRepo,
		passwordHasher,
		providers,
		rateLimiter,
		emailSender,
		auditLogger,
		authMetrics,
		cfg.Reset.TokenTTL,
	)
	verificationService := identity.NewVerificationService(
		verificationRepo,
		userRepo,
		emailSender,
		auditLogger,
		cfg.Verification.TokenTTL,
		cfg.Verification.MaxAttempts,
		cfg.Verification.MaxResendsPerHour,
	)
	authzService := authz.NewService(
		assignmentRepo,
		membershipRepo,
		permissionRepo,
		policyRepo,
		recorder,
		authMetrics,
		slog.Default(),
	)
	refreshService := refresh.NewService(
		refreshRepo,
		userRepo,
		authzService,
		codec,
		auditLogger,
		authMetrics,
		cfg.Token.RefreshTTL,
	)
	clientService := serviceclient.NewService(clientRepo, codec, auditLogger)
	principals := authz.NewManager(codec, authzService)

	// HTTP
	httpRateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	handler := transportHTTP.NewHandler(
		identityService,
		verificationService,
		refreshService,
		authzService,
		clientService,
		principals,
		codec,
		signingKeys,
		auditLogger,
		cfg.Token.AccessTTL,
	)
	router := transportHTTP.NewRouter(handler, httpRateLimiter)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Hourly pruning of long-expired tokens and stale rate windows
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := refreshService.Cleanup(ctx, cfg.Token.RefreshTTL); err != nil {
				slog.ErrorContext(ctx, "failed to prune refresh tokens", logger.Error(err))
			}
			if err := rateLimiter.Cleanup(ctx, cfg.Reset.AttemptRetention); err != nil {
				slog.ErrorContext(ctx, "failed to prune reset attempts", logger.Error(err))
			}
		}
	}()

	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}
