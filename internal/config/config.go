package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Token         TokenConfig
	Security      SecurityConfig
	Reset         ResetConfig
	Verification  VerificationConfig
	OAuth         OAuthConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// TokenConfig holds JWT issuance configuration
type TokenConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ServiceTTL time.Duration
}

// SecurityConfig holds password hashing configuration
type SecurityConfig struct {
	Argon2Memory      uint32
	Argon2Iterations  uint32
	Argon2Parallelism uint8
	Argon2SaltLength  uint32
	Argon2KeyLength   uint32
}

// ResetConfig holds password reset flow configuration
type ResetConfig struct {
	TokenTTL           time.Duration
	MaxAttemptsPerHour int
	AttemptRetention   time.Duration
}

// VerificationConfig holds email verification configuration
type VerificationConfig struct {
	TokenTTL          time.Duration
	MaxAttempts       int
	MaxResendsPerHour int
}

// OAuthProviderConfig holds the trust anchors for one federated provider
type OAuthProviderConfig struct {
	Name     string
	Issuer   string
	ClientID string
	JWKSURL  string
}

// OAuthConfig holds federated sign-in configuration
type OAuthConfig struct {
	Providers []OAuthProviderConfig
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// RateLimitConfig holds transport-level rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "gatekit"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "gatekit"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Token: TokenConfig{
			Secret:     getEnv("TOKEN_SECRET", ""),
			Issuer:     getEnv("TOKEN_ISSUER", "gatekit"),
			AccessTTL:  parseDuration("TOKEN_ACCESS_TTL", "15m"),
			RefreshTTL: parseDuration("TOKEN_REFRESH_TTL", "720h"),
			ServiceTTL: parseDuration("TOKEN_SERVICE_TTL", "1h"),
		},
		Security: SecurityConfig{
			Argon2Memory:      uint32(parseInt("ARGON2_MEMORY", 65536)),
			Argon2Iterations:  uint32(parseInt("ARGON2_ITERATIONS", 3)),
			Argon2Parallelism: uint8(parseInt("ARGON2_PARALLELISM", 4)),
			Argon2SaltLength:  uint32(parseInt("ARGON2_SALT_LENGTH", 16)),
			Argon2KeyLength:   uint32(parseInt("ARGON2_KEY_LENGTH", 32)),
		},
		Reset: ResetConfig{
			TokenTTL:           parseDuration("RESET_TOKEN_TTL", "1h"),
			MaxAttemptsPerHour: parseInt("RESET_MAX_ATTEMPTS_PER_HOUR", 3),
			AttemptRetention:   parseDuration("RESET_ATTEMPT_RETENTION", "24h"),
		},
		Verification: VerificationConfig{
			TokenTTL:          parseDuration("VERIFICATION_TOKEN_TTL", "8h"),
			MaxAttempts:       parseInt("VERIFICATION_MAX_ATTEMPTS", 5),
			MaxResendsPerHour: parseInt("VERIFICATION_MAX_RESENDS_PER_HOUR", 3),
		},
		OAuth: OAuthConfig{
			Providers: parseProviders(),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "gatekit"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 10)),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Token.Secret == "" {
		return fmt.Errorf("TOKEN_SECRET is required")
	}
	if len(c.Token.Secret) < 32 {
		return fmt.Errorf("TOKEN_SECRET must be at least 32 bytes")
	}
	return nil
}

// parseProviders reads OAUTH_PROVIDERS as a comma-separated list of provider
// names; each provider then has OAUTH_<NAME>_ISSUER, OAUTH_<NAME>_CLIENT_ID
// and OAUTH_<NAME>_JWKS_URL variables.
func parseProviders() []OAuthProviderConfig {
	names := getEnv("OAUTH_PROVIDERS", "")
	if names == "" {
		return nil
	}

	var providers []OAuthProviderConfig
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		prefix := "OAUTH_" + strings.ToUpper(name)
		providers = append(providers, OAuthProviderConfig{
			Name:     strings.ToLower(name),
			Issuer:   getEnv(prefix+"_ISSUER", ""),
			ClientID: getEnv(prefix+"_CLIENT_ID", ""),
			JWKSURL:  getEnv(prefix+"_JWKS_URL", ""),
		})
	}
	return providers
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
