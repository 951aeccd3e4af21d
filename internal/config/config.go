// Package config loads the startup environment contract. The resulting value
// is constructed once in main and passed into the components that need it; no
// package reads the environment after startup.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Environment names recognised by NODE_ENV.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Driver names for the account store.
const (
	DriverSupabase = "supabase"
	DriverPostgres = "postgres"
	DriverJSON     = "json"
)

// Config is the validated startup configuration.
type Config struct {
	Environment        string
	Port               int
	SupabaseURL        string
	SupabaseServiceKey string
	CORSAllowedOrigins []string

	// StoreDriver selects the account-pool backend. Supabase is the
	// default; the postgres and json drivers are for deployments with
	// direct database access and for development respectively.
	StoreDriver string
	PostgresDSN string
	JSONPath    string
}

// AllowAnyOrigin reports whether origin restriction is disabled; development
// mode turns CORS enforcement off.
func (c Config) AllowAnyOrigin() bool {
	return c.Environment == EnvDevelopment
}

// Addr returns the HTTP listen address derived from Port.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Options controls loading behaviour that comes from flags rather than the
// environment.
type Options struct {
	// StoreDriver overrides ACCOUNT_STORE_DRIVER when non-empty.
	StoreDriver string
	// JSONPath overrides ACCOUNT_STORE_PATH when non-empty.
	JSONPath string
}

// Load reads and validates the environment. All violations are collected into
// a single validation report so an operator can fix them in one pass; the
// caller terminates the process on error.
func Load(opts Options) (Config, error) {
	cfg := Config{
		Environment: EnvDevelopment,
		Port:        3000,
	}
	var violations []string

	if env := strings.TrimSpace(os.Getenv("NODE_ENV")); env != "" {
		switch env {
		case EnvDevelopment, EnvProduction, EnvTest:
			cfg.Environment = env
		default:
			violations = append(violations, fmt.Sprintf("NODE_ENV must be one of development, production, test (got %q)", env))
		}
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil || parsed < 1 || parsed > 65535 {
			violations = append(violations, fmt.Sprintf("PORT must be a valid port number (got %q)", port))
		} else {
			cfg.Port = parsed
		}
	}

	cfg.StoreDriver = resolveDriver(opts.StoreDriver, os.Getenv("ACCOUNT_STORE_DRIVER"))
	switch cfg.StoreDriver {
	case DriverSupabase, DriverPostgres, DriverJSON:
	default:
		violations = append(violations, fmt.Sprintf("unsupported account store driver %q", cfg.StoreDriver))
	}

	cfg.SupabaseURL = strings.TrimSpace(os.Getenv("SUPABASE_URL"))
	cfg.SupabaseServiceKey = strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_ROLE_KEY"))
	if cfg.StoreDriver == DriverSupabase {
		if cfg.SupabaseURL == "" {
			violations = append(violations, "SUPABASE_URL is required")
		} else if parsed, err := url.Parse(cfg.SupabaseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			violations = append(violations, fmt.Sprintf("SUPABASE_URL must be a valid URL (got %q)", cfg.SupabaseURL))
		}
		if cfg.SupabaseServiceKey == "" {
			violations = append(violations, "SUPABASE_SERVICE_ROLE_KEY is required")
		}
	}

	cfg.PostgresDSN = strings.TrimSpace(firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("POSTGRES_DSN")))
	if cfg.StoreDriver == DriverPostgres && cfg.PostgresDSN == "" {
		violations = append(violations, "DATABASE_URL is required for the postgres account store")
	}

	cfg.JSONPath = strings.TrimSpace(firstNonEmpty(opts.JSONPath, os.Getenv("ACCOUNT_STORE_PATH")))
	if cfg.StoreDriver == DriverJSON && cfg.JSONPath == "" {
		cfg.JSONPath = "data/accounts.json"
	}

	cfg.CORSAllowedOrigins = splitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS"))

	if len(violations) > 0 {
		return Config{}, &ValidationError{Violations: violations}
	}
	return cfg, nil
}

// ValidationError reports every configuration violation found during Load.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Violations, "; "))
}

func resolveDriver(flagValue, envValue string) string {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver
	}
	return DriverSupabase
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
