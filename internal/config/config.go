package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/guillermoBallester/tenantline/internal/core/domain"
)

type Config struct {
	// Database connection. Without a URL only statement rewriting is served.
	DatabaseURL  string
	QueryTimeout time.Duration

	// Tenancy.
	Tenancy       Tenancy
	TenantHeader  string // HTTP header carrying the tenant id
	TenantSetting string // custom GUC set to the tenant per transaction, for RLS
	PolicyFile    string // optional path to policy YAML

	// Statement pipeline.
	MaxLimit    int64 // 0 disables pagination
	BlockAttack bool
	ReadOnly    bool

	// Logging.
	LogLevel slog.Level

	// Transport.
	Transport       string // "stdio" (default) or "http"
	HTTPAddr        string // listen address for HTTP transport (default ":8080")
	HTTPBearerToken string // required when transport=http

	// Connection pool.
	PoolMaxConns        int32         // default: 5
	PoolMinConns        int32         // default: 1
	PoolMaxConnLifetime time.Duration // default: 30m

	// Observability.
	OTelEnabled bool // enable OpenTelemetry tracing and metrics

	// Audit.
	AuditLog          string // path to NDJSON audit log file
	AuditLogMaxSizeMB int    // rotate at this size; 0 never rotates

	// CLI-only fields (not settable via env vars).
	DryRun      bool
	ExplainOnly bool
}

// Tenancy holds the raw tenancy settings. Empty fields may still be filled
// from the policy file before Resolve is called.
type Tenancy struct {
	Mode         string
	SchemaPrefix string
	TenantColumn string
}

// Resolve parses and validates the settings into a domain configuration.
func (t Tenancy) Resolve(exempt func(table string) bool) (domain.TenancyConfig, error) {
	mode, err := domain.ParseTenancyMode(t.Mode)
	if err != nil {
		return domain.TenancyConfig{}, err
	}
	cfg := domain.TenancyConfig{
		Mode:          mode,
		SchemaPrefix:  t.SchemaPrefix,
		TenantColumn:  strings.TrimSpace(t.TenantColumn),
		IsExemptTable: exempt,
	}
	if err := cfg.Validate(); err != nil {
		return domain.TenancyConfig{}, err
	}
	return cfg, nil
}

// Overrides holds CLI flag values that override environment variables.
// Pointer fields distinguish "not set" from zero values.
type Overrides struct {
	DatabaseURL     *string
	LogLevel        *string
	MaxLimit        *int64
	QueryTimeout    *time.Duration
	PolicyFile      *string
	Transport       *string
	HTTPAddr        *string
	HTTPBearerToken *string
	OTelEnabled     bool
	DryRun          bool
	ExplainOnly     bool
	ReadOnly        bool
	AuditLog        *string

	// Tenancy overrides.
	MultiTenantType *string
	TenantPrefix    *string
	TenantColumn    *string
	TenantHeader    *string
	TenantSetting   *string

	// Connection pool overrides.
	PoolMaxConns        *int32
	PoolMinConns        *int32
	PoolMaxConnLifetime *time.Duration
}

// Load builds a Config from environment variables, then applies CLI overrides,
// then validates the result.
func Load(overrides Overrides) (*Config, error) {
	cfg := defaults()

	if err := loadEnvVars(cfg); err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaults returns a Config populated with default values.
func defaults() *Config {
	return &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		QueryTimeout:        10 * time.Second,
		TenantHeader:        "Tenant",
		MaxLimit:            1000,
		BlockAttack:         true,
		Transport:           "stdio",
		HTTPAddr:            ":8080",
		PoolMaxConns:        5,
		PoolMinConns:        1,
		PoolMaxConnLifetime: 30 * time.Minute,
	}
}

// loadEnvVars reads all supported environment variables into cfg.
func loadEnvVars(cfg *Config) error {
	if err := loadBool("READ_ONLY", &cfg.ReadOnly); err != nil {
		return err
	}
	if err := loadBool("BLOCK_ATTACK", &cfg.BlockAttack); err != nil {
		return err
	}

	if v := os.Getenv("MAX_LIMIT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 || n > domain.MaxLimit {
			return fmt.Errorf("invalid MAX_LIMIT value %q: must be an integer between 0 and %d", v, domain.MaxLimit)
		}
		cfg.MaxLimit = n
	}

	if v := os.Getenv("QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid QUERY_TIMEOUT value %q: %w", v, err)
		}
		cfg.QueryTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}

	cfg.Tenancy.Mode = os.Getenv("MULTI_TENANT_TYPE")
	cfg.Tenancy.SchemaPrefix = os.Getenv("TENANT_DATABASE_PREFIX")
	cfg.Tenancy.TenantColumn = os.Getenv("TENANT_ID_COLUMN")
	if v := os.Getenv("TENANT_HEADER"); v != "" {
		cfg.TenantHeader = v
	}
	cfg.TenantSetting = os.Getenv("TENANT_SESSION_SETTING")

	cfg.PolicyFile = os.Getenv("POLICY_FILE")

	if v := os.Getenv("TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.HTTPBearerToken = os.Getenv("HTTP_BEARER_TOKEN")

	if err := loadBool("OTEL_ENABLED", &cfg.OTelEnabled); err != nil {
		return err
	}

	cfg.AuditLog = os.Getenv("AUDIT_LOG")
	if v := os.Getenv("AUDIT_LOG_MAX_SIZE_MB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid AUDIT_LOG_MAX_SIZE_MB value %q: must be a non-negative integer", v)
		}
		cfg.AuditLogMaxSizeMB = n
	}

	if err := loadPoolEnvVars(cfg); err != nil {
		return err
	}

	return nil
}

func loadBool(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	*dst = b
	return nil
}

// loadPoolEnvVars reads connection pool environment variables.
func loadPoolEnvVars(cfg *Config) error {
	if v := os.Getenv("POOL_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid POOL_MAX_CONNS value %q: must be a positive integer", v)
		}
		cfg.PoolMaxConns = int32(n)
	}
	if v := os.Getenv("POOL_MIN_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid POOL_MIN_CONNS value %q: must be a non-negative integer", v)
		}
		cfg.PoolMinConns = int32(n)
	}
	if v := os.Getenv("POOL_MAX_CONN_LIFETIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid POOL_MAX_CONN_LIFETIME value %q: %w", v, err)
		}
		cfg.PoolMaxConnLifetime = d
	}
	return nil
}

// applyOverrides applies CLI flag values on top of the env-loaded config.
func applyOverrides(cfg *Config, o Overrides) error {
	if o.DatabaseURL != nil {
		cfg.DatabaseURL = *o.DatabaseURL
	}
	if o.LogLevel != nil {
		level, err := parseLogLevel(*o.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if o.MaxLimit != nil {
		if *o.MaxLimit < 0 || *o.MaxLimit > domain.MaxLimit {
			return fmt.Errorf("invalid --max-limit value %d: must be between 0 and %d", *o.MaxLimit, domain.MaxLimit)
		}
		cfg.MaxLimit = *o.MaxLimit
	}
	if o.QueryTimeout != nil {
		cfg.QueryTimeout = *o.QueryTimeout
	}
	if o.PolicyFile != nil {
		cfg.PolicyFile = *o.PolicyFile
	}
	if o.Transport != nil {
		cfg.Transport = *o.Transport
	}
	if o.HTTPAddr != nil {
		cfg.HTTPAddr = *o.HTTPAddr
	}
	if o.HTTPBearerToken != nil {
		cfg.HTTPBearerToken = *o.HTTPBearerToken
	}
	if o.AuditLog != nil {
		cfg.AuditLog = *o.AuditLog
	}

	applyTenancyOverrides(cfg, o)

	if err := applyPoolOverrides(cfg, o); err != nil {
		return err
	}

	cfg.DryRun = o.DryRun
	cfg.ExplainOnly = o.ExplainOnly
	cfg.ReadOnly = cfg.ReadOnly || o.ReadOnly
	cfg.OTelEnabled = cfg.OTelEnabled || o.OTelEnabled

	return nil
}

func applyTenancyOverrides(cfg *Config, o Overrides) {
	if o.MultiTenantType != nil {
		cfg.Tenancy.Mode = *o.MultiTenantType
	}
	if o.TenantPrefix != nil {
		cfg.Tenancy.SchemaPrefix = *o.TenantPrefix
	}
	if o.TenantColumn != nil {
		cfg.Tenancy.TenantColumn = *o.TenantColumn
	}
	if o.TenantHeader != nil && *o.TenantHeader != "" {
		cfg.TenantHeader = *o.TenantHeader
	}
	if o.TenantSetting != nil {
		cfg.TenantSetting = *o.TenantSetting
	}
}

// applyPoolOverrides applies connection pool CLI flag overrides.
func applyPoolOverrides(cfg *Config, o Overrides) error {
	if o.PoolMaxConns != nil {
		if *o.PoolMaxConns <= 0 {
			return fmt.Errorf("invalid --pool-max-conns value: must be a positive integer")
		}
		cfg.PoolMaxConns = *o.PoolMaxConns
	}
	if o.PoolMinConns != nil {
		if *o.PoolMinConns < 0 {
			return fmt.Errorf("invalid --pool-min-conns value: must be a non-negative integer")
		}
		cfg.PoolMinConns = *o.PoolMinConns
	}
	if o.PoolMaxConnLifetime != nil {
		cfg.PoolMaxConnLifetime = *o.PoolMaxConnLifetime
	}
	return nil
}

// validate checks cross-field constraints on the final config. Tenancy is
// only fully resolved here when no policy file can still fill it in.
func validate(cfg *Config) error {
	if cfg.PolicyFile == "" {
		if _, err := cfg.Tenancy.Resolve(nil); err != nil {
			return err
		}
	} else if _, err := domain.ParseTenancyMode(cfg.Tenancy.Mode); err != nil {
		return err
	}

	// PostgreSQL only accepts custom settings in the "prefix.name" form.
	if cfg.TenantSetting != "" && !strings.Contains(strings.Trim(cfg.TenantSetting, "."), ".") {
		return fmt.Errorf("invalid TENANT_SESSION_SETTING value %q: must look like \"app.tenant_id\"", cfg.TenantSetting)
	}

	if cfg.ExplainOnly && cfg.DatabaseURL == "" {
		return fmt.Errorf("--explain-only requires DATABASE_URL")
	}

	switch cfg.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid TRANSPORT value %q: must be \"stdio\" or \"http\"", cfg.Transport)
	}

	if cfg.Transport == "http" && cfg.HTTPBearerToken == "" {
		return fmt.Errorf("HTTP_BEARER_TOKEN is required when transport is \"http\" (set via env var or --http-bearer-token flag)")
	}

	if cfg.PoolMinConns > cfg.PoolMaxConns {
		return fmt.Errorf("POOL_MIN_CONNS (%d) must not exceed POOL_MAX_CONNS (%d)", cfg.PoolMinConns, cfg.PoolMaxConns)
	}

	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL value %q: must be debug, info, warn, or error", s)
	}
}
