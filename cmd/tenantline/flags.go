package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"

	"github.com/guillermoBallester/tenantline/internal/config"
	"github.com/guillermoBallester/tenantline/internal/core/domain"
)

// parseFlags maps command line flags onto config overrides. Only flags that
// were set on the command line produce an override.
func parseFlags(args []string) (config.Overrides, error) {
	fs := flag.NewFlagSet("tenantline", flag.ContinueOnError)

	var (
		databaseURL     = fs.String("database-url", "", "PostgreSQL connection URL (env DATABASE_URL)")
		logLevel        = fs.String("log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
		maxLimit        = fs.Int64("max-limit", 0, "LIMIT cap applied to SELECT statements, 0 disables (env MAX_LIMIT)")
		queryTimeout    = fs.Duration("query-timeout", 0, "per-statement timeout (env QUERY_TIMEOUT)")
		policyFile      = fs.String("policy-file", "", "path to the tenancy policy YAML (env POLICY_FILE)")
		transport       = fs.String("transport", "", "stdio or http (env TRANSPORT)")
		httpAddr        = fs.String("http-addr", "", "listen address for the http transport (env HTTP_ADDR)")
		httpBearerToken = fs.String("http-bearer-token", "", "bearer token for the http transport (env HTTP_BEARER_TOKEN)")
		auditLog        = fs.String("audit-log", "", "path to the NDJSON audit log (env AUDIT_LOG)")
		multiTenantType = fs.String("multi-tenant-type", "", "NONE, SCHEMA or COLUMN (env MULTI_TENANT_TYPE)")
		tenantPrefix    = fs.String("tenant-prefix", "", "schema prefix for SCHEMA tenancy (env TENANT_DATABASE_PREFIX)")
		tenantColumn    = fs.String("tenant-column", "", "tenant column for COLUMN tenancy (env TENANT_ID_COLUMN)")
		tenantHeader    = fs.String("tenant-header", "", "HTTP header carrying the tenant id (env TENANT_HEADER)")
		tenantSetting   = fs.String("tenant-session-setting", "", "custom setting holding the tenant per transaction, e.g. app.tenant_id (env TENANT_SESSION_SETTING)")
		poolMaxConns    = fs.Int("pool-max-conns", 0, "maximum pool connections (env POOL_MAX_CONNS)")
		poolMinConns    = fs.Int("pool-min-conns", 0, "minimum pool connections (env POOL_MIN_CONNS)")
		poolLifetime    = fs.Duration("pool-max-conn-lifetime", 0, "maximum connection lifetime (env POOL_MAX_CONN_LIFETIME)")
	)

	var o config.Overrides
	fs.BoolVar(&o.OTelEnabled, "otel", false, "enable OpenTelemetry tracing and metrics")
	fs.BoolVar(&o.DryRun, "dry-run", false, "print the effective configuration and exit")
	fs.BoolVar(&o.ExplainOnly, "explain-only", false, "only execute EXPLAIN statements")
	fs.BoolVar(&o.ReadOnly, "read-only", false, "reject write statements")

	if err := fs.Parse(args); err != nil {
		return config.Overrides{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "database-url":
			o.DatabaseURL = databaseURL
		case "log-level":
			o.LogLevel = logLevel
		case "max-limit":
			o.MaxLimit = maxLimit
		case "query-timeout":
			o.QueryTimeout = queryTimeout
		case "policy-file":
			o.PolicyFile = policyFile
		case "transport":
			o.Transport = transport
		case "http-addr":
			o.HTTPAddr = httpAddr
		case "http-bearer-token":
			o.HTTPBearerToken = httpBearerToken
		case "audit-log":
			o.AuditLog = auditLog
		case "multi-tenant-type":
			o.MultiTenantType = multiTenantType
		case "tenant-prefix":
			o.TenantPrefix = tenantPrefix
		case "tenant-column":
			o.TenantColumn = tenantColumn
		case "tenant-header":
			o.TenantHeader = tenantHeader
		case "tenant-session-setting":
			o.TenantSetting = tenantSetting
		case "pool-max-conns":
			n := int32(*poolMaxConns)
			o.PoolMaxConns = &n
		case "pool-min-conns":
			n := int32(*poolMinConns)
			o.PoolMinConns = &n
		case "pool-max-conn-lifetime":
			o.PoolMaxConnLifetime = poolLifetime
		}
	})

	return o, nil
}

// redactDSN masks the password in a connection URL. Unparseable input is
// masked entirely.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

type dryRunOutput struct {
	DatabaseURL   string `json:"database_url,omitempty"`
	TenancyMode   string `json:"tenancy_mode"`
	SchemaPrefix  string `json:"tenant_database_prefix,omitempty"`
	TenantColumn  string `json:"tenant_id_column,omitempty"`
	TenantHeader  string `json:"tenant_header"`
	TenantSetting string `json:"tenant_session_setting,omitempty"`
	PolicyFile    string `json:"policy_file,omitempty"`
	MaxLimit      int64  `json:"max_limit"`
	BlockAttack   bool   `json:"block_attack"`
	ReadOnly      bool   `json:"read_only"`
	ExplainOnly   bool   `json:"explain_only"`
	QueryTimeout  string `json:"query_timeout"`
	Transport     string `json:"transport"`
	HTTPAddr      string `json:"http_addr,omitempty"`
	AuditLog      string `json:"audit_log,omitempty"`
	OTelEnabled   bool   `json:"otel_enabled"`
}

// printDryRun writes the effective configuration as JSON. Secrets are never
// printed.
func printDryRun(w io.Writer, cfg *config.Config, tenancy domain.TenancyConfig) error {
	out := dryRunOutput{
		TenancyMode:   string(tenancy.Mode),
		SchemaPrefix:  tenancy.SchemaPrefix,
		TenantColumn:  tenancy.TenantColumn,
		TenantHeader:  cfg.TenantHeader,
		TenantSetting: cfg.TenantSetting,
		PolicyFile:    cfg.PolicyFile,
		MaxLimit:      cfg.MaxLimit,
		BlockAttack:   cfg.BlockAttack,
		ReadOnly:      cfg.ReadOnly,
		ExplainOnly:   cfg.ExplainOnly,
		QueryTimeout:  cfg.QueryTimeout.String(),
		Transport:     cfg.Transport,
		AuditLog:      cfg.AuditLog,
		OTelEnabled:   cfg.OTelEnabled,
	}
	if cfg.DatabaseURL != "" {
		out.DatabaseURL = redactDSN(cfg.DatabaseURL)
	}
	if cfg.Transport == "http" {
		out.HTTPAddr = cfg.HTTPAddr
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("writing dry run output: %w", err)
	}
	return nil
}
