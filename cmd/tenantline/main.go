package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/guillermoBallester/tenantline/internal/adapter/mcp"
	"github.com/guillermoBallester/tenantline/internal/adapter/policy"
	"github.com/guillermoBallester/tenantline/internal/adapter/postgres"
	"github.com/guillermoBallester/tenantline/internal/audit"
	"github.com/guillermoBallester/tenantline/internal/config"
	"github.com/guillermoBallester/tenantline/internal/core/domain"
	"github.com/guillermoBallester/tenantline/internal/core/port"
	"github.com/guillermoBallester/tenantline/internal/core/service"
	"github.com/guillermoBallester/tenantline/internal/telemetry"
	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// A missing .env is normal; anything else is worth failing on.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	overrides, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Logs go to stderr; stdout is reserved for the MCP stdio transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	var exempt func(string) bool
	if cfg.PolicyFile != "" {
		pol, err := policy.LoadFromFile(cfg.PolicyFile)
		if err != nil {
			return fmt.Errorf("loading policy: %w", err)
		}
		policy.MergeTenancy(&cfg.Tenancy, pol.Tenancy)
		exempt = pol.Tenancy.ExemptHook()
		logger.Info("policy loaded", slog.String("file", cfg.PolicyFile))
	}

	tenancy, err := cfg.Tenancy.Resolve(exempt)
	if err != nil {
		return fmt.Errorf("resolving tenancy: %w", err)
	}

	if cfg.DryRun {
		return printDryRun(os.Stdout, cfg, tenancy)
	}

	logger.Info("starting tenantline",
		slog.String("version", version),
		slog.String("log_level", cfg.LogLevel.String()),
		slog.String("tenancy.mode", string(tenancy.Mode)),
		slog.Bool("read_only", cfg.ReadOnly),
		slog.Bool("block_attack", cfg.BlockAttack),
		slog.Int64("max_limit", cfg.MaxLimit),
		slog.String("transport", cfg.Transport),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracer := telemetry.NoopTracer()
	inst := telemetry.NoopInstruments()
	if cfg.OTelEnabled {
		provider, err := telemetry.Init(ctx, telemetry.Options{
			ServiceName: "tenantline",
			Version:     version,
			Tenancy:     tenancy,
		})
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			if err := provider.Shutdown(context.Background()); err != nil {
				logger.Error("telemetry shutdown", slog.String("error", err.Error()))
			}
		}()
		tracer = provider.Tracer("tenantline")
		inst = telemetry.NewInstruments()
		logger.Info("opentelemetry enabled")
	}

	domainPolicy, err := domain.NewPolicy(tenancy)
	if err != nil {
		return fmt.Errorf("building tenancy policy: %w", err)
	}
	pipeline := service.NewPipeline(domainPolicy, service.PipelineOptions{
		MaxLimit:    cfg.MaxLimit,
		BlockAttack: cfg.BlockAttack,
		ReadOnly:    cfg.ReadOnly,
	}.Stages()...)

	var auditor port.QueryAuditor = port.NoopAuditor{}
	if cfg.AuditLog != "" {
		fa, err := audit.Open(cfg.AuditLog, cfg.AuditLogMaxSizeMB)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer fa.Close()
		auditor = fa
		logger.Info("audit log enabled", slog.String("file", cfg.AuditLog))
	}

	querySvc, catalogSvc, cleanup, err := buildServices(ctx, cfg, pipeline, auditor, logger, tracer, inst)
	if err != nil {
		return err
	}
	defer cleanup()

	mcpServer := mcp.NewServer(version, querySvc, catalogSvc, logger, tracer, inst)

	if cfg.Transport == "http" {
		return serveHTTP(ctx, cfg, mcpServer, logger)
	}

	stdioServer := mcpserver.NewStdioServer(mcpServer)

	logger.Info("serving MCP over stdio")
	if err := stdioServer.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		return fmt.Errorf("stdio server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// buildServices wires the database adapters when a URL is configured.
// Without one only statement rewriting is offered.
func buildServices(
	ctx context.Context,
	cfg *config.Config,
	pipeline *service.Pipeline,
	auditor port.QueryAuditor,
	logger *slog.Logger,
	tracer trace.Tracer,
	inst port.Instrumentation,
) (*service.QueryService, *service.CatalogService, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("no database configured, serving rewrite_sql only")
		return service.NewQueryService(pipeline, nil, auditor, logger, tracer, inst), nil, func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{
		MaxConns:        cfg.PoolMaxConns,
		MinConns:        cfg.PoolMinConns,
		MaxConnLifetime: cfg.PoolMaxConnLifetime,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	logger.Info("database pool connected",
		slog.String("db.system", "postgresql"),
		slog.String("database_url", redactDSN(cfg.DatabaseURL)),
	)

	var executor port.QueryExecutor = postgres.NewExecutor(pool, postgres.ExecutorOptions{
		ReadOnly:      cfg.ReadOnly,
		QueryTimeout:  cfg.QueryTimeout,
		TenantSetting: cfg.TenantSetting,
	})
	if cfg.ExplainOnly {
		executor = postgres.NewExplainOnlyExecutor(executor)
		logger.Info("explain-only mode enabled")
	}

	querySvc := service.NewQueryService(pipeline, executor, auditor, logger, tracer, inst)
	catalogSvc := service.NewCatalogService(pipeline.Policy(), postgres.NewCatalog(pool), tracer)
	return querySvc, catalogSvc, pool.Close, nil
}
