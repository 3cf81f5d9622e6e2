package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kora-labs/kora-rent/internal/audit"
	"github.com/kora-labs/kora-rent/internal/config"
	"github.com/kora-labs/kora-rent/internal/ledger"
	otelpkg "github.com/kora-labs/kora-rent/internal/otel"
	"github.com/kora-labs/kora-rent/internal/telemetry"
)

// runtime bundles the dependencies every subcommand wires its package
// against: config, the opened ledger, a logger, and the otel provider.
// Close releases all of them in reverse-acquisition order.
type runtime struct {
	Cfg     config.Config
	Store   *ledger.Store
	Logger  *slog.Logger
	Otel    *otelpkg.Provider
	Metrics *otelpkg.Metrics
	Close   func()
}

// bootstrap runs kora-rent's fixed startup sequence: load config, init
// audit, init the logger, init otel, open the network's ledger. network
// and rpcOverride, if non-empty, take precedence over config.yaml/env for
// this one invocation, matching the `--network`/`--rpc` flags every
// subcommand in spec.md §6 accepts.
func bootstrap(ctx context.Context, network, rpcOverride, logLevelOverride string, otelEnabled bool) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}
	if network != "" {
		cfg.Network = network
	}
	if rpcOverride != "" {
		cfg.RPCEndpoint = rpcOverride
	}
	if logLevelOverride != "" {
		cfg.LogLevel = logLevelOverride
	}

	// Audit initializes before the logger so a logger-init failure is itself
	// audited, matching the teacher's own startup ordering.
	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "network", cfg.Network)

	provider, err := otelpkg.Init(ctx, otelpkg.Config{
		Enabled:     otelEnabled || cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}

	metrics, err := otelpkg.NewMetrics(provider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_METRICS_INIT", err)
	}

	dbPath := ledger.DBPath(cfg.HomeDir, cfg.Network)
	store, err := ledger.Open(dbPath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	audit.SetStore(store)
	logger.Info("startup phase", "phase", "ledger_opened", "path", dbPath)

	n, err := store.UnlockStaleLocks(ctx, time.Now().Add(-time.Duration(cfg.Reclaimer.StaleLockMinutes)*time.Minute))
	if err != nil {
		logger.Warn("startup stale-lock sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("startup stale-lock sweep cleared locks", "count", n)
	}

	closed := false
	closeFn := func() {
		if closed {
			return
		}
		closed = true
		_ = store.Close()
		_ = provider.Shutdown(ctx)
		_ = audit.Close()
		_ = closer.Close()
	}

	return &runtime{Cfg: cfg, Store: store, Logger: logger, Otel: provider, Metrics: metrics, Close: closeFn}, nil
}

// fatalStartup records a structured fatal audit entry, logs (or, if no
// logger is available yet, prints a minimal structured line to stderr),
// then exits 1 — spec.md §7's LedgerIntegrityError and general startup
// failures are never masked.
func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "runtime.startup", message, map[string]interface{}{"reason_code": reasonCode})

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, `{"timestamp":%q,"level":"ERROR","component":"runtime","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano), reasonCode, message)
	}
	os.Exit(1)
}
