// Package bootstrap wires configuration, infrastructure and services into a
// running application. cmd/server and cmd/backfill share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	auditapp "github.com/erp/postingengine/internal/application/audit"
	"github.com/erp/postingengine/internal/application/governance"
	"github.com/erp/postingengine/internal/application/posting"
	validationapp "github.com/erp/postingengine/internal/application/validation"
	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/domain/trade"
	"github.com/erp/postingengine/internal/infrastructure/cache"
	"github.com/erp/postingengine/internal/infrastructure/config"
	"github.com/erp/postingengine/internal/infrastructure/event"
	"github.com/erp/postingengine/internal/infrastructure/lock"
	"github.com/erp/postingengine/internal/infrastructure/logger"
	"github.com/erp/postingengine/internal/infrastructure/persistence"
	"github.com/erp/postingengine/internal/infrastructure/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the wired services and the resources that must be released on
// shutdown
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *persistence.Database
	Redis  *redis.Client
	Bus    *event.InMemoryEventBus

	Validator  *validationapp.Service
	Governance *governance.Service
	Posting    *posting.Service
	Documents  *posting.DocumentService
	Audit      *auditapp.Service
	Metrics    *telemetry.EngineMetrics

	tracer   *telemetry.TracerProvider
	meter    *telemetry.MeterProvider
	logs     *telemetry.LoggerProvider
	delivery shared.IdempotencyStore
}

// NewLogger builds the application logger. When OTLP log export is enabled
// the returned logger also feeds the collector.
func NewLogger(ctx context.Context, cfg *config.Config) (*zap.Logger, *telemetry.LoggerProvider, error) {
	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	}
	base, err := logger.New(logCfg)
	if err != nil {
		return nil, nil, err
	}

	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Export:  exportOf(cfg.Telemetry),
		Enabled: cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
	}, base)
	if err != nil {
		return nil, nil, err
	}
	if !lp.IsEnabled() {
		return base, lp, nil
	}

	teed, err := logger.New(logCfg, lp.ZapCore(logger.ParseLevel(cfg.Log.Level)))
	if err != nil {
		return nil, nil, err
	}
	return teed, lp, nil
}

// New connects to the database (and Redis when enabled), starts telemetry
// and builds every service. logs may be nil; when set it is shut down by
// Close.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, logs *telemetry.LoggerProvider) (*App, error) {
	app := &App{Config: cfg, Logger: log, logs: logs}
	if err := app.init(ctx); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	if err := a.initTelemetry(ctx); err != nil {
		return err
	}
	if err := a.initDatabase(); err != nil {
		return err
	}
	if a.Config.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, a.Config.Redis)
		if err != nil {
			return err
		}
		a.Redis = client
		a.Logger.Info("Redis connected", zap.String("addr", a.Config.Redis.Addr()))
	}

	a.initServices()
	a.initNotifications()
	return a.Bus.Start(ctx)
}

func (a *App) initTelemetry(ctx context.Context) error {
	cfg := a.Config.Telemetry
	var err error
	a.tracer, err = telemetry.NewTracerProvider(ctx, telemetry.TracingConfig{
		Export:        exportOf(cfg),
		Enabled:       cfg.Enabled,
		SamplingRatio: cfg.SamplingRatio,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("tracer provider: %w", err)
	}

	a.meter, err = telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Export:   exportOf(cfg),
		Enabled:  cfg.Enabled && cfg.MetricsEnabled,
		Interval: cfg.MetricsInterval,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("meter provider: %w", err)
	}
	return nil
}

func exportOf(cfg config.TelemetryConfig) telemetry.Export {
	return telemetry.Export{
		Endpoint:    cfg.CollectorEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.Insecure,
	}
}

func (a *App) initDatabase() error {
	cfg := a.Config
	gormLog := logger.NewGormLogger(a.Logger, logger.GormLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
		logger.WithFullSQL(cfg.Telemetry.DBLogFullSQL))

	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		return err
	}
	a.DB = db

	dbSystem := "postgresql"
	if cfg.Database.Driver == config.DriverSQLite {
		dbSystem = "sqlite"
		// sqlite has no migration set; the schema comes from the models
		if err := db.AutoMigrate(); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	if err := telemetry.InstrumentDB(db.DB, a.meter.Meter(telemetry.TracerName), telemetry.DBConfig{
		Tracing:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        dbSystem,
	}, a.Logger); err != nil {
		return fmt.Errorf("instrument database: %w", err)
	}

	a.Logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))
	return nil
}

func (a *App) initServices() {
	cfg := a.Config
	gdb := a.DB.DB

	entries := persistence.NewGormCatalogEntryRepository(gdb)
	codes := persistence.NewGormClassificationCodeRepository(gdb)
	audits := persistence.NewGormAuditRepository(gdb)
	documents := persistence.NewGormDocumentRepository(gdb)
	stock := persistence.NewGormStockRowRepository(gdb)

	lockTimeout := cfg.Posting.LockTimeout
	if !a.DB.SupportsLockTimeout() {
		lockTimeout = 0
	}
	scope := persistence.NewGormTransactionScope(gdb, lockTimeout)

	metrics, err := telemetry.NewEngineMetrics(telemetry.EngineMetricsConfig{
		Meter:         a.meter.Meter(telemetry.TracerName),
		Logger:        a.Logger,
		QueueProvider: entries,
	})
	if err != nil {
		a.Logger.Warn("Engine metrics disabled", zap.Error(err))
	}
	a.Metrics = metrics

	a.Validator = validationapp.NewService(entries, codes)
	a.Audit = auditapp.NewService(audits, a.Logger.Named("audit"))

	a.Governance = governance.NewService(entries, codes, audits, scope.GovernanceScope(), a.Logger.Named("governance"))
	a.Governance.SetAuditRecorder(a.Audit)
	a.Governance.SetAutoApproveRoles(cfg.Governance.AutoApproveRoles)
	a.Governance.SetMetrics(metrics)
	if a.Redis != nil {
		a.Governance.SetBackfillGuard(lock.NewRedisGuard(a.Redis, cfg.Governance.BackfillLockTTL, a.Logger))
	} else {
		a.Governance.SetBackfillGuard(lock.NewLocalGuard())
	}

	a.Posting = posting.NewService(documents, stock, audits, a.Validator, scope.PostingScope(), a.Logger.Named("posting"))
	a.Posting.SetMetrics(metrics)
	a.Posting.SetAuditRecorder(a.Audit)

	a.Documents = posting.NewDocumentService(documents, stock, a.Validator, a.Logger.Named("documents"))
}

// initNotifications subscribes the sinks. The log sink always runs; the
// Redis sink is deduplicated per event id.
func (a *App) initNotifications() {
	a.Bus = event.NewInMemoryEventBus(a.Logger)
	a.Bus.Subscribe(event.NewLogHandler(a.Logger.Named("notifications")))

	if a.Redis != nil {
		a.delivery = cache.NewIdempotencyStore(a.Redis)
		notifier := event.NewRedisNotifier(a.Redis, a.Config.Notification.RedisChannel)
		a.Bus.Subscribe(event.NewIdempotentHandler("redis-notifier", notifier, a.delivery,
			a.Config.Notification.IdempotencyTTL, a.Logger))
	}

	a.Governance.SetEventPublisher(a.Bus)
	a.Posting.SetEventPublisher(a.Bus)

	a.Logger.Info("Notification sinks registered",
		zap.Strings("event_types", []string{
			catalog.EventTypeCatalogEntrySubmitted,
			catalog.EventTypeCatalogEntryReviewed,
			trade.EventTypeDocumentPosted,
		}),
		zap.Bool("redis", a.Redis != nil))
}

// StartBackground starts periodic metric collection until ctx ends
func (a *App) StartBackground(ctx context.Context) {
	if a.Metrics != nil && a.meter.IsEnabled() {
		a.Metrics.StartPeriodicCollection(ctx, a.Config.Telemetry.MetricsInterval)
	}
}

// Close releases every resource in reverse order of creation
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Metrics != nil {
		a.Metrics.Stop()
	}
	if a.Bus != nil {
		errs = append(errs, a.Bus.Stop(ctx))
	}
	if a.delivery != nil {
		errs = append(errs, a.delivery.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.meter != nil {
		errs = append(errs, a.meter.Shutdown(ctx))
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
