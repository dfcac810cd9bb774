package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBConfig configures database instrumentation.
type DBConfig struct {
	Tracing         bool
	LogFullSQL      bool          // include bind variables in spans; dev only
	SlowQueryThresh time.Duration // default 200ms
	DBSystem        string        // default "postgresql"
}

type queryStartKey struct{}

var (
	attrDBOperation = attribute.Key("db.operation")
	attrDBTable     = attribute.Key("db.table")

	// statement durations, in seconds
	dbDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
)

// dbInstrumentation times every GORM statement, records the duration
// histogram and flags slow statements on the active span.
type dbInstrumentation struct {
	cfg      DBConfig
	duration metric.Float64Histogram
	logger   *zap.Logger
}

// InstrumentDB registers otelgorm (when tracing is on) and the query timing
// callbacks on db.
func InstrumentDB(db *gorm.DB, meter metric.Meter, cfg DBConfig, logger *zap.Logger) error {
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.Tracing {
		opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
		if !cfg.LogFullSQL {
			opts = append(opts, otelgorm.WithoutQueryVariables())
		}
		if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
			return err
		}
	}

	inst := &dbInstrumentation{cfg: cfg, logger: logger}
	if meter != nil {
		in := &instruments{meter: meter}
		inst.duration = in.seconds("db_query_duration_seconds", "Duration of database statements", dbDurationBuckets)
		if in.err != nil {
			return in.err
		}
	}
	return inst.register(db)
}

func (d *dbInstrumentation) register(db *gorm.DB) error {
	cb := db.Callback()
	registrations := []error{
		cb.Create().Before("gorm:create").Register("telemetry:before_create", d.start),
		cb.Query().Before("gorm:query").Register("telemetry:before_query", d.start),
		cb.Update().Before("gorm:update").Register("telemetry:before_update", d.start),
		cb.Delete().Before("gorm:delete").Register("telemetry:before_delete", d.start),
		cb.Row().Before("gorm:row").Register("telemetry:before_row", d.start),
		cb.Raw().Before("gorm:raw").Register("telemetry:before_raw", d.start),

		cb.Create().After("gorm:create").Register("telemetry:after_create", d.finishAs("create")),
		cb.Query().After("gorm:query").Register("telemetry:after_query", d.finishAs("query")),
		cb.Update().After("gorm:update").Register("telemetry:after_update", d.finishAs("update")),
		cb.Delete().After("gorm:delete").Register("telemetry:after_delete", d.finishAs("delete")),
		cb.Row().After("gorm:row").Register("telemetry:after_row", d.finishAs("row")),
		cb.Raw().After("gorm:raw").Register("telemetry:after_raw", d.finishAs("raw")),
	}
	return errors.Join(registrations...)
}

func (d *dbInstrumentation) start(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartKey{}, time.Now())
	}
}

func (d *dbInstrumentation) finishAs(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			return
		}
		started, ok := ctx.Value(queryStartKey{}).(time.Time)
		if !ok {
			return
		}
		elapsed := time.Since(started)

		if d.duration != nil {
			d.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attrDBOperation.String(op),
				attrDBTable.String(db.Statement.Table),
			))
		}

		if elapsed <= d.cfg.SlowQueryThresh {
			return
		}
		span := trace.SpanFromContext(ctx)
		if span.IsRecording() {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
		}
		d.logger.Warn("Slow query",
			zap.String("operation", op),
			zap.String("table", db.Statement.Table),
			zap.Duration("elapsed", elapsed),
			zap.String("trace_id", TraceID(ctx)),
		)
	}
}
