package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ErrMeterNil is returned by NewEngineMetrics without a meter
var ErrMeterNil = errors.New("telemetry: engine metrics need a meter")

// Metric attribute keys
const (
	AttrOutcome      = attribute.Key("outcome")
	AttrDecision     = attribute.Key("decision")
	AttrDocumentKind = attribute.Key("document_kind")
)

// PostingDurationBuckets bound a whole posting transaction, in seconds
var PostingDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// ReviewQueueProvider reports the size of the pending review queue
type ReviewQueueProvider interface {
	CountPendingReviews(ctx context.Context) (int64, error)
}

// EngineMetricsConfig holds configuration for engine metrics
type EngineMetricsConfig struct {
	Meter         metric.Meter
	Logger        *zap.Logger
	QueueProvider ReviewQueueProvider
}

// EngineMetrics records governance and posting activity.
// A nil *EngineMetrics is valid and records nothing.
type EngineMetrics struct {
	logger *zap.Logger
	queue  ReviewQueueProvider

	submissions    metric.Int64Counter
	reviews        metric.Int64Counter
	postAttempts   metric.Int64Counter
	backfills      metric.Int64Counter
	postDuration   metric.Float64Histogram
	pendingReviews metric.Int64Gauge

	stop        chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
}

// instruments creates instruments on one meter and keeps the first error
type instruments struct {
	meter metric.Meter
	err   error
}

func (in *instruments) counter(name, description, unit string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	in.keep(err)
	return c
}

func (in *instruments) gauge(name, description, unit string) metric.Int64Gauge {
	g, err := in.meter.Int64Gauge(name, metric.WithDescription(description), metric.WithUnit(unit))
	in.keep(err)
	return g
}

func (in *instruments) seconds(name, description string, buckets []float64) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name,
		metric.WithDescription(description),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...))
	in.keep(err)
	return h
}

func (in *instruments) keep(err error) {
	if in.err == nil && err != nil {
		in.err = err
	}
}

// NewEngineMetrics creates the engine instruments on cfg.Meter
func NewEngineMetrics(cfg EngineMetricsConfig) (*EngineMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	in := &instruments{meter: cfg.Meter}
	em := &EngineMetrics{
		logger: logger,
		queue:  cfg.QueueProvider,
		stop:   make(chan struct{}),

		submissions:    in.counter("catalog_submissions_total", "Catalog submissions by outcome", "{submissions}"),
		reviews:        in.counter("governance_reviews_total", "Review decisions by outcome", "{reviews}"),
		postAttempts:   in.counter("posting_attempts_total", "Posting attempts by document kind and outcome", "{attempts}"),
		backfills:      in.counter("governance_backfill_decisions_total", "Backfill decisions by resulting status", "{entries}"),
		postDuration:   in.seconds("posting_duration_seconds", "Duration of posting attempts", PostingDurationBuckets),
		pendingReviews: in.gauge("governance_pending_reviews", "Catalog entries waiting for review", "{entries}"),
	}
	if in.err != nil {
		return nil, in.err
	}
	return em, nil
}

// RecordSubmission counts one catalog submission
func (em *EngineMetrics) RecordSubmission(ctx context.Context, outcome string) {
	if em == nil {
		return
	}
	em.submissions.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// RecordReview counts one review decision. outcome is "ok" or the error code.
func (em *EngineMetrics) RecordReview(ctx context.Context, decision, outcome string) {
	if em == nil {
		return
	}
	em.reviews.Add(ctx, 1, metric.WithAttributes(
		AttrDecision.String(decision),
		AttrOutcome.String(outcome),
	))
}

// RecordPost counts one posting attempt and its duration
func (em *EngineMetrics) RecordPost(ctx context.Context, kind, outcome string, d time.Duration) {
	if em == nil {
		return
	}
	attrs := metric.WithAttributes(AttrDocumentKind.String(kind), AttrOutcome.String(outcome))
	em.postAttempts.Add(ctx, 1, attrs)
	em.postDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordBackfill counts one backfill decision
func (em *EngineMetrics) RecordBackfill(ctx context.Context, status string) {
	if em == nil {
		return
	}
	em.backfills.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(status)))
}

// StartPeriodicCollection samples the pending review queue now and then
// every interval until Stop or ctx ends. It returns immediately.
func (em *EngineMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	if em == nil || em.queue == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	em.collectOnce.Do(func() {
		go em.sampleQueue(ctx, interval)
	})
}

func (em *EngineMetrics) sampleQueue(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := em.queue.CountPendingReviews(ctx); err != nil {
			em.logger.Warn("Failed to count pending reviews", zap.Error(err))
		} else {
			em.pendingReviews.Record(ctx, n)
		}

		select {
		case <-em.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop ends periodic collection
func (em *EngineMetrics) Stop() {
	if em == nil {
		return
	}
	em.stopOnce.Do(func() { close(em.stop) })
}
