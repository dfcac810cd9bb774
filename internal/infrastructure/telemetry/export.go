// Package telemetry provides OpenTelemetry tracing, metrics and log export.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	serviceVersion  = "1.0.0"
)

// Export is the OTLP collector connection shared by every signal
type Export struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
}

func (e Export) resource() (*resource.Resource, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(e.ServiceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	return res, nil
}

// exportedSignal is the lifecycle shared by the three providers. A signal
// with no stop func was never started.
type exportedSignal struct {
	name   string
	logger *zap.Logger
	stop   func(context.Context) error
}

// IsEnabled reports whether the signal is exported to a collector
func (s *exportedSignal) IsEnabled() bool {
	return s != nil && s.stop != nil
}

// Shutdown flushes buffered data and closes the exporter. It is a no-op for
// a disabled signal.
func (s *exportedSignal) Shutdown(ctx context.Context) error {
	if !s.IsEnabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.stop(ctx); err != nil {
		s.logger.Error("Telemetry shutdown failed", zap.String("signal", s.name), zap.Error(err))
		return fmt.Errorf("shutdown %s provider: %w", s.name, err)
	}
	return nil
}

func (s *exportedSignal) started(stop func(context.Context) error, fields ...zap.Field) {
	s.stop = stop
	s.logger.Info("Telemetry export started", append([]zap.Field{zap.String("signal", s.name)}, fields...)...)
}
