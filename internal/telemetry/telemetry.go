// Package telemetry provides optional OpenTelemetry metrics for the
// coordination engine. Disabled by default; when disabled every wrapper
// returns its input unchanged with zero overhead.
package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var (
	enabled  atomic.Bool
	provider *sdkmetric.MeterProvider
)

// Enabled reports whether telemetry collection is on.
func Enabled() bool {
	return enabled.Load()
}

// Init sets up a stdout metric exporter with a periodic reader. Call
// Shutdown before exit to flush.
func Init(ctx context.Context, interval time.Duration) error {
	exporter, err := stdoutmetric.New()
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("planmux")),
	)
	if err != nil {
		return fmt.Errorf("failed to create telemetry resource: %w", err)
	}
	provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)
	enabled.Store(true)
	return nil
}

// Shutdown flushes and stops the meter provider.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	enabled.Store(false)
	return provider.Shutdown(ctx)
}

// Meter returns a named meter from the global provider.
func Meter(scope string) metric.Meter {
	return otel.Meter(scope)
}
