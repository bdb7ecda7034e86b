// Package telemetry initializes OpenTelemetry exporters and Sentry error
// reporting.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown flushes and stops whatever Init started.
type Shutdown func(ctx context.Context) error

type Options struct {
	ServiceName  string
	Version      string
	OTLPEndpoint string
	Insecure     bool
	SentryDSN    string
	Environment  string
	SampleRate   float64
}

// Init configures the global tracer and meter providers and Sentry. Parts
// without an endpoint or DSN stay disabled.
func Init(ctx context.Context, opts Options) (Shutdown, error) {
	var shutdowns []Shutdown

	if opts.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              opts.SentryDSN,
			Environment:      opts.Environment,
			Release:          opts.Version,
			TracesSampleRate: opts.SampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry: init sentry: %w", err)
		}
		shutdowns = append(shutdowns, func(context.Context) error {
			sentry.Flush(2 * time.Second)
			return nil
		})
	}

	if opts.OTLPEndpoint != "" {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceNameKey.String(opts.ServiceName),
				semconv.ServiceVersionKey.String(opts.Version),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("telemetry: create resource: %w", err)
		}

		traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.OTLPEndpoint)}
		if opts.Insecure {
			traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		}
		traceExp, err := otlptracehttp.New(ctx, traceOpts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

		metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(opts.OTLPEndpoint)}
		if opts.Insecure {
			metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		}
		metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
		}

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)

		shutdowns = append(shutdowns, tp.Shutdown, mp.Shutdown)
	}

	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// CaptureError reports err to Sentry with the given tags. It is a no-op
// when Sentry is not initialized.
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}
