// Package tracing wraps OpenTelemetry span creation for the workspace
// analysis engine. Adapted from the teacher's tracing package: same
// Jaeger-exporter-or-noop shape, same StartNewSpan signature, generalized
// to take an Options struct so the server launcher can decide whether
// tracing is worth the subprocess/network dependency at all.
package tracing

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Options controls whether tracing is enabled and where spans go.
type Options struct {
	EnableJaeger   bool
	JaegerEndpoint string
}

// InitTracerProvider installs a global tracer provider. When tracing is
// disabled the provider is a no-op sampler; the server never requires
// network access to start (spec.md §6, "server must not require network
// access").
func InitTracerProvider(log logr.Logger, opts Options) (*tracesdk.TracerProvider, error) {
	sampler := tracesdk.NeverSample()
	var tpOpts []tracesdk.TracerProviderOption

	if opts.EnableJaeger {
		endpoint := opts.JaegerEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:14268/api/traces"
		}
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
		if err != nil {
			log.Error(err, "failed to create jaeger exporter")
			return nil, err
		}
		sampler = tracesdk.AlwaysSample()
		tpOpts = append(tpOpts, tracesdk.WithBatcher(exp))
	}

	tpOpts = append(tpOpts,
		tracesdk.WithSampler(sampler),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("groovy-lsp"),
		)),
	)

	tp := tracesdk.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return tp, nil
}

// Shutdown flushes any pending spans and releases exporter resources.
func Shutdown(ctx context.Context, log logr.Logger, tp *tracesdk.TracerProvider) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		log.Error(err, "error shutting down tracer provider")
	}
}

// StartNewSpan starts a span under the package-global tracer.
func StartNewSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("groovy-lsp").Start(ctx, name)
	span.SetAttributes(attrs...)
	return ctx, span
}
