// Package telemetry wires the global OpenTelemetry trace and metric providers
// to an OTLP gRPC collector. The sync scheduler emits one span per run plus
// run/event/conflict counters through these providers; application logs go to
// slog and are not exported here.
//
// Call [Setup] once during startup and defer the returned [ShutdownFunc].
// When no collector is configured the globals stay no-ops and instrumented
// code costs nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Config groups all telemetry settings. It maps 1-to-1 with the
// [config.TelemetryConfig] YAML block.
type Config struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector,
	// e.g. "localhost:4317".
	OTLPEndpoint string

	// Insecure disables TLS for the collector connection. Meant for local
	// collectors without a cert.
	Insecure bool

	// ServiceName overrides the OTel service.name resource attribute.
	// Defaults to "hearthsync".
	ServiceName string

	// Headers is sent as gRPC metadata on every OTLP request, typically an
	// authentication token.
	Headers map[string]string
}

// ShutdownFunc flushes and closes the providers. Call it with a fresh context;
// the main context may already be cancelled by the time shutdown runs.
type ShutdownFunc func(context.Context) error

// Setup installs the global trace and metric providers. Both exporters share
// one gRPC connection to cfg.OTLPEndpoint.
//
// The returned ShutdownFunc is always non-nil; on error it is a no-op so
// callers can defer unconditionally.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	res, err := serviceResource(cfg.ServiceName)
	if err != nil {
		return noopShutdown, err
	}

	conn, err := dialCollector(cfg)
	if err != nil {
		return noopShutdown, err
	}

	tp, err := traceProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		_ = conn.Close()
		return noopShutdown, err
	}
	otel.SetTracerProvider(tp)

	mp, err := meterProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = conn.Close()
		return noopShutdown, err
	}
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		var errs []error
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("OTLP gRPC connection close: %w", err))
		}
		return errors.Join(errs...)
	}, nil
}

// serviceResource describes this service instance. resource.NewSchemaless
// avoids the schema URL mismatch between resource.Default() and our semconv
// import when their versions differ.
func serviceResource(name string) (*resource.Resource, error) {
	if name == "" {
		name = "hearthsync"
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(name)))
	if err != nil {
		return nil, fmt.Errorf("building OTel resource: %w", err)
	}
	return res, nil
}

func dialCollector(cfg Config) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(nil) // system root CAs
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dialling OTLP collector at %q: %w", cfg.OTLPEndpoint, err)
	}
	return conn, nil
}

func traceProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(conn),
		otlptracegrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

func meterProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithGRPCConn(conn),
		otlpmetricgrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	), nil
}

// noopShutdown is returned on error so callers can always defer unconditionally.
func noopShutdown(_ context.Context) error { return nil }
