// Package tracer configures OpenTelemetry tracing for RPC commands.
package tracer

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"discord-rpc/internal/infra/config"
)

const tracerName = "discord-rpc"

// Span attribute keys.
const (
	AttrCommand  = "rpc.command"
	AttrEvent    = "rpc.event"
	AttrNonce    = "rpc.nonce"
	AttrEndpoint = "rpc.endpoint"
	AttrErrCode  = "rpc.error_code"
)

// Option configures Setup.
type Option func(*options)

type options struct {
	writer io.Writer
}

// WithWriter sends stdout-exporter output to w instead of os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// Setup installs the global TracerProvider and returns its shutdown function.
// When cfg.Enabled is false a noop provider is installed.
func Setup(ctx context.Context, cfg config.TracerConfig, opts ...Option) (func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }

	o := options{writer: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(o.writer), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		exporter = exp
	case "noop", "":
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartSpan starts a span on the package tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartCommandSpan starts the client span for one RPC command, named
// "rpc.<CMD>".
func StartCommandSpan(ctx context.Context, cmd, nonce string) (context.Context, trace.Span) {
	return StartSpan(ctx, "rpc."+cmd,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrCommand, cmd),
			attribute.String(AttrNonce, nonce),
		),
	)
}

// RecordError records err on the span and sets error status.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK sets the span status to OK.
func SetOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// StringAttr is a convenience for attribute.String.
func StringAttr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}
