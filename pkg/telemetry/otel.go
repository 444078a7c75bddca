package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	tracetype "go.opentelemetry.io/otel/trace"
)

// Telemetry owns the trace, metric and log providers of the process
type Telemetry struct {
	tp *trace.TracerProvider
	mp *sdkmetric.MeterProvider
	lp *sdklog.LoggerProvider
}

type setupOptions struct {
	version     string
	traceWriter io.Writer
	logWriter   io.Writer
	pretty      bool
}

// Option customizes Setup
type Option func(*setupOptions)

// WithVersion tags every signal with the service version
func WithVersion(v string) Option {
	return func(o *setupOptions) { o.version = v }
}

// WithTraceWriter sends exported spans to w instead of stdout
func WithTraceWriter(w io.Writer) Option {
	return func(o *setupOptions) { o.traceWriter = w }
}

// WithLogWriter sends exported log records to w instead of stdout
func WithLogWriter(w io.Writer) Option {
	return func(o *setupOptions) { o.logWriter = w }
}

// WithPrettyPrint indents exported spans and log records
func WithPrettyPrint() Option {
	return func(o *setupOptions) { o.pretty = true }
}

// Setup installs tracing, metrics and log export for a rebalancing process.
// Metrics go through the Prometheus exporter; spans and logs are written as JSON.
func Setup(serviceName string, opts ...Option) (*Telemetry, error) {
	o := setupOptions{traceWriter: os.Stdout, logWriter: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceNameKey.String(serviceName))}
	if o.version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersionKey.String(o.version)))
	}
	res, err := resource.New(context.Background(), attrs...)
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}

	traceOpts := []stdouttrace.Option{stdouttrace.WithWriter(o.traceWriter)}
	if o.pretty {
		traceOpts = append(traceOpts, stdouttrace.WithPrettyPrint())
	}
	traceExporter, err := stdouttrace.New(traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter),
		trace.WithResource(res),
	)

	metricExporter, err := prometheus.New()
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(metricExporter),
		sdkmetric.WithResource(res),
	)

	logOpts := []stdoutlog.Option{stdoutlog.WithWriter(o.logWriter)}
	if o.pretty {
		logOpts = append(logOpts, stdoutlog.WithPrettyPrint())
	}
	logExporter, err := stdoutlog.New(logOpts...)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
		return nil, fmt.Errorf("log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)

	if err := GetGlobalMetrics().InitMetrics(mp.Meter(serviceName)); err != nil {
		t := &Telemetry{tp: tp, mp: mp, lp: lp}
		return nil, errors.Join(fmt.Errorf("init metrics: %w", err), t.Shutdown(context.Background()))
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)

	return &Telemetry{tp: tp, mp: mp, lp: lp}, nil
}

// Shutdown flushes pending spans, metrics and logs
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.tp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("trace provider: %w", err))
	}
	if err := t.mp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("meter provider: %w", err))
	}
	if err := t.lp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("log provider: %w", err))
	}
	return errors.Join(errs...)
}

// GetMeter returns a meter from the global provider
func GetMeter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// GetTracer returns a tracer from the global provider. Before Setup it is a no-op tracer.
func GetTracer(name string) tracetype.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}
