package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetricsOnly installs the Prometheus exporter without tracing or log export.
// Used when telemetry tracing is disabled in configuration.
func InitMetricsOnly(serviceName string) (*metric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	if err := GetGlobalMetrics().InitMetrics(provider.Meter(serviceName)); err != nil {
		return nil, err
	}
	return provider, nil
}
