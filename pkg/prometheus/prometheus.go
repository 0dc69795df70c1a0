package prometheus

import (
	"context"

	"go.opentelemetry.io/otel"

	promclient "github.com/prometheus/client_golang/prometheus"
	prometheus "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kalbasit/sharedlock/pkg/telemetry"
)

// SetupPrometheusMetrics configures OpenTelemetry to export metrics in
// Prometheus format only, without any console output or other telemetry,
// for the storage backend sharedlockctl is driving. It shares resource
// construction with the OTLP/stdout path via telemetry.NewBackendResource
// so both exporters describe the same process the same way.
func SetupPrometheusMetrics(
	ctx context.Context,
	serviceName, serviceVersion, backend string,
) (promclient.Gatherer, func(context.Context) error, error) {
	res, err := telemetry.NewBackendResource(ctx, serviceName, serviceVersion, backend)
	if err != nil {
		return nil, nil, err
	}

	// Create a custom Prometheus registry
	registry := promclient.NewRegistry()

	// Create Prometheus exporter with the custom registry
	prometheusExporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
	)
	if err != nil {
		return nil, nil, err
	}

	// Create meter provider with Prometheus exporter
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(prometheusExporter),
	)

	// Set the meter provider globally for OpenTelemetry instrumentation
	otel.SetMeterProvider(meterProvider)

	// Return the Prometheus registry (which implements Gatherer) and shutdown function
	return registry, meterProvider.Shutdown, nil
}
