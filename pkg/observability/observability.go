package observability

import (
	"context"
	"net/http"

	"ollama-chat-relay/backend/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// RelayMetrics carries the instruments the gateway and state machine record to
type RelayMetrics struct {
	ActiveConnections metric.Int64UpDownCounter
	ChatTurns         metric.Int64Counter
	DeltasRelayed     metric.Int64Counter
	AuthFailures      metric.Int64Counter
	StreamErrors      metric.Int64Counter
}

// SetupTracing initializes OpenTelemetry tracing with a stdout exporter
// (for development; replace with OTLP in production)
func SetupTracing(serviceName string, log *logger.Logger) func() {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		log.LogError(err, "failed to initialize stdouttrace exporter")
		return func() {}
	}
	res, _ := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return func() { _ = provider.Shutdown(context.Background()) }
}

// SetupMetrics initializes the Prometheus metrics exporter, exposes /metrics
// on the given address and returns the relay's instruments.
func SetupMetrics(serviceName, addr string, log *logger.Logger) (*RelayMetrics, *sdkmetric.MeterProvider, error) {
	exp, err := otelprom.New()
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.LogError(err, "metrics endpoint stopped", "addr", addr)
		}
	}()

	meter := mp.Meter(serviceName)

	metrics := &RelayMetrics{}
	if metrics.ActiveConnections, err = meter.Int64UpDownCounter("relay_active_connections"); err != nil {
		return nil, nil, err
	}
	if metrics.ChatTurns, err = meter.Int64Counter("relay_chat_turns_total"); err != nil {
		return nil, nil, err
	}
	if metrics.DeltasRelayed, err = meter.Int64Counter("relay_deltas_relayed_total"); err != nil {
		return nil, nil, err
	}
	if metrics.AuthFailures, err = meter.Int64Counter("relay_auth_failures_total"); err != nil {
		return nil, nil, err
	}
	if metrics.StreamErrors, err = meter.Int64Counter("relay_stream_errors_total"); err != nil {
		return nil, nil, err
	}

	return metrics, mp, nil
}

// NoopMetrics returns instruments backed by a discarded meter provider,
// for tests and for running without the metrics endpoint.
func NoopMetrics() *RelayMetrics {
	meter := sdkmetric.NewMeterProvider().Meter("noop")

	metrics := &RelayMetrics{}
	metrics.ActiveConnections, _ = meter.Int64UpDownCounter("relay_active_connections")
	metrics.ChatTurns, _ = meter.Int64Counter("relay_chat_turns_total")
	metrics.DeltasRelayed, _ = meter.Int64Counter("relay_deltas_relayed_total")
	metrics.AuthFailures, _ = meter.Int64Counter("relay_auth_failures_total")
	metrics.StreamErrors, _ = meter.Int64Counter("relay_stream_errors_total")
	return metrics
}
