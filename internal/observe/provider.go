package observe

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitProvider builds an OTel MeterProvider backed by a Prometheus exporter
// and installs it as the global provider. The returned registry should be
// handed to an http.Handler (promhttp or otel's own Prometheus handler) to
// serve /metrics. Call Shutdown on the provider to flush on exit.
func InitProvider() (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)
	return mp, nil
}
