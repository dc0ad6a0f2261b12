package obs

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InitMeter builds an OpenTelemetry MeterProvider whose instruments are exposed through
// reg, so otel-instrumented libraries land on the same /metrics endpoint as the
// Prometheus collectors. The caller decides whether to install it globally.
func InitMeter(ctx context.Context, reg prometheus.Registerer, serviceName, serviceVersion string) (*sdkmetric.MeterProvider, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("prometheus metric exporter: %w", err)
	}
	kv := []attribute.KeyValue{semconv.ServiceNameKey.String(serviceName)}
	if serviceVersion != "" {
		kv = append(kv, semconv.ServiceVersionKey.String(serviceVersion))
	}
	res, err := resource.New(ctx, resource.WithAttributes(kv...))
	if err != nil {
		return nil, fmt.Errorf("metric resource: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	), nil
}

// Meter returns a named meter from the global provider. Instruments created before a
// provider is installed are forwarded to it once it is.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}
