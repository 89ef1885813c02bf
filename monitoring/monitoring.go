package monitoring

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"crypto-gateway/logging"
)

const meterName = "crypto-gateway"

var (
	// OpenTelemetry metrics. Created against the global meter so they are
	// usable (as no-ops) before InitMeter installs a real provider.
	PaymentCounter       metric.Int64Counter
	PaymentAmount        metric.Float64Histogram
	ExternalCallDuration metric.Float64Histogram
	WebhookCounter       metric.Int64Counter
	CoinsCredited        metric.Int64Counter
	HTTPServerDuration   metric.Float64Histogram
)

func init() {
	if err := createInstruments(otel.Meter(meterName)); err != nil {
		panic("monitoring: " + err.Error())
	}
}

func createInstruments(meter metric.Meter) error {
	var err error

	PaymentCounter, err = meter.Int64Counter(
		"payments_created_total",
		metric.WithDescription("Total number of payment creation attempts"),
	)
	if err != nil {
		return err
	}

	PaymentAmount, err = meter.Float64Histogram(
		"payment_amount_usd",
		metric.WithDescription("USD equivalent of created payments"),
	)
	if err != nil {
		return err
	}

	ExternalCallDuration, err = meter.Float64Histogram(
		"external_payment_provider_duration_seconds",
		metric.WithDescription("Duration of external payment provider calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	WebhookCounter, err = meter.Int64Counter(
		"webhook_deliveries_total",
		metric.WithDescription("Webhook deliveries by provider and outcome"),
	)
	if err != nil {
		return err
	}

	CoinsCredited, err = meter.Int64Counter(
		"coins_credited_total",
		metric.WithDescription("Coins credited to users for confirmed purchases"),
	)
	if err != nil {
		return err
	}

	HTTPServerDuration, err = meter.Float64Histogram(
		"http_server_duration_milliseconds",
		metric.WithDescription("HTTP server request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return err
}

// InitTracer initializes OpenTelemetry tracing
func InitTracer(serviceName, endpoint string) (*sdktrace.TracerProvider, trace.Tracer, error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer := tp.Tracer(serviceName)

	logging.Info("Tracing initialized", zap.String("service_name", serviceName))

	return tp, tracer, nil
}

// InitMeter initializes OpenTelemetry metrics. A Prometheus reader is always
// registered; the OTLP exporter is added when endpoint is not empty.
func InitMeter(serviceName, endpoint string) (*sdkmetric.MeterProvider, error) {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	promExporter, err := otelprom.New()
	if err != nil {
		return nil, err
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	}

	if endpoint != "" {
		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	logging.Info("Metrics initialized", zap.String("otlp_endpoint", endpoint))

	return mp, nil
}
