package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Exporter selection for metrics.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	promExporter  *prometheus.Exporter

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Business Metrics
	transfersTotal        metric.Int64Counter
	transfersActive       metric.Int64UpDownCounter
	transferDuration      metric.Float64Histogram
	transferBytes         metric.Int64Counter
	publishesTotal        metric.Int64Counter
	clientOperationsTotal metric.Int64Counter
	clientErrors          metric.Int64Counter
	sessionsActive        metric.Int64UpDownCounter
	sessionMessagesTotal  metric.Int64Counter

	// System health
	memoryUsage    metric.Int64Gauge
	goroutineCount metric.Int64Gauge
	systemErrors   metric.Int64Counter
	systemUptime   metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	Exporter       string
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
}

// New creates a new telemetry instance. With the Prometheus exporter the
// metrics are pulled through Handler(); with the OTLP exporter they are
// pushed to the configured collector endpoint.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	t := &Telemetry{}

	switch cfg.Exporter {
	case ExporterOTLP:
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		t.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
		)
	default:
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}

		t.promExporter = exporter
		t.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
		)
	}

	// Set global meter provider
	otel.SetMeterProvider(t.meterProvider)

	t.tracer = otel.Tracer(cfg.ServiceName)
	t.meter = otel.Meter(cfg.ServiceName)

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// Go runtime metrics (GC, scheduler, memory classes)
	if err := otelruntime.Start(otelruntime.WithMeterProvider(t.meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	// Process-level metrics collection
	go t.collectSystemMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter returns the OpenTelemetry meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil {
		return
	}

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("path", path),
				attribute.String("status", status),
			),
		)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("path", path),
				attribute.String("status", status),
			),
		)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordTransferOutcome records the terminal state of one mirror transfer.
func (t *Telemetry) RecordTransferOutcome(status string, duration time.Duration) {
	if t == nil {
		return
	}

	if t.transfersTotal != nil {
		t.transfersTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}

	if t.transferDuration != nil {
		t.transferDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// AddTransferBytes accumulates bytes moved by the download engine.
func (t *Telemetry) AddTransferBytes(n int64) {
	if t != nil && t.transferBytes != nil {
		t.transferBytes.Add(context.Background(), n)
	}
}

// IncrementActiveTransfers increments the active transfer counter.
func (t *Telemetry) IncrementActiveTransfers() {
	if t != nil && t.transfersActive != nil {
		t.transfersActive.Add(context.Background(), 1)
	}
}

// DecrementActiveTransfers decrements the active transfer counter.
func (t *Telemetry) DecrementActiveTransfers() {
	if t != nil && t.transfersActive != nil {
		t.transfersActive.Add(context.Background(), -1)
	}
}

// RecordPublish records a publish backend outcome.
func (t *Telemetry) RecordPublish(ctx context.Context, backend, status string) {
	if t != nil && t.publishesTotal != nil {
		t.publishesTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("backend", backend),
				attribute.String("status", status),
			),
		)
	}
}

// RecordClientOperation records backend client operation metrics.
func (t *Telemetry) RecordClientOperation(client, operation, status string) {
	if t == nil {
		return
	}

	if t.clientOperationsTotal != nil {
		t.clientOperationsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("client", client),
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}

	if status == "error" && t.clientErrors != nil {
		t.clientErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("client", client),
				attribute.String("operation", operation),
			),
		)
	}
}

// IncrementActiveSessions increments the connected session counter.
func (t *Telemetry) IncrementActiveSessions() {
	if t != nil && t.sessionsActive != nil {
		t.sessionsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveSessions decrements the connected session counter.
func (t *Telemetry) DecrementActiveSessions() {
	if t != nil && t.sessionsActive != nil {
		t.sessionsActive.Add(context.Background(), -1)
	}
}

// RecordSessionMessage counts one session-channel message by type tag.
func (t *Telemetry) RecordSessionMessage(msgType string) {
	if t != nil && t.sessionMessagesTotal != nil {
		t.sessionMessagesTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("type", msgType)),
		)
	}
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("error_type", errorType),
			),
		)
	}
}

// Handler returns the HTTP handler for the metrics endpoint. It serves
// real data only with the Prometheus exporter; with OTLP the metrics are
// pushed and this handler 404s.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.promExporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

// initializeMetrics creates all metric instruments.
func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	if err := t.initializeBusinessMetrics(); err != nil {
		return err
	}

	return t.initializeSystemMetrics()
}

func (t *Telemetry) initializeREDMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeBusinessMetrics() error {
	var err error

	t.transfersTotal, err = t.meter.Int64Counter(
		"transfers_total",
		metric.WithDescription("Total number of mirror transfers by terminal status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transfers_total counter: %w", err)
	}

	t.transfersActive, err = t.meter.Int64UpDownCounter(
		"transfers_active",
		metric.WithDescription("Number of in-flight mirror transfers"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transfers_active counter: %w", err)
	}

	t.transferDuration, err = t.meter.Float64Histogram(
		"transfer_duration_seconds",
		metric.WithDescription("Mirror transfer duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transfer_duration histogram: %w", err)
	}

	t.transferBytes, err = t.meter.Int64Counter(
		"transfer_bytes_total",
		metric.WithDescription("Total bytes moved by the download engine"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transfer_bytes_total counter: %w", err)
	}

	t.publishesTotal, err = t.meter.Int64Counter(
		"publish_operations_total",
		metric.WithDescription("Total number of publish operations by backend"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create publish_operations_total counter: %w", err)
	}

	t.clientOperationsTotal, err = t.meter.Int64Counter(
		"client_operations_total",
		metric.WithDescription("Total number of backend client operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create client_operations_total counter: %w", err)
	}

	t.clientErrors, err = t.meter.Int64Counter(
		"client_errors_total",
		metric.WithDescription("Total number of backend client errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create client_errors counter: %w", err)
	}

	t.sessionsActive, err = t.meter.Int64UpDownCounter(
		"sessions_active",
		metric.WithDescription("Number of connected event-channel sessions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create sessions_active counter: %w", err)
	}

	t.sessionMessagesTotal, err = t.meter.Int64Counter(
		"session_messages_total",
		metric.WithDescription("Total number of session-channel messages by type"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create session_messages_total counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeSystemMetrics() error {
	var err error

	t.memoryUsage, err = t.meter.Int64Gauge(
		"memory_usage_bytes",
		metric.WithDescription("Memory usage in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create memory_usage gauge: %w", err)
	}

	t.goroutineCount, err = t.meter.Int64Gauge(
		"goroutine_count",
		metric.WithDescription("Number of goroutines"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create goroutine_count gauge: %w", err)
	}

	t.systemErrors, err = t.meter.Int64Counter(
		"system_errors_total",
		metric.WithDescription("Total number of system errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_errors counter: %w", err)
	}

	t.systemUptime, err = t.meter.Float64Gauge(
		"system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return nil
}

// collectSystemMetrics collects process-level metrics periodically.
func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.updateSystemMetrics(startTime)
		}
	}
}

func (t *Telemetry) updateSystemMetrics(startTime time.Time) {
	var m runtime.MemStats

	runtime.ReadMemStats(&m)

	if t.memoryUsage != nil {
		t.memoryUsage.Record(context.Background(), int64(m.Alloc))
	}

	if t.goroutineCount != nil {
		t.goroutineCount.Record(context.Background(), int64(runtime.NumGoroutine()))
	}

	if t.systemUptime != nil {
		t.systemUptime.Record(context.Background(), time.Since(startTime).Seconds())
	}
}
