package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	auditsCreated    metric.Int64Counter
	auditsAnalyzed   metric.Int64Counter
	webhookEvents    metric.Int64Counter
	remindersSent    metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider registers the global meter provider. With exporters disabled
// every instrument is a no-op; the prometheus registry behind /metrics is
// unaffected either way.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	if log != nil {
		log.Info("otlp metrics enabled",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New creates the domain counters on the service meter.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "viotraix"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.auditsCreated, "viotraix_audits_created_total", "Audits accepted by upload."},
		{&m.auditsAnalyzed, "viotraix_audits_analyzed_total", "Analysis runs by outcome."},
		{&m.webhookEvents, "viotraix_webhook_events_total", "Payment webhook deliveries."},
		{&m.remindersSent, "viotraix_renewal_reminders_sent_total", "Renewal reminder emails sent."},
		{&m.rateLimitAllowed, "viotraix_rate_limit_allowed_total", "Requests admitted by the audit limiter."},
		{&m.rateLimitDenied, "viotraix_rate_limit_denied_total", "Requests rejected by the audit limiter."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

// NewNoop returns instruments bound to a no-op meter.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordAuditCreated increments intake counts by plan and image count bucket.
func (m *Metrics) RecordAuditCreated(ctx context.Context, plan string, images int) {
	if m == nil {
		return
	}
	kind := "single"
	if images > 1 {
		kind = "bulk"
	}
	attrs := FilterAttributes(
		attribute.String("plan", strings.TrimSpace(plan)),
		attribute.String("kind", kind),
	)
	m.auditsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAuditAnalyzed increments analysis outcomes (completed, failed).
func (m *Metrics) RecordAuditAnalyzed(ctx context.Context, outcome, industry string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.String("industry", strings.TrimSpace(industry)),
	)
	m.auditsAnalyzed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookEvent increments billing webhook counts.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReminderSent increments renewal reminders by window.
func (m *Metrics) RecordReminderSent(ctx context.Context, window string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("window", strings.TrimSpace(window)))
	m.remindersSent.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch p := strings.ToLower(strings.TrimSpace(protocol)); p {
	case "http", "http/protobuf":
		if endpoint == "" {
			return otlpmetrichttp.New(ctx)
		}
		return otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
	case "", "grpc":
		if endpoint == "" {
			return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", p)
	}
}

// user_id and audit_id are deliberately absent.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"plan":        {},
	"kind":        {},
	"outcome":     {},
	"industry":    {},
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"window":      {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
