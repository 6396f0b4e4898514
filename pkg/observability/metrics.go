package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Metrics holds the orchestrator's instrument set. A zero Metrics is
// safe to use: all record methods are nil-tolerant.
type Metrics struct {
	DispatchDuration metric.Float64Histogram
	DispatchTotal    metric.Int64Counter
	DispatchErrors   metric.Int64Counter
	RouterCalls      metric.Int64Counter
	CacheHits        metric.Int64Counter
	CacheMisses      metric.Int64Counter
	TasksFired       metric.Int64Counter
	TaskErrors       metric.Int64Counter
}

// InitMetrics creates the Prometheus-exported meter and the
// orchestrator instruments.
func InitMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter(DefaultServiceName)

	m := &Metrics{}

	if m.DispatchDuration, err = meter.Float64Histogram(
		"lucia_dispatch_duration_seconds",
		metric.WithDescription("Agent dispatch duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dispatch duration histogram: %w", err)
	}

	if m.DispatchTotal, err = meter.Int64Counter(
		"lucia_dispatch_total",
		metric.WithDescription("Total agent dispatches"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dispatch counter: %w", err)
	}

	if m.DispatchErrors, err = meter.Int64Counter(
		"lucia_dispatch_errors_total",
		metric.WithDescription("Total failed agent dispatches"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dispatch errors counter: %w", err)
	}

	if m.RouterCalls, err = meter.Int64Counter(
		"lucia_router_llm_calls_total",
		metric.WithDescription("Total routing LLM calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create router calls counter: %w", err)
	}

	if m.CacheHits, err = meter.Int64Counter(
		"lucia_cache_hits_total",
		metric.WithDescription("Total cache hits across namespaces"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	if m.CacheMisses, err = meter.Int64Counter(
		"lucia_cache_misses_total",
		metric.WithDescription("Total cache misses across namespaces"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	if m.TasksFired, err = meter.Int64Counter(
		"lucia_scheduled_tasks_fired_total",
		metric.WithDescription("Total scheduled tasks fired"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tasks fired counter: %w", err)
	}

	if m.TaskErrors, err = meter.Int64Counter(
		"lucia_scheduled_task_errors_total",
		metric.WithDescription("Total scheduled task failures"),
	); err != nil {
		return nil, fmt.Errorf("failed to create task errors counter: %w", err)
	}

	return m, nil
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDispatch records one agent dispatch outcome.
func (m *Metrics) RecordDispatch(ctx context.Context, agentID string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrAgentID, agentID))
	if m.DispatchTotal != nil {
		m.DispatchTotal.Add(ctx, 1, attrs)
	}
	if m.DispatchDuration != nil {
		m.DispatchDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if !success && m.DispatchErrors != nil {
		m.DispatchErrors.Add(ctx, 1, attrs)
	}
}

// RecordRouterCall records one routing LLM round trip.
func (m *Metrics) RecordRouterCall(ctx context.Context) {
	if m == nil || m.RouterCalls == nil {
		return
	}
	m.RouterCalls.Add(ctx, 1)
}

// RecordCacheLookup records a cache hit or miss for a namespace.
func (m *Metrics) RecordCacheLookup(ctx context.Context, namespace string, hit bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrCacheNamespace, namespace))
	if hit {
		if m.CacheHits != nil {
			m.CacheHits.Add(ctx, 1, attrs)
		}
		return
	}
	if m.CacheMisses != nil {
		m.CacheMisses.Add(ctx, 1, attrs)
	}
}

// RecordTaskFired records a scheduled task execution.
func (m *Metrics) RecordTaskFired(ctx context.Context, taskType string, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrTaskType, taskType))
	if m.TasksFired != nil {
		m.TasksFired.Add(ctx, 1, attrs)
	}
	if !success && m.TaskErrors != nil {
		m.TaskErrors.Add(ctx, 1, attrs)
	}
}
