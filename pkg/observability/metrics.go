package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kadirpekel/dilemma/pkg/game"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Metrics records match-level measurements.
type Metrics interface {
	// RecordRound records one completed (or failed) round barrier.
	RecordRound(ctx context.Context, duration time.Duration, err error)

	// RecordPayoff records the payoff awarded to one agent for one round.
	RecordPayoff(ctx context.Context, agentID string, kind game.PayoffKind, amount uint64)

	// RecordFinalScore records an agent's authoritative end-of-run score.
	RecordFinalScore(ctx context.Context, agentID string, score uint64)

	// Handler serves the metrics endpoint.
	Handler() http.Handler
}

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// SetGlobalMetrics installs the process-wide metrics recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics recorder, a no-op
// when none has been installed.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if globalMetrics == nil {
		return NoopMetrics{}
	}
	return globalMetrics
}

// InitMetrics builds the metrics recorder. Disabled config yields a
// no-op recorder.
func InitMetrics(_ context.Context, cfg MetricsConfig) (Metrics, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("dilemma")

	roundDuration, err := meter.Float64Histogram(
		"dilemma_round_duration_seconds",
		metric.WithDescription("Round barrier duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create round duration histogram: %w", err)
	}

	roundsTotal, err := meter.Int64Counter(
		"dilemma_rounds_total",
		metric.WithDescription("Total rounds driven"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rounds counter: %w", err)
	}

	roundFaults, err := meter.Int64Counter(
		"dilemma_round_faults_total",
		metric.WithDescription("Total rounds aborted by a communication fault"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create round faults counter: %w", err)
	}

	payoffsTotal, err := meter.Int64Counter(
		"dilemma_payoffs_total",
		metric.WithDescription("Payoffs awarded, by agent and kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create payoffs counter: %w", err)
	}

	scoreTotal, err := meter.Int64Counter(
		"dilemma_score_total",
		metric.WithDescription("Cumulative score awarded, by agent"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create score counter: %w", err)
	}

	finalScore, err := meter.Int64Gauge(
		"dilemma_final_score",
		metric.WithDescription("Authoritative end-of-run score, by agent"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create final score gauge: %w", err)
	}

	return &PrometheusMetrics{
		roundDuration: roundDuration,
		roundsTotal:   roundsTotal,
		roundFaults:   roundFaults,
		payoffsTotal:  payoffsTotal,
		scoreTotal:    scoreTotal,
		finalScore:    finalScore,
	}, nil
}

// PrometheusMetrics records measurements through an OTel meter backed
// by the Prometheus exporter.
type PrometheusMetrics struct {
	roundDuration metric.Float64Histogram
	roundsTotal   metric.Int64Counter
	roundFaults   metric.Int64Counter
	payoffsTotal  metric.Int64Counter
	scoreTotal    metric.Int64Counter
	finalScore    metric.Int64Gauge
}

func (m *PrometheusMetrics) RecordRound(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}

	m.roundDuration.Record(ctx, duration.Seconds())
	m.roundsTotal.Add(ctx, 1)
	if err != nil {
		m.roundFaults.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordPayoff(ctx context.Context, agentID string, kind game.PayoffKind, amount uint64) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("agent", agentID),
		attribute.String("kind", kind.String()),
	)
	m.payoffsTotal.Add(ctx, 1, attrs)
	m.scoreTotal.Add(ctx, int64(amount), metric.WithAttributes(attribute.String("agent", agentID)))
}

func (m *PrometheusMetrics) RecordFinalScore(ctx context.Context, agentID string, score uint64) {
	if m == nil {
		return
	}

	m.finalScore.Record(ctx, int64(score), metric.WithAttributes(attribute.String("agent", agentID)))
}

func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.Handler()
}

// NoopMetrics is a metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) RecordRound(_ context.Context, _ time.Duration, _ error)               {}
func (NoopMetrics) RecordPayoff(_ context.Context, _ string, _ game.PayoffKind, _ uint64) {}
func (NoopMetrics) RecordFinalScore(_ context.Context, _ string, _ uint64)                {}

// Handler returns a handler that reports metrics as unavailable.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

// Ensure implementations satisfy the interface.
var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
