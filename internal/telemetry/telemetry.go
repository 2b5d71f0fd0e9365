// Package telemetry exports Prometheus metrics and tracing for the pipeline.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "citescope"

// Metrics holds all citescope Prometheus collectors.
type Metrics struct {
	JobsCreated   prometheus.Counter
	JobsFinished  *prometheus.CounterVec
	StageRuns     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	CollaboratorCalls *prometheus.CounterVec

	StoreReads   *prometheus.CounterVec
	StoreWrites  *prometheus.CounterVec
	StorePending prometheus.Gauge

	ReportTiers       *prometheus.CounterVec
	WebhookDeliveries *prometheus.CounterVec
	ScheduledRuns     *prometheus.CounterVec
}

// Provider wraps the tracer and metrics. A nil *Provider is valid and records nothing.
type Provider struct {
	Tracer  trace.Tracer
	Metrics *Metrics
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewProvider returns a provider backed by the process-wide metric collectors.
func NewProvider() *Provider {
	metricsOnce.Do(func() { metrics = initMetrics() })
	return &Provider{
		Tracer:  otel.Tracer(serviceName),
		Metrics: metrics,
	}
}

// Handler serves the /metrics endpoint.
func (p *Provider) Handler() http.Handler {
	return promhttp.Handler()
}

func initMetrics() *Metrics {
	return &Metrics{
		JobsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "citescope_jobs_created_total",
			Help: "Analysis jobs created",
		}),
		JobsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "citescope_jobs_finished_total",
			Help: "Analysis jobs that reached a terminal status",
		}, []string{"status"}),
		StageRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "citescope_stage_runs_total",
			Help: "Stage invocations by outcome (ok, degraded, failed, rejected)",
		}, []string{"stage", "outcome"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "citescope_stage_duration_seconds",
			Help:    "Wall time of a stage invocation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		CollaboratorCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "citescope_collaborator_calls_total",
			Help: "Calls to search, fetch, agent and render collaborators",
		}, []string{"collaborator", "outcome"}),
		StoreReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "citescope_store_reads_total",
			Help: "Job store reads by the tier that answered (cache, pending, durable, miss)",
		}, []string{"tier"}),
		StoreWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "citescope_store_durable_writes_total",
			Help: "Write-behind durable writes by outcome",
		}, []string{"outcome"}),
		StorePending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "citescope_store_pending_writes",
			Help: "Job snapshots waiting for the durable store",
		}),
		ReportTiers: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "citescope_report_tier_total",
			Help: "Report renderer attempts by tier and outcome",
		}, []string{"tier", "outcome"}),
		WebhookDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "citescope_webhook_deliveries_total",
			Help: "Webhook deliveries by outcome",
		}, []string{"outcome"}),
		ScheduledRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "citescope_scheduled_runs_total",
			Help: "Scheduled analysis runs by schedule name and outcome",
		}, []string{"schedule", "outcome"}),
	}
}

// StartSpan starts a span named name under ctx.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(serviceName)
	if p != nil && p.Tracer != nil {
		tracer = p.Tracer
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (p *Provider) JobCreated() {
	if p == nil || p.Metrics == nil {
		return
	}
	p.Metrics.JobsCreated.Inc()
}

func (p *Provider) JobFinished(status string) {
	if p == nil || p.Metrics == nil {
		return
	}
	p.Metrics.JobsFinished.WithLabelValues(status).Inc()
}

func (p *Provider) StageObserved(stage, outcome string, elapsed time.Duration) {
	if p == nil || p.Metrics == nil {
		return
	}
	p.Metrics.StageRuns.WithLabelValues(stage, outcome).Inc()
	p.Metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (p *Provider) CollaboratorCall(name string, err error) {
	if p == nil || p.Metrics == nil {
		return
	}
	p.Metrics.CollaboratorCalls.WithLabelValues(name, outcome(err)).Inc()
}

func (p *Provider) StoreRead(tier string) {
	if p == nil || p.Metrics == nil {
		return
	}
	p.Metrics.StoreReads.WithLabelValues(tier).Inc()
}

func (p *Provider) StoreWrite(outcome string, pending int) {
	if p == nil || p.Metrics == nil {
		return
	}
	p.Metrics.StoreWrites.WithLabelValues(outcome).Inc()
	p.Metrics.StorePending.Set(float64(pending))
}

func (p *Provider) ReportTier(tier string, err error) {
	if p == nil || p.Metrics == nil {
		return
	}
	p.Metrics.ReportTiers.WithLabelValues(tier, outcome(err)).Inc()
}

func (p *Provider) WebhookDelivery(err error) {
	if p == nil || p.Metrics == nil {
		return
	}
	p.Metrics.WebhookDeliveries.WithLabelValues(outcome(err)).Inc()
}

func (p *Provider) ScheduledRun(schedule string, err error) {
	if p == nil || p.Metrics == nil {
		return
	}
	p.Metrics.ScheduledRuns.WithLabelValues(schedule, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
