package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for linkfleet
type Metrics struct {
	// Distribution
	PlansBuiltTotal         *prometheus.CounterVec
	PlanAssignments         prometheus.Histogram
	ExecutionsTotal         *prometheus.CounterVec
	PostsCreatedTotal       *prometheus.CounterVec
	AssignmentsSkippedTotal *prometheus.CounterVec

	// Lifecycle
	LifecycleTransitionsTotal *prometheus.CounterVec
	SweepRunsTotal            *prometheus.CounterVec
	SweepDeletedTotal         prometheus.Counter
	SweepDurationSeconds      prometheus.Histogram

	// Post gauges
	TrialPosts   prometheus.Gauge
	ClaimedPosts prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Rate limiting
	RateLimitExceededTotal *prometheus.CounterVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		PlansBuiltTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkfleet_plans_built_total",
				Help: "Total number of distribution plans requested, by result",
			},
			[]string{"result"},
		),
		PlanAssignments: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linkfleet_plan_assignments",
				Help:    "Number of assignments per built plan",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 40},
			},
		),
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkfleet_campaign_executions_total",
				Help: "Total number of campaign executions, by result",
			},
			[]string{"result"},
		),
		PostsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkfleet_posts_created_total",
				Help: "Total number of posts published by campaign execution",
			},
			[]string{"domain"},
		),
		AssignmentsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkfleet_assignments_skipped_total",
				Help: "Total number of plan assignments skipped during execution",
			},
			[]string{"reason"},
		),

		LifecycleTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkfleet_lifecycle_transitions_total",
				Help: "Total number of post lifecycle requests, by transition and outcome",
			},
			[]string{"transition", "outcome"},
		),
		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkfleet_sweep_runs_total",
				Help: "Total number of expiration sweeps, by result",
			},
			[]string{"result"},
		),
		SweepDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "linkfleet_sweep_deleted_total",
				Help: "Total number of expired trial posts deleted",
			},
		),
		SweepDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linkfleet_sweep_duration_seconds",
				Help:    "Expiration sweep duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
		),

		TrialPosts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkfleet_trial_posts",
				Help: "Number of unclaimed trial posts",
			},
		),
		ClaimedPosts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkfleet_claimed_posts",
				Help: "Number of claimed posts",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkfleet_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkfleet_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkfleet_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkfleet_ratelimit_exceeded_total",
				Help: "Total number of rate limit exceeded events",
			},
			[]string{"level"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkfleet_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkfleet_goroutines",
				Help: "Number of active goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.PlansBuiltTotal,
		m.PlanAssignments,
		m.ExecutionsTotal,
		m.PostsCreatedTotal,
		m.AssignmentsSkippedTotal,
		m.LifecycleTransitionsTotal,
		m.SweepRunsTotal,
		m.SweepDeletedTotal,
		m.SweepDurationSeconds,
		m.TrialPosts,
		m.ClaimedPosts,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.RateLimitExceededTotal,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObservePlan records a plan request. assignments is ignored on error.
func ObservePlan(assignments int, err error) {
	m := Global()
	if m == nil {
		return
	}
	if err != nil {
		m.PlansBuiltTotal.WithLabelValues("error").Inc()
		return
	}
	m.PlansBuiltTotal.WithLabelValues("ok").Inc()
	m.PlanAssignments.Observe(float64(assignments))
}

// IncExecution increments the campaign execution counter
func IncExecution(result string) {
	m := Global()
	if m != nil {
		m.ExecutionsTotal.WithLabelValues(result).Inc()
	}
}

// IncPostsCreated increments the created post counter
func IncPostsCreated(domain string) {
	m := Global()
	if m != nil {
		m.PostsCreatedTotal.WithLabelValues(domain).Inc()
	}
}

// IncAssignmentSkipped increments the skipped assignment counter
func IncAssignmentSkipped(reason string) {
	m := Global()
	if m != nil {
		m.AssignmentsSkippedTotal.WithLabelValues(reason).Inc()
	}
}

// IncLifecycle increments the lifecycle transition counter
func IncLifecycle(transition, outcome string) {
	m := Global()
	if m != nil {
		m.LifecycleTransitionsTotal.WithLabelValues(transition, outcome).Inc()
	}
}

// ObserveSweep records one expiration sweep
func ObserveSweep(deleted int, duration time.Duration, err error) {
	m := Global()
	if m == nil {
		return
	}
	m.SweepDurationSeconds.Observe(duration.Seconds())
	if err != nil {
		m.SweepRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.SweepRunsTotal.WithLabelValues("ok").Inc()
	m.SweepDeletedTotal.Add(float64(deleted))
}

// IncRateLimitExceeded increments rate limit exceeded counter
func IncRateLimitExceeded(level string) {
	m := Global()
	if m != nil {
		m.RateLimitExceededTotal.WithLabelValues(level).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
