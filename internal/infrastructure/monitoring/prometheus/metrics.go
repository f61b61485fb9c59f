package prometheus

import (
	"strconv"
	"time"
)

// ChargeMetrics holds the metrics emitted by the charge assignment service.
type ChargeMetrics struct {
	// Charging
	ChargeRequestsTotal CounterVec
	ChargeDuration      HistogramVec
	SolveDuration       HistogramVec
	SolverTableSize     HistogramVec
	ShellAttempts       HistogramVec
	ChargeCacheTotal    CounterVec

	// Repository
	RepositoryReloadsTotal CounterVec
	RepositoryMolecules    GaugeVec
	RepositoryLoadedAt     GaugeVec

	// Validation
	ValidationMAE GaugeVec

	// Jobs
	JobsTotal       CounterVec
	JobDuration     HistogramVec
	JobRetriesTotal CounterVec

	// Transport
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	GRPCRequestsTotal   CounterVec
	GRPCRequestDuration HistogramVec
}

// Default Buckets
var (
	DefaultHTTPDurationBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultSolveDurationBuckets = []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5, 30}
	DefaultTableSizeBuckets     = []float64{1, 10, 100, 1000, 10000, 100000, 1000000}
	DefaultJobDurationBuckets   = []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300}
)

// NewChargeMetrics registers all metrics on collector.
func NewChargeMetrics(collector MetricsCollector) *ChargeMetrics {
	m := &ChargeMetrics{}

	m.ChargeRequestsTotal = collector.RegisterCounter("charge_requests_total", "Charge requests by outcome", "outcome")
	m.ChargeDuration = collector.RegisterHistogram("charge_duration_seconds", "End-to-end charge assignment duration", DefaultSolveDurationBuckets, "outcome")
	m.SolveDuration = collector.RegisterHistogram("solve_duration_seconds", "Duration of a single knapsack solve", DefaultSolveDurationBuckets, "mode")
	m.SolverTableSize = collector.RegisterHistogram("solver_table_size", "Peak dynamic programming table size", DefaultTableSizeBuckets, "mode")
	m.ShellAttempts = collector.RegisterHistogram("shell_attempts", "Shells tried before a solution was found", []float64{1, 2, 3, 4, 6, 8}, "mode")
	m.ChargeCacheTotal = collector.RegisterCounter("charge_cache_total", "Result cache lookups", "result")

	m.RepositoryReloadsTotal = collector.RegisterCounter("repository_reloads_total", "Repository reloads", "source", "status")
	m.RepositoryMolecules = collector.RegisterGauge("repository_molecules", "Molecules contributing to the loaded repository")
	m.RepositoryLoadedAt = collector.RegisterGauge("repository_loaded_timestamp_seconds", "Unix time of the last successful repository load")

	m.ValidationMAE = collector.RegisterGauge("validation_mae", "Mean absolute atom charge error of the last validation run", "element")

	m.JobsTotal = collector.RegisterCounter("jobs_total", "Queued charge jobs by status", "status")
	m.JobDuration = collector.RegisterHistogram("job_duration_seconds", "Queued charge job duration", DefaultJobDurationBuckets, "status")
	m.JobRetriesTotal = collector.RegisterCounter("job_retries_total", "Queued charge job retries")

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.GRPCRequestsTotal = collector.RegisterCounter("grpc_requests_total", "Total gRPC requests", "method", "code")
	m.GRPCRequestDuration = collector.RegisterHistogram("grpc_request_duration_seconds", "gRPC request duration", DefaultHTTPDurationBuckets, "method")

	return m
}

// Helpers

func RecordCharge(m *ChargeMetrics, outcome string, duration time.Duration) {
	m.ChargeRequestsTotal.WithLabelValues(outcome).Inc()
	m.ChargeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordSolve(m *ChargeMetrics, mode string, duration time.Duration, peakSize int, attempts int) {
	m.SolveDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.SolverTableSize.WithLabelValues(mode).Observe(float64(peakSize))
	m.ShellAttempts.WithLabelValues(mode).Observe(float64(attempts))
}

func RecordCacheAccess(m *ChargeMetrics, hit bool) {
	if hit {
		m.ChargeCacheTotal.WithLabelValues("hit").Inc()
	} else {
		m.ChargeCacheTotal.WithLabelValues("miss").Inc()
	}
}

// RecordReload counts a repository load attempt. The molecule gauge and
// timestamp only move on success.
func RecordReload(m *ChargeMetrics, source string, molecules int, loadedAt time.Time, err error) {
	if err != nil {
		m.RepositoryReloadsTotal.WithLabelValues(source, "failure").Inc()
		return
	}
	m.RepositoryReloadsTotal.WithLabelValues(source, "success").Inc()
	m.RepositoryMolecules.WithLabelValues().Set(float64(molecules))
	m.RepositoryLoadedAt.WithLabelValues().Set(float64(loadedAt.Unix()))
}

func RecordJob(m *ChargeMetrics, status string, duration time.Duration) {
	m.JobsTotal.WithLabelValues(status).Inc()
	m.JobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func RecordHTTPRequest(m *ChargeMetrics, method, path string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordGRPCRequest(m *ChargeMetrics, method, code string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}
