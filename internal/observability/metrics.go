package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec

	gradingUnitsTotal    *prometheus.CounterVec
	gradingUnitSeconds   prometheus.Histogram
	correctionsTotal     *prometheus.CounterVec
	jobsTotal            *prometheus.CounterVec
	jobsActive           prometheus.Gauge
	streamEventsTotal    *prometheus.CounterVec
	streamEvictionsTotal prometheus.Counter
	streamClientsActive  *prometheus.GaugeVec
	followUpsTotal       *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used across the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grader_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		gradingUnitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_units_total",
			Help: "Graded (question, student) units by outcome.",
		}, []string{"outcome"})

		gradingUnitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grader_unit_duration_seconds",
			Help:    "Wall time spent grading one unit, feedback included.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		})

		correctionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_corrections_total",
			Help: "Self-correction attempts by outcome.",
		}, []string{"outcome"})

		jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_jobs_total",
			Help: "Jobs that reached a status.",
		}, []string{"status"})

		jobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grader_jobs_active",
			Help: "Jobs currently being processed.",
		})

		streamEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_stream_events_total",
			Help: "Stream events published by kind.",
		}, []string{"event"})

		streamEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grader_stream_evictions_total",
			Help: "Subscribers disconnected because their buffer was full.",
		})

		streamClientsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grader_stream_clients_active",
			Help: "Connected live stream clients by transport.",
		}, []string{"transport"})

		followUpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_followups_total",
			Help: "Follow-up questions by outcome.",
		}, []string{"outcome"})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			gradingUnitsTotal, gradingUnitSeconds, correctionsTotal,
			jobsTotal, jobsActive,
			streamEventsTotal, streamEvictionsTotal, streamClientsActive,
			followUpsTotal,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// GradingUnits counts units by outcome: valid, corrected, invalid or source_failed.
func GradingUnits() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingUnitsTotal
}

func GradingUnitDuration() prometheus.Histogram {
	RegisterMetrics()
	return gradingUnitSeconds
}

// Corrections counts correction attempts: corrected, still_invalid or call_failed.
func Corrections() *prometheus.CounterVec {
	RegisterMetrics()
	return correctionsTotal
}

func Jobs() *prometheus.CounterVec {
	RegisterMetrics()
	return jobsTotal
}

func JobsActive() prometheus.Gauge {
	RegisterMetrics()
	return jobsActive
}

func StreamEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return streamEventsTotal
}

func StreamEvictions() prometheus.Counter {
	RegisterMetrics()
	return streamEvictionsTotal
}

// StreamClients tracks connected clients per transport (ws, sse).
func StreamClients() *prometheus.GaugeVec {
	RegisterMetrics()
	return streamClientsActive
}

func FollowUps() *prometheus.CounterVec {
	RegisterMetrics()
	return followUpsTotal
}
