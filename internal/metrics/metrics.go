// Package metrics holds the Prometheus collectors for the server and the
// worker agent. A nil *Server or *Agent records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "examrunner"

// 100ms -> 60s
var executionBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 20, 30, 45, 60}

type Server struct {
	jobsCreated     *prometheus.CounterVec
	quotaRejections prometheus.Counter
	claims          *prometheus.CounterVec
	reports         *prometheus.CounterVec
}

func NewServer(reg prometheus.Registerer) *Server {
	m := &Server{
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_created_total",
			Help:      "Jobs created, by kind (run or save)",
		}, []string{"kind"}),
		quotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Run requests rejected because the attempt ceiling was reached",
		}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim requests, by result (claimed or empty)",
		}, []string{"result"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Worker reports, by result (accepted or stale) and outcome",
		}, []string{"result", "status"}),
	}
	reg.MustRegister(m.jobsCreated, m.quotaRejections, m.claims, m.reports)
	return m
}

func (m *Server) JobCreated(kind string) {
	if m == nil {
		return
	}
	m.jobsCreated.WithLabelValues(kind).Inc()
}

func (m *Server) QuotaRejected() {
	if m == nil {
		return
	}
	m.quotaRejections.Inc()
}

func (m *Server) Claim(claimed bool) {
	if m == nil {
		return
	}
	result := "empty"
	if claimed {
		result = "claimed"
	}
	m.claims.WithLabelValues(result).Inc()
}

func (m *Server) Report(result, status string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(result, status).Inc()
}

type Agent struct {
	inFlight      prometheus.Gauge
	executions    *prometheus.CounterVec
	executionTime *prometheus.HistogramVec
	pollErrors    prometheus.Counter
	reportRetries prometheus.Counter
	stuckJobs     prometheus.Counter
}

func NewAgent(reg prometheus.Registerer) *Agent {
	m := &Agent{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently executing on this agent",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "executions_total",
			Help:      "Finished executions, by outcome",
		}, []string{"status"}),
		executionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "execution_seconds",
			Help:      "Histogram for the wall time of an execution",
			Buckets:   executionBuckets,
		}, []string{"status"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "poll_errors_total",
			Help:      "Failed claim requests",
		}),
		reportRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "report_retries_total",
			Help:      "Report attempts that failed and were retried",
		}),
		stuckJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "stuck_jobs_total",
			Help:      "Jobs left running because every report attempt failed",
		}),
	}
	reg.MustRegister(m.inFlight, m.executions, m.executionTime, m.pollErrors, m.reportRetries, m.stuckJobs)
	return m
}

func (m *Agent) JobStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Agent) JobDone() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

func (m *Agent) Executed(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(status).Inc()
	m.executionTime.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Agent) PollError() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

func (m *Agent) ReportRetried() {
	if m == nil {
		return
	}
	m.reportRetries.Inc()
}

func (m *Agent) Stuck() {
	if m == nil {
		return
	}
	m.stuckJobs.Inc()
}
