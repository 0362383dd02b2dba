package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gsarma/examrunner/internal/metrics"
)

func TestServerCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewServer(reg)
	m.JobCreated("run")
	m.JobCreated("run")
	m.JobCreated("save")
	m.QuotaRejected()
	m.Claim(true)
	m.Claim(false)
	m.Report("accepted", "completed")

	n, err := testutil.GatherAndCount(reg,
		"examrunner_jobs_created_total",
		"examrunner_quota_rejections_total",
		"examrunner_claims_total",
		"examrunner_reports_total",
	)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	// run, save, quota, claimed, empty, accepted/completed
	if n != 6 {
		t.Errorf("expected 6 series, got %d", n)
	}
}

func TestAgentInFlightGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewAgent(reg)
	m.JobStarted()
	m.JobStarted()
	m.JobDone()
	m.Executed("completed", 1500*time.Millisecond)
	m.Stuck()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "examrunner_agent_jobs_in_flight" {
			if got := f.GetMetric()[0].GetGauge().GetValue(); got != 1 {
				t.Errorf("expected 1 job in flight, got %v", got)
			}
			return
		}
	}
	t.Error("in-flight gauge not registered")
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var s *metrics.Server
	var a *metrics.Agent
	s.JobCreated("run")
	s.Claim(true)
	a.JobStarted()
	a.Executed("failed", time.Second)
	a.Stuck()
}
