package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector("gridtest")

	c.CycleCompleted(0.5)
	c.CycleCompleted(1.5)
	c.CycleFailed()
	c.SubmissionResult("success")
	c.SubmissionResult("success")
	c.SubmissionResult("skipped")

	if got := testutil.ToFloat64(c.cyclesTotal); got != 2 {
		t.Errorf("cycles_total = %f, want 2", got)
	}
	if got := testutil.ToFloat64(c.cycleFailures); got != 1 {
		t.Errorf("cycle_failures_total = %f, want 1", got)
	}
	if got := testutil.ToFloat64(c.submissions.WithLabelValues("success")); got != 2 {
		t.Errorf("submissions_total[success] = %f, want 2", got)
	}
	if got := testutil.ToFloat64(c.submissions.WithLabelValues("skipped")); got != 1 {
		t.Errorf("submissions_total[skipped] = %f, want 1", got)
	}
}

func TestCollectorGauges(t *testing.T) {
	c := NewCollector("gridtest")

	c.SetCurrentPrice(50000.5)
	c.SetMarginUsage(123.4)
	c.SetPlanLevels(6)

	if got := testutil.ToFloat64(c.currentPrice); got != 50000.5 {
		t.Errorf("current_price = %f", got)
	}
	if got := testutil.ToFloat64(c.marginUsage); got != 123.4 {
		t.Errorf("margin_usage = %f", got)
	}
	if got := testutil.ToFloat64(c.planLevels); got != 6 {
		t.Errorf("plan_levels = %f", got)
	}
}
