package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	t.Parallel()
	m := New()

	m.AdsPosted.WithLabelValues("astana").Inc()
	m.AdsPosted.WithLabelValues("astana").Inc()
	m.AdsFailed.WithLabelValues("astana", "rate_limited").Inc()
	m.MessagesDeleted.Add(3)
	m.AssetsDeleted.Add(2)
	m.ObserveRun("posting", 42*time.Second)

	if got := testutil.ToFloat64(m.AdsPosted.WithLabelValues("astana")); got != 2 {
		t.Fatalf("ads_posted_total{city=astana} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AdsFailed.WithLabelValues("astana", "rate_limited")); got != 1 {
		t.Fatalf("ads_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MessagesDeleted); got != 3 {
		t.Fatalf("channel_messages_deleted_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.AssetsDeleted); got != 2 {
		t.Fatalf("stored_photos_deleted_total = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.RunDuration, "job_run_seconds"); got == 0 {
		t.Fatal("job_run_seconds not collected")
	}
}

// Each Metrics instance carries its own registry, so two instances never
// collide on registration.
func TestNewIsIsolated(t *testing.T) {
	t.Parallel()
	_ = New()
	_ = New()
}
