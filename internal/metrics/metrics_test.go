package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegistered(t *testing.T) {
	FeedDeltas.WithLabelValues("entry", ResultApplied).Inc()
	if got := testutil.ToFloat64(FeedDeltas.WithLabelValues("entry", ResultApplied)); got < 1 {
		t.Errorf("feed deltas = %v", got)
	}

	QueueLength.WithLabelValues("r-1").Set(3)
	if got := testutil.ToFloat64(QueueLength.WithLabelValues("r-1")); got != 3 {
		t.Errorf("queue length = %v, want 3", got)
	}

	SessionOutcomes.WithLabelValues("created").Inc()
	if n := testutil.CollectAndCount(SessionOutcomes); n < 1 {
		t.Errorf("session outcome series = %d, want at least 1", n)
	}
}
