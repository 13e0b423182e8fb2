package postgres

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Every promauto var in this package lands in the default registry at init,
// so a plain gather sees them all without any database in play.
func TestMetricLint(t *testing.T) {
	lints, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range lints {
		t.Errorf("metric %s: %s", l.Metric, l.Text)
	}
}
