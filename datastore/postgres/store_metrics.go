package postgres

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricLabels  = []string{"query", "success"}
	databaseTimer = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "oasis",
		Subsystem: "datastore_postgres",
		Name:      "query_duration_seconds",
		Help:      "Database query duration for noted query, including data read time.",
	}, metricLabels)
	databaseCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oasis",
		Subsystem: "datastore_postgres",
		Name:      "query_total",
		Help:      "Database query count for noted query.",
	}, metricLabels)
)

//go:embed queries/*.sql
var queries embed.FS

// getQuery loads the named embedded SQL statement and starts its clock.
// The returned func records duration and success once the caller's named
// error has settled, so invoke it deferred.
//
// A missing statement panics: the embed and the call sites ship together,
// so a miss is a packaging defect, not a runtime condition.
func getQuery(_ context.Context, name string, err *error) (string, func()) {
	b, rerr := fs.ReadFile(queries, "queries/"+name+".sql")
	if rerr != nil {
		panic(rerr)
	}
	start := time.Now()
	return string(b), func() {
		labels := prometheus.Labels{
			"query":   name,
			"success": strconv.FormatBool(errors.Is(*err, nil)),
		}
		databaseCounter.With(labels).Inc()
		databaseTimer.With(labels).Observe(time.Since(start).Seconds())
	}
}
