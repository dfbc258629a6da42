package layout

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionSweeperPrometheusMetrics sync.Once

	sessionSweeperSessionsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "pnfs",
			Name:      "session_sweeper_sessions_swept_total",
			Help:      "Number of abandoned sessions that were removed by the session sweeper.",
		})
)

// RunSessionSweeper periodically removes sessions that have been
// abandoned for longer than the grace period. Sessions that are swept
// can no longer be adopted by clients retrying LAYOUTGET. This function
// returns when the context is cancelled.
func RunSessionSweeper(ctx context.Context, clock clock.Clock, sweeper AbandonedSessionSweeper, interval, gracePeriod time.Duration) {
	sessionSweeperPrometheusMetrics.Do(func() {
		prometheus.MustRegister(sessionSweeperSessionsSwept)
	})

	for {
		timer, timerChannel := clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timerChannel:
		}

		if swept := sweeper.SweepAbandonedSessions(ctx, gracePeriod); swept > 0 {
			sessionSweeperSessionsSwept.Add(float64(swept))
			log.Printf("Swept %d abandoned sessions", swept)
		}
	}
}
