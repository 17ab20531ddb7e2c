package stats

import (
	"time"

	"github.com/droverhq/drover/pkg/actor"
	"github.com/droverhq/drover/pkg/storage"
)

// DateLayout is the ISO date keying one aggregator instance.
const DateLayout = "2006-01-02"

// Recorder routes statistics to the aggregator for the current UTC day,
// creating day instances on demand. API reads address past days directly
// through For.
type Recorder struct {
	group *actor.Group[*Aggregator]
	clock actor.Clock
}

// NewRecorder creates the per-day aggregator group.
func NewRecorder(store storage.Store, clock actor.Clock, flushInterval time.Duration) *Recorder {
	return &Recorder{
		clock: clock,
		group: actor.NewGroup(func(date string) *Aggregator {
			a := NewAggregator(date, store, clock, flushInterval)
			a.Start()
			return a
		}),
	}
}

// For returns the aggregator for the given ISO date (YYYY-MM-DD).
func (r *Recorder) For(date string) *Aggregator {
	return r.group.Get(date)
}

// Today returns the aggregator for the current UTC day.
func (r *Recorder) Today() *Aggregator {
	return r.For(r.clock.Now().UTC().Format(DateLayout))
}

// RecordTaskStart records a task admission against today's aggregator.
func (r *Recorder) RecordTaskStart(taskID, serverID string) {
	r.Today().RecordTaskStart(taskID, serverID)
}

// RecordTaskComplete records a terminal transition against today's
// aggregator.
func (r *Recorder) RecordTaskComplete(taskID, serverID string, success bool, duration time.Duration, retries int) {
	r.Today().RecordTaskComplete(taskID, serverID, success, duration, retries)
}

// Stop flushes and disarms every live aggregator.
func (r *Recorder) Stop() {
	r.group.Range(func(_ string, a *Aggregator) bool {
		a.Stop()
		return true
	})
}
