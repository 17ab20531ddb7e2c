package stats

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/actor"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/storage"
	"github.com/droverhq/drover/pkg/types"
)

// flushThreshold forces a flush when the event buffer grows this large
// between timer ticks.
const flushThreshold = 1000

// Aggregator accumulates task statistics for one calendar day. Events are
// buffered in memory and flushed to storage periodically; the aggregate
// counters are re-persisted on every flush so recovery never depends on
// replaying buffered events.
type Aggregator struct {
	mu    sync.Mutex
	date  string
	store storage.Store
	clock actor.Clock
	timer *actor.Timer

	flushInterval time.Duration
	logger        zerolog.Logger

	counters      counters
	serverStats   map[string]*types.ServerStatistics
	hourly        map[int]types.HourlyStat
	buffer        []types.StatEvent
	lastFlushHour int
}

// counters are the persisted daily aggregates.
type counters struct {
	TotalTasks             int64 `json:"totalTasks"`
	PendingTasks           int64 `json:"pendingTasks"`
	SuccessfulTasks        int64 `json:"successfulTasks"`
	FailedTasks            int64 `json:"failedTasks"`
	RetriedTasks           int64 `json:"retriedTasks"`
	TotalSuccessDurationMs int64 `json:"totalSuccessDurationMs"`
}

// NewAggregator creates the aggregator for the given ISO date (YYYY-MM-DD),
// recovering any state a previous run persisted for that day.
func NewAggregator(date string, store storage.Store, clock actor.Clock, flushInterval time.Duration) *Aggregator {
	a := &Aggregator{
		date:          date,
		store:         store,
		clock:         clock,
		timer:         actor.NewTimer(clock),
		flushInterval: flushInterval,
		logger:        log.WithComponent("stats").With().Str("date", date).Logger(),
		serverStats:   make(map[string]*types.ServerStatistics),
		hourly:        make(map[int]types.HourlyStat),
		lastFlushHour: clock.Now().UTC().Hour(),
	}
	a.recover()
	return a
}

func (a *Aggregator) namespace() string {
	return "stats:" + a.date
}

func (a *Aggregator) recover() {
	if err := a.store.Get(a.namespace(), "stats", &a.counters); err != nil && !errors.Is(err, storage.ErrNotFound) {
		a.logger.Warn().Err(err).Msg("failed to recover counters")
	}
	_ = a.store.Get(a.namespace(), "serverStats", &a.serverStats)
	_ = a.store.Get(a.namespace(), "hourlyStats", &a.hourly)
	if a.serverStats == nil {
		a.serverStats = make(map[string]*types.ServerStatistics)
	}
	if a.hourly == nil {
		a.hourly = make(map[int]types.HourlyStat)
	}
}

// Start arms the periodic flush timer.
func (a *Aggregator) Start() {
	a.timer.Reset(a.flushInterval, a.onFlushTimer)
}

// Stop flushes once more and disarms the timer.
func (a *Aggregator) Stop() {
	a.timer.Stop()
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.flushLocked(); err != nil {
		a.logger.Warn().Err(err).Msg("final flush failed")
	}
}

// RecordTaskStart buffers a start event and bumps the admission counters.
func (a *Aggregator) RecordTaskStart(taskID, serverID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now().UTC()
	a.buffer = append(a.buffer, types.StatEvent{
		Kind:      types.EventStart,
		TaskID:    taskID,
		ServerID:  serverID,
		Timestamp: now,
	})

	a.counters.TotalTasks++
	a.counters.PendingTasks++

	h := a.hourly[now.Hour()]
	h.Tasks++
	a.hourly[now.Hour()] = h

	a.maybeFlushLocked()
}

// RecordTaskComplete buffers a completion event and folds it into the
// daily, per-server, and hourly rollups.
func (a *Aggregator) RecordTaskComplete(taskID, serverID string, success bool, duration time.Duration, retries int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now().UTC()
	durationMs := duration.Milliseconds()
	a.buffer = append(a.buffer, types.StatEvent{
		Kind:       types.EventComplete,
		TaskID:     taskID,
		ServerID:   serverID,
		Success:    success,
		DurationMs: durationMs,
		Retries:    retries,
		Timestamp:  now,
	})

	if a.counters.PendingTasks > 0 {
		a.counters.PendingTasks--
	}
	if success {
		a.counters.SuccessfulTasks++
		a.counters.TotalSuccessDurationMs += durationMs
	} else {
		a.counters.FailedTasks++
	}
	if retries > 0 {
		a.counters.RetriedTasks++
	}

	if serverID != "" {
		ss := a.serverStats[serverID]
		if ss == nil {
			ss = &types.ServerStatistics{ServerID: serverID}
			a.serverStats[serverID] = ss
		}
		ss.TasksProcessed++
		if success {
			ss.Successes++
		} else {
			ss.Failures++
		}
		ss.TotalDurationMs += durationMs
		ss.SuccessRate = float64(ss.Successes) / float64(ss.TasksProcessed)
		ss.AvgResponseMs = float64(ss.TotalDurationMs) / float64(ss.TasksProcessed)
		ss.LastActive = now
	}

	h := a.hourly[now.Hour()]
	if success {
		h.Successes++
	} else {
		h.Failures++
	}
	a.hourly[now.Hour()] = h

	a.maybeFlushLocked()
}

// GetStats flushes and returns the daily rollup.
func (a *Aggregator) GetStats() types.Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.flushLocked(); err != nil {
		a.logger.Warn().Err(err).Msg("flush before read failed")
	}

	stats := types.Statistics{
		Date:                   a.date,
		TotalTasks:             a.counters.TotalTasks,
		PendingTasks:           a.counters.PendingTasks,
		SuccessfulTasks:        a.counters.SuccessfulTasks,
		FailedTasks:            a.counters.FailedTasks,
		RetriedTasks:           a.counters.RetriedTasks,
		TotalSuccessDurationMs: a.counters.TotalSuccessDurationMs,
		TopServers:             a.topServersLocked(5),
		HourlyTrend:            a.hourlyReportLocked(),
	}
	if a.counters.SuccessfulTasks > 0 {
		stats.AvgProcessingMs = float64(a.counters.TotalSuccessDurationMs) / float64(a.counters.SuccessfulTasks)
	}
	return stats
}

// GetServerStats flushes and returns one server's record. An unknown
// server yields an empty record rather than an error.
func (a *Aggregator) GetServerStats(serverID string) types.ServerStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.flushLocked(); err != nil {
		a.logger.Warn().Err(err).Msg("flush before read failed")
	}

	if ss := a.serverStats[serverID]; ss != nil {
		return *ss
	}
	return types.ServerStatistics{ServerID: serverID}
}

// GetHourlyReport flushes and returns one bucket per hour of the day.
func (a *Aggregator) GetHourlyReport() []types.HourlyReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.flushLocked(); err != nil {
		a.logger.Warn().Err(err).Msg("flush before read failed")
	}

	return a.hourlyReportLocked()
}

// Flush persists the counters and drains the event buffer.
func (a *Aggregator) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked()
}

func (a *Aggregator) onFlushTimer() {
	a.mu.Lock()

	// Past midnight, the hour-of-day buckets belong to a new day.
	hour := a.clock.Now().UTC().Hour()
	if hour == 0 && a.lastFlushHour != 0 {
		a.hourly = make(map[int]types.HourlyStat)
	}
	a.lastFlushHour = hour

	if err := a.flushLocked(); err != nil {
		a.logger.Warn().Err(err).Msg("periodic flush failed")
	}
	a.mu.Unlock()

	a.timer.Reset(a.flushInterval, a.onFlushTimer)
}

func (a *Aggregator) maybeFlushLocked() {
	if len(a.buffer) < flushThreshold {
		return
	}
	if err := a.flushLocked(); err != nil {
		// The buffer stays intact; the next timer tick retries.
		a.logger.Warn().Err(err).Msg("threshold flush failed")
	}
}

// flushLocked writes counters, rollups, and the buffered events in one
// batched transaction, then clears the buffer. Counters are always
// re-persisted so a crash between flushes loses at most buffered events,
// never counter increments.
func (a *Aggregator) flushLocked() error {
	batch := map[string]interface{}{
		"stats":       a.counters,
		"serverStats": a.serverStats,
		"hourlyStats": a.hourly,
	}
	if len(a.buffer) > 0 {
		key := fmt.Sprintf("events-%d", a.clock.Now().UnixMilli())
		batch[key] = a.buffer
	}

	if err := a.store.PutBatch(a.namespace(), batch); err != nil {
		return fmt.Errorf("failed to flush stats for %s: %w", a.date, err)
	}

	a.buffer = nil
	return nil
}

func (a *Aggregator) topServersLocked(n int) []types.ServerStatistics {
	servers := make([]types.ServerStatistics, 0, len(a.serverStats))
	for _, ss := range a.serverStats {
		servers = append(servers, *ss)
	}
	sort.Slice(servers, func(i, j int) bool {
		if servers[i].TasksProcessed == servers[j].TasksProcessed {
			return servers[i].ServerID < servers[j].ServerID
		}
		return servers[i].TasksProcessed > servers[j].TasksProcessed
	})
	if len(servers) > n {
		servers = servers[:n]
	}
	return servers
}

func (a *Aggregator) hourlyReportLocked() []types.HourlyReport {
	report := make([]types.HourlyReport, 24)
	for hour := 0; hour < 24; hour++ {
		report[hour] = types.HourlyReport{
			Hour:       hour,
			Period:     fmt.Sprintf("%d:00-%d:59", hour, hour),
			HourlyStat: a.hourly[hour],
		}
	}
	return report
}
