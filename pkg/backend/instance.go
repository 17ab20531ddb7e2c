package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/actor"
	"github.com/droverhq/drover/pkg/health"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/storage"
	"github.com/droverhq/drover/pkg/types"
)

var (
	// ErrUnavailable is returned when a dispatch reaches a server that is
	// not online.
	ErrUnavailable = errors.New("server unavailable")

	// ErrAtCapacity is returned when a server's active-task count has
	// reached its configured max concurrency.
	ErrAtCapacity = errors.New("server at capacity")

	// ErrBackend wraps non-2xx responses and transport failures from the
	// backend worker.
	ErrBackend = errors.New("backend error")
)

// HeartbeatSink receives heartbeats from the health loop. Implemented by
// the server registry.
type HeartbeatSink interface {
	UpdateHeartbeat(serverID string) error
}

// StatusSink receives status transitions from the health loop, so the
// registry's view of a server tracks what its instance observes.
// Implemented by the server registry.
type StatusSink interface {
	SetStatus(serverID string, status types.ServerStatus) error
}

// TaskCompleter finalizes tasks whose backend answered synchronously.
// Implemented by the task layer.
type TaskCompleter interface {
	CompleteTask(taskID string, update types.TaskUpdate) error
}

// Options tune the instance's timers and timeouts.
type Options struct {
	MinCheckInterval time.Duration
	MaxCheckInterval time.Duration
	PredictTimeout   time.Duration
	HealthTimeout    time.Duration
	MaxIdle          time.Duration
	DrainBound       time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		MinCheckInterval: 5 * time.Second,
		MaxCheckInterval: 60 * time.Second,
		PredictTimeout:   30 * time.Second,
		HealthTimeout:    5 * time.Second,
		MaxIdle:          time.Hour,
		DrainBound:       30 * time.Second,
	}
}

// recoveryPasses is how many consecutive successful probes a degraded or
// offline server needs before it is put back online.
const recoveryPasses = 3

// dispatchBody is the wire format POSTed to a backend's predict endpoint.
type dispatchBody struct {
	TaskID      string            `json:"task_id"`
	Request     types.TaskRequest `json:"request"`
	CallbackURL string            `json:"callback_url"`
}

// Instance is the per-server actor: it owns one backend server's runtime
// state, dispatches tasks to it over HTTP, and runs its adaptive health
// loop.
type Instance struct {
	id    string
	fleet *Fleet

	mu            sync.Mutex
	config        types.ServerConfig
	status        types.ServerStatus
	healthScore   int
	probe         *health.Status
	checkInterval time.Duration
	lastActivity  time.Time
	active        map[string]time.Time
	closed        bool

	tasksProcessed int64
	tasksSucceeded int64
	tasksFailed    int64
	totalDuration  time.Duration

	store     storage.Store
	clock     actor.Clock
	timer     *actor.Timer
	client    *http.Client
	probeCfg  health.Config
	persistMu sync.Mutex
	opts      Options
	logger    zerolog.Logger
}

func newInstance(id string, fleet *Fleet) *Instance {
	probeCfg := health.DefaultConfig()
	probeCfg.Timeout = fleet.opts.HealthTimeout

	return &Instance{
		id:            id,
		fleet:         fleet,
		status:        types.ServerInitializing,
		healthScore:   100,
		probe:         health.NewStatus(),
		checkInterval: fleet.opts.MinCheckInterval,
		active:        make(map[string]time.Time),
		store:         fleet.store,
		clock:         fleet.clock,
		timer:         actor.NewTimer(fleet.clock),
		client:        &http.Client{Timeout: fleet.opts.PredictTimeout},
		probeCfg:      probeCfg,
		opts:          fleet.opts,
		logger:        log.WithServerID(id),
	}
}

func (i *Instance) namespace() string {
	return "server:" + i.id
}

// Initialize stores the configuration, brings the server online, and arms
// the first health check. Safe to call again on re-registration.
func (i *Instance) Initialize(config types.ServerConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	i.mu.Lock()
	i.config = config
	i.status = types.ServerOnline
	i.healthScore = 100
	i.probe = health.NewStatus()
	i.checkInterval = i.opts.MinCheckInterval
	i.lastActivity = i.clock.Now()
	i.closed = false
	i.mu.Unlock()

	if err := i.persist(); err != nil {
		return err
	}

	i.logger.Info().Str("name", config.Name).Msg("server initialized")
	i.timer.Reset(i.opts.MinCheckInterval, i.onHealthTimer)
	i.notifyBalancer(false)
	return nil
}

// ExecuteTask dispatches one task to the backend's predict endpoint. The
// caller supplies the callback URL the backend uses for asynchronous
// results; synchronous results are delivered through the task completer
// before ExecuteTask returns.
func (i *Instance) ExecuteTask(ctx context.Context, taskID string, request types.TaskRequest, callbackURL string) error {
	i.mu.Lock()
	if i.status != types.ServerOnline {
		status := i.status
		i.mu.Unlock()
		return fmt.Errorf("%w: server %s is %s", ErrUnavailable, i.id, status)
	}
	if len(i.active) >= i.config.MaxConcurrent {
		i.mu.Unlock()
		return fmt.Errorf("%w: server %s has %d active tasks", ErrAtCapacity, i.id, i.config.MaxConcurrent)
	}
	started := i.clock.Now()
	i.active[taskID] = started
	predictURL := i.config.Endpoints.Predict
	apiKey := i.config.APIKey
	i.mu.Unlock()

	result, dispatchErr := i.post(ctx, predictURL, apiKey, dispatchBody{
		TaskID:      taskID,
		Request:     request,
		CallbackURL: callbackURL,
	})

	duration := i.clock.Now().Sub(started)
	success := dispatchErr == nil

	if success && !request.Async {
		// Synchronous backend: its response body is the task result.
		update := types.TaskUpdate{Status: types.TaskCompleted, Result: result}
		if err := i.fleet.completer().CompleteTask(taskID, update); err != nil {
			// The task may already be terminal (cancelled, timed out);
			// the dispatch itself still succeeded.
			i.logger.Warn().Err(err).Str("task_id", taskID).Msg("could not deliver synchronous result")
		}
	}

	i.mu.Lock()
	delete(i.active, taskID)
	i.lastActivity = i.clock.Now()
	i.tasksProcessed++
	if success {
		i.tasksSucceeded++
	} else {
		i.tasksFailed++
	}
	i.totalDuration += duration
	i.mu.Unlock()

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	metrics.DispatchesTotal.WithLabelValues(outcome).Inc()

	i.persistAsync()
	i.notifyBalancer(true)

	if dispatchErr != nil {
		return dispatchErr
	}
	return nil
}

func (i *Instance) post(ctx context.Context, url, apiKey string, body dispatchBody) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dispatch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.opts.PredictTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrBackend, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: predict returned %d", ErrBackend, resp.StatusCode)
	}

	if len(data) == 0 || !json.Valid(data) {
		data = []byte("null")
	}
	return json.RawMessage(data), nil
}

// PerformHealthCheck probes the backend's health endpoint, requiring a
// 2xx response that identifies this server.
func (i *Instance) PerformHealthCheck(ctx context.Context) health.Result {
	i.mu.Lock()
	url := i.config.Endpoints.Health
	apiKey := i.config.APIKey
	i.mu.Unlock()

	checker := health.NewHTTPChecker(url, i.id).WithTimeout(i.opts.HealthTimeout)
	if apiKey != "" {
		checker.WithHeader("Authorization", "Bearer "+apiKey)
	}
	return checker.Check(ctx)
}

// onHealthTimer is the adaptive health loop: every tick probes the
// backend, folds the outcome into the runtime state, and re-arms itself
// at an interval that stretches while the server is healthy and shrinks
// while it is not. An offline server keeps being probed so it can
// recover without re-registration; only Shutdown ends the loop.
func (i *Instance) onHealthTimer() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	idle := i.clock.Now().Sub(i.lastActivity) > i.opts.MaxIdle && len(i.active) == 0
	i.mu.Unlock()

	if idle {
		i.logger.Info().Msg("idle beyond limit, shutting down")
		i.Shutdown()
		return
	}

	result := i.PerformHealthCheck(context.Background())

	i.mu.Lock()
	prev := i.status
	inMaintenance := i.status == types.ServerMaintenance
	i.probe.Update(result, i.probeCfg)

	if result.Healthy {
		metrics.HealthChecksTotal.WithLabelValues("success").Inc()
		i.healthScore += 5
		if i.healthScore > 100 {
			i.healthScore = 100
		}
		if !inMaintenance && i.status != types.ServerOnline && i.probe.ConsecutiveSuccesses >= recoveryPasses {
			i.status = types.ServerOnline
			i.logger.Info().Msg("server recovered, back online")
		}
		i.checkInterval = time.Duration(float64(i.checkInterval) * 1.2)
		if i.checkInterval > i.opts.MaxCheckInterval {
			i.checkInterval = i.opts.MaxCheckInterval
		}
	} else {
		metrics.HealthChecksTotal.WithLabelValues("failure").Inc()
		i.healthScore -= 10
		if i.healthScore < 0 {
			i.healthScore = 0
		}
		if !inMaintenance {
			if !i.probe.Healthy {
				if i.status != types.ServerOffline {
					i.logger.Warn().Str("reason", result.Message).Msg("server offline after repeated health failures")
				}
				i.status = types.ServerOffline
			} else {
				if i.status == types.ServerOnline {
					i.logger.Warn().Str("reason", result.Message).Msg("server degraded")
				}
				i.status = types.ServerDegraded
			}
		}
		i.checkInterval = time.Duration(float64(i.checkInterval) / 1.5)
		if i.checkInterval < i.opts.MinCheckInterval {
			i.checkInterval = i.opts.MinCheckInterval
		}
	}
	interval := i.checkInterval
	status := i.status
	i.mu.Unlock()

	i.persistAsync()

	if result.Healthy {
		// The registry learns liveness through heartbeats, not by being
		// polled. Fire-and-forget to keep the call graph acyclic.
		go func() {
			if sink := i.fleet.heartbeats(); sink != nil {
				if err := sink.UpdateHeartbeat(i.id); err != nil {
					i.logger.Debug().Err(err).Msg("heartbeat rejected")
				}
			}
		}()
	}

	if status != prev {
		i.notifyStatus(status)
	}
	if status == types.ServerOffline {
		go i.fleet.balancer.MarkServerUnhealthy(i.id)
	} else {
		i.notifyBalancer(false)
	}

	i.timer.Reset(interval, i.onHealthTimer)
}

// GetMetrics returns a point-in-time snapshot of the runtime counters.
func (i *Instance) GetMetrics() types.ServerMetrics {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.snapshotLocked(false)
}

func (i *Instance) snapshotLocked(taskCompleted bool) types.ServerMetrics {
	m := types.ServerMetrics{
		ServerID:        i.id,
		TasksProcessed:  i.tasksProcessed,
		TasksSucceeded:  i.tasksSucceeded,
		TasksFailed:     i.tasksFailed,
		TotalDurationMs: i.totalDuration.Milliseconds(),
		HealthScore:     i.healthScore,
		ActiveTasks:     len(i.active),
		MaxConcurrent:   i.config.MaxConcurrent,
		Capabilities:    i.config.Capabilities,
		Status:          i.status,
		Healthy:         i.status == types.ServerOnline,
		TaskCompleted:   taskCompleted,
	}
	if i.tasksProcessed > 0 {
		m.SuccessRate = float64(i.tasksSucceeded) / float64(i.tasksProcessed)
		m.AvgResponseMs = float64(i.totalDuration.Milliseconds()) / float64(i.tasksProcessed)
	} else {
		m.SuccessRate = 1
	}
	return m
}

// SetMaintenanceMode flips the server between maintenance and online.
func (i *Instance) SetMaintenanceMode(enabled bool) {
	i.mu.Lock()
	var status types.ServerStatus
	if enabled {
		status = types.ServerMaintenance
	} else {
		status = types.ServerOnline
		i.probe = health.NewStatus()
	}
	i.status = status
	i.mu.Unlock()

	i.logger.Info().Bool("enabled", enabled).Msg("maintenance mode")
	i.persistAsync()
	i.notifyStatus(status)

	if enabled {
		go i.fleet.balancer.MarkServerUnhealthy(i.id)
	} else {
		i.notifyBalancer(false)
	}
}

// Status returns the instance's current runtime status.
func (i *Instance) Status() types.ServerStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// ActiveTasks returns the ids of tasks currently being dispatched.
func (i *Instance) ActiveTasks() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	ids := make([]string, 0, len(i.active))
	for id := range i.active {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown takes the server offline, waits a bounded time for active
// dispatches to drain, and clears the instance's storage.
func (i *Instance) Shutdown() error {
	i.timer.Stop()

	i.mu.Lock()
	alreadyOffline := i.status == types.ServerOffline && len(i.active) == 0
	i.status = types.ServerOffline
	i.closed = true
	i.mu.Unlock()

	if !alreadyOffline {
		i.logger.Info().Msg("shutting down")
		i.notifyStatus(types.ServerOffline)
	}

	deadline := i.clock.Now().Add(i.opts.DrainBound)
	for i.activeCount() > 0 && i.clock.Now().Before(deadline) {
		i.sleep(time.Second)
	}
	if remaining := i.activeCount(); remaining > 0 {
		i.logger.Warn().Int("active", remaining).Msg("drain bound elapsed with tasks still active")
	}

	go i.fleet.balancer.MarkServerUnhealthy(i.id)

	if err := i.store.DeleteNamespace(i.namespace()); err != nil {
		return fmt.Errorf("failed to clear server storage: %w", err)
	}
	return nil
}

func (i *Instance) activeCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.active)
}

func (i *Instance) sleep(d time.Duration) {
	ch := make(chan struct{})
	i.clock.AfterFunc(d, func() { close(ch) })
	<-ch
}

// notifyBalancer pushes a metrics snapshot in the background; balancer
// updates are advisory and never fail the calling operation.
func (i *Instance) notifyBalancer(taskCompleted bool) {
	i.mu.Lock()
	snapshot := i.snapshotLocked(taskCompleted)
	i.mu.Unlock()

	go i.fleet.balancer.UpdateServerMetrics(i.id, snapshot)
}

// notifyStatus pushes a status transition to the registry in the
// background. A rejection means the server is no longer registered; the
// instance keeps its own view either way.
func (i *Instance) notifyStatus(status types.ServerStatus) {
	go func() {
		if sink := i.fleet.statuses(); sink != nil {
			if err := sink.SetStatus(i.id, status); err != nil {
				i.logger.Debug().Err(err).Msg("status push rejected")
			}
		}
	}()
}

func (i *Instance) persist() error {
	i.mu.Lock()
	batch := map[string]interface{}{
		"config":           i.config,
		"status":           i.status,
		"healthScore":      i.healthScore,
		"checkInterval":    i.checkInterval.Milliseconds(),
		"lastActivityTime": i.lastActivity,
		"metrics":          i.snapshotLocked(false),
	}
	i.mu.Unlock()

	if err := i.store.PutBatch(i.namespace(), batch); err != nil {
		return fmt.Errorf("failed to persist server state: %w", err)
	}
	return nil
}

// persistAsync writes off the caller's path. Writes are serialized and
// each snapshots the state current at write time, so the last committed
// write always reflects the newest state.
func (i *Instance) persistAsync() {
	go func() {
		i.persistMu.Lock()
		defer i.persistMu.Unlock()
		if err := i.persist(); err != nil {
			i.logger.Warn().Err(err).Msg("background persist failed")
		}
	}()
}
