package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/actor"
	"github.com/droverhq/drover/pkg/events"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/storage"
	"github.com/droverhq/drover/pkg/types"
)

// MaxRetries is the retry ceiling per task.
const MaxRetries = 3

var (
	// ErrNotFound is returned for operations on an id no task was ever
	// created under.
	ErrNotFound = errors.New("task not found")

	// ErrIllegalTransition is returned when an update or cancel targets a
	// task whose status does not permit it.
	ErrIllegalTransition = errors.New("illegal task transition")

	// ErrNoServers is returned when the load balancer has no candidate
	// for the task's criteria.
	ErrNoServers = errors.New("no available servers")
)

// Instance is the per-task actor: the lifecycle authority for exactly
// one task id. It owns the task record, the single pending timer
// (timeout or cleanup, whichever was armed last), and the retry counter.
type Instance struct {
	id   string
	deps *Tasks

	mu         sync.Mutex
	task       *types.Task
	retryCount int

	timer  *actor.Timer
	logger zerolog.Logger
}

func newInstance(id string, deps *Tasks) *Instance {
	i := &Instance{
		id:     id,
		deps:   deps,
		timer:  actor.NewTimer(deps.clock),
		logger: log.WithTaskID(id),
	}
	i.recover()
	return i
}

func (i *Instance) namespace() string {
	return "task:" + i.id
}

func (i *Instance) recover() {
	var t types.Task
	if err := i.deps.store.Get(i.namespace(), "task", &t); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			i.logger.Warn().Err(err).Msg("failed to recover task")
		}
		return
	}
	i.task = &t
	_ = i.deps.store.Get(i.namespace(), "retryCount", &i.retryCount)

	// Re-arm whichever timer was governing when the process stopped.
	if t.Status.Terminal() {
		i.timer.Reset(i.remaining(t.UpdatedAt, i.deps.cleanupDelay), i.onCleanupTimer)
	} else {
		i.timer.Reset(i.remaining(t.UpdatedAt, i.deps.taskTimeout), i.onTimeoutTimer)
	}
}

func (i *Instance) remaining(since time.Time, window time.Duration) time.Duration {
	left := window - i.deps.clock.Now().Sub(since)
	if left < time.Second {
		left = time.Second
	}
	return left
}

// Create admits the task. Calling it again on the same instance returns
// the existing record unchanged. When the request is synchronous, Create
// blocks polling its own stored status until the task is terminal or the
// wait bound elapses, in which case the task is timed out.
func (i *Instance) Create(request types.TaskRequest) (*types.Task, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	i.mu.Lock()
	if i.task != nil {
		snapshot := i.task.Clone()
		i.mu.Unlock()
		return snapshot, nil
	}

	now := i.deps.clock.Now()
	i.task = &types.Task{
		ID:        i.id,
		Status:    types.TaskPending,
		Request:   request,
		CreatedAt: now,
		UpdatedAt: now,
		Attempts:  []types.TaskAttempt{},
	}
	i.retryCount = 0
	i.persistLocked()
	i.timer.Reset(i.deps.taskTimeout, i.onTimeoutTimer)
	i.mu.Unlock()

	i.logger.Info().Str("type", request.Type).Bool("async", request.Async).Msg("task created")
	metrics.TasksCreated.Inc()
	i.deps.publish(events.EventTaskCreated, i.id, "", request.Type)

	if err := i.assignAndExecute(); err != nil {
		i.fail(err.Error())
		return i.Snapshot()
	}

	if !request.Async {
		return i.awaitSync()
	}
	return i.Snapshot()
}

// awaitSync polls the stored status until terminal or the wait bound
// elapses, then times the task out.
func (i *Instance) awaitSync() (*types.Task, error) {
	deadline := i.deps.clock.Now().Add(i.deps.syncWaitBound)
	for i.deps.clock.Now().Before(deadline) {
		i.sleep(i.deps.syncPollInterval)

		i.mu.Lock()
		if i.task.Status.Terminal() {
			snapshot := i.task.Clone()
			i.mu.Unlock()
			return snapshot, nil
		}
		i.mu.Unlock()
	}

	i.mu.Lock()
	if !i.task.Status.Terminal() {
		i.logger.Warn().Msg("synchronous wait bound elapsed")
		i.transitionLocked(types.TaskTimeout, "synchronous wait bound elapsed")
	}
	snapshot := i.task.Clone()
	i.mu.Unlock()
	return snapshot, nil
}

func (i *Instance) sleep(d time.Duration) {
	ch := make(chan struct{})
	i.deps.clock.AfterFunc(d, func() { close(ch) })
	<-ch
}

// Snapshot returns a copy of the stored task record.
func (i *Instance) Snapshot() (*types.Task, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.task == nil {
		return nil, fmt.Errorf("task %s: %w", i.id, ErrNotFound)
	}
	return i.task.Clone(), nil
}

// RetryCount returns how many times the task has been retried.
func (i *Instance) RetryCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.retryCount
}

// Update merges a partial mutation into the task. Only PROCESSING tasks
// accept updates; a terminal update finalizes the task exactly once.
func (i *Instance) Update(update types.TaskUpdate) (*types.Task, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	i.mu.Lock()
	if i.task == nil {
		i.mu.Unlock()
		return nil, fmt.Errorf("task %s: %w", i.id, ErrNotFound)
	}
	if i.task.Status != types.TaskProcessing {
		status := i.task.Status
		i.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot update task in status %s", ErrIllegalTransition, status)
	}

	if update.Result != nil {
		i.task.Result = update.Result
	}
	if update.Progress != nil {
		i.task.Progress = *update.Progress
	}
	if update.Error != "" {
		i.task.Error = update.Error
	}
	if update.Status != "" && update.Status.Terminal() {
		i.transitionLocked(update.Status, update.Error)
	} else {
		if update.Status != "" {
			i.task.Status = update.Status
		}
		i.task.UpdatedAt = i.deps.clock.Now()
		i.persistLocked()
	}
	snapshot := i.task.Clone()
	i.mu.Unlock()
	return snapshot, nil
}

// Retry re-queues a FAILED or TIMEOUT task for another assignment. It
// reports false when no task exists, the ceiling is reached, the status
// does not permit a retry, or the new assignment fails (in which case
// the task ends FAILED with the assignment error).
func (i *Instance) Retry() bool {
	i.mu.Lock()
	if i.task == nil || i.retryCount >= i.deps.maxRetries {
		i.mu.Unlock()
		return false
	}
	if i.task.Status != types.TaskFailed && i.task.Status != types.TaskTimeout {
		i.mu.Unlock()
		return false
	}

	i.retryCount++
	i.task.Attempts = append(i.task.Attempts, types.TaskAttempt{
		Attempt:    i.retryCount,
		StartedAt:  i.deps.clock.Now(),
		PrevStatus: i.task.Status,
		PrevError:  i.task.Error,
	})
	i.task.Status = types.TaskPending
	i.task.Error = ""
	i.task.UpdatedAt = i.deps.clock.Now()
	attempt := i.retryCount
	i.persistLocked()
	i.mu.Unlock()

	i.logger.Info().Int("attempt", attempt).Msg("retrying task")
	metrics.TaskRetries.Inc()
	i.deps.publish(events.EventTaskRetried, i.id, "", fmt.Sprintf("attempt %d", attempt))

	if err := i.assignAndExecute(); err != nil {
		i.fail(err.Error())
		return false
	}
	return true
}

// Cancel transitions a non-terminal task to CANCELLED.
func (i *Instance) Cancel() (*types.Task, error) {
	i.mu.Lock()
	if i.task == nil {
		i.mu.Unlock()
		return nil, fmt.Errorf("task %s: %w", i.id, ErrNotFound)
	}
	if i.task.Status.Terminal() {
		status := i.task.Status
		i.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot cancel task in status %s", ErrIllegalTransition, status)
	}
	i.transitionLocked(types.TaskCancelled, "")
	snapshot := i.task.Clone()
	i.mu.Unlock()

	i.logger.Info().Msg("task cancelled")
	return snapshot, nil
}

// assignAndExecute asks the balancer for a server, marks the task
// PROCESSING, and dispatches in the background. The timeout timer is
// re-armed on every successful assignment so a silent backend drives the
// task through TIMEOUT and retry until the ceiling.
func (i *Instance) assignAndExecute() error {
	i.mu.Lock()
	criteria := types.SelectionCriteria{
		TaskType:             i.task.Request.Type,
		Priority:             i.task.Request.Priority,
		RequiredCapabilities: i.task.Request.Capabilities,
	}
	firstAttempt := i.retryCount == 0
	i.mu.Unlock()

	serverID := i.deps.balancer.SelectServer(criteria)
	if firstAttempt {
		// The start event carries the server resolved by the first
		// assignment; a start with no server still pairs with the
		// failure recorded when the task is finalized.
		i.deps.stats().RecordTaskStart(i.id, serverID)
	}
	if serverID == "" {
		return ErrNoServers
	}

	i.mu.Lock()
	i.task.ServerID = serverID
	i.task.Status = types.TaskProcessing
	i.task.UpdatedAt = i.deps.clock.Now()
	request := i.task.Request
	i.persistLocked()
	i.timer.Reset(i.deps.taskTimeout, i.onTimeoutTimer)
	i.mu.Unlock()

	i.logger.Info().Str("server_id", serverID).Msg("task assigned")
	i.deps.publish(events.EventTaskAssigned, i.id, serverID, "")

	go i.dispatch(serverID, request)
	return nil
}

func (i *Instance) dispatch(serverID string, request types.TaskRequest) {
	i.mu.Lock()
	stillProcessing := i.task != nil && i.task.Status == types.TaskProcessing && i.task.ServerID == serverID
	i.mu.Unlock()
	if !stillProcessing {
		// Cancelled (or otherwise finalized) between assignment and
		// dispatch; the backend never sees the task.
		return
	}

	callbackURL := i.deps.callbackBase + "/api/task/" + i.id
	err := i.deps.fleet.Get(serverID).ExecuteTask(context.Background(), i.id, request, callbackURL)
	if err == nil {
		return
	}

	i.logger.Warn().Err(err).Str("server_id", serverID).Msg("dispatch failed")
	if !request.Async {
		// Asynchronous tasks stay PROCESSING until their callback or
		// timeout; the synchronous path fails immediately.
		i.mu.Lock()
		if i.task != nil && i.task.Status == types.TaskProcessing {
			i.transitionLocked(types.TaskFailed, err.Error())
		}
		i.mu.Unlock()
	}
}

// fail finalizes a task that could not be assigned.
func (i *Instance) fail(message string) {
	i.mu.Lock()
	if i.task != nil && !i.task.Status.Terminal() {
		i.transitionLocked(types.TaskFailed, message)
	}
	i.mu.Unlock()
}

// transitionLocked applies a terminal status, emits the single completion
// notification, and arms the cleanup timer. Callers hold i.mu and have
// already verified the task is non-terminal.
func (i *Instance) transitionLocked(status types.TaskStatus, message string) {
	now := i.deps.clock.Now()
	i.task.Status = status
	if message != "" {
		i.task.Error = message
	}
	i.task.UpdatedAt = now
	i.persistLocked()
	i.timer.Reset(i.deps.cleanupDelay, i.onCleanupTimer)

	snapshot := i.task.Clone()
	retries := i.retryCount
	duration := now.Sub(snapshot.CreatedAt)

	metrics.TasksCompleted.WithLabelValues(string(status)).Inc()
	metrics.TaskDuration.Observe(duration.Seconds())

	success := status == types.TaskCompleted
	go i.deps.stats().RecordTaskComplete(snapshot.ID, snapshot.ServerID, success, duration, retries)
	go i.deps.archiveTask(snapshot)
	i.deps.publish(eventFor(status), snapshot.ID, snapshot.ServerID, snapshot.Error)
}

func eventFor(status types.TaskStatus) events.EventType {
	switch status {
	case types.TaskCompleted:
		return events.EventTaskCompleted
	case types.TaskTimeout:
		return events.EventTaskTimeout
	case types.TaskCancelled:
		return events.EventTaskCancelled
	default:
		return events.EventTaskFailed
	}
}

// onTimeoutTimer fires when the task has been PROCESSING for the full
// timeout window. The task is timed out, then retried; when no retry is
// possible it stays TIMEOUT and the cleanup already armed by the
// transition governs.
func (i *Instance) onTimeoutTimer() {
	i.mu.Lock()
	if i.task == nil || i.task.Status != types.TaskProcessing {
		i.mu.Unlock()
		return
	}
	i.logger.Warn().Str("server_id", i.task.ServerID).Msg("task timed out")
	i.transitionLocked(types.TaskTimeout, "task timed out")
	i.mu.Unlock()

	i.Retry()
}

// onCleanupTimer purges the task's storage once the retention window
// after its terminal transition has passed.
func (i *Instance) onCleanupTimer() {
	i.mu.Lock()
	if i.task == nil || !i.task.Status.Terminal() {
		i.mu.Unlock()
		return
	}
	if i.deps.clock.Now().Sub(i.task.UpdatedAt) < i.deps.cleanupDelay {
		// A later transition moved the retention window; the timer armed
		// by that transition will finish the job.
		i.mu.Unlock()
		return
	}
	i.mu.Unlock()

	if err := i.deps.store.DeleteNamespace(i.namespace()); err != nil {
		i.logger.Warn().Err(err).Msg("failed to purge task storage")
	}
	i.deps.group.Delete(i.id)
	i.logger.Debug().Msg("task purged")
}

// persistLocked writes the task record before the mutation returns.
// Writes commit in mutation order, so a recovered record is never older
// than the last transition the caller observed.
func (i *Instance) persistLocked() {
	err := i.deps.store.PutBatch(i.namespace(), map[string]interface{}{
		"task":       i.task.Clone(),
		"retryCount": i.retryCount,
	})
	if err != nil {
		i.logger.Warn().Err(err).Msg("failed to persist task")
	}
}
