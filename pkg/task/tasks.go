package task

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/droverhq/drover/pkg/actor"
	"github.com/droverhq/drover/pkg/archive"
	"github.com/droverhq/drover/pkg/backend"
	"github.com/droverhq/drover/pkg/balancer"
	"github.com/droverhq/drover/pkg/events"
	"github.com/droverhq/drover/pkg/stats"
	"github.com/droverhq/drover/pkg/storage"
	"github.com/droverhq/drover/pkg/types"
)

// Options tune the task layer's timers and the retry ceiling.
type Options struct {
	TaskTimeout      time.Duration
	CleanupDelay     time.Duration
	SyncWaitBound    time.Duration
	SyncPollInterval time.Duration
	MaxRetries       int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		TaskTimeout:      time.Hour,
		CleanupDelay:     5 * time.Minute,
		SyncWaitBound:    30 * time.Second,
		SyncPollInterval: 100 * time.Millisecond,
		MaxRetries:       MaxRetries,
	}
}

// Tasks addresses the per-task instances by id and carries their shared
// dependencies. It also implements the completer the backend layer uses
// to deliver synchronous results.
type Tasks struct {
	group *actor.Group[*Instance]

	store    storage.Store
	clock    actor.Clock
	balancer *balancer.Balancer
	fleet    *backend.Fleet
	recorder *stats.Recorder
	arch     *archive.Archive
	broker   *events.Broker

	callbackBase     string
	taskTimeout      time.Duration
	cleanupDelay     time.Duration
	syncWaitBound    time.Duration
	syncPollInterval time.Duration
	maxRetries       int
}

// New creates the task layer. callbackBase is the externally reachable
// base URL of this gateway; arch may be nil when archival is disabled.
func New(store storage.Store, clock actor.Clock, bal *balancer.Balancer, fleet *backend.Fleet, recorder *stats.Recorder, arch *archive.Archive, broker *events.Broker, callbackBase string, opts Options) *Tasks {
	t := &Tasks{
		store:            store,
		clock:            clock,
		balancer:         bal,
		fleet:            fleet,
		recorder:         recorder,
		arch:             arch,
		broker:           broker,
		callbackBase:     callbackBase,
		taskTimeout:      opts.TaskTimeout,
		cleanupDelay:     opts.CleanupDelay,
		syncWaitBound:    opts.SyncWaitBound,
		syncPollInterval: opts.SyncPollInterval,
		maxRetries:       opts.MaxRetries,
	}
	t.group = actor.NewGroup(func(id string) *Instance {
		return newInstance(id, t)
	})
	return t
}

// Create admits a task, generating an id when the caller supplies none.
func (t *Tasks) Create(taskID string, request types.TaskRequest) (*types.Task, error) {
	if taskID == "" {
		taskID = uuid.New().String()
	}
	return t.group.Get(taskID).Create(request)
}

// Status returns a snapshot of the task.
func (t *Tasks) Status(taskID string) (*types.Task, error) {
	return t.instance(taskID).Snapshot()
}

// Update applies a partial mutation, typically a backend callback.
func (t *Tasks) Update(taskID string, update types.TaskUpdate) (*types.Task, error) {
	return t.instance(taskID).Update(update)
}

// Retry re-queues a failed or timed-out task.
func (t *Tasks) Retry(taskID string) bool {
	return t.instance(taskID).Retry()
}

// Cancel cancels a non-terminal task.
func (t *Tasks) Cancel(taskID string) (*types.Task, error) {
	return t.instance(taskID).Cancel()
}

// RetryCount returns the task's retry counter.
func (t *Tasks) RetryCount(taskID string) int {
	return t.instance(taskID).RetryCount()
}

// Exists reports whether an id has a live or recoverable task record.
func (t *Tasks) Exists(taskID string) bool {
	_, err := t.Status(taskID)
	return err == nil
}

// CompleteTask implements the backend layer's completer: a synchronous
// backend response finishes the task through the same path a callback
// would take.
func (t *Tasks) CompleteTask(taskID string, update types.TaskUpdate) error {
	_, err := t.Update(taskID, update)
	return err
}

// instance resolves the actor for an id. Ids absent from both memory and
// storage get a detached empty instance instead of a group entry, so
// probes of random ids do not accumulate actors.
func (t *Tasks) instance(taskID string) *Instance {
	if inst, ok := t.group.Lookup(taskID); ok {
		return inst
	}
	var stored types.Task
	if err := t.store.Get("task:"+taskID, "task", &stored); err != nil {
		return &Instance{id: taskID, deps: t, timer: actor.NewTimer(t.clock)}
	}
	return t.group.Get(taskID)
}

func (t *Tasks) stats() *stats.Recorder {
	return t.recorder
}

// archiveTask mirrors a terminal task into the external archive. A nil
// archive makes this a no-op.
func (t *Tasks) archiveTask(snapshot *types.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.arch.RecordTask(ctx, snapshot)
}

func (t *Tasks) publish(eventType events.EventType, taskID, serverID, message string) {
	t.broker.Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     eventType,
		TaskID:   taskID,
		ServerID: serverID,
		Message:  message,
	})
}
