package task

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/actor"
	"github.com/droverhq/drover/pkg/backend"
	"github.com/droverhq/drover/pkg/balancer"
	"github.com/droverhq/drover/pkg/events"
	"github.com/droverhq/drover/pkg/stats"
	"github.com/droverhq/drover/pkg/storage"
	"github.com/droverhq/drover/pkg/types"
)

// stubFleet is a static fleet source for the balancer.
type stubFleet struct {
	mu      sync.Mutex
	servers []types.ServerInfo
}

func (s *stubFleet) OnlineServers() []types.ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ServerInfo(nil), s.servers...)
}

func (s *stubFleet) add(cfg types.ServerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers = append(s.servers, types.ServerInfo{ServerConfig: cfg, Status: types.ServerOnline})
}

type testEnv struct {
	tasks    *Tasks
	fleet    *backend.Fleet
	source   *stubFleet
	clock    *actor.FakeClock
	store    storage.Store
	recorder *stats.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := actor.NewFakeClock(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC))
	bal := balancer.New(store, clock, 30*time.Second)

	// Long fake-clock advances must not trip the idle shutdown.
	backendOpts := backend.DefaultOptions()
	backendOpts.MaxIdle = 240 * time.Hour
	fleet := backend.NewFleet(store, clock, bal, backendOpts)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	recorder := stats.NewRecorder(store, clock, 10*time.Second)
	tasks := New(store, clock, bal, fleet, recorder, nil, broker, "http://gateway.local", DefaultOptions())

	source := &stubFleet{}
	bal.SetFleet(source)
	fleet.BindCompleter(tasks)

	return &testEnv{tasks: tasks, fleet: fleet, source: source, clock: clock, store: store, recorder: recorder}
}

// addServer brings up a backend server whose predict handler is supplied
// by the test and whose health endpoint always identifies itself.
func (env *testEnv) addServer(t *testing.T, id string, predict http.HandlerFunc) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"serverId": id})
	})
	mux.HandleFunc("/predict", predict)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := types.ServerConfig{
		ID:   id,
		Name: id,
		Endpoints: types.ServerEndpoints{
			Predict: srv.URL + "/predict",
			Health:  srv.URL + "/health",
		},
		MaxConcurrent: 10,
	}
	require.NoError(t, env.fleet.Get(id).Initialize(cfg))
	env.source.add(cfg)
}

func acceptAsync(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"PROCESSING"}`))
}

func asyncRequest() types.TaskRequest {
	return types.TaskRequest{Type: "inference", Payload: json.RawMessage(`{"x":1}`), Async: true}
}

// createSync runs a synchronous Create in the background while feeding
// the fake clock so the polling loop makes progress.
func (env *testEnv) createSync(t *testing.T, id string, req types.TaskRequest) *types.Task {
	t.Helper()

	type outcome struct {
		task *types.Task
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		created, err := env.tasks.Create(id, req)
		done <- outcome{task: created, err: err}
	}()

	timeout := time.After(10 * time.Second)
	for {
		select {
		case out := <-done:
			require.NoError(t, out.err)
			return out.task
		case <-timeout:
			t.Fatal("synchronous create did not return")
		default:
			env.clock.Advance(100 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestCreate_AssignsAndDispatchesAsync(t *testing.T) {
	env := newTestEnv(t)

	dispatched := make(chan string, 1)
	env.addServer(t, "s1", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TaskID      string `json:"task_id"`
			CallbackURL string `json:"callback_url"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		dispatched <- body.CallbackURL
		acceptAsync(w, r)
	})

	created, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)
	assert.Equal(t, types.TaskProcessing, created.Status)
	assert.Equal(t, "s1", created.ServerID)

	select {
	case cb := <-dispatched:
		assert.Equal(t, "http://gateway.local/api/task/t1", cb)
	case <-time.After(5 * time.Second):
		t.Fatal("backend never received the dispatch")
	}
}

func TestCreate_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "s1", acceptAsync)

	first, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)

	second, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestCreate_NoServersFailsTask(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, created.Status)
	assert.Contains(t, created.Error, "no available servers")
}

func TestCreate_StartEventCarriesAssignedServer(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "s1", acceptAsync)

	_, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)

	require.NoError(t, env.recorder.Today().Flush())

	key := fmt.Sprintf("events-%d", env.clock.Now().UnixMilli())
	var recorded []types.StatEvent
	namespace := "stats:" + env.clock.Now().UTC().Format(stats.DateLayout)
	require.NoError(t, env.store.Get(namespace, key, &recorded))
	require.Len(t, recorded, 1)
	assert.Equal(t, types.EventStart, recorded[0].Kind)
	assert.Equal(t, "s1", recorded[0].ServerID)
}

func TestCreate_NoServersPairsStartWithFailure(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)
	require.Equal(t, types.TaskFailed, created.Status)

	require.Eventually(t, func() bool {
		return env.recorder.Today().GetStats().FailedTasks == 1
	}, 2*time.Second, 10*time.Millisecond)

	report := env.recorder.Today().GetStats()
	assert.Equal(t, int64(1), report.TotalTasks)
	assert.Zero(t, report.PendingTasks)
}

func TestTimeoutRetry_RecordsSingleStart(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "s1", acceptAsync)

	_, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)

	env.clock.Advance(DefaultOptions().TaskTimeout)
	require.Equal(t, 1, env.tasks.RetryCount("t1"))

	assert.Equal(t, int64(1), env.recorder.Today().GetStats().TotalTasks)
}

func TestCreate_SyncWaitsForBackendResult(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "s1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"label":"cat"}`))
	})

	req := asyncRequest()
	req.Async = false
	created := env.createSync(t, "t1", req)

	assert.Equal(t, types.TaskCompleted, created.Status)
	assert.JSONEq(t, `{"label":"cat"}`, string(created.Result))
}

func TestCreate_SyncBackendErrorFailsTask(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "s1", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	req := asyncRequest()
	req.Async = false
	created := env.createSync(t, "t1", req)

	assert.Equal(t, types.TaskFailed, created.Status)
	assert.Contains(t, created.Error, "500")
}

func TestUpdate_CallbackCompletesTask(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "s1", acceptAsync)

	_, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)

	progress := 50
	updated, err := env.tasks.Update("t1", types.TaskUpdate{Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, types.TaskProcessing, updated.Status)
	assert.Equal(t, 50, updated.Progress)

	updated, err = env.tasks.Update("t1", types.TaskUpdate{
		Status: types.TaskCompleted,
		Result: json.RawMessage(`{"done":true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, updated.Status)

	// A late duplicate callback must not double-complete.
	_, err = env.tasks.Update("t1", types.TaskUpdate{Status: types.TaskCompleted})
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestUpdate_UnknownTask(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.tasks.Update("ghost", types.TaskUpdate{Status: types.TaskCompleted})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.tasks.Status("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancel_NonTerminalOnly(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "s1", acceptAsync)

	_, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)

	cancelled, err := env.tasks.Cancel("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCancelled, cancelled.Status)

	_, err = env.tasks.Cancel("t1")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRetry_AfterFailureFindsNewServer(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)
	require.Equal(t, types.TaskFailed, created.Status)

	env.addServer(t, "s1", acceptAsync)

	require.True(t, env.tasks.Retry("t1"))

	snapshot, err := env.tasks.Status("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskProcessing, snapshot.Status)
	assert.Equal(t, "s1", snapshot.ServerID)
	require.Len(t, snapshot.Attempts, 1)
	assert.Equal(t, types.TaskFailed, snapshot.Attempts[0].PrevStatus)
	assert.Equal(t, 1, env.tasks.RetryCount("t1"))
}

func TestRetry_AssignmentErrorLeavesTaskFailed(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)
	require.Equal(t, types.TaskFailed, created.Status)

	// Still no servers, so the re-assignment fails too.
	assert.False(t, env.tasks.Retry("t1"))

	snapshot, err := env.tasks.Status("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, snapshot.Status)
	assert.Len(t, snapshot.Attempts, env.tasks.RetryCount("t1"))
}

func TestRetry_RefusesNonRetryableStatus(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "s1", acceptAsync)

	_, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)

	assert.False(t, env.tasks.Retry("t1"), "PROCESSING tasks cannot be retried")
	assert.False(t, env.tasks.Retry("ghost"))
}

func TestTimeout_RetryCycleUntilCeiling(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "s1", acceptAsync)

	created, err := env.tasks.Create("t2", asyncRequest())
	require.NoError(t, err)
	require.Equal(t, types.TaskProcessing, created.Status)

	opts := DefaultOptions()
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		env.clock.Advance(opts.TaskTimeout)

		snapshot, err := env.tasks.Status("t2")
		require.NoError(t, err)
		assert.Equal(t, types.TaskProcessing, snapshot.Status, "attempt %d should re-enter PROCESSING", attempt)
		assert.Equal(t, attempt, env.tasks.RetryCount("t2"))
	}

	// The ceiling is reached; the next timeout is final.
	env.clock.Advance(opts.TaskTimeout)

	snapshot, err := env.tasks.Status("t2")
	require.NoError(t, err)
	assert.Equal(t, types.TaskTimeout, snapshot.Status)
	assert.Len(t, snapshot.Attempts, MaxRetries)
	assert.Equal(t, MaxRetries, env.tasks.RetryCount("t2"))
}

func TestCleanup_PurgesTerminalTask(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "s1", acceptAsync)

	_, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)
	_, err = env.tasks.Cancel("t1")
	require.NoError(t, err)

	env.clock.Advance(DefaultOptions().CleanupDelay)

	require.Eventually(t, func() bool {
		_, err := env.tasks.Status("t1")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err = env.tasks.Status("t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecovery_CompletedTaskStaysCompleted(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "s1", acceptAsync)

	_, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)
	_, err = env.tasks.Update("t1", types.TaskUpdate{
		Status: types.TaskCompleted,
		Result: json.RawMessage(`{"done":true}`),
	})
	require.NoError(t, err)

	// The record is durable before Update returns, so a restart on the
	// same store must see COMPLETED, never an earlier state.
	broker := events.NewBroker()
	recorder := stats.NewRecorder(env.store, env.clock, 10*time.Second)
	bal := balancer.New(env.store, env.clock, 30*time.Second)
	bal.SetFleet(env.source)
	reborn := New(env.store, env.clock, bal, env.fleet, recorder, nil, broker, "http://gateway.local", DefaultOptions())

	snapshot, err := reborn.Status("t1")
	require.NoError(t, err)
	require.Equal(t, types.TaskCompleted, snapshot.Status)

	// Only the cleanup timer governs a terminal task after recovery; a
	// full timeout window later the task is purged, not timed out.
	env.clock.Advance(DefaultOptions().TaskTimeout)

	require.Eventually(t, func() bool {
		_, err := reborn.Status("t1")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err = reborn.Status("t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecovery_TaskSurvivesRestart(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "s1", acceptAsync)

	_, err := env.tasks.Create("t1", asyncRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var stored types.Task
		return env.store.Get("task:t1", "task", &stored) == nil
	}, 2*time.Second, 10*time.Millisecond, "task record should be persisted")

	broker := events.NewBroker()
	recorder := stats.NewRecorder(env.store, env.clock, 10*time.Second)
	bal := balancer.New(env.store, env.clock, 30*time.Second)
	bal.SetFleet(env.source)
	reborn := New(env.store, env.clock, bal, env.fleet, recorder, nil, broker, "http://gateway.local", DefaultOptions())

	snapshot, err := reborn.Status("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskProcessing, snapshot.Status)
	assert.Equal(t, "s1", snapshot.ServerID)
}
