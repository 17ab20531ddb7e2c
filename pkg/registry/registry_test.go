package registry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/actor"
	"github.com/droverhq/drover/pkg/backend"
	"github.com/droverhq/drover/pkg/balancer"
	"github.com/droverhq/drover/pkg/events"
	"github.com/droverhq/drover/pkg/storage"
	"github.com/droverhq/drover/pkg/types"
)

const (
	staleAfter   = 90 * time.Second
	cleanupEvery = 5 * time.Minute
)

type testEnv struct {
	registry *Registry
	fleet    *backend.Fleet
	balancer *balancer.Balancer
	clock    *actor.FakeClock
	store    storage.Store
	broker   *events.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := actor.NewFakeClock(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC))
	bal := balancer.New(store, clock, 30*time.Second)
	fleet := backend.NewFleet(store, clock, bal, backend.DefaultOptions())
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	reg := New(store, clock, fleet, bal, broker, staleAfter, cleanupEvery)
	bal.SetFleet(reg)
	fleet.BindHeartbeatSink(reg)

	return &testEnv{
		registry: reg,
		fleet:    fleet,
		balancer: bal,
		clock:    clock,
		store:    store,
		broker:   broker,
	}
}

func serverConfig(name string, groups ...string) types.ServerConfig {
	return types.ServerConfig{
		Name: name,
		Endpoints: types.ServerEndpoints{
			Predict: "http://" + name + ".local/predict",
			Health:  "http://" + name + ".local/health",
		},
		MaxConcurrent: 2,
		Groups:        groups,
	}
}

func TestRegisterServer_GeneratesIDAndComesUpOnline(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.registry.RegisterServer(serverConfig("gpu-a"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	info, err := env.registry.GetServer(id)
	require.NoError(t, err)
	assert.Equal(t, types.ServerOnline, info.Status)
	assert.Equal(t, "gpu-a", info.Name)
	assert.Equal(t, env.clock.Now(), info.RegisteredAt)

	inst, ok := env.fleet.Lookup(id)
	require.True(t, ok, "registration should create the backend instance")
	assert.Equal(t, types.ServerOnline, inst.Status())
}

func TestRegisterServer_InvalidConfigRejected(t *testing.T) {
	env := newTestEnv(t)

	cfg := serverConfig("broken")
	cfg.Endpoints.Health = ""

	_, err := env.registry.RegisterServer(cfg)
	require.Error(t, err)
	assert.Empty(t, env.registry.GetAvailableServers(Filter{}))
}

func TestGetAvailableServers_FiltersByStatusAndGroup(t *testing.T) {
	env := newTestEnv(t)

	a, err := env.registry.RegisterServer(serverConfig("gpu-a", "gpu"))
	require.NoError(t, err)
	b, err := env.registry.RegisterServer(serverConfig("cpu-b", "cpu"))
	require.NoError(t, err)

	require.NoError(t, env.registry.SetStatus(b, types.ServerMaintenance))

	online := env.registry.GetAvailableServers(Filter{Status: types.ServerOnline})
	require.Len(t, online, 1)
	assert.Equal(t, a, online[0].ID)

	gpu := env.registry.GetAvailableServers(Filter{Group: "gpu"})
	require.Len(t, gpu, 1)
	assert.Equal(t, a, gpu[0].ID)

	all := env.registry.GetAvailableServers(Filter{})
	assert.Len(t, all, 2)
}

func TestGetAvailableServers_StaleHeartbeatMarksOffline(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.registry.RegisterServer(serverConfig("gpu-a"))
	require.NoError(t, err)

	env.clock.Advance(staleAfter + time.Second)

	listed := env.registry.GetAvailableServers(Filter{})
	require.Len(t, listed, 1)
	assert.Equal(t, types.ServerOffline, listed[0].Status)
	assert.Equal(t, (staleAfter + time.Second).Milliseconds(), listed[0].TimeSinceLastHeartbeatMs)

	assert.Empty(t, env.registry.GetAvailableServers(Filter{Status: types.ServerOnline}))
	_ = id
}

func TestUpdateHeartbeat_RevivesOfflineServer(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.registry.RegisterServer(serverConfig("gpu-a"))
	require.NoError(t, err)

	env.clock.Advance(staleAfter + time.Second)
	require.Len(t, env.registry.GetAvailableServers(Filter{Status: types.ServerOffline}), 1)

	require.NoError(t, env.registry.UpdateHeartbeat(id))

	info, err := env.registry.GetServer(id)
	require.NoError(t, err)
	assert.Equal(t, types.ServerOnline, info.Status)
	assert.Zero(t, info.TimeSinceLastHeartbeatMs)
}

func TestUpdateHeartbeat_UnknownServer(t *testing.T) {
	env := newTestEnv(t)

	err := env.registry.UpdateHeartbeat("nope")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestCleanupStaleServers_EvictsAndPreservesFresh(t *testing.T) {
	env := newTestEnv(t)

	stale, err := env.registry.RegisterServer(serverConfig("old"))
	require.NoError(t, err)

	env.clock.Advance(staleAfter / 2)
	fresh, err := env.registry.RegisterServer(serverConfig("new"))
	require.NoError(t, err)

	env.clock.Advance(staleAfter/2 + time.Second)
	require.NoError(t, env.registry.UpdateHeartbeat(fresh))

	removed := env.registry.CleanupStaleServers()
	require.Equal(t, []string{stale}, removed)

	_, err = env.registry.GetServer(stale)
	assert.ErrorIs(t, err, ErrNotRegistered)
	_, err = env.registry.GetServer(fresh)
	assert.NoError(t, err)

	_, ok := env.fleet.Lookup(stale)
	assert.False(t, ok, "evicted server should lose its instance")
}

func TestCleanupTimer_RunsPeriodically(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Start()
	defer env.registry.Stop()

	id, err := env.registry.RegisterServer(serverConfig("gpu-a"))
	require.NoError(t, err)

	env.clock.Advance(cleanupEvery)
	_, err = env.registry.GetServer(id)
	assert.ErrorIs(t, err, ErrNotRegistered, "silent server should be evicted by the timer")
}

func TestUnregisterServer_Idempotent(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.registry.RegisterServer(serverConfig("gpu-a"))
	require.NoError(t, err)

	require.NoError(t, env.registry.UnregisterServer(id))
	require.NoError(t, env.registry.UnregisterServer(id))

	assert.Empty(t, env.registry.GetAvailableServers(Filter{}))
	_, ok := env.fleet.Lookup(id)
	assert.False(t, ok)
}

func TestRegistry_RecoversMembershipFromStore(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.registry.RegisterServer(serverConfig("gpu-a", "gpu"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var servers map[string]types.ServerInfo
		if err := env.store.Get("registry", "servers", &servers); err != nil {
			return false
		}
		_, ok := servers[id]
		return ok
	}, time.Second, 10*time.Millisecond, "membership should be persisted")

	reborn := New(env.store, env.clock, env.fleet, env.balancer, env.broker, staleAfter, cleanupEvery)
	info, err := reborn.GetServer(id)
	require.NoError(t, err)
	assert.Equal(t, "gpu-a", info.Name)
	assert.Equal(t, []string{"gpu"}, info.Groups)
}

func TestOnlineServers_FeedsBalancer(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.registry.RegisterServer(serverConfig("gpu-a"))
	require.NoError(t, err)

	selected := env.balancer.SelectServer(types.SelectionCriteria{})
	assert.Equal(t, id, selected)
}

func TestDeadServerLeavesRotationBeforeHeartbeatExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.fleet.BindStatusSink(env.registry)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	cfg := serverConfig("gpu-a")
	cfg.Endpoints.Predict = backend.URL
	cfg.Endpoints.Health = backend.URL
	id, err := env.registry.RegisterServer(cfg)
	require.NoError(t, err)
	require.Equal(t, id, env.balancer.SelectServer(types.SelectionCriteria{}))

	// Three failed checks at the minimum interval, far short of the
	// heartbeat staleness window.
	for i := 0; i < 3; i++ {
		env.clock.Advance(5 * time.Second)
	}

	require.Eventually(t, func() bool {
		info, err := env.registry.GetServer(id)
		return err == nil && info.Status == types.ServerOffline
	}, time.Second, 10*time.Millisecond, "registry should learn the instance's status")

	assert.Empty(t, env.registry.GetAvailableServers(Filter{Status: types.ServerOnline}))
	assert.Empty(t, env.balancer.SelectServer(types.SelectionCriteria{}))
}
