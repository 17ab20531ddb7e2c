package balancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/actor"
	"github.com/droverhq/drover/pkg/storage"
	"github.com/droverhq/drover/pkg/types"
)

type fakeFleet struct {
	servers []types.ServerInfo
}

func (f *fakeFleet) OnlineServers() []types.ServerInfo {
	return f.servers
}

func onlineServer(id string, maxConcurrent int, capabilities ...string) types.ServerInfo {
	return types.ServerInfo{
		ServerConfig: types.ServerConfig{
			ID:            id,
			Name:          id,
			MaxConcurrent: maxConcurrent,
			Capabilities:  capabilities,
		},
		Status: types.ServerOnline,
	}
}

func newTestBalancer(t *testing.T, fleet *fakeFleet) *Balancer {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := actor.NewFakeClock(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC))
	b := New(store, clock, 30*time.Second)
	b.SetFleet(fleet)
	return b
}

func TestSelectServer_NoFleet(t *testing.T) {
	b := newTestBalancer(t, &fakeFleet{})

	assert.Empty(t, b.SelectServer(types.SelectionCriteria{}))
}

func TestSelectServer_RoundRobinCycles(t *testing.T) {
	fleet := &fakeFleet{servers: []types.ServerInfo{
		onlineServer("a", 10),
		onlineServer("b", 10),
		onlineServer("c", 10),
	}}
	b := newTestBalancer(t, fleet)

	var picks []string
	for i := 0; i < 6; i++ {
		picks = append(picks, b.SelectServer(types.SelectionCriteria{}))
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, picks)
}

func TestSelectServer_CapabilityFiltering(t *testing.T) {
	fleet := &fakeFleet{servers: []types.ServerInfo{
		onlineServer("img", 10, "image"),
		onlineServer("vid", 10, "video"),
	}}
	b := newTestBalancer(t, fleet)

	selected := b.SelectServer(types.SelectionCriteria{RequiredCapabilities: []string{"video"}})
	assert.Equal(t, "vid", selected)

	selected = b.SelectServer(types.SelectionCriteria{RequiredCapabilities: []string{"audio"}})
	assert.Empty(t, selected)
}

func TestSelectServer_CapacityExcluded(t *testing.T) {
	fleet := &fakeFleet{servers: []types.ServerInfo{
		onlineServer("a", 2),
		onlineServer("b", 2),
	}}
	b := newTestBalancer(t, fleet)

	// Fill server a to capacity via selections.
	for i := 0; i < 4; i++ {
		id := b.SelectServer(types.SelectionCriteria{})
		require.NotEmpty(t, id)
	}

	// Both at max concurrency now: nothing qualifies.
	assert.Empty(t, b.SelectServer(types.SelectionCriteria{}))
}

func TestSelectServer_LoadReleasedOnCompletion(t *testing.T) {
	fleet := &fakeFleet{servers: []types.ServerInfo{onlineServer("a", 1)}}
	b := newTestBalancer(t, fleet)

	require.Equal(t, "a", b.SelectServer(types.SelectionCriteria{}))
	assert.Empty(t, b.SelectServer(types.SelectionCriteria{}), "at capacity")

	b.UpdateServerMetrics("a", types.ServerMetrics{
		ServerID:      "a",
		MaxConcurrent: 1,
		SuccessRate:   1,
		Healthy:       true,
		TaskCompleted: true,
	})

	assert.Equal(t, "a", b.SelectServer(types.SelectionCriteria{}))
	assert.Equal(t, 1, b.Load("a"))
}

func TestLeastConnections(t *testing.T) {
	fleet := &fakeFleet{servers: []types.ServerInfo{
		onlineServer("a", 10),
		onlineServer("b", 10),
	}}
	b := newTestBalancer(t, fleet)
	require.NoError(t, b.SetAlgorithm(types.LeastConnections))

	// First pick lands on a (tie broken by order), loading it.
	assert.Equal(t, "a", b.SelectServer(types.SelectionCriteria{}))
	// Now b has the smaller load.
	assert.Equal(t, "b", b.SelectServer(types.SelectionCriteria{}))
}

func TestResponseTime(t *testing.T) {
	fleet := &fakeFleet{servers: []types.ServerInfo{
		onlineServer("slow", 10),
		onlineServer("fast", 10),
		onlineServer("unmeasured", 10),
	}}
	b := newTestBalancer(t, fleet)
	require.NoError(t, b.SetAlgorithm(types.ResponseTime))

	b.UpdateServerMetrics("slow", types.ServerMetrics{
		ServerID: "slow", MaxConcurrent: 10, TasksProcessed: 5,
		AvgResponseMs: 4000, SuccessRate: 1, Healthy: true,
	})
	b.UpdateServerMetrics("fast", types.ServerMetrics{
		ServerID: "fast", MaxConcurrent: 10, TasksProcessed: 5,
		AvgResponseMs: 200, SuccessRate: 1, Healthy: true,
	})

	assert.Equal(t, "fast", b.SelectServer(types.SelectionCriteria{}))
}

func TestWeightedRoundRobin_ZeroWeightExcluded(t *testing.T) {
	fleet := &fakeFleet{servers: []types.ServerInfo{
		onlineServer("good", 10),
		onlineServer("bad", 10),
	}}
	b := newTestBalancer(t, fleet)
	require.NoError(t, b.SetAlgorithm(types.WeightedRoundRobin))

	b.UpdateServerMetrics("good", types.ServerMetrics{
		ServerID: "good", MaxConcurrent: 10, SuccessRate: 1, Healthy: true,
	})
	// Zero success rate and terrible latency produce weight 0.
	b.UpdateServerMetrics("bad", types.ServerMetrics{
		ServerID: "bad", MaxConcurrent: 10, SuccessRate: 0,
		AvgResponseMs: 60000, Healthy: true,
	})

	for i := 0; i < 10; i++ {
		assert.Equal(t, "good", b.SelectServer(types.SelectionCriteria{}))
		b.UpdateServerMetrics("good", types.ServerMetrics{
			ServerID: "good", MaxConcurrent: 10, SuccessRate: 1,
			Healthy: true, TaskCompleted: true,
		})
	}
}

func TestWeightedRoundRobin_AllWeightsZeroSelectsNothing(t *testing.T) {
	fleet := &fakeFleet{servers: []types.ServerInfo{
		onlineServer("a", 10),
		onlineServer("b", 10),
	}}
	b := newTestBalancer(t, fleet)
	require.NoError(t, b.SetAlgorithm(types.WeightedRoundRobin))

	for _, id := range []string{"a", "b"} {
		b.UpdateServerMetrics(id, types.ServerMetrics{
			ServerID: id, MaxConcurrent: 10, SuccessRate: 0,
			AvgResponseMs: 60000, Healthy: true,
		})
	}

	assert.Empty(t, b.SelectServer(types.SelectionCriteria{}))
}

func TestSelectServer_FlappingServerKeepsLoad(t *testing.T) {
	fleet := &fakeFleet{servers: []types.ServerInfo{onlineServer("a", 1)}}
	b := newTestBalancer(t, fleet)

	require.Equal(t, "a", b.SelectServer(types.SelectionCriteria{}))
	require.Equal(t, 1, b.Load("a"))

	// The registry briefly stops reporting the server; its in-flight
	// load must survive the gap.
	fleet.servers = nil
	assert.Empty(t, b.SelectServer(types.SelectionCriteria{}))

	fleet.servers = []types.ServerInfo{onlineServer("a", 1)}
	assert.Empty(t, b.SelectServer(types.SelectionCriteria{}), "still at capacity from before the flap")
	assert.Equal(t, 1, b.Load("a"))
}

func TestMarkServerUnhealthy(t *testing.T) {
	fleet := &fakeFleet{servers: []types.ServerInfo{onlineServer("a", 10)}}
	b := newTestBalancer(t, fleet)

	require.Equal(t, "a", b.SelectServer(types.SelectionCriteria{}))

	b.MarkServerUnhealthy("a")
	status := b.Status()
	assert.Empty(t, status.HealthyServers)

	// The registry still reports it online, so the next selection's
	// refresh brings it back; marking unhealthy is advisory until the
	// registry agrees.
	fleet.servers = nil
	assert.Empty(t, b.SelectServer(types.SelectionCriteria{}))
}

func TestRebalance_PrunesRemovedServers(t *testing.T) {
	fleet := &fakeFleet{servers: []types.ServerInfo{
		onlineServer("a", 10),
		onlineServer("b", 10),
	}}
	b := newTestBalancer(t, fleet)

	require.NotEmpty(t, b.SelectServer(types.SelectionCriteria{}))

	fleet.servers = []types.ServerInfo{onlineServer("b", 10)}
	b.Rebalance()

	status := b.Status()
	assert.Equal(t, []string{"b"}, status.HealthyServers)
	_, hasA := status.ServerLoads["a"]
	assert.False(t, hasA, "state for removed server should be pruned")
}

func TestStatus_RealValues(t *testing.T) {
	fleet := &fakeFleet{servers: []types.ServerInfo{
		onlineServer("a", 10),
		onlineServer("b", 10),
	}}
	b := newTestBalancer(t, fleet)

	require.Equal(t, "a", b.SelectServer(types.SelectionCriteria{}))

	status := b.Status()
	assert.Equal(t, types.RoundRobin, status.Algorithm)
	assert.Equal(t, []string{"a", "b"}, status.HealthyServers)
	assert.Equal(t, 1, status.ServerLoads["a"])
}

func TestSetAlgorithm_Invalid(t *testing.T) {
	b := newTestBalancer(t, &fakeFleet{})
	assert.Error(t, b.SetAlgorithm(types.Algorithm("fastest-first")))
}

func TestComputeWeight(t *testing.T) {
	tests := []struct {
		name    string
		metrics types.ServerMetrics
		want    int
	}{
		{"perfect", types.ServerMetrics{SuccessRate: 1, AvgResponseMs: 0}, 10},
		{"slow but reliable", types.ServerMetrics{SuccessRate: 1, AvgResponseMs: 4000}, 8},
		{"unreliable", types.ServerMetrics{SuccessRate: 0.5, AvgResponseMs: 1000}, 7},
		{"dead", types.ServerMetrics{SuccessRate: 0, AvgResponseMs: 60000}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, computeWeight(tt.metrics))
		})
	}
}
