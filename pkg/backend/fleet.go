package backend

import (
	"sync"

	"github.com/droverhq/drover/pkg/actor"
	"github.com/droverhq/drover/pkg/balancer"
	"github.com/droverhq/drover/pkg/storage"
	"github.com/droverhq/drover/pkg/types"
)

// Fleet is the name-addressed group of server instances. The registry
// creates instances through it at registration; the task layer fetches
// them for dispatch.
type Fleet struct {
	group    *actor.Group[*Instance]
	store    storage.Store
	clock    actor.Clock
	balancer *balancer.Balancer
	opts     Options

	mu        sync.RWMutex
	heartbeat HeartbeatSink
	status    StatusSink
	complete  TaskCompleter
}

// NewFleet creates the fleet. The heartbeat sink and task completer are
// bound later: the registry and task layer are constructed after the
// fleet but need it as a dependency.
func NewFleet(store storage.Store, clock actor.Clock, bal *balancer.Balancer, opts Options) *Fleet {
	f := &Fleet{
		store:    store,
		clock:    clock,
		balancer: bal,
		opts:     opts,
	}
	f.group = actor.NewGroup(func(id string) *Instance {
		return newInstance(id, f)
	})
	return f
}

// BindHeartbeatSink wires the registry in as the heartbeat receiver.
func (f *Fleet) BindHeartbeatSink(sink HeartbeatSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeat = sink
}

// BindStatusSink wires the registry in as the status-transition receiver.
func (f *Fleet) BindStatusSink(sink StatusSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = sink
}

// BindCompleter wires the task layer in as the synchronous-result sink.
func (f *Fleet) BindCompleter(completer TaskCompleter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complete = completer
}

func (f *Fleet) heartbeats() HeartbeatSink {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.heartbeat
}

func (f *Fleet) statuses() StatusSink {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

func (f *Fleet) completer() TaskCompleter {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.complete == nil {
		return noopCompleter{}
	}
	return f.complete
}

// Get returns the instance for the given server id, creating it on first
// use.
func (f *Fleet) Get(serverID string) *Instance {
	return f.group.Get(serverID)
}

// Lookup returns the instance without creating it.
func (f *Fleet) Lookup(serverID string) (*Instance, bool) {
	return f.group.Lookup(serverID)
}

// Remove drops the instance from the group after unregistration.
func (f *Fleet) Remove(serverID string) {
	f.group.Delete(serverID)
}

type noopCompleter struct{}

func (noopCompleter) CompleteTask(string, types.TaskUpdate) error { return nil }
