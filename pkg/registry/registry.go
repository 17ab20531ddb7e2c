package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/actor"
	"github.com/droverhq/drover/pkg/backend"
	"github.com/droverhq/drover/pkg/balancer"
	"github.com/droverhq/drover/pkg/events"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/storage"
	"github.com/droverhq/drover/pkg/types"
)

const namespace = "registry"

// ErrNotRegistered is returned for operations on unknown server ids.
var ErrNotRegistered = errors.New("server not registered")

// statusEvents maps instance-driven status transitions to stream events.
// Maintenance moves are deliberate operator actions and are not announced.
var statusEvents = map[types.ServerStatus]events.EventType{
	types.ServerOnline:   events.EventServerOnline,
	types.ServerDegraded: events.EventServerDegraded,
	types.ServerOffline:  events.EventServerOffline,
}

// Filter narrows the server listing.
type Filter struct {
	Status types.ServerStatus
	Group  string
	MaxAge time.Duration
}

// Registry is the source of truth for fleet membership. It owns the
// ServerInfo records and group index, evicts silent servers, and drives
// the lifecycle of the per-server backend instances.
type Registry struct {
	mu      sync.Mutex
	servers map[string]*types.ServerInfo
	groups  map[string][]string

	fleet    *backend.Fleet
	balancer *balancer.Balancer
	broker   *events.Broker
	store    storage.Store
	clock    actor.Clock
	timer    *actor.Timer

	staleThreshold  time.Duration
	cleanupInterval time.Duration
	persistMu       sync.Mutex
	logger          zerolog.Logger
}

// New creates the registry and recovers persisted membership.
func New(store storage.Store, clock actor.Clock, fleet *backend.Fleet, bal *balancer.Balancer, broker *events.Broker, staleThreshold, cleanupInterval time.Duration) *Registry {
	r := &Registry{
		servers:         make(map[string]*types.ServerInfo),
		groups:          make(map[string][]string),
		fleet:           fleet,
		balancer:        bal,
		broker:          broker,
		store:           store,
		clock:           clock,
		timer:           actor.NewTimer(clock),
		staleThreshold:  staleThreshold,
		cleanupInterval: cleanupInterval,
		logger:          log.WithComponent("registry"),
	}
	r.recover()
	return r
}

func (r *Registry) recover() {
	if err := r.store.Get(namespace, "servers", &r.servers); err != nil && !errors.Is(err, storage.ErrNotFound) {
		r.logger.Warn().Err(err).Msg("failed to recover servers")
	}
	_ = r.store.Get(namespace, "groups", &r.groups)
	if r.servers == nil {
		r.servers = make(map[string]*types.ServerInfo)
	}
	if r.groups == nil {
		r.groups = make(map[string][]string)
	}
}

// Start arms the periodic stale-server cleanup.
func (r *Registry) Start() {
	r.timer.Reset(r.cleanupInterval, r.onCleanupTimer)
}

// Stop disarms the cleanup timer.
func (r *Registry) Stop() {
	r.timer.Stop()
}

func (r *Registry) onCleanupTimer() {
	if removed := r.CleanupStaleServers(); len(removed) > 0 {
		r.logger.Info().Strs("server_ids", removed).Msg("evicted stale servers")
	}
	r.timer.Reset(r.cleanupInterval, r.onCleanupTimer)
}

// RegisterServer admits a server into the fleet, generating an id when
// the config carries none. Registering an existing id re-initializes its
// instance. Errors from instance initialization propagate to the caller
// and leave membership unchanged.
func (r *Registry) RegisterServer(config types.ServerConfig) (string, error) {
	if config.ID == "" {
		config.ID = uuid.New().String()
	}
	config.Normalize()
	if err := config.Validate(); err != nil {
		return "", err
	}

	if err := r.fleet.Get(config.ID).Initialize(config); err != nil {
		return "", fmt.Errorf("failed to initialize server %s: %w", config.ID, err)
	}

	now := r.clock.Now()
	r.mu.Lock()
	r.servers[config.ID] = &types.ServerInfo{
		ServerConfig:  config,
		Status:        types.ServerOnline,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	r.rebuildGroupsLocked()
	r.mu.Unlock()

	r.persistAsync()
	r.notifyRebalance()
	r.updateGauges()

	r.logger.Info().Str("server_id", config.ID).Str("name", config.Name).Msg("server registered")
	r.broker.Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     events.EventServerRegistered,
		ServerID: config.ID,
		Message:  config.Name,
	})
	return config.ID, nil
}

// UnregisterServer removes a server from the fleet. Unknown ids are a
// no-op; instance shutdown failures are logged but never block removal,
// because membership is the registry's authority, not the instance's.
func (r *Registry) UnregisterServer(serverID string) error {
	if inst, ok := r.fleet.Lookup(serverID); ok {
		if err := inst.Shutdown(); err != nil {
			r.logger.Warn().Err(err).Str("server_id", serverID).Msg("instance shutdown failed")
		}
		r.fleet.Remove(serverID)
	}

	r.mu.Lock()
	_, existed := r.servers[serverID]
	delete(r.servers, serverID)
	r.rebuildGroupsLocked()
	r.mu.Unlock()

	if existed {
		r.persistAsync()
		r.notifyRebalance()
		r.updateGauges()
		r.logger.Info().Str("server_id", serverID).Msg("server unregistered")
		r.broker.Publish(&events.Event{
			ID:       uuid.New().String(),
			Type:     events.EventServerRemoved,
			ServerID: serverID,
		})
	}
	return nil
}

// GetAvailableServers lists fleet members, reclassifying any server whose
// heartbeat went stale to offline first. Returned records carry derived
// uptime and heartbeat-age fields.
func (r *Registry) GetAvailableServers(filter Filter) []types.ServerInfo {
	now := r.clock.Now()

	r.mu.Lock()
	var wentOffline []string
	for _, info := range r.servers {
		if info.Status == types.ServerOnline && now.Sub(info.LastHeartbeat) > r.staleThreshold {
			info.Status = types.ServerOffline
			wentOffline = append(wentOffline, info.ID)
			r.logger.Warn().Str("server_id", info.ID).Msg("server silent beyond stale threshold, marked offline")
		}
	}

	var result []types.ServerInfo
	for _, info := range r.servers {
		if filter.Status != "" && info.Status != filter.Status {
			continue
		}
		if filter.Group != "" && !contains(info.Groups, filter.Group) {
			continue
		}
		if filter.MaxAge > 0 && now.Sub(info.LastHeartbeat) > filter.MaxAge {
			continue
		}
		snapshot := *info
		snapshot.UptimeMs = now.Sub(info.RegisteredAt).Milliseconds()
		snapshot.TimeSinceLastHeartbeatMs = now.Sub(info.LastHeartbeat).Milliseconds()
		result = append(result, snapshot)
	}
	r.mu.Unlock()

	if len(wentOffline) > 0 {
		r.persistAsync()
		r.updateGauges()
		for _, id := range wentOffline {
			r.broker.Publish(&events.Event{
				ID:       uuid.New().String(),
				Type:     events.EventServerOffline,
				ServerID: id,
				Message:  "stale heartbeat",
			})
		}
	}
	return result
}

// OnlineServers implements the balancer's fleet source.
func (r *Registry) OnlineServers() []types.ServerInfo {
	return r.GetAvailableServers(Filter{Status: types.ServerOnline})
}

// GetServer returns one member's record.
func (r *Registry) GetServer(serverID string) (types.ServerInfo, error) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.servers[serverID]
	if !ok {
		return types.ServerInfo{}, fmt.Errorf("server %s: %w", serverID, ErrNotRegistered)
	}
	snapshot := *info
	snapshot.UptimeMs = now.Sub(info.RegisteredAt).Milliseconds()
	snapshot.TimeSinceLastHeartbeatMs = now.Sub(info.LastHeartbeat).Milliseconds()
	return snapshot, nil
}

// UpdateHeartbeat records liveness. A heartbeat from a server the
// registry had written off as offline brings it back online.
func (r *Registry) UpdateHeartbeat(serverID string) error {
	r.mu.Lock()
	info, ok := r.servers[serverID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("server %s: %w", serverID, ErrNotRegistered)
	}
	info.LastHeartbeat = r.clock.Now()
	revived := info.Status == types.ServerOffline
	if revived {
		info.Status = types.ServerOnline
	}
	r.mu.Unlock()

	r.persistAsync()
	if revived {
		r.logger.Info().Str("server_id", serverID).Msg("server back online")
		r.notifyRebalance()
		r.updateGauges()
		r.broker.Publish(&events.Event{
			ID:       uuid.New().String(),
			Type:     events.EventServerOnline,
			ServerID: serverID,
		})
	}
	return nil
}

// SetStatus records a status transition driven by the server's instance
// (degraded, offline, maintenance).
func (r *Registry) SetStatus(serverID string, status types.ServerStatus) error {
	r.mu.Lock()
	info, ok := r.servers[serverID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("server %s: %w", serverID, ErrNotRegistered)
	}
	prev := info.Status
	info.Status = status
	r.mu.Unlock()

	if prev != status {
		r.logger.Info().
			Str("server_id", serverID).
			Str("from", string(prev)).
			Str("to", string(status)).
			Msg("server status changed")
		r.persistAsync()
		r.notifyRebalance()
		r.updateGauges()
		if eventType, ok := statusEvents[status]; ok {
			r.broker.Publish(&events.Event{
				ID:       uuid.New().String(),
				Type:     eventType,
				ServerID: serverID,
			})
		}
	}
	return nil
}

// CleanupStaleServers evicts every server whose heartbeat is older than
// the stale threshold and returns the removed ids.
func (r *Registry) CleanupStaleServers() []string {
	now := r.clock.Now()

	r.mu.Lock()
	var stale []string
	for id, info := range r.servers {
		if now.Sub(info.LastHeartbeat) > r.staleThreshold {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(r.servers, id)
	}
	if len(stale) > 0 {
		r.rebuildGroupsLocked()
	}
	r.mu.Unlock()

	for _, id := range stale {
		if inst, ok := r.fleet.Lookup(id); ok {
			if err := inst.Shutdown(); err != nil {
				r.logger.Warn().Err(err).Str("server_id", id).Msg("stale instance shutdown failed")
			}
			r.fleet.Remove(id)
		}
		r.broker.Publish(&events.Event{
			ID:       uuid.New().String(),
			Type:     events.EventServerRemoved,
			ServerID: id,
			Message:  "stale",
		})
	}

	if len(stale) > 0 {
		r.persistAsync()
		r.notifyRebalance()
		r.updateGauges()
	}
	return stale
}

func (r *Registry) rebuildGroupsLocked() {
	r.groups = make(map[string][]string)
	for id, info := range r.servers {
		for _, group := range info.Groups {
			r.groups[group] = append(r.groups[group], id)
		}
	}
}

// notifyRebalance asks the balancer to refresh its view. Fire-and-forget:
// the balancer pulls from this registry during rebalance, so awaiting it
// here would re-enter the actor.
func (r *Registry) notifyRebalance() {
	go r.balancer.Rebalance()
}

// persistAsync writes membership off the caller's path. Writes are
// serialized and each snapshots the maps at write time, so the last
// committed write always reflects the newest membership.
func (r *Registry) persistAsync() {
	go func() {
		r.persistMu.Lock()
		defer r.persistMu.Unlock()

		r.mu.Lock()
		servers := make(map[string]types.ServerInfo, len(r.servers))
		for id, info := range r.servers {
			servers[id] = *info
		}
		groups := make(map[string][]string, len(r.groups))
		for g, ids := range r.groups {
			groups[g] = append([]string(nil), ids...)
		}
		r.mu.Unlock()

		err := r.store.PutBatch(namespace, map[string]interface{}{
			"servers": servers,
			"groups":  groups,
		})
		if err != nil {
			r.logger.Warn().Err(err).Msg("failed to persist registry state")
		}
	}()
}

func (r *Registry) updateGauges() {
	r.mu.Lock()
	byStatus := make(map[types.ServerStatus]int)
	for _, info := range r.servers {
		byStatus[info.Status]++
	}
	r.mu.Unlock()

	for _, status := range []types.ServerStatus{
		types.ServerInitializing, types.ServerOnline, types.ServerDegraded,
		types.ServerOffline, types.ServerMaintenance,
	} {
		metrics.ServersTotal.WithLabelValues(string(status)).Set(float64(byStatus[status]))
	}
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
