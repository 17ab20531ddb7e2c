package balancer

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/actor"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/storage"
	"github.com/droverhq/drover/pkg/types"
)

const namespace = "balancer"

// FleetSource supplies the currently online fleet. Implemented by the
// server registry; defined here so the balancer never imports it.
type FleetSource interface {
	OnlineServers() []types.ServerInfo
}

// serverEntry is the balancer's cached view of one server.
type serverEntry struct {
	Metrics    types.ServerMetrics `json:"metrics"`
	LastUpdate time.Time           `json:"lastUpdate"`
}

// Status is the live balancer state exposed by the status endpoint.
type Status struct {
	Algorithm      types.Algorithm `json:"algorithm"`
	HealthyServers []string        `json:"healthyServers"`
	ServerLoads    map[string]int  `json:"serverLoads"`
}

// Balancer ranks candidate servers for task dispatch. It caches per-server
// metrics pushed by the server instances, tracks in-flight load, and applies
// the configured selection algorithm over the healthy subset of the fleet.
type Balancer struct {
	mu        sync.Mutex
	algorithm types.Algorithm
	weights   map[string]int
	loads     map[string]int
	entries   map[string]*serverEntry
	healthy   map[string]bool
	cursor    int

	fleet     FleetSource
	store     storage.Store
	clock     actor.Clock
	timer     *actor.Timer
	period    time.Duration
	persistMu sync.Mutex
	logger    zerolog.Logger
}

// New creates the balancer, recovering the persisted algorithm, weights,
// and healthy set from storage.
func New(store storage.Store, clock actor.Clock, rebalancePeriod time.Duration) *Balancer {
	b := &Balancer{
		algorithm: types.RoundRobin,
		weights:   make(map[string]int),
		loads:     make(map[string]int),
		entries:   make(map[string]*serverEntry),
		healthy:   make(map[string]bool),
		store:     store,
		clock:     clock,
		timer:     actor.NewTimer(clock),
		period:    rebalancePeriod,
		logger:    log.WithComponent("balancer"),
	}
	b.recover()
	return b
}

func (b *Balancer) recover() {
	var algo types.Algorithm
	if err := b.store.Get(namespace, "algorithm", &algo); err == nil {
		if _, parseErr := types.ParseAlgorithm(string(algo)); parseErr == nil {
			b.algorithm = algo
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		b.logger.Warn().Err(err).Msg("failed to recover algorithm")
	}
	_ = b.store.Get(namespace, "weights", &b.weights)
	var healthyIDs []string
	_ = b.store.Get(namespace, "healthyServers", &healthyIDs)
	for _, id := range healthyIDs {
		b.healthy[id] = true
	}
	if b.weights == nil {
		b.weights = make(map[string]int)
	}
}

// SetFleet binds the registry after construction; the registry itself
// holds the balancer, so one side has to bind late.
func (b *Balancer) SetFleet(fleet FleetSource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fleet = fleet
}

// Start arms the periodic rebalance timer.
func (b *Balancer) Start() {
	b.timer.Reset(b.period, b.onRebalanceTimer)
}

// Stop disarms the timer.
func (b *Balancer) Stop() {
	b.timer.Stop()
}

func (b *Balancer) onRebalanceTimer() {
	b.Rebalance()
	b.timer.Reset(b.period, b.onRebalanceTimer)
}

// SelectServer picks a server for the given criteria, or returns "" when
// no candidate qualifies. The healthy set is refreshed from the registry
// before every selection; the chosen server's load counter is incremented
// immediately and persisted in the background.
func (b *Balancer) SelectServer(criteria types.SelectionCriteria) string {
	online := b.onlineServers()

	b.mu.Lock()
	b.refreshLocked(online)

	candidates := b.candidatesLocked(criteria.RequiredCapabilities)
	if len(candidates) == 0 {
		algo := b.algorithm
		b.mu.Unlock()
		metrics.SelectionsTotal.WithLabelValues(string(algo), "none").Inc()
		return ""
	}

	selected := b.applyAlgorithmLocked(candidates)
	if selected == "" {
		algo := b.algorithm
		b.mu.Unlock()
		metrics.SelectionsTotal.WithLabelValues(string(algo), "none").Inc()
		return ""
	}
	b.loads[selected]++
	algo := b.algorithm
	b.mu.Unlock()

	metrics.SelectionsTotal.WithLabelValues(string(algo), "selected").Inc()
	b.logger.Debug().
		Str("server_id", selected).
		Str("algorithm", string(algo)).
		Str("task_type", criteria.TaskType).
		Msg("server selected")

	b.persistAsync()
	return selected
}

// UpdateServerMetrics merges a metrics push from a server instance.
func (b *Balancer) UpdateServerMetrics(serverID string, m types.ServerMetrics) {
	b.mu.Lock()

	entry := b.entries[serverID]
	if entry == nil {
		entry = &serverEntry{}
		b.entries[serverID] = entry
	}
	entry.Metrics = m
	entry.LastUpdate = b.clock.Now()

	b.weights[serverID] = computeWeight(m)

	if m.Healthy {
		b.healthy[serverID] = true
	} else {
		delete(b.healthy, serverID)
	}

	if m.TaskCompleted && b.loads[serverID] > 0 {
		b.loads[serverID]--
	}
	b.mu.Unlock()

	b.persistAsync()
}

// MarkServerUnhealthy removes a server from selection until metrics or a
// rebalance bring it back.
func (b *Balancer) MarkServerUnhealthy(serverID string) {
	b.mu.Lock()
	delete(b.healthy, serverID)
	b.weights[serverID] = 0
	b.mu.Unlock()

	b.logger.Info().Str("server_id", serverID).Msg("server marked unhealthy")
	b.persistAsync()
}

// Rebalance resets the healthy set from the registry's online list,
// initializes entries for newly-seen servers, and prunes state for
// servers no longer registered.
func (b *Balancer) Rebalance() {
	online := b.onlineServers()

	b.mu.Lock()
	seen := b.refreshLocked(online)
	for id := range b.entries {
		if !seen[id] {
			delete(b.entries, id)
			delete(b.weights, id)
			delete(b.loads, id)
		}
	}
	b.mu.Unlock()

	b.persistAsync()
}

// SetAlgorithm switches the selection algorithm.
func (b *Balancer) SetAlgorithm(algorithm types.Algorithm) error {
	if _, err := types.ParseAlgorithm(string(algorithm)); err != nil {
		return err
	}

	b.mu.Lock()
	b.algorithm = algorithm
	b.cursor = 0
	b.mu.Unlock()

	b.logger.Info().Str("algorithm", string(algorithm)).Msg("algorithm changed")
	b.persistAsync()
	return nil
}

// Status returns the live algorithm, healthy list, and load counters.
func (b *Balancer) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	healthy := make([]string, 0, len(b.healthy))
	for id := range b.healthy {
		healthy = append(healthy, id)
	}
	sort.Strings(healthy)

	loads := make(map[string]int, len(b.loads))
	for id, load := range b.loads {
		loads[id] = load
	}

	return Status{
		Algorithm:      b.algorithm,
		HealthyServers: healthy,
		ServerLoads:    loads,
	}
}

// Load returns the in-flight counter for one server.
func (b *Balancer) Load(serverID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads[serverID]
}

func (b *Balancer) onlineServers() []types.ServerInfo {
	b.mu.Lock()
	fleet := b.fleet
	b.mu.Unlock()

	if fleet == nil {
		return nil
	}
	return fleet.OnlineServers()
}

// refreshLocked rebuilds the healthy set from the registry's online view
// and seeds entries for newly-seen servers. Cached metrics and in-flight
// load counters for servers momentarily absent are kept, so a flapping
// server does not lose its load; pruning happens on Rebalance. Returns
// the online ids for that pruning.
func (b *Balancer) refreshLocked(online []types.ServerInfo) map[string]bool {
	seen := make(map[string]bool, len(online))
	b.healthy = make(map[string]bool, len(online))

	for _, info := range online {
		seen[info.ID] = true
		b.healthy[info.ID] = true

		if b.entries[info.ID] == nil {
			// A server we have no metrics for yet: seed from its
			// registration so it is immediately selectable.
			seeded := types.ServerMetrics{
				ServerID:      info.ID,
				SuccessRate:   1,
				HealthScore:   100,
				MaxConcurrent: info.MaxConcurrent,
				Capabilities:  info.Capabilities,
				Status:        info.Status,
				Healthy:       true,
			}
			b.entries[info.ID] = &serverEntry{
				Metrics:    seeded,
				LastUpdate: b.clock.Now(),
			}
			b.weights[info.ID] = computeWeight(seeded)
		}
	}
	return seen
}

// candidatesLocked filters the healthy set down to selectable servers,
// sorted by id so cursor-based algorithms iterate a stable order.
func (b *Balancer) candidatesLocked(required []string) []string {
	var candidates []string
	for id := range b.healthy {
		entry := b.entries[id]
		if entry == nil {
			continue
		}
		m := &entry.Metrics

		inFlight := b.loads[id]
		if m.ActiveTasks > inFlight {
			inFlight = m.ActiveTasks
		}
		if m.MaxConcurrent > 0 && inFlight >= m.MaxConcurrent {
			continue
		}

		if !hasCapabilities(m.Capabilities, required) {
			continue
		}
		candidates = append(candidates, id)
	}
	sort.Strings(candidates)
	return candidates
}

func (b *Balancer) applyAlgorithmLocked(candidates []string) string {
	switch b.algorithm {
	case types.RoundRobin:
		return b.roundRobinLocked(candidates, false)
	case types.WeightedRoundRobin:
		return b.roundRobinLocked(candidates, true)
	case types.LeastConnections:
		return b.leastConnectionsLocked(candidates)
	case types.ResponseTime:
		return b.responseTimeLocked(candidates)
	case types.Random:
		return candidates[rand.Intn(len(candidates))]
	default:
		return b.roundRobinLocked(candidates, false)
	}
}

// roundRobinLocked advances a shared cursor over an expanded slot list. In
// weighted mode each candidate occupies max(1, weight) slots and weight 0
// excludes it; plain mode gives every candidate exactly one slot.
func (b *Balancer) roundRobinLocked(candidates []string, weighted bool) string {
	var slots []string
	for _, id := range candidates {
		count := 1
		if weighted {
			weight := b.weights[id]
			if weight == 0 {
				continue
			}
			if weight > 1 {
				count = weight
			}
		}
		for i := 0; i < count; i++ {
			slots = append(slots, id)
		}
	}
	if len(slots) == 0 {
		// Every candidate weighed out.
		return ""
	}

	selected := slots[b.cursor%len(slots)]
	b.cursor++
	return selected
}

func (b *Balancer) leastConnectionsLocked(candidates []string) string {
	selected := candidates[0]
	for _, id := range candidates[1:] {
		if b.loads[id] < b.loads[selected] {
			selected = id
		}
	}
	return selected
}

func (b *Balancer) responseTimeLocked(candidates []string) string {
	selected := ""
	best := math.Inf(1)
	for _, id := range candidates {
		m := b.entries[id].Metrics
		// A server that has processed nothing has no response time;
		// it ranks behind every measured candidate.
		rt := math.Inf(1)
		if m.TasksProcessed > 0 {
			rt = m.AvgResponseMs
		}
		if selected == "" || rt < best {
			selected = id
			best = rt
		}
	}
	return selected
}

// persistAsync writes the durable state off the caller's path; selection
// must never block on storage. Writes are serialized and each snapshots
// the state at write time, so the last committed write always reflects
// the newest state.
func (b *Balancer) persistAsync() {
	go func() {
		b.persistMu.Lock()
		defer b.persistMu.Unlock()

		b.mu.Lock()
		algorithm := b.algorithm
		weights := make(map[string]int, len(b.weights))
		for id, w := range b.weights {
			weights[id] = w
		}
		healthy := make([]string, 0, len(b.healthy))
		for id := range b.healthy {
			healthy = append(healthy, id)
		}
		sort.Strings(healthy)
		b.mu.Unlock()

		err := b.store.PutBatch(namespace, map[string]interface{}{
			"algorithm":      algorithm,
			"weights":        weights,
			"healthyServers": healthy,
		})
		if err != nil {
			b.logger.Warn().Err(err).Msg("failed to persist balancer state")
		}
	}()
}

// computeWeight derives a selection weight from a metrics snapshot. It
// falls as the success rate drops or the average response time rises.
func computeWeight(m types.ServerMetrics) int {
	latencyScore := 10 - m.AvgResponseMs/1000
	if latencyScore < 0 {
		latencyScore = 0
	}
	return int(math.Round((m.SuccessRate*10 + latencyScore) / 2))
}

func hasCapabilities(offered, required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(offered))
	for _, c := range offered {
		have[c] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}
