package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/actor"
	"github.com/droverhq/drover/pkg/archive"
	"github.com/droverhq/drover/pkg/backend"
	"github.com/droverhq/drover/pkg/balancer"
	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/events"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/registry"
	"github.com/droverhq/drover/pkg/stats"
	"github.com/droverhq/drover/pkg/storage"
	"github.com/droverhq/drover/pkg/task"
)

// Gateway assembles the actors into one process: storage, the event
// broker, the load balancer, the server fleet and registry, the task
// layer, statistics, and the optional archive.
type Gateway struct {
	Config    *config.Config
	Store     storage.Store
	Broker    *events.Broker
	Balancer  *balancer.Balancer
	Fleet     *backend.Fleet
	Registry  *registry.Registry
	Tasks     *task.Tasks
	Stats     *stats.Recorder
	Archive   *archive.Archive
	Clock     actor.Clock
	StartedAt time.Time

	logger zerolog.Logger
}

// New wires the gateway from configuration. The context bounds the
// archive's connection attempt when DATABASE_URL is set.
func New(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open data dir %s: %w", cfg.DataDir, err)
	}

	clock := actor.SystemClock()
	broker := events.NewBroker()
	bal := balancer.New(store, clock, cfg.RebalanceInterval)

	fleet := backend.NewFleet(store, clock, bal, backend.Options{
		MinCheckInterval: cfg.MinHealthInterval,
		MaxCheckInterval: cfg.MaxHealthInterval,
		PredictTimeout:   config.DefaultPredictTimeout,
		HealthTimeout:    config.DefaultHealthProbeTimeout,
		MaxIdle:          config.DefaultMaxIdle,
		DrainBound:       config.DefaultShutdownDrainBound,
	})

	reg := registry.New(store, clock, fleet, bal, broker, cfg.StaleThreshold, cfg.CleanupInterval)
	bal.SetFleet(reg)
	fleet.BindHeartbeatSink(reg)
	fleet.BindStatusSink(reg)

	recorder := stats.NewRecorder(store, clock, cfg.StatsFlushInterval)

	var arch *archive.Archive
	if cfg.DatabaseURL != "" {
		arch, err = archive.New(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect task archive: %w", err)
		}
	}

	tasks := task.New(store, clock, bal, fleet, recorder, arch, broker, cfg.WorkerURL, task.Options{
		TaskTimeout:      cfg.TaskTimeout,
		CleanupDelay:     cfg.CleanupDelay,
		SyncWaitBound:    config.DefaultSyncWaitBound,
		SyncPollInterval: config.DefaultSyncPollInterval,
		MaxRetries:       cfg.MaxRetries,
	})
	fleet.BindCompleter(tasks)

	return &Gateway{
		Config:   cfg,
		Store:    store,
		Broker:   broker,
		Balancer: bal,
		Fleet:    fleet,
		Registry: reg,
		Tasks:    tasks,
		Stats:    recorder,
		Archive:  arch,
		Clock:    clock,
		logger:   log.WithComponent("gateway"),
	}, nil
}

// Start brings the background loops up.
func (g *Gateway) Start() {
	g.StartedAt = g.Clock.Now()
	g.Broker.Start()
	g.Balancer.Start()
	g.Registry.Start()

	metrics.RegisterComponent("storage", true, "")
	metrics.RegisterComponent("balancer", true, "")
	metrics.RegisterComponent("registry", true, "")
	if g.Archive != nil {
		metrics.RegisterComponent("archive", true, "")
	}

	g.logger.Info().Str("data_dir", g.Config.DataDir).Msg("gateway started")
}

// Stop winds the gateway down: loops first, then a final stats flush,
// then storage.
func (g *Gateway) Stop() {
	g.Registry.Stop()
	g.Balancer.Stop()
	g.Stats.Stop()
	g.Broker.Stop()
	g.Archive.Close()
	if err := g.Store.Close(); err != nil {
		g.logger.Warn().Err(err).Msg("failed to close store")
	}
	g.logger.Info().Msg("gateway stopped")
}

// Uptime reports how long the gateway has been serving.
func (g *Gateway) Uptime() time.Duration {
	if g.StartedAt.IsZero() {
		return 0
	}
	return g.Clock.Now().Sub(g.StartedAt)
}
