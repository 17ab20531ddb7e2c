/*
Package storage provides BoltDB-backed state persistence for Drover's actors.

The storage package implements the Store interface using BoltDB as the
underlying database, giving every actor a private, transactional key-value
namespace. All values are serialized as JSON, and multi-key writes within a
namespace commit atomically so an actor's durable state never tears.

# Architecture

Drover uses BoltDB (bbolt) for embedded, transactional storage with zero
external dependencies:

	┌──────────────────── BOLTDB STORAGE ───────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐            │
	│  │            BoltStore                       │            │
	│  │  - File: <dataDir>/drover.db               │            │
	│  │  - Format: B+tree with MVCC                │            │
	│  │  - Transactions: ACID with fsync           │            │
	│  └──────────────────┬─────────────────────────┘            │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐            │
	│  │         Namespace Structure                │            │
	│  │  (one bucket per actor instance)           │            │
	│  │  ┌──────────────────────────────────────┐  │            │
	│  │  │ task:{id}      task, retryCount,     │  │            │
	│  │  │                createdAt             │  │            │
	│  │  │ server:{id}    config, status,       │  │            │
	│  │  │                healthScore,          │  │            │
	│  │  │                checkInterval,        │  │            │
	│  │  │                lastActivityTime,     │  │            │
	│  │  │                metrics               │  │            │
	│  │  │ balancer:global algorithm, weights,  │  │            │
	│  │  │                healthyServers        │  │            │
	│  │  │ registry:global servers, groups,     │  │            │
	│  │  │                config                │  │            │
	│  │  │ stats:{date}   stats, serverStats,   │  │            │
	│  │  │                hourlyStats,          │  │            │
	│  │  │                events-{ts}           │  │            │
	│  │  └──────────────────────────────────────┘  │            │
	│  └──────────────────┬─────────────────────────┘            │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐            │
	│  │        Transaction Management              │            │
	│  │  - Read: db.View() - Concurrent reads      │            │
	│  │  - Write: db.Update() - Serialized writes  │            │
	│  │  - PutBatch: multi-key atomic commit       │            │
	│  └─────────────────────────────────────────── ┘            │
	└────────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements Store using one BoltDB bucket per namespace
  - Buckets created lazily on first write
  - Thread-safe via BoltDB's transaction model

Store interface:
  - Get/Put: single-key JSON round trips
  - PutBatch: several keys of one namespace, one transaction
  - List: prefix scan within a namespace (raw JSON out)
  - Namespaces: prefix scan over namespaces (recovery walks)
  - DeleteNamespace: drop an actor's entire durable state

# Usage

Opening the store:

	store, err := storage.NewBoltStore("/var/lib/drover")
	if err != nil {
		return err
	}
	defer store.Close()

Single-key operations:

	err := store.Put("task:task-123", "retryCount", 2)

	var count int
	err = store.Get("task:task-123", "retryCount", &count)
	if errors.Is(err, storage.ErrNotFound) {
		// first run, start from zero
	}

Atomic multi-key writes:

	err := store.PutBatch("task:task-123", map[string]interface{}{
		"task":       task,
		"retryCount": task.RetryCount,
	})

Recovery scans:

	namespaces, _ := store.Namespaces("task:")
	for _, ns := range namespaces {
		// rebuild one task actor from its namespace
	}

	events, _ := store.List("stats:2026-05-14", "events-")
	for key, raw := range events {
		// replay buffered events not yet folded into rollups
	}

# Consistency Model

Reads and writes are fully serializable per BoltDB's single-writer model.
Actors only ever touch their own namespace, so writer contention across
actors is limited to BoltDB's global write lock, which the batched write
pattern keeps short.

Values returned by List are copies; BoltDB's mmap slices never escape a
transaction.

# Error Handling

Missing keys and namespaces return ErrNotFound wrapped with the namespace
and key for context:

	err := store.Get("server:srv-9", "status", &status)
	if errors.Is(err, storage.ErrNotFound) {
		// treat as fresh server
	}

All other errors are I/O or encoding failures and are fatal for the
operation that triggered them.

# See Also

  - pkg/task, pkg/backend, pkg/balancer, pkg/registry, pkg/stats for the
    namespace layouts each actor persists
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
