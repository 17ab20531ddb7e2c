/*
Package types defines the core data structures used throughout Drover.

This package contains all fundamental types that represent Drover's domain
model: tasks and their lifecycle, backend server registrations, runtime
metrics, load balancing criteria, and daily statistics rollups. These types
are used by all other packages for state management, API payloads, and
dispatch decisions.

# Architecture

The types package is the foundation of Drover's data model. It defines:

  - Task admission, dispatch, and completion records
  - Backend server registration and fleet membership
  - Runtime metrics snapshots pushed to the load balancer
  - Load balancing algorithms and selection criteria
  - Buffered statistics events and per-day rollups

All types are designed to be:
  - Serializable (JSON, both on the wire and in BoltDB)
  - Snapshot-friendly (Clone for handing state out of actors)
  - Self-documenting (clear field names and comments)
  - Validated (constants for enums, validation helpers)

# Core Types

Task Processing:
  - Task: Authoritative record of one unit of work
  - TaskRequest: Client-supplied work description with opaque payload
  - TaskUpdate: Partial mutation delivered by backend callbacks
  - TaskAttempt: One prior dispatch attempt (for retry accounting)
  - TaskStatus: PENDING, PROCESSING, COMPLETED, FAILED, TIMEOUT, CANCELLED

Fleet Management:
  - ServerConfig: Registration record (endpoints, capacity, capabilities)
  - ServerInfo: Registry view with heartbeat age and uptime
  - ServerMetrics: Point-in-time runtime counters for one server
  - ServerStatus: initializing, online, degraded, offline, maintenance

Load Balancing:
  - Algorithm: round-robin, weighted-round-robin, least-connections,
    response-time, random
  - SelectionCriteria: Task type, priority, and required capabilities

Statistics:
  - StatEvent: One buffered event (start or complete) awaiting flush
  - Statistics: Per-day rollup with top servers and hourly trend
  - ServerStatistics: Per-server aggregates within one day
  - HourlyReport: One hour-of-day bucket of the daily trend

# Task State Machine

Tasks follow a strict state machine:

	PENDING → PROCESSING → COMPLETED
	              ↓
	          FAILED / TIMEOUT
	              ↓ (retry, bounded)
	          PENDING → PROCESSING → ...

	Any non-terminal state → CANCELLED

Valid transitions:
  - PENDING → PROCESSING (dispatched to a backend)
  - PROCESSING → COMPLETED (success callback or sync response)
  - PROCESSING → FAILED (error callback or dispatch failure)
  - PROCESSING → TIMEOUT (deadline elapsed without completion)
  - FAILED/TIMEOUT → PENDING (retry, up to the retry limit)
  - PENDING/PROCESSING → CANCELLED (explicit cancel)

Terminal states (COMPLETED, FAILED, TIMEOUT, CANCELLED) are immutable
except that FAILED and TIMEOUT admit a retry while attempts remain.
A task's Attempts slice grows by exactly one entry per retry.

# Server State Machine

Servers follow an adaptive health lifecycle:

	initializing → online ⇄ degraded → offline
	                  ↓
	             maintenance (operator-driven)

Transitions are driven by consecutive health check outcomes, except
maintenance which is set and cleared explicitly.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for safety and clarity:
	  type TaskStatus string
	  const (
	      TaskPending    TaskStatus = "PENDING"
	      TaskProcessing TaskStatus = "PROCESSING"
	  )

Snapshot Pattern:

	Actors never hand out pointers into their private state. Task.Clone
	copies attempts and raw JSON so API handlers and event subscribers
	can read freely without holding actor locks.

Opaque Payload Pattern:

	TaskRequest.Payload and Task.Result are json.RawMessage. Drover
	never interprets them; they pass through to backends verbatim.

# Integration Points

This package integrates with:

  - pkg/storage: Persists all types to BoltDB as JSON
  - pkg/task: Drives the task state machine
  - pkg/registry: Manages ServerConfig and ServerInfo records
  - pkg/backend: Produces ServerMetrics snapshots
  - pkg/balancer: Consumes metrics and selection criteria
  - pkg/stats: Buffers StatEvents and builds Statistics rollups
  - pkg/api: Encodes and decodes all wire payloads

# Validation

Key validation rules:

Task Requests:
  - Type must be non-empty
  - Priority must be non-negative
  - Payload is opaque and never validated

Task Updates:
  - Status, when present, must be a known status
  - PENDING and CANCELLED cannot be set via update
  - Progress, when present, must be within [0,100]

Server Registrations:
  - ID and Name must be non-empty
  - Predict and Health endpoints are required
  - MaxConcurrent defaults to 5 when omitted (Normalize); Priority 0 is valid

# Thread Safety

All types in this package are plain data:
  - Read-safe: Can be read concurrently from multiple goroutines
  - Write-unsafe: Mutations must be synchronized by the owning actor

Each actor package (pkg/task, pkg/backend, pkg/balancer, pkg/registry,
pkg/stats) serializes access to its own instances; snapshots cross
actor boundaries, never live pointers.
*/
package types
