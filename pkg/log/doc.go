/*
Package log provides structured logging for Drover using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

Drover's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            Global Logger                   │           │
	│  │  - Zerolog instance                        │           │
	│  │  - Initialized via log.Init()              │           │
	│  │  - Thread-safe for concurrent use          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Configuration                    │           │
	│  │  - Level: debug/info/warn/error            │           │
	│  │  - Format: JSON or console (human)         │           │
	│  │  - Output: stdout, file, or custom writer  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │         Component Loggers                  │           │
	│  │  - WithComponent("balancer")               │           │
	│  │  - WithTaskID("task-abc123")               │           │
	│  │  - WithServerID("srv-gpu-1")               │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Drover packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithTaskID: Add task ID context
  - WithServerID: Add backend server ID context

# Usage

Initializing the Logger:

	import "github.com/droverhq/drover/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("Gateway initialized successfully")
	log.Debug("Checking server health")
	log.Warn("Stats flush took longer than expected")
	log.Error("Failed to reach backend")
	log.Fatal("Cannot start without database") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("task_id", "task-123").
		Str("server_id", "srv-gpu-1").
		Msg("Task dispatched")

	log.Logger.Error().
		Err(err).
		Str("server_id", "srv-gpu-1").
		Msg("Health check failed")

Component Loggers:

	balancerLog := log.WithComponent("balancer")
	balancerLog.Info().Msg("Algorithm changed")
	balancerLog.Debug().Str("server_id", "srv-2").Msg("Candidate selected")

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"registry","time":"2026-05-14T10:30:00Z","message":"Server registered"}
	{"level":"info","component":"task","task_id":"task-123","time":"2026-05-14T10:30:01Z","message":"Task dispatched"}
	{"level":"error","component":"backend","server_id":"srv-1","error":"connection refused","time":"2026-05-14T10:30:02Z","message":"Health check failed"}

Console Format (Development):

	10:30:00 INF Server registered component=registry
	10:30:01 INF Task dispatched component=task task_id=task-123
	10:30:02 ERR Health check failed component=backend server_id=srv-1 error="connection refused"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing

Context Logger Pattern:
  - Create child loggers with context fields
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Consistent error format across codebase

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Include context (task ID, server ID)

Don't:
  - Log API keys or bearer tokens
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
