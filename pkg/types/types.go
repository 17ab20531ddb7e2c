package types

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskTimeout    TaskStatus = "TIMEOUT"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// Terminal reports whether the status is final. Terminal tasks are immutable
// and are purged after the cleanup delay.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTimeout, TaskCancelled:
		return true
	}
	return false
}

// TaskRequest is the client-supplied description of the work to perform.
// Payload is opaque to the gateway and forwarded to the backend verbatim.
type TaskRequest struct {
	Type         string          `json:"type"`
	Priority     int             `json:"priority"`
	Payload      json.RawMessage `json:"payload"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Async        bool            `json:"async"`
}

// TaskAttempt records one prior dispatch attempt of a task
type TaskAttempt struct {
	Attempt    int        `json:"attempt"`
	StartedAt  time.Time  `json:"startedAt"`
	PrevStatus TaskStatus `json:"prevStatus"`
	PrevError  string     `json:"prevError,omitempty"`
}

// Task is the authoritative record of a single unit of work
type Task struct {
	ID        string          `json:"id"`
	Status    TaskStatus      `json:"status"`
	Request   TaskRequest     `json:"request"`
	ServerID  string          `json:"serverId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Progress  int             `json:"progress"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Attempts  []TaskAttempt   `json:"attempts"`
}

// Clone returns a copy safe to hand out as a snapshot. Attempts and raw
// JSON are duplicated so callers cannot mutate actor state.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Attempts != nil {
		cp.Attempts = make([]TaskAttempt, len(t.Attempts))
		copy(cp.Attempts, t.Attempts)
	}
	if t.Result != nil {
		cp.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.Request.Payload != nil {
		cp.Request.Payload = append(json.RawMessage(nil), t.Request.Payload...)
	}
	return &cp
}

// TaskUpdate carries a partial mutation of a PROCESSING task, typically
// delivered by a backend callback
type TaskUpdate struct {
	Status   TaskStatus      `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Progress *int            `json:"progress,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ServerStatus represents the operational state of a backend server
type ServerStatus string

const (
	ServerInitializing ServerStatus = "initializing"
	ServerOnline       ServerStatus = "online"
	ServerDegraded     ServerStatus = "degraded"
	ServerOffline      ServerStatus = "offline"
	ServerMaintenance  ServerStatus = "maintenance"
)

// ServerEndpoints holds the HTTP endpoints a backend server exposes
type ServerEndpoints struct {
	Predict string `json:"predict"`
	Health  string `json:"health"`
	Metrics string `json:"metrics,omitempty"`
}

// ServerConfig is the registration record of a backend server
type ServerConfig struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Endpoints     ServerEndpoints `json:"endpoints"`
	APIKey        string          `json:"apiKey,omitempty"`
	MaxConcurrent int             `json:"maxConcurrent"`
	Capabilities  []string        `json:"capabilities,omitempty"`
	Groups        []string        `json:"groups,omitempty"`
	Priority      int             `json:"priority"`
}

// HasCapabilities reports whether the server offers every required capability
func (c *ServerConfig) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	offered := make(map[string]bool, len(c.Capabilities))
	for _, cap := range c.Capabilities {
		offered[cap] = true
	}
	for _, req := range required {
		if !offered[req] {
			return false
		}
	}
	return true
}

// ServerInfo is the registry's view of a fleet member
type ServerInfo struct {
	ServerConfig
	Status        ServerStatus `json:"status"`
	RegisteredAt  time.Time    `json:"registeredAt"`
	LastHeartbeat time.Time    `json:"lastHeartbeat"`

	// Derived at read time, in milliseconds
	UptimeMs                 int64 `json:"uptimeMs"`
	TimeSinceLastHeartbeatMs int64 `json:"timeSinceLastHeartbeatMs"`
}

// ServerMetrics is a point-in-time snapshot of one server's runtime counters.
// The same structure is pushed to the load balancer after every dispatch and
// health check; TaskCompleted marks pushes that conclude a dispatch so the
// balancer releases the load slot it reserved at selection time.
type ServerMetrics struct {
	ServerID        string       `json:"serverId"`
	TasksProcessed  int64        `json:"tasksProcessed"`
	TasksSucceeded  int64        `json:"tasksSucceeded"`
	TasksFailed     int64        `json:"tasksFailed"`
	TotalDurationMs int64        `json:"totalDurationMs"`
	SuccessRate     float64      `json:"successRate"`
	AvgResponseMs   float64      `json:"avgResponseMs"`
	HealthScore     int          `json:"healthScore"`
	ActiveTasks     int          `json:"activeTasks"`
	MaxConcurrent   int          `json:"maxConcurrent"`
	Capabilities    []string     `json:"capabilities,omitempty"`
	Status          ServerStatus `json:"status"`
	Healthy         bool         `json:"healthy"`
	TaskCompleted   bool         `json:"taskCompleted,omitempty"`
}

// Algorithm selects how the load balancer ranks candidate servers
type Algorithm string

const (
	RoundRobin         Algorithm = "round-robin"
	WeightedRoundRobin Algorithm = "weighted-round-robin"
	LeastConnections   Algorithm = "least-connections"
	ResponseTime       Algorithm = "response-time"
	Random             Algorithm = "random"
)

// SelectionCriteria narrows the candidate set for one selection
type SelectionCriteria struct {
	TaskType             string   `json:"taskType,omitempty"`
	Priority             int      `json:"priority,omitempty"`
	RequiredCapabilities []string `json:"requiredCapabilities,omitempty"`
}

// EventKind distinguishes buffered statistics events
type EventKind string

const (
	EventStart    EventKind = "start"
	EventComplete EventKind = "complete"
)

// StatEvent is one buffered statistics event awaiting flush
type StatEvent struct {
	Kind       EventKind `json:"kind"`
	TaskID     string    `json:"taskId"`
	ServerID   string    `json:"serverId,omitempty"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"durationMs"`
	Retries    int       `json:"retries"`
	Timestamp  time.Time `json:"timestamp"`
}

// ServerStatistics aggregates completed work per server for one day
type ServerStatistics struct {
	ServerID        string    `json:"serverId"`
	TasksProcessed  int64     `json:"tasksProcessed"`
	Successes       int64     `json:"successes"`
	Failures        int64     `json:"failures"`
	TotalDurationMs int64     `json:"totalDurationMs"`
	SuccessRate     float64   `json:"successRate"`
	AvgResponseMs   float64   `json:"avgResponseMs"`
	LastActive      time.Time `json:"lastActive"`
}

// HourlyStat counts work within one hour-of-day bucket
type HourlyStat struct {
	Tasks     int64 `json:"tasks"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// HourlyReport is one 24th of the daily trend
type HourlyReport struct {
	Hour   int    `json:"hour"`
	Period string `json:"period"` // "H:00-H:59"
	HourlyStat
}

// Statistics is the per-day rollup returned by the stats endpoints
type Statistics struct {
	Date                   string             `json:"date"`
	TotalTasks             int64              `json:"totalTasks"`
	PendingTasks           int64              `json:"pendingTasks"`
	SuccessfulTasks        int64              `json:"successfulTasks"`
	FailedTasks            int64              `json:"failedTasks"`
	RetriedTasks           int64              `json:"retriedTasks"`
	TotalSuccessDurationMs int64              `json:"totalSuccessDurationMs"`
	AvgProcessingMs        float64            `json:"avgProcessingMs"`
	TopServers             []ServerStatistics `json:"topServers"`
	HourlyTrend            []HourlyReport     `json:"hourlyTrend"`
}
