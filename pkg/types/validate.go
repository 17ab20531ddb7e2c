package types

import "fmt"

// ValidTaskStatus reports whether s is a recognized task status
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskPending, TaskProcessing, TaskCompleted, TaskFailed, TaskTimeout, TaskCancelled:
		return true
	}
	return false
}

// ParseAlgorithm validates and converts a load balancing algorithm name
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case RoundRobin, WeightedRoundRobin, LeastConnections, ResponseTime, Random:
		return Algorithm(s), nil
	}
	return "", fmt.Errorf("unknown algorithm %q", s)
}

// Validate checks a task request before admission
func (r *TaskRequest) Validate() error {
	if r.Type == "" {
		return fmt.Errorf("task type is required")
	}
	if r.Priority < 0 {
		return fmt.Errorf("priority must be non-negative, got %d", r.Priority)
	}
	return nil
}

// Validate checks a task update before it is applied
func (u *TaskUpdate) Validate() error {
	if u.Status != "" && !ValidTaskStatus(u.Status) {
		return fmt.Errorf("unknown task status %q", u.Status)
	}
	if u.Status == TaskPending || u.Status == TaskCancelled {
		return fmt.Errorf("status %s cannot be set via update", u.Status)
	}
	if u.Progress != nil && (*u.Progress < 0 || *u.Progress > 100) {
		return fmt.Errorf("progress must be within [0,100], got %d", *u.Progress)
	}
	return nil
}

// Validate checks a server registration record
func (c *ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("server id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if c.Endpoints.Predict == "" {
		return fmt.Errorf("predict endpoint is required")
	}
	if c.Endpoints.Health == "" {
		return fmt.Errorf("health endpoint is required")
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("maxConcurrent must be non-negative, got %d", c.MaxConcurrent)
	}
	return nil
}

// Normalize fills registration defaults in place
func (c *ServerConfig) Normalize() {
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 5
	}
}
