package models

import (
	"time"
)

// TaskType identifies which executor handles a task.
type TaskType string

const (
	TaskDNSUpdate    TaskType = "dns_update"
	TaskCachePurge   TaskType = "cache_purge"
	TaskSSLCheck     TaskType = "ssl_check"
	TaskFirewallRule TaskType = "firewall_rule"
	TaskHealthCheck  TaskType = "health_check"
	TaskDeploy       TaskType = "deploy"
	TaskMonitor      TaskType = "monitor"
	TaskRemediate    TaskType = "remediate"
	TaskBackup       TaskType = "backup"
)

// Priority orders tasks for execution. Critical ranks first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the scheduling rank of a priority; lower is served first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether p is one of the recognized priorities.
func (p Priority) Valid() bool {
	return p.Rank() < 4
}

// TaskStatus is the task lifecycle state machine:
// pending -> processing -> {completed, failed}, with cancelled
// reachable from pending only.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TaskResult is the structured outcome of a finished execution.
type TaskResult struct {
	Service string         `json:"service,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Task is a unit of requested work with a type, priority and lifecycle.
type Task struct {
	ID          string         `json:"id"`
	Type        TaskType       `json:"type"`
	Priority    Priority       `json:"priority"`
	Payload     map[string]any `json:"payload,omitempty"`
	Status      TaskStatus     `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      *TaskResult    `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
	Timeout     time.Duration  `json:"timeout"`
	// NotBefore delays re-execution after a retryable failure.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// Clone returns a copy safe to hand out across goroutine boundaries.
func (t *Task) Clone() *Task {
	c := *t
	if t.Payload != nil {
		c.Payload = make(map[string]any, len(t.Payload))
		for k, v := range t.Payload {
			c.Payload[k] = v
		}
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	if t.Result != nil {
		r := *t.Result
		if t.Result.Data != nil {
			r.Data = make(map[string]any, len(t.Result.Data))
			for k, v := range t.Result.Data {
				r.Data[k] = v
			}
		}
		c.Result = &r
	}
	return &c
}
