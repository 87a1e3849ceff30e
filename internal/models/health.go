package models

import "time"

// ServiceStatus is the probed state of a single backend service.
type ServiceStatus string

const (
	ServiceOnline  ServiceStatus = "online"
	ServiceOffline ServiceStatus = "offline"
	ServiceError   ServiceStatus = "error"
)

// HealthGrade is the aggregate system health derived from a poll cycle.
type HealthGrade string

const (
	GradeExcellent HealthGrade = "excellent"
	GradeGood      HealthGrade = "good"
	GradeDegraded  HealthGrade = "degraded"
	GradeCritical  HealthGrade = "critical"
	GradeUnknown   HealthGrade = "unknown"
)

// ServiceHealth is one service's result within a snapshot.
type ServiceHealth struct {
	Status    ServiceStatus `json:"status"`
	LatencyMS int64         `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// HealthSnapshot is the most recent poll result. Each poll overwrites
// the previous snapshot; history is not accumulated here.
type HealthSnapshot struct {
	Grade     HealthGrade              `json:"grade"`
	Services  map[string]ServiceHealth `json:"services"`
	CheckedAt time.Time                `json:"checked_at"`
}

// GradeFor maps a healthy/total ratio onto a HealthGrade.
func GradeFor(healthy, total int) HealthGrade {
	if total == 0 {
		return GradeUnknown
	}
	ratio := float64(healthy) / float64(total)
	switch {
	case ratio >= 1.0:
		return GradeExcellent
	case ratio >= 0.9:
		return GradeGood
	case ratio >= 0.7:
		return GradeDegraded
	default:
		return GradeCritical
	}
}
