package models

import "time"

// AlertSeverity classifies out-of-band service signals.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
)

// Alert is an immutable out-of-band signal about a backend service.
// Critical alerts trigger creation of a remediation task.
type Alert struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Service   string        `json:"service,omitempty"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}
