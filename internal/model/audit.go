package model

import "time"

// Audit event results.
const (
	AuditResultSuccess = "success"
	AuditResultFailure = "failure"
	AuditResultDenied  = "denied"
)

// AuditEvent records one user-initiated container action, successful or not.
type AuditEvent struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Actor       string    `json:"actor"`
	Action      string    `json:"action"`
	ContainerID string    `json:"container_id"`
	Result      string    `json:"result"`
	Reason      string    `json:"reason,omitempty"`
}
