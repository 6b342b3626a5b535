package domain

import "time"

// AuditEvent is an append-only record of a security-relevant attempt.
type AuditEvent struct {
	ID        string         `json:"id" db:"id"`
	Event     string         `json:"event" db:"event"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
	ActorRef  string         `json:"actorRef,omitempty" db:"actor_ref"`
	Status    AuditStatus    `json:"status" db:"status"`
	Details   map[string]any `json:"details,omitempty" db:"details"`
}

// AuditStatus tags the outcome of an audited attempt
type AuditStatus string

const (
	AuditStatusPending AuditStatus = "pending"
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFail    AuditStatus = "fail"
	AuditStatusDenied  AuditStatus = "denied"
)

// Audited actions
const (
	EventLicenseCreate   = "license.create"
	EventLicenseStatus   = "license.status_update"
	EventLicenseInspect  = "license.inspect"
	EventLicenseList     = "license.list"
	EventLicenseActivate = "license.activate"
	EventLicenseValidate = "license.validate"
	EventDeviceRevoke    = "device.revoke"
)
