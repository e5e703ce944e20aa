package db

import "time"

type ProbeStatus string

const (
	ProbePending  ProbeStatus = "pending"
	ProbeActive   ProbeStatus = "active"
	ProbeOffline  ProbeStatus = "offline"
	ProbeDisabled ProbeStatus = "disabled"
)

// Probe is an organization-operated regional agent. The plaintext auth
// token is returned exactly once at registration; only its SHA-256 hash is
// stored.
type Probe struct {
	ID              string      `json:"id" db:"id"`
	OrgID           string      `json:"-" db:"org_id"`
	Name            string      `json:"name" db:"name"`
	Region          string      `json:"region" db:"region"`
	TokenHash       string      `json:"-" db:"token_hash"`
	Status          ProbeStatus `json:"status" db:"status"`
	LastHeartbeatAt *time.Time  `json:"last_heartbeat_at" db:"last_heartbeat_at"`
	Metrics         JSONB       `json:"metrics" db:"metrics"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// ProbePendingJob is a time-bounded lease of one check against one probe.
// Once ExpiresAt passes the row is garbage: it must never show up in a
// fetch again, and it is never redelivered.
type ProbePendingJob struct {
	ID        string    `json:"id" db:"id"`
	ProbeID   string    `json:"probe_id" db:"probe_id"`
	MonitorID string    `json:"monitor_id" db:"monitor_id"`
	JobData   JSONB     `json:"job_data" db:"job_data"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
