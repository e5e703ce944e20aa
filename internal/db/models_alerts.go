package db

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// AlertConditions is the any-of condition set of a policy. A zero field is
// an unconfigured condition.
type AlertConditions struct {
	ConsecutiveFailures  int               `json:"consecutive_failures,omitempty"`
	FailuresInWindow     *FailuresInWindow `json:"failures_in_window,omitempty"`
	DegradedDurationMins int               `json:"degraded_duration_minutes,omitempty"`
	ConsecutiveSuccesses int               `json:"consecutive_successes,omitempty"`
}

type FailuresInWindow struct {
	Count         int `json:"count"`
	WindowMinutes int `json:"window_minutes"`
}

type AlertPolicy struct {
	ID                 string          `json:"id" db:"id"`
	OrgID              string          `json:"-" db:"org_id"`
	Name               string          `json:"name" db:"name"`
	Conditions         AlertConditions `json:"conditions" db:"conditions"`
	Channels           StringSlice     `json:"channels" db:"channels"`
	CooldownMinutes    int             `json:"cooldown_minutes" db:"cooldown_minutes"`
	EscalationPolicyID *string         `json:"escalation_policy_id,omitempty" db:"escalation_policy_id"`
	OncallRotationID   *string         `json:"oncall_rotation_id,omitempty" db:"oncall_rotation_id"`
	Monitors           StringSlice     `json:"monitors" db:"monitors"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

type NotificationChannel struct {
	ID        string    `json:"id" db:"id"`
	OrgID     string    `json:"-" db:"org_id"`
	Name      string    `json:"name" db:"name"`
	Type      string    `json:"type" db:"type"` // webhook, slack, email, ...
	Config    JSONB     `json:"config" db:"config"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EscalationPolicy struct {
	ID                 string           `json:"id" db:"id"`
	OrgID              string           `json:"-" db:"org_id"`
	Name               string           `json:"name" db:"name"`
	AckTimeoutMinutes  int              `json:"ack_timeout_minutes" db:"ack_timeout_minutes"`
	SeverityAckTimeout SeverityTimeouts `json:"severity_ack_timeouts" db:"severity_ack_timeouts"`
	Steps              EscalationSteps  `json:"steps" db:"steps"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
}

type SeverityTimeouts map[string]int

func (s SeverityTimeouts) Value() (driver.Value, error) { return json.Marshal(s) }

func (s *SeverityTimeouts) Scan(value interface{}) error {
	if value == nil {
		*s = map[string]int{}
		return nil
	}
	return json.Unmarshal(value.([]byte), s)
}

type EscalationStep struct {
	DelayMinutes       int      `json:"delay_minutes"`
	Channels           []string `json:"channels"`
	OncallRotationID   *string  `json:"oncall_rotation_id,omitempty"`
	NotifyOnAckTimeout bool     `json:"notify_on_ack_timeout"`
	SkipIfAcknowledged bool     `json:"skip_if_acknowledged"`
}

type EscalationSteps []EscalationStep

func (s EscalationSteps) Value() (driver.Value, error) { return json.Marshal(s) }

func (s *EscalationSteps) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	return json.Unmarshal(value.([]byte), s)
}

type OncallRotation struct {
	ID                         string      `json:"id" db:"id"`
	OrgID                      string      `json:"-" db:"org_id"`
	Name                       string      `json:"name" db:"name"`
	Participants               StringSlice `json:"participants" db:"participants"`
	RotationStart              time.Time   `json:"rotation_start" db:"rotation_start"`
	ShiftDurationMinutes       int         `json:"shift_duration_minutes" db:"shift_duration_minutes"`
	HandoffNotificationMinutes int         `json:"handoff_notification_minutes" db:"handoff_notification_minutes"`
	HandoffChannels            StringSlice `json:"handoff_channels" db:"handoff_channels"`
	CreatedAt                  time.Time   `json:"created_at" db:"created_at"`
}

// OncallOverride replaces the computed slot for its date range.
type OncallOverride struct {
	ID          string    `json:"id" db:"id"`
	RotationID  string    `json:"rotation_id" db:"rotation_id"`
	Participant string    `json:"participant" db:"participant"`
	StartsAt    time.Time `json:"starts_at" db:"starts_at"`
	EndsAt      time.Time `json:"ends_at" db:"ends_at"`
}

// AlertHistory is one row per triggered evaluation of a policy.
type AlertHistory struct {
	ID        string        `json:"id" db:"id"`
	OrgID     string        `json:"-" db:"org_id"`
	PolicyID  string        `json:"policy_id" db:"policy_id"`
	MonitorID string        `json:"monitor_id" db:"monitor_id"`
	Status    MonitorStatus `json:"status" db:"status"`
	Kind      string        `json:"kind" db:"kind"` // triggered or recovered
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// NotificationLog is one row per channel attempted for an alert, giving
// per-channel delivery auditability.
type NotificationLog struct {
	ID        string     `json:"id" db:"id"`
	AlertID   string     `json:"alert_id" db:"alert_id"`
	ChannelID string     `json:"channel_id" db:"channel_id"`
	Recipient string     `json:"recipient,omitempty" db:"recipient"`
	SentAt    *time.Time `json:"sent_at" db:"sent_at"`
	Error     string     `json:"error,omitempty" db:"error"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// AlertState tracks cooldown and escalation progress for one
// (monitor, policy) pair.
type AlertState struct {
	PolicyID            string     `json:"policy_id" db:"policy_id"`
	MonitorID           string     `json:"monitor_id" db:"monitor_id"`
	LastTriggeredAt     *time.Time `json:"last_triggered_at" db:"last_triggered_at"`
	EscalationCursor    int        `json:"escalation_cursor" db:"escalation_cursor"`
	EscalationStartedAt *time.Time `json:"escalation_started_at" db:"escalation_started_at"`
	LastStepFiredAt     *time.Time `json:"last_step_fired_at" db:"last_step_fired_at"`
	AckDeadline         *time.Time `json:"ack_deadline" db:"ack_deadline"`
	Acknowledged        bool       `json:"acknowledged" db:"acknowledged"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

type Incident struct {
	ID              string     `json:"id" db:"id"`
	MonitorID       string     `json:"monitor_id" db:"monitor_id"`
	OrgID           string     `json:"-" db:"org_id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	ResolvedAt      *time.Time `json:"resolved_at" db:"resolved_at"`
	Severity        string     `json:"severity" db:"severity"`
	DowntimeMinutes int        `json:"downtime_minutes" db:"downtime_minutes"`
	AffectedChecks  int        `json:"affected_checks" db:"affected_checks"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at" db:"acknowledged_at"`
	AcknowledgedBy  *string    `json:"acknowledged_by" db:"acknowledged_by"`
}

const (
	IncidentEventDetected     = "detected"
	IncidentEventResolved     = "resolved"
	IncidentEventAcknowledged = "acknowledged"
	IncidentEventComment      = "comment"
)

type IncidentEvent struct {
	ID          string    `json:"id" db:"id"`
	IncidentID  string    `json:"incident_id" db:"incident_id"`
	EventType   string    `json:"event_type" db:"event_type"`
	EventTime   time.Time `json:"event_time" db:"event_time"`
	Description string    `json:"description" db:"description"`
	Metadata    JSONB     `json:"metadata,omitempty" db:"metadata"`
	CreatedBy   *string   `json:"created_by,omitempty" db:"created_by"`
}

func (c AlertConditions) Value() (driver.Value, error) { return json.Marshal(c) }

func (c *AlertConditions) Scan(value interface{}) error {
	if value == nil {
		*c = AlertConditions{}
		return nil
	}
	return json.Unmarshal(value.([]byte), c)
}
