package db

import (
	"database/sql"
	"time"
)

func (r *Repository) CreateAlertPolicy(p *AlertPolicy) error {
	query := `
        INSERT INTO alert_policies (
            id, org_id, name, conditions, channels, cooldown_minutes,
            escalation_policy_id, oncall_rotation_id, monitors,
            created_at, updated_at
        ) VALUES (
            :id, :org_id, :name, :conditions, :channels, :cooldown_minutes,
            :escalation_policy_id, :oncall_rotation_id, :monitors,
            :created_at, :updated_at
        )`

	_, err := r.db.NamedExec(query, p)
	return err
}

func (r *Repository) GetAlertPolicy(id, orgID string) (*AlertPolicy, error) {
	var p AlertPolicy
	err := r.db.Get(&p, `SELECT * FROM alert_policies WHERE id = $1 AND org_id = $2`, id, orgID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *Repository) GetAlertPolicyByID(id string) (*AlertPolicy, error) {
	var p AlertPolicy
	err := r.db.Get(&p, `SELECT * FROM alert_policies WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *Repository) GetAlertPoliciesByOrg(orgID string) ([]*AlertPolicy, error) {
	policies := []*AlertPolicy{}
	err := r.db.Select(&policies, `SELECT * FROM alert_policies WHERE org_id = $1 ORDER BY created_at`, orgID)
	return policies, err
}

// GetPoliciesForMonitor returns every policy scoped to the monitor.
func (r *Repository) GetPoliciesForMonitor(monitorID string) ([]*AlertPolicy, error) {
	policies := []*AlertPolicy{}
	query := `SELECT * FROM alert_policies WHERE monitors @> to_jsonb(ARRAY[$1]::text[])`
	err := r.db.Select(&policies, query, monitorID)
	return policies, err
}

func (r *Repository) UpdateAlertPolicy(p *AlertPolicy) error {
	query := `
        UPDATE alert_policies SET
            name = :name, conditions = :conditions, channels = :channels,
            cooldown_minutes = :cooldown_minutes,
            escalation_policy_id = :escalation_policy_id,
            oncall_rotation_id = :oncall_rotation_id,
            monitors = :monitors, updated_at = :updated_at
        WHERE id = :id AND org_id = :org_id`

	_, err := r.db.NamedExec(query, p)
	return err
}

func (r *Repository) DeleteAlertPolicy(id, orgID string) error {
	_, err := r.db.Exec(`DELETE FROM alert_policies WHERE id = $1 AND org_id = $2`, id, orgID)
	return err
}

// Channels

func (r *Repository) CreateChannel(c *NotificationChannel) error {
	query := `
        INSERT INTO notification_channels (
            id, org_id, name, type, config, enabled, created_at
        ) VALUES (
            :id, :org_id, :name, :type, :config, :enabled, :created_at
        )`

	_, err := r.db.NamedExec(query, c)
	return err
}

func (r *Repository) GetChannel(id string) (*NotificationChannel, error) {
	var c NotificationChannel
	err := r.db.Get(&c, `SELECT * FROM notification_channels WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *Repository) GetChannelsByOrg(orgID string) ([]*NotificationChannel, error) {
	channels := []*NotificationChannel{}
	err := r.db.Select(&channels, `SELECT * FROM notification_channels WHERE org_id = $1 ORDER BY created_at`, orgID)
	return channels, err
}

func (r *Repository) DeleteChannel(id, orgID string) error {
	_, err := r.db.Exec(`DELETE FROM notification_channels WHERE id = $1 AND org_id = $2`, id, orgID)
	return err
}

// Escalation / on-call

func (r *Repository) GetEscalationPolicy(id string) (*EscalationPolicy, error) {
	var p EscalationPolicy
	err := r.db.Get(&p, `SELECT * FROM escalation_policies WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *Repository) GetOncallRotation(id string) (*OncallRotation, error) {
	var rot OncallRotation
	err := r.db.Get(&rot, `SELECT * FROM oncall_rotations WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &rot, err
}

// ListHandoffRotations returns rotations that want a handoff reminder.
func (r *Repository) ListHandoffRotations() ([]*OncallRotation, error) {
	rotations := []*OncallRotation{}
	err := r.db.Select(&rotations, `SELECT * FROM oncall_rotations WHERE handoff_notification_minutes > 0`)
	return rotations, err
}

func (r *Repository) GetOncallOverrides(rotationID string, at time.Time) ([]*OncallOverride, error) {
	overrides := []*OncallOverride{}
	query := `
        SELECT * FROM oncall_overrides
        WHERE rotation_id = $1 AND starts_at <= $2 AND ends_at > $2`

	err := r.db.Select(&overrides, query, rotationID, at)
	return overrides, err
}

// History / logs

func (r *Repository) CreateAlertHistory(h *AlertHistory) error {
	query := `
        INSERT INTO alert_history (
            id, org_id, policy_id, monitor_id, status, kind, created_at
        ) VALUES (
            :id, :org_id, :policy_id, :monitor_id, :status, :kind, :created_at
        )`

	_, err := r.db.NamedExec(query, h)
	return err
}

func (r *Repository) GetAlertHistory(orgID string, limit, offset int) ([]*AlertHistory, error) {
	history := []*AlertHistory{}
	query := `
        SELECT * FROM alert_history WHERE org_id = $1
        ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	err := r.db.Select(&history, query, orgID, limit, offset)
	return history, err
}

func (r *Repository) CreateNotificationLog(l *NotificationLog) error {
	query := `
        INSERT INTO notification_log (
            id, alert_id, channel_id, recipient, sent_at, error, created_at
        ) VALUES (
            :id, :alert_id, :channel_id, :recipient, :sent_at, :error, :created_at
        )`

	_, err := r.db.NamedExec(query, l)
	return err
}

// Alert state (cooldown + escalation FSM)

func (r *Repository) GetAlertState(policyID, monitorID string) (*AlertState, error) {
	var s AlertState
	query := `SELECT * FROM alert_states WHERE policy_id = $1 AND monitor_id = $2`
	err := r.db.Get(&s, query, policyID, monitorID)
	if err == sql.ErrNoRows {
		return &AlertState{PolicyID: policyID, MonitorID: monitorID}, nil
	}
	return &s, err
}

func (r *Repository) SaveAlertState(s *AlertState) error {
	query := `
        INSERT INTO alert_states (
            policy_id, monitor_id, last_triggered_at, escalation_cursor,
            escalation_started_at, last_step_fired_at, ack_deadline,
            acknowledged, updated_at
        ) VALUES (
            :policy_id, :monitor_id, :last_triggered_at, :escalation_cursor,
            :escalation_started_at, :last_step_fired_at, :ack_deadline,
            :acknowledged, :updated_at
        ) ON CONFLICT (policy_id, monitor_id) DO UPDATE SET
            last_triggered_at = EXCLUDED.last_triggered_at,
            escalation_cursor = EXCLUDED.escalation_cursor,
            escalation_started_at = EXCLUDED.escalation_started_at,
            last_step_fired_at = EXCLUDED.last_step_fired_at,
            ack_deadline = EXCLUDED.ack_deadline,
            acknowledged = EXCLUDED.acknowledged,
            updated_at = EXCLUDED.updated_at`

	_, err := r.db.NamedExec(query, s)
	return err
}

// GetPendingEscalations returns states with an escalation in progress, for
// the clock-driven advance loop.
func (r *Repository) GetPendingEscalations() ([]*AlertState, error) {
	states := []*AlertState{}
	query := `SELECT * FROM alert_states WHERE escalation_started_at IS NOT NULL`
	err := r.db.Select(&states, query)
	return states, err
}

// Incidents

func (r *Repository) CreateIncident(i *Incident) error {
	query := `
        INSERT INTO incidents (
            id, monitor_id, org_id, started_at, resolved_at, severity,
            downtime_minutes, affected_checks, acknowledged_at, acknowledged_by
        ) VALUES (
            :id, :monitor_id, :org_id, :started_at, :resolved_at, :severity,
            :downtime_minutes, :affected_checks, :acknowledged_at, :acknowledged_by
        )`

	_, err := r.db.NamedExec(query, i)
	return err
}

func (r *Repository) GetActiveIncident(monitorID string) (*Incident, error) {
	var i Incident
	query := `SELECT * FROM incidents WHERE monitor_id = $1 AND resolved_at IS NULL`
	err := r.db.Get(&i, query, monitorID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *Repository) UpdateIncident(i *Incident) error {
	query := `
        UPDATE incidents SET
            resolved_at = :resolved_at, severity = :severity,
            downtime_minutes = :downtime_minutes,
            affected_checks = :affected_checks,
            acknowledged_at = :acknowledged_at,
            acknowledged_by = :acknowledged_by
        WHERE id = :id`

	_, err := r.db.NamedExec(query, i)
	return err
}

func (r *Repository) GetIncident(id, orgID string) (*Incident, error) {
	var i Incident
	query := `SELECT * FROM incidents WHERE id = $1 AND org_id = $2`
	err := r.db.Get(&i, query, id, orgID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *Repository) GetIncidents(orgID string, limit int) ([]*Incident, error) {
	var incidents []*Incident
	query := `
        SELECT * FROM incidents WHERE org_id = $1
        ORDER BY started_at DESC LIMIT $2`
	err := r.db.Select(&incidents, query, orgID, limit)
	return incidents, err
}

func (r *Repository) LinkResultToIncident(resultID, incidentID string) error {
	_, err := r.db.Exec(`UPDATE check_results SET incident_id = $1 WHERE id = $2`, incidentID, resultID)
	return err
}

func (r *Repository) CreateIncidentEvent(e *IncidentEvent) error {
	query := `
        INSERT INTO incident_events (
            id, incident_id, event_type, event_time, description, metadata, created_by
        ) VALUES (
            :id, :incident_id, :event_type, :event_time, :description, :metadata, :created_by
        )`

	_, err := r.db.NamedExec(query, e)
	return err
}

func (r *Repository) GetIncidentEvents(incidentID string) ([]*IncidentEvent, error) {
	var events []*IncidentEvent
	query := `SELECT * FROM incident_events WHERE incident_id = $1 ORDER BY event_time ASC`
	err := r.db.Select(&events, query, incidentID)
	return events, err
}
