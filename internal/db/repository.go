package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var ErrNotFound = errors.New("not found")

type Repository struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Monitor operations

func (r *Repository) CreateMonitor(m *Monitor) error {
	query := `
        INSERT INTO monitors (
            id, org_id, name, type, target, interval_seconds, timeout_ms,
            regions, config, degraded_threshold_ms, degraded_after_count,
            down_after_count, count_degraded_as_down, region_strategy,
            depends_on, status, paused, next_check_at, in_flight,
            created_at, updated_at, created_by
        ) VALUES (
            :id, :org_id, :name, :type, :target, :interval_seconds, :timeout_ms,
            :regions, :config, :degraded_threshold_ms, :degraded_after_count,
            :down_after_count, :count_degraded_as_down, :region_strategy,
            :depends_on, :status, :paused, :next_check_at, :in_flight,
            :created_at, :updated_at, :created_by
        )`

	_, err := r.db.NamedExec(query, m)
	return err
}

func (r *Repository) GetMonitor(id, orgID string) (*Monitor, error) {
	var m Monitor
	query := `SELECT * FROM monitors WHERE id = $1 AND org_id = $2`
	err := r.db.Get(&m, query, id, orgID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *Repository) GetMonitorsByOrg(orgID string) ([]*Monitor, error) {
	var monitors []*Monitor
	query := `SELECT * FROM monitors WHERE org_id = $1 ORDER BY created_at DESC`
	err := r.db.Select(&monitors, query, orgID)
	return monitors, err
}

func (r *Repository) GetMonitorByID(id string) (*Monitor, error) {
	var m Monitor
	err := r.db.Get(&m, `SELECT * FROM monitors WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *Repository) GetMonitorByPushToken(token string) (*Monitor, error) {
	var m Monitor
	query := `SELECT * FROM monitors WHERE config->>'push_token' = $1`
	err := r.db.Get(&m, query, token)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *Repository) UpdateMonitor(m *Monitor) error {
	query := `
        UPDATE monitors SET
            name = :name, type = :type, target = :target,
            interval_seconds = :interval_seconds, timeout_ms = :timeout_ms,
            regions = :regions, config = :config,
            degraded_threshold_ms = :degraded_threshold_ms,
            degraded_after_count = :degraded_after_count,
            down_after_count = :down_after_count,
            count_degraded_as_down = :count_degraded_as_down,
            region_strategy = :region_strategy, depends_on = :depends_on,
            paused = :paused, updated_at = :updated_at
        WHERE id = :id AND org_id = :org_id`

	_, err := r.db.NamedExec(query, m)
	return err
}

func (r *Repository) DeleteMonitor(id, orgID string) error {
	_, err := r.db.Exec(`DELETE FROM monitors WHERE id = $1 AND org_id = $2`, id, orgID)
	return err
}

// Check scheduling

// ClaimDueMonitors atomically marks due monitors in-flight and returns
// them. Several scheduler instances may race on the same due set; the
// UPDATE's WHERE clause guarantees each monitor is claimed by exactly one
// of them.
func (r *Repository) ClaimDueMonitors(now time.Time, limit int) ([]*Monitor, error) {
	monitors := []*Monitor{}
	query := `
        UPDATE monitors SET in_flight = true
        WHERE id IN (
            SELECT id FROM monitors
            WHERE next_check_at <= $1
              AND paused = false
              AND in_flight = false
              AND type NOT IN ('heartbeat', 'prometheus_remote_write')
            ORDER BY next_check_at
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING *`

	err := r.db.Select(&monitors, query, now, limit)
	return monitors, err
}

// ClaimMonitor claims a single monitor for a manual check. It succeeds
// only when no execution is already in flight.
func (r *Repository) ClaimMonitor(id string) (bool, error) {
	res, err := r.db.Exec(`
        UPDATE monitors SET in_flight = true
        WHERE id = $1 AND paused = false AND in_flight = false`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CompleteMonitor reschedules after a finished execution and clears the
// in-flight marker.
func (r *Repository) CompleteMonitor(id string, nextCheckAt time.Time) error {
	_, err := r.db.Exec(`
        UPDATE monitors SET in_flight = false, next_check_at = $2
        WHERE id = $1`, id, nextCheckAt)
	return err
}

func (r *Repository) SetMonitorStatus(id string, status MonitorStatus) error {
	_, err := r.db.Exec(`
        UPDATE monitors SET status = $2, updated_at = NOW()
        WHERE id = $1`, id, status)
	return err
}

// Check results

func (r *Repository) SaveCheckResult(result *CheckResult) error {
	query := `
        INSERT INTO check_results (
            id, monitor_id, org_id, job_id, region, status,
            response_time_ms, status_code, dns_ms, tcp_ms, tls_ms, ttfb_ms,
            transfer_ms, error_code, error_message, payload, incident_id,
            created_at
        ) VALUES (
            :id, :monitor_id, :org_id, :job_id, :region, :status,
            :response_time_ms, :status_code, :dns_ms, :tcp_ms, :tls_ms, :ttfb_ms,
            :transfer_ms, :error_code, :error_message, :payload, :incident_id,
            :created_at
        )`

	_, err := r.db.NamedExec(query, result)
	return err
}

// ResultExistsForJob reports whether a probe-submitted result for this
// lease was already recorded. Duplicate submissions count once.
func (r *Repository) ResultExistsForJob(jobID string) (bool, error) {
	var count int
	err := r.db.Get(&count, `SELECT COUNT(*) FROM check_results WHERE job_id = $1`, jobID)
	return count > 0, err
}

func (r *Repository) GetCheckHistory(monitorID, orgID string, limit int) ([]*CheckResult, error) {
	results := []*CheckResult{}
	query := `
        SELECT r.* FROM check_results r
        JOIN monitors m ON r.monitor_id = m.id
        WHERE r.monitor_id = $1 AND m.org_id = $2
        ORDER BY r.created_at DESC
        LIMIT $3`

	err := r.db.Select(&results, query, monitorID, orgID, limit)
	return results, err
}

// CountFailuresSince counts non-success results for a monitor in a time
// window, for the failures-in-window alert condition.
func (r *Repository) CountFailuresSince(monitorID string, since time.Time) (int, error) {
	var count int
	query := `
        SELECT COUNT(*) FROM check_results
        WHERE monitor_id = $1 AND created_at >= $2
          AND status IN ('failure', 'timeout', 'error')`

	err := r.db.Get(&count, query, monitorID, since)
	return count, err
}

// Runtime counters

func (r *Repository) GetRuntime(monitorID string) (*MonitorRuntime, error) {
	var rt MonitorRuntime
	err := r.db.Get(&rt, `SELECT * FROM monitor_runtime WHERE monitor_id = $1`, monitorID)
	if err == sql.ErrNoRows {
		return &MonitorRuntime{
			MonitorID:    monitorID,
			RegionStatus: RegionMap{},
		}, nil
	}
	return &rt, err
}

func (r *Repository) SaveRuntime(rt *MonitorRuntime) error {
	query := `
        INSERT INTO monitor_runtime (
            monitor_id, consecutive_failures, consecutive_successes,
            consecutive_degraded, region_status, last_result_at, updated_at
        ) VALUES (
            :monitor_id, :consecutive_failures, :consecutive_successes,
            :consecutive_degraded, :region_status, :last_result_at, :updated_at
        ) ON CONFLICT (monitor_id) DO UPDATE SET
            consecutive_failures = EXCLUDED.consecutive_failures,
            consecutive_successes = EXCLUDED.consecutive_successes,
            consecutive_degraded = EXCLUDED.consecutive_degraded,
            region_status = EXCLUDED.region_status,
            last_result_at = EXCLUDED.last_result_at,
            updated_at = EXCLUDED.updated_at`

	_, err := r.db.NamedExec(query, rt)
	return err
}
