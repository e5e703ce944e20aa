package db

import (
	"database/sql"
	"time"
)

func (r *Repository) CreateProbe(p *Probe) error {
	query := `
        INSERT INTO probes (
            id, org_id, name, region, token_hash, status,
            last_heartbeat_at, metrics, created_at, updated_at
        ) VALUES (
            :id, :org_id, :name, :region, :token_hash, :status,
            :last_heartbeat_at, :metrics, :created_at, :updated_at
        )`

	_, err := r.db.NamedExec(query, p)
	return err
}

func (r *Repository) GetProbe(id, orgID string) (*Probe, error) {
	var p Probe
	err := r.db.Get(&p, `SELECT * FROM probes WHERE id = $1 AND org_id = $2`, id, orgID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *Repository) GetProbeByTokenHash(hash string) (*Probe, error) {
	var p Probe
	err := r.db.Get(&p, `SELECT * FROM probes WHERE token_hash = $1`, hash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *Repository) GetProbesByOrg(orgID string) ([]*Probe, error) {
	probes := []*Probe{}
	err := r.db.Select(&probes, `SELECT * FROM probes WHERE org_id = $1 ORDER BY created_at`, orgID)
	return probes, err
}

// GetProbesForRegion returns the active probes of an org serving a region.
func (r *Repository) GetProbesForRegion(orgID, region string) ([]*Probe, error) {
	probes := []*Probe{}
	query := `SELECT * FROM probes WHERE org_id = $1 AND region = $2 AND status = 'active'`
	err := r.db.Select(&probes, query, orgID, region)
	return probes, err
}

func (r *Repository) UpdateProbe(p *Probe) error {
	query := `
        UPDATE probes SET
            name = :name, region = :region, status = :status,
            last_heartbeat_at = :last_heartbeat_at, metrics = :metrics,
            updated_at = :updated_at
        WHERE id = :id`

	_, err := r.db.NamedExec(query, p)
	return err
}

func (r *Repository) DeleteProbe(id, orgID string) error {
	_, err := r.db.Exec(`DELETE FROM probes WHERE id = $1 AND org_id = $2`, id, orgID)
	return err
}

// MarkStaleProbesOffline flips active probes whose last heartbeat is older
// than the cutoff.
func (r *Repository) MarkStaleProbesOffline(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`
        UPDATE probes SET status = 'offline', updated_at = NOW()
        WHERE status = 'active'
          AND (last_heartbeat_at IS NULL OR last_heartbeat_at < $1)`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Pending jobs (leases)

func (r *Repository) CreatePendingJob(j *ProbePendingJob) error {
	query := `
        INSERT INTO probe_pending_jobs (
            id, probe_id, monitor_id, job_data, expires_at, created_at
        ) VALUES (
            :id, :probe_id, :monitor_id, :job_data, :expires_at, :created_at
        )`

	_, err := r.db.NamedExec(query, j)
	return err
}

// GetPendingJobs returns the probe's unexpired leases. Expired rows are
// simply not selected; they stay in place until the cleanup sweep.
func (r *Repository) GetPendingJobs(probeID string, now time.Time) ([]*ProbePendingJob, error) {
	jobs := []*ProbePendingJob{}
	query := `
        SELECT * FROM probe_pending_jobs
        WHERE probe_id = $1 AND expires_at > $2
        ORDER BY created_at`

	err := r.db.Select(&jobs, query, probeID, now)
	return jobs, err
}

func (r *Repository) GetPendingJob(jobID string) (*ProbePendingJob, error) {
	var j ProbePendingJob
	err := r.db.Get(&j, `SELECT * FROM probe_pending_jobs WHERE id = $1`, jobID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &j, err
}

func (r *Repository) DeletePendingJob(jobID string) error {
	_, err := r.db.Exec(`DELETE FROM probe_pending_jobs WHERE id = $1`, jobID)
	return err
}

func (r *Repository) DeleteExpiredJobs(before time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM probe_pending_jobs WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
