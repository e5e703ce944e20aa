package probes

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/checker"
	"github.com/pulsegrid/pulsegrid/internal/db"
	"github.com/pulsegrid/pulsegrid/internal/metrics"
)

// One collector per test binary, promauto registers globally.
var testCollector = metrics.NewCollector()

// ---- fakes ----

type memStore struct {
	probes   map[string]*db.Probe
	jobs     map[string]*db.ProbePendingJob
	monitors map[string]*db.Monitor
}

func newMemStore() *memStore {
	return &memStore{
		probes:   map[string]*db.Probe{},
		jobs:     map[string]*db.ProbePendingJob{},
		monitors: map[string]*db.Monitor{},
	}
}

func (s *memStore) CreateProbe(p *db.Probe) error {
	s.probes[p.ID] = p
	return nil
}

func (s *memStore) GetProbe(id, orgID string) (*db.Probe, error) {
	p, ok := s.probes[id]
	if !ok || p.OrgID != orgID {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (s *memStore) GetProbeByTokenHash(hash string) (*db.Probe, error) {
	for _, p := range s.probes {
		if p.TokenHash == hash {
			return p, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *memStore) UpdateProbe(p *db.Probe) error {
	s.probes[p.ID] = p
	return nil
}

func (s *memStore) DeleteProbe(id, orgID string) error {
	delete(s.probes, id)
	return nil
}

func (s *memStore) MarkStaleProbesOffline(cutoff time.Time) (int64, error) {
	var n int64
	for _, p := range s.probes {
		if p.Status == db.ProbeActive && (p.LastHeartbeatAt == nil || p.LastHeartbeatAt.Before(cutoff)) {
			p.Status = db.ProbeOffline
			n++
		}
	}
	return n, nil
}

func (s *memStore) CreatePendingJob(j *db.ProbePendingJob) error {
	s.jobs[j.ID] = j
	return nil
}

func (s *memStore) GetPendingJobs(probeID string, now time.Time) ([]*db.ProbePendingJob, error) {
	var out []*db.ProbePendingJob
	for _, j := range s.jobs {
		if j.ProbeID == probeID && j.ExpiresAt.After(now) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *memStore) GetPendingJob(jobID string) (*db.ProbePendingJob, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return j, nil
}

func (s *memStore) DeleteExpiredJobs(before time.Time) (int64, error) { return 0, nil }

func (s *memStore) GetMonitorByID(id string) (*db.Monitor, error) {
	m, ok := s.monitors[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return m, nil
}

type memIngestor struct {
	results []*db.CheckResult
	seen    map[string]bool
}

func (i *memIngestor) Ingest(_ context.Context, _ *db.Monitor, r *db.CheckResult) error {
	if i.seen == nil {
		i.seen = map[string]bool{}
	}
	if r.JobID != nil {
		if i.seen[*r.JobID] {
			return nil
		}
		i.seen[*r.JobID] = true
	}
	i.results = append(i.results, r)
	return nil
}

func newService(store *memStore, ing *memIngestor) *Service {
	return NewService(store, ing, testCollector, zap.NewNop(), 5*time.Minute, 2*time.Minute)
}

// ---- tests ----

func TestRegisterReturnsOneTimeToken(t *testing.T) {
	store := newMemStore()
	svc := newService(store, &memIngestor{})

	probe, token, err := svc.Register("org-1", "probe-fra", "eu-central")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Equal(t, db.ProbePending, probe.Status)
	assert.NotEqual(t, token, probe.TokenHash, "plaintext token must not be stored")
	assert.Len(t, probe.TokenHash, 64)
}

func TestHeartbeatTransitionsPendingToActive(t *testing.T) {
	store := newMemStore()
	svc := newService(store, &memIngestor{})

	_, token, err := svc.Register("org-1", "probe-fra", "eu-central")
	require.NoError(t, err)

	probe, err := svc.Heartbeat(token, db.JSONB{"cpu": 0.2})
	require.NoError(t, err)
	assert.Equal(t, db.ProbeActive, probe.Status)
	require.NotNil(t, probe.LastHeartbeatAt)
}

func TestInvalidTokenIsUnauthorizedEverywhere(t *testing.T) {
	store := newMemStore()
	svc := newService(store, &memIngestor{})

	_, err := svc.Heartbeat("probe_bogus", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.FetchJobs("probe_bogus")
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = svc.SubmitResult(context.Background(), "probe_bogus", uuid.New().String(), &ResultPayload{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	// No probe state mutated by the failed attempts.
	for _, p := range store.probes {
		assert.Nil(t, p.LastHeartbeatAt)
	}
}

func TestExpiredJobsNeverAppearInFetch(t *testing.T) {
	store := newMemStore()
	svc := newService(store, &memIngestor{})

	probe, token, err := svc.Register("org-1", "probe-fra", "eu-central")
	require.NoError(t, err)

	monitor := &db.Monitor{ID: uuid.New().String(), OrgID: "org-1", Type: db.MonitorTypeHTTP}
	store.monitors[monitor.ID] = monitor

	job, err := svc.AssignJob(monitor, probe)
	require.NoError(t, err)

	jobs, err := svc.FetchJobs(token)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	// Polling again before submitting: same job again (at-least-once).
	jobs, err = svc.FetchJobs(token)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	// Force the lease past expiry; it vanishes without any error.
	store.jobs[job.ID].ExpiresAt = time.Now().Add(-time.Second)
	jobs, err = svc.FetchJobs(token)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestAssignJobRejectsForeignMonitor(t *testing.T) {
	store := newMemStore()
	svc := newService(store, &memIngestor{})

	probe, _, err := svc.Register("org-1", "probe-fra", "eu-central")
	require.NoError(t, err)

	foreign := &db.Monitor{ID: uuid.New().String(), OrgID: "org-2", Type: db.MonitorTypeHTTP}
	_, err = svc.AssignJob(foreign, probe)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSubmitResultIdempotentByJobID(t *testing.T) {
	store := newMemStore()
	ing := &memIngestor{}
	svc := newService(store, ing)

	probe, token, err := svc.Register("org-1", "probe-fra", "eu-central")
	require.NoError(t, err)

	monitor := &db.Monitor{ID: uuid.New().String(), OrgID: "org-1", Type: db.MonitorTypeHTTP}
	store.monitors[monitor.ID] = monitor

	job, err := svc.AssignJob(monitor, probe)
	require.NoError(t, err)

	payload := &ResultPayload{Outcome: checker.Outcome{Completed: true, Matched: false, StatusCode: 503}}
	require.NoError(t, svc.SubmitResult(context.Background(), token, job.ID, payload))
	require.NoError(t, svc.SubmitResult(context.Background(), token, job.ID, payload))

	require.Len(t, ing.results, 1)
	assert.Equal(t, db.StatusFailure, ing.results[0].Status)
	assert.Equal(t, "eu-central", ing.results[0].Region, "result must carry the job's region")
}

func TestSubmitResultRejectsForeignJob(t *testing.T) {
	store := newMemStore()
	svc := newService(store, &memIngestor{})

	_, token1, err := svc.Register("org-1", "probe-a", "us-east")
	require.NoError(t, err)
	probe2, _, err := svc.Register("org-2", "probe-b", "us-east")
	require.NoError(t, err)

	monitor := &db.Monitor{ID: uuid.New().String(), OrgID: "org-2", Type: db.MonitorTypeHTTP}
	store.monitors[monitor.ID] = monitor
	job, err := svc.AssignJob(monitor, probe2)
	require.NoError(t, err)

	err = svc.SubmitResult(context.Background(), token1, job.ID, &ResultPayload{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSweepStaleMarksOffline(t *testing.T) {
	store := newMemStore()
	svc := newService(store, &memIngestor{})

	_, token, err := svc.Register("org-1", "probe-fra", "eu-central")
	require.NoError(t, err)
	probe, err := svc.Heartbeat(token, nil)
	require.NoError(t, err)

	old := time.Now().Add(-10 * time.Minute)
	probe.LastHeartbeatAt = &old

	svc.SweepStale()
	assert.Equal(t, db.ProbeOffline, store.probes[probe.ID].Status)
}
