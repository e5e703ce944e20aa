// Package probes manages the fleet of organization-operated regional
// agents. Probes pull work over a lease model instead of receiving pushed
// connections, so they run behind NAT and firewalls.
package probes

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/checker"
	"github.com/pulsegrid/pulsegrid/internal/classify"
	"github.com/pulsegrid/pulsegrid/internal/db"
	"github.com/pulsegrid/pulsegrid/internal/metrics"
)

var (
	ErrUnauthorized = errors.New("invalid probe token")
	ErrForbidden    = errors.New("probe and monitor belong to different organizations")
)

// TokenPrefix distinguishes probe agent tokens from user API keys.
const TokenPrefix = "probe_"

// Store is the slice of the repository the fleet manager needs.
type Store interface {
	CreateProbe(p *db.Probe) error
	GetProbe(id, orgID string) (*db.Probe, error)
	GetProbeByTokenHash(hash string) (*db.Probe, error)
	UpdateProbe(p *db.Probe) error
	DeleteProbe(id, orgID string) error
	MarkStaleProbesOffline(cutoff time.Time) (int64, error)
	CreatePendingJob(j *db.ProbePendingJob) error
	GetPendingJobs(probeID string, now time.Time) ([]*db.ProbePendingJob, error)
	GetPendingJob(jobID string) (*db.ProbePendingJob, error)
	DeleteExpiredJobs(before time.Time) (int64, error)
	GetMonitorByID(id string) (*db.Monitor, error)
}

// Ingestor receives classified probe results; implemented by the status
// engine.
type Ingestor interface {
	Ingest(ctx context.Context, monitor *db.Monitor, result *db.CheckResult) error
}

type Service struct {
	store           Store
	ingestor        Ingestor
	metrics         *metrics.Collector
	logger          *zap.Logger
	leaseWindow     time.Duration
	heartbeatWindow time.Duration
	tokenCache      *gocache.Cache
}

func NewService(store Store, ingestor Ingestor, collector *metrics.Collector, logger *zap.Logger, leaseWindow, heartbeatWindow time.Duration) *Service {
	return &Service{
		store:           store,
		ingestor:        ingestor,
		metrics:         collector,
		logger:          logger,
		leaseWindow:     leaseWindow,
		heartbeatWindow: heartbeatWindow,
		tokenCache:      gocache.New(time.Minute, 5*time.Minute),
	}
}

// Register creates a probe in pending state and returns the one-time
// plaintext token. Only the token's hash is stored; the caller must show
// the token to the user now or never.
func (s *Service) Register(orgID, name, region string) (*db.Probe, string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("failed to generate probe token: %w", err)
	}
	token := TokenPrefix + hex.EncodeToString(raw)

	now := time.Now()
	probe := &db.Probe{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Name:      name,
		Region:    region,
		TokenHash: hashToken(token),
		Status:    db.ProbePending,
		Metrics:   db.JSONB{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateProbe(probe); err != nil {
		return nil, "", fmt.Errorf("failed to create probe: %w", err)
	}

	s.logger.Info("Probe registered",
		zap.String("probe_id", probe.ID),
		zap.String("org_id", orgID),
		zap.String("region", region),
	)
	return probe, token, nil
}

// Authenticate resolves a bearer token to its probe. Unknown tokens are
// unauthorized; nothing is mutated on failure.
func (s *Service) Authenticate(token string) (*db.Probe, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	hash := hashToken(token)
	if cached, ok := s.tokenCache.Get(hash); ok {
		return cached.(*db.Probe), nil
	}

	probe, err := s.store.GetProbeByTokenHash(hash)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to look up probe: %w", err)
	}
	if probe.Status == db.ProbeDisabled {
		return nil, ErrUnauthorized
	}

	s.tokenCache.SetDefault(hash, probe)
	return probe, nil
}

// Heartbeat records liveness and a metrics snapshot. A pending or offline
// probe becomes active on its first heartbeat.
func (s *Service) Heartbeat(token string, snapshot db.JSONB) (*db.Probe, error) {
	probe, err := s.Authenticate(token)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	probe.LastHeartbeatAt = &now
	if snapshot != nil {
		probe.Metrics = snapshot
	}
	if probe.Status == db.ProbePending || probe.Status == db.ProbeOffline {
		probe.Status = db.ProbeActive
		s.logger.Info("Probe came online",
			zap.String("probe_id", probe.ID),
			zap.String("region", probe.Region),
		)
	}
	probe.UpdatedAt = now

	if err := s.store.UpdateProbe(probe); err != nil {
		return nil, fmt.Errorf("failed to update probe: %w", err)
	}
	s.tokenCache.SetDefault(hashToken(token), probe)
	s.metrics.RecordHeartbeat(probe.Region)
	return probe, nil
}

// AssignJob leases one check of a monitor to a probe. Called by the
// scheduler in place of a local enqueue when the monitor's region is
// probe-served.
func (s *Service) AssignJob(monitor *db.Monitor, probe *db.Probe) (*db.ProbePendingJob, error) {
	if monitor.OrgID != probe.OrgID {
		return nil, ErrForbidden
	}

	now := time.Now()
	job := &db.ProbePendingJob{
		ID:        uuid.New().String(),
		ProbeID:   probe.ID,
		MonitorID: monitor.ID,
		JobData: db.JSONB{
			"monitor_id": monitor.ID,
			"type":       string(monitor.Type),
			"target":     monitor.Target,
			"timeout_ms": monitor.TimeoutMs,
			"region":     probe.Region,
			"config":     monitor.Config,
		},
		ExpiresAt: now.Add(s.leaseWindow),
		CreatedAt: now,
	}

	if err := s.store.CreatePendingJob(job); err != nil {
		return nil, fmt.Errorf("failed to create pending job: %w", err)
	}

	s.logger.Debug("Job leased to probe",
		zap.String("job_id", job.ID),
		zap.String("probe_id", probe.ID),
		zap.String("monitor_id", monitor.ID),
		zap.Time("expires_at", job.ExpiresAt),
	)
	return job, nil
}

// FetchJobs returns the authenticated probe's unexpired leases. Expired
// jobs silently stop appearing; delivery is at-least-once, so a probe
// polling twice before submitting sees the same job twice.
func (s *Service) FetchJobs(token string) ([]*db.ProbePendingJob, error) {
	probe, err := s.Authenticate(token)
	if err != nil {
		return nil, err
	}
	return s.store.GetPendingJobs(probe.ID, time.Now())
}

// ResultPayload is what a probe reports back for one lease.
type ResultPayload struct {
	Outcome checker.Outcome `json:"outcome"`
}

// SubmitResult validates lease ownership, classifies the payload and feeds
// it to the status engine tagged with the job's region. Submission is
// idempotent by job id; the engine drops duplicates.
func (s *Service) SubmitResult(ctx context.Context, token, jobID string, payload *ResultPayload) error {
	probe, err := s.Authenticate(token)
	if err != nil {
		return err
	}

	job, err := s.store.GetPendingJob(jobID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.ProbeID != probe.ID {
		return ErrUnauthorized
	}

	monitor, err := s.store.GetMonitorByID(job.MonitorID)
	if err != nil {
		return fmt.Errorf("failed to load monitor: %w", err)
	}

	o := &payload.Outcome
	result := &db.CheckResult{
		ID:             uuid.New().String(),
		MonitorID:      monitor.ID,
		OrgID:          monitor.OrgID,
		JobID:          &job.ID,
		Region:         probe.Region,
		Status:         classify.FromOutcome(o, monitor),
		ResponseTimeMs: o.ResponseTimeMs,
		StatusCode:     o.StatusCode,
		DNSMs:          o.DNSMs,
		TCPMs:          o.TCPMs,
		TLSMs:          o.TLSMs,
		TTFBMs:         o.TTFBMs,
		TransferMs:     o.TransferMs,
		ErrorCode:      o.ErrorCode,
		ErrorMessage:   o.ErrorMessage,
		Payload:        o.Payload,
		CreatedAt:      time.Now(),
	}

	return s.ingestor.Ingest(ctx, monitor, result)
}

// SweepStale marks probes without a recent heartbeat offline and prunes
// long-expired leases. Run periodically by the scheduler process.
func (s *Service) SweepStale() {
	cutoff := time.Now().Add(-s.heartbeatWindow)
	n, err := s.store.MarkStaleProbesOffline(cutoff)
	if err != nil {
		s.logger.Error("Failed to mark stale probes offline", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("Marked stale probes offline", zap.Int64("count", n))
	}

	// Expired leases are invisible to fetches either way; deleting them
	// just keeps the table small.
	if _, err := s.store.DeleteExpiredJobs(time.Now().Add(-24 * time.Hour)); err != nil {
		s.logger.Error("Failed to prune expired jobs", zap.Error(err))
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
