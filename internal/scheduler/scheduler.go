// Package scheduler turns due monitors into check executions: local
// regions go onto protocol queues, probe-served regions become leased
// probe jobs. Claiming is a single atomic compare-and-set so a monitor is
// executed at most once per due time no matter how many scheduler
// replicas run.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/config"
	"github.com/pulsegrid/pulsegrid/internal/db"
	"github.com/pulsegrid/pulsegrid/internal/metrics"
	"github.com/pulsegrid/pulsegrid/internal/queue"
)

// Store is the slice of the repository the scheduler needs.
type Store interface {
	ClaimDueMonitors(now time.Time, limit int) ([]*db.Monitor, error)
	ClaimMonitor(id string) (bool, error)
	CompleteMonitor(id string, nextCheckAt time.Time) error
	GetMonitorByID(id string) (*db.Monitor, error)
	GetProbesForRegion(orgID, region string) ([]*db.Probe, error)
}

// ProbeAssigner creates a leased pending job for a probe.
type ProbeAssigner interface {
	AssignJob(monitor *db.Monitor, probe *db.Probe) (*db.ProbePendingJob, error)
}

type Scheduler struct {
	store   Store
	queues  map[string]queue.Queue
	probes  ProbeAssigner
	metrics *metrics.Collector
	logger  *zap.Logger
	cfg     config.SchedulerConfig
	now     func() time.Time
}

func NewScheduler(store Store, queues map[string]queue.Queue, probes ProbeAssigner, collector *metrics.Collector, logger *zap.Logger, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:   store,
		queues:  queues,
		probes:  probes,
		metrics: collector,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Starting scheduler", zap.Duration("tick_interval", s.cfg.TickInterval))

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping scheduler")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick claims every due monitor and fans it out, one job per region.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	monitors, err := s.store.ClaimDueMonitors(now, s.cfg.ClaimBatchSize)
	if err != nil {
		s.logger.Error("Failed to claim due monitors", zap.Error(err))
		return
	}

	for _, monitor := range monitors {
		s.metrics.RecordClaim(monitor.Type)
		if err := s.dispatch(ctx, monitor); err != nil {
			s.logger.Error("Dispatch failed",
				zap.Error(err),
				zap.String("monitor_id", monitor.ID),
			)
		}
		// The monitor is rescheduled regardless: a failed dispatch gets
		// its retry on the next interval, never a tight loop.
		if err := s.Complete(monitor, now); err != nil {
			s.logger.Error("Failed to complete monitor",
				zap.Error(err),
				zap.String("monitor_id", monitor.ID),
			)
		}
	}
}

// CheckNow schedules an immediate execution, using the same claim as the
// tick so a concurrently due monitor is not executed twice.
func (s *Scheduler) CheckNow(ctx context.Context, monitorID string) error {
	claimed, err := s.store.ClaimMonitor(monitorID)
	if err != nil {
		return fmt.Errorf("failed to claim monitor: %w", err)
	}
	if !claimed {
		return fmt.Errorf("monitor %s is already in flight", monitorID)
	}

	monitor, err := s.store.GetMonitorByID(monitorID)
	if err != nil {
		return fmt.Errorf("failed to load monitor: %w", err)
	}

	dispatchErr := s.dispatch(ctx, monitor)
	if err := s.Complete(monitor, s.now()); err != nil {
		return fmt.Errorf("failed to complete monitor: %w", err)
	}
	return dispatchErr
}

// Complete clears the in-flight claim and recomputes the next due time
// with jitter so monitors created together spread apart over time.
func (s *Scheduler) Complete(monitor *db.Monitor, at time.Time) error {
	interval := time.Duration(monitor.IntervalSeconds) * time.Second
	next := at.Add(interval + s.jitter(interval))
	return s.store.CompleteMonitor(monitor.ID, next)
}

func (s *Scheduler) jitter(interval time.Duration) time.Duration {
	if s.cfg.JitterPercent <= 0 {
		return 0
	}
	max := int64(interval) * int64(s.cfg.JitterPercent) / 100
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(max))
}

func (s *Scheduler) dispatch(ctx context.Context, monitor *db.Monitor) error {
	regions := monitor.Regions
	if len(regions) == 0 {
		regions = db.StringSlice{"default"}
	}

	var firstErr error
	for _, region := range regions {
		if err := s.dispatchRegion(ctx, monitor, region); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// dispatchRegion prefers the probe fleet: a region with an active probe
// for the monitor's org is probe-served, everything else runs on the
// central worker pools.
func (s *Scheduler) dispatchRegion(ctx context.Context, monitor *db.Monitor, region string) error {
	probes, err := s.store.GetProbesForRegion(monitor.OrgID, region)
	if err != nil {
		return fmt.Errorf("failed to list probes for region %s: %w", region, err)
	}
	if len(probes) > 0 {
		if _, err := s.probes.AssignJob(monitor, probes[0]); err != nil {
			return fmt.Errorf("failed to assign probe job: %w", err)
		}
		s.metrics.RecordJobLeased(region)
		return nil
	}

	name, ok := queue.QueueForType(monitor.Type)
	if !ok {
		// Passive types are filtered by the claim query already; hitting
		// this means the type table and the claim query disagree.
		return fmt.Errorf("monitor type %s has no queue", monitor.Type)
	}
	q, ok := s.queues[name]
	if !ok {
		return fmt.Errorf("no queue registered for %s", name)
	}

	job := &queue.Job{
		ID:        uuid.New().String(),
		MonitorID: monitor.ID,
		OrgID:     monitor.OrgID,
		Region:    region,
		CreatedAt: s.now(),
	}
	if err := q.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue on %s: %w", name, err)
	}

	s.logger.Debug("Scheduled check",
		zap.String("monitor_id", monitor.ID),
		zap.String("queue", name),
		zap.String("region", region),
	)
	return nil
}
