// Package status owns monitor lifecycle state. Every classified check
// result funnels through the engine here, which is the only writer of
// Monitor.Status.
package status

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/classify"
	"github.com/pulsegrid/pulsegrid/internal/db"
)

// Store is the slice of the repository the engine needs.
type Store interface {
	ResultExistsForJob(jobID string) (bool, error)
	SaveCheckResult(result *db.CheckResult) error
	GetRuntime(monitorID string) (*db.MonitorRuntime, error)
	SaveRuntime(rt *db.MonitorRuntime) error
	SetMonitorStatus(id string, status db.MonitorStatus) error
}

// StateChange is emitted on every monitor status transition.
type StateChange struct {
	Monitor *db.Monitor
	Result  *db.CheckResult
	From    db.MonitorStatus
	To      db.MonitorStatus
	At      time.Time
}

// Sink consumes state transitions: alert evaluation, incident tracking,
// realtime broadcast.
type Sink interface {
	OnStateChange(ctx context.Context, change *StateChange)
}

type Engine struct {
	store  Store
	sinks  []Sink
	logger *zap.Logger
}

func NewEngine(store Store, logger *zap.Logger, sinks ...Sink) *Engine {
	return &Engine{
		store:  store,
		sinks:  sinks,
		logger: logger,
	}
}

// Ingest persists a classified result, advances the monitor's rolling
// counters and applies any lifecycle transition. Results carrying a job id
// are idempotent: a duplicate submission for the same lease is dropped
// without touching counters.
func (e *Engine) Ingest(ctx context.Context, monitor *db.Monitor, result *db.CheckResult) error {
	if result.JobID != nil {
		exists, err := e.store.ResultExistsForJob(*result.JobID)
		if err != nil {
			return fmt.Errorf("failed to check job idempotency: %w", err)
		}
		if exists {
			e.logger.Debug("Duplicate job result dropped",
				zap.String("monitor_id", monitor.ID),
				zap.String("job_id", *result.JobID),
			)
			return nil
		}
	}

	if err := e.store.SaveCheckResult(result); err != nil {
		return fmt.Errorf("failed to save check result: %w", err)
	}

	rt, err := e.store.GetRuntime(monitor.ID)
	if err != nil {
		return fmt.Errorf("failed to load runtime: %w", err)
	}

	if rt.RegionStatus == nil {
		rt.RegionStatus = db.RegionMap{}
	}
	rt.RegionStatus[result.Region] = result.Status
	aggregate := Aggregate(monitor.RegionStrategy, rt.RegionStatus)

	switch {
	case aggregate == db.StatusSuccess:
		rt.ConsecutiveSuccesses++
		rt.ConsecutiveFailures = 0
		rt.ConsecutiveDegraded = 0
	case aggregate == db.StatusDegraded:
		rt.ConsecutiveSuccesses = 0
		rt.ConsecutiveDegraded++
		if monitor.CountDegradedAsDown {
			rt.ConsecutiveFailures++
		}
	default: // failure, timeout, error
		rt.ConsecutiveSuccesses = 0
		rt.ConsecutiveDegraded = 0
		rt.ConsecutiveFailures++
	}
	rt.LastResultAt = result.CreatedAt
	rt.UpdatedAt = time.Now()

	if err := e.store.SaveRuntime(rt); err != nil {
		return fmt.Errorf("failed to save runtime: %w", err)
	}

	next := e.nextStatus(monitor, rt, aggregate)
	if next == monitor.Status {
		return nil
	}

	if err := e.store.SetMonitorStatus(monitor.ID, next); err != nil {
		return fmt.Errorf("failed to set monitor status: %w", err)
	}

	change := &StateChange{
		Monitor: monitor,
		Result:  result,
		From:    monitor.Status,
		To:      next,
		At:      result.CreatedAt,
	}
	monitor.Status = next

	e.logger.Info("Monitor status transition",
		zap.String("monitor_id", monitor.ID),
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
		zap.Int("consecutive_failures", rt.ConsecutiveFailures),
	)

	for _, sink := range e.sinks {
		sink.OnStateChange(ctx, change)
	}
	return nil
}

// nextStatus decides the lifecycle state from the counters. Thresholds of
// zero fall back to 1 so a monitor without explicit counts still
// transitions.
func (e *Engine) nextStatus(m *db.Monitor, rt *db.MonitorRuntime, aggregate db.CheckStatus) db.MonitorStatus {
	downAfter := m.DownAfterCount
	if downAfter < 1 {
		downAfter = 1
	}
	degradedAfter := m.DegradedAfterCount
	if degradedAfter < 1 {
		degradedAfter = 1
	}

	switch {
	case rt.ConsecutiveFailures >= downAfter:
		return db.MonitorDown
	case rt.ConsecutiveDegraded >= degradedAfter:
		return db.MonitorDegraded
	case aggregate == db.StatusSuccess:
		return db.MonitorActive
	default:
		// Below threshold; hold the current state, except a pending
		// monitor stays pending until its first success.
		return m.Status
	}
}

// Aggregate folds the latest per-region statuses into one effective status
// per the monitor's strategy: any (one bad region is enough), all (every
// region must be bad), quorum (a strict majority).
func Aggregate(strategy db.RegionStrategy, regions db.RegionMap) db.CheckStatus {
	if len(regions) == 0 {
		return db.StatusError
	}

	var failing, degraded int
	for _, s := range regions {
		if classify.IsFailure(s, false) {
			failing++
		} else if s == db.StatusDegraded {
			degraded++
		}
	}
	total := len(regions)

	switch strategy {
	case db.StrategyAll:
		if failing == total {
			return db.StatusFailure
		}
		if failing+degraded == total {
			return db.StatusDegraded
		}
	case db.StrategyQuorum:
		if failing*2 > total {
			return db.StatusFailure
		}
		if (failing+degraded)*2 > total {
			return db.StatusDegraded
		}
	default: // any
		if failing > 0 {
			return db.StatusFailure
		}
		if degraded > 0 {
			return db.StatusDegraded
		}
	}
	return db.StatusSuccess
}
