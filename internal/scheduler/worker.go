package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/checker"
	"github.com/pulsegrid/pulsegrid/internal/classify"
	"github.com/pulsegrid/pulsegrid/internal/db"
	"github.com/pulsegrid/pulsegrid/internal/metrics"
	"github.com/pulsegrid/pulsegrid/internal/queue"
	"github.com/pulsegrid/pulsegrid/internal/status"
)

// Ingestor receives classified results; in production it is the status
// engine.
type Ingestor interface {
	Ingest(ctx context.Context, monitor *db.Monitor, result *db.CheckResult) error
}

var _ Ingestor = (*status.Engine)(nil)

// Reclaimer is implemented by queues that can move expired leases back to
// pending. The worker pool runs it periodically.
type Reclaimer interface {
	Reclaim(ctx context.Context) (int, error)
}

// WorkerStore is the repository slice one worker needs.
type WorkerStore interface {
	GetMonitorByID(id string) (*db.Monitor, error)
}

// Worker drains one protocol queue: lease, execute, classify, ingest,
// ack. Losing a worker mid-job is safe; the lease expires and the job is
// redelivered.
type Worker struct {
	queueName string
	queue     queue.Queue
	store     WorkerStore
	registry  checker.Registry
	ingestor  Ingestor
	metrics   *metrics.Collector
	logger    *zap.Logger
}

func NewWorker(queueName string, q queue.Queue, store WorkerStore, registry checker.Registry, ingestor Ingestor, collector *metrics.Collector, logger *zap.Logger) *Worker {
	return &Worker{
		queueName: queueName,
		queue:     q,
		store:     store,
		registry:  registry,
		ingestor:  ingestor,
		metrics:   collector,
		logger:    logger.With(zap.String("queue", queueName)),
	}
}

func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Lease(ctx, 5*time.Second)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) || errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Error("Lease failed", zap.Error(err))
			continue
		}

		w.process(ctx, job)

		if err := w.queue.Ack(ctx, job.ID); err != nil {
			w.logger.Error("Ack failed", zap.Error(err), zap.String("job_id", job.ID))
		}
	}
}

func (w *Worker) process(ctx context.Context, job *queue.Job) {
	monitor, err := w.store.GetMonitorByID(job.MonitorID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// Deleted between scheduling and execution.
			return
		}
		w.logger.Error("Failed to load monitor", zap.Error(err), zap.String("monitor_id", job.MonitorID))
		return
	}
	if monitor.Paused {
		return
	}

	chk, ok := w.registry.For(monitor.Type)
	if !ok {
		w.logger.Error("No checker for monitor type", zap.String("type", string(monitor.Type)))
		return
	}

	timeout := time.Duration(monitor.TimeoutMs) * time.Millisecond
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	outcome := chk.Check(checkCtx, monitor, job.Region)
	cancel()

	// A checker that overran its deadline is classified as a timeout even
	// if it returned something else.
	if checkCtx.Err() == context.DeadlineExceeded {
		outcome.TimedOut = true
	}

	result := &db.CheckResult{
		ID:             uuid.New().String(),
		MonitorID:      monitor.ID,
		OrgID:          monitor.OrgID,
		JobID:          &job.ID,
		Region:         job.Region,
		Status:         classify.FromOutcome(outcome, monitor),
		ResponseTimeMs: outcome.ResponseTimeMs,
		StatusCode:     outcome.StatusCode,
		DNSMs:          outcome.DNSMs,
		TCPMs:          outcome.TCPMs,
		TLSMs:          outcome.TLSMs,
		TTFBMs:         outcome.TTFBMs,
		TransferMs:     outcome.TransferMs,
		ErrorCode:      outcome.ErrorCode,
		ErrorMessage:   outcome.ErrorMessage,
		Payload:        outcome.Payload,
		CreatedAt:      time.Now(),
	}

	if err := w.ingestor.Ingest(ctx, monitor, result); err != nil {
		w.logger.Error("Ingest failed", zap.Error(err), zap.String("monitor_id", monitor.ID))
		return
	}
	w.metrics.RecordCheck(monitor, result)
}

// Pool runs a fixed number of workers per protocol queue plus one reclaim
// loop per queue that supports it.
type Pool struct {
	workers      []*Worker
	perQueue     int
	reclaimEvery time.Duration
	metrics      *metrics.Collector
	logger       *zap.Logger
	queuesByName map[string]queue.Queue
}

func NewPool(queues map[string]queue.Queue, store WorkerStore, registry checker.Registry, ingestor Ingestor, collector *metrics.Collector, logger *zap.Logger, perQueue int) *Pool {
	p := &Pool{
		perQueue:     perQueue,
		reclaimEvery: 30 * time.Second,
		metrics:      collector,
		logger:       logger,
		queuesByName: queues,
	}
	for name, q := range queues {
		p.workers = append(p.workers, NewWorker(name, q, store, registry, ingestor, collector, logger))
	}
	return p
}

// Run blocks until the context is cancelled and every worker has drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, w := range p.workers {
		for i := 0; i < p.perQueue; i++ {
			wg.Add(1)
			go func(w *Worker) {
				defer wg.Done()
				w.Run(ctx)
			}(w)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.maintain(ctx)
	}()

	wg.Wait()
}

// maintain reclaims expired leases and reports queue depths.
func (p *Pool) maintain(ctx context.Context) {
	ticker := time.NewTicker(p.reclaimEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, q := range p.queuesByName {
				if r, ok := q.(Reclaimer); ok {
					if n, err := r.Reclaim(ctx); err != nil {
						p.logger.Error("Reclaim failed", zap.Error(err), zap.String("queue", name))
					} else if n > 0 {
						p.logger.Info("Reclaimed expired leases", zap.Int("count", n), zap.String("queue", name))
					}
				}
				if depth, err := q.Length(ctx); err == nil {
					p.metrics.SetQueueDepth(name, depth)
				}
			}
		}
	}
}
