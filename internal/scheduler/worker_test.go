package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/checker"
	"github.com/pulsegrid/pulsegrid/internal/db"
	"github.com/pulsegrid/pulsegrid/internal/queue"
)

type stubChecker struct {
	outcome *checker.Outcome
	block   bool
}

func (c *stubChecker) Check(ctx context.Context, _ *db.Monitor, _ string) *checker.Outcome {
	if c.block {
		<-ctx.Done()
		return &checker.Outcome{Completed: false, ErrorCode: "canceled"}
	}
	return c.outcome
}

type memIngestor struct {
	mu      sync.Mutex
	results []*db.CheckResult
}

func (i *memIngestor) Ingest(_ context.Context, _ *db.Monitor, result *db.CheckResult) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.results = append(i.results, result)
	return nil
}

func (i *memIngestor) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.results)
}

func TestWorkerProcessesJobAndIngestsResult(t *testing.T) {
	store := newSchedStore()
	m := addMonitor(store, db.MonitorTypeHTTP, "us-east")
	ingestor := &memIngestor{}
	registry := checker.Registry{
		db.MonitorTypeHTTP: &stubChecker{outcome: &checker.Outcome{
			Completed: true, Matched: true, ResponseTimeMs: 80, StatusCode: 200,
		}},
	}
	w := NewWorker("monitor_http", &memQueue{}, store, registry, ingestor, testCollector, zap.NewNop())

	job := &queue.Job{ID: uuid.New().String(), MonitorID: m.ID, Region: "us-east"}
	w.process(context.Background(), job)

	require.Len(t, ingestor.results, 1)
	result := ingestor.results[0]
	assert.Equal(t, db.StatusSuccess, result.Status)
	assert.Equal(t, "us-east", result.Region)
	require.NotNil(t, result.JobID)
	assert.Equal(t, job.ID, *result.JobID)
}

func TestWorkerClassifiesOverrunAsTimeout(t *testing.T) {
	store := newSchedStore()
	m := addMonitor(store, db.MonitorTypeTCP, "us-east")
	m.TimeoutMs = 10
	ingestor := &memIngestor{}
	registry := checker.Registry{db.MonitorTypeTCP: &stubChecker{block: true}}
	w := NewWorker("monitor_tcp", &memQueue{}, store, registry, ingestor, testCollector, zap.NewNop())

	w.process(context.Background(), &queue.Job{ID: uuid.New().String(), MonitorID: m.ID, Region: "us-east"})

	require.Len(t, ingestor.results, 1)
	assert.Equal(t, db.StatusTimeout, ingestor.results[0].Status)
}

func TestWorkerSkipsPausedAndDeletedMonitors(t *testing.T) {
	store := newSchedStore()
	m := addMonitor(store, db.MonitorTypeHTTP, "us-east")
	m.Paused = true
	ingestor := &memIngestor{}
	registry := checker.Registry{db.MonitorTypeHTTP: &stubChecker{outcome: &checker.Outcome{Completed: true, Matched: true}}}
	w := NewWorker("monitor_http", &memQueue{}, store, registry, ingestor, testCollector, zap.NewNop())

	w.process(context.Background(), &queue.Job{ID: uuid.New().String(), MonitorID: m.ID, Region: "us-east"})
	w.process(context.Background(), &queue.Job{ID: uuid.New().String(), MonitorID: "missing", Region: "us-east"})

	assert.Empty(t, ingestor.results)
}

func TestWorkerDrainsQueueUntilCancelled(t *testing.T) {
	store := newSchedStore()
	m := addMonitor(store, db.MonitorTypeHTTP, "us-east")
	q := &memQueue{}
	for i := 0; i < 3; i++ {
		_ = q.Enqueue(context.Background(), &queue.Job{ID: uuid.New().String(), MonitorID: m.ID, Region: "us-east"})
	}

	ingestor := &memIngestor{}
	registry := checker.Registry{db.MonitorTypeHTTP: &stubChecker{outcome: &checker.Outcome{Completed: true, Matched: true}}}
	w := NewWorker("monitor_http", q, store, registry, ingestor, testCollector, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return ingestor.count() == 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
