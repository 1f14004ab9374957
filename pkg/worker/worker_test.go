package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/listforge/listforge/pkg/config"
	"github.com/listforge/listforge/pkg/log"
	"github.com/listforge/listforge/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

type fakeQueue struct {
	mu          sync.Mutex
	queue       []*types.Job
	heartbeatOK bool
	failures    map[string][]string
	released    int64
	releaseRuns int
}

func newFakeQueue(jobs ...*types.Job) *fakeQueue {
	return &fakeQueue{queue: jobs, heartbeatOK: true, failures: make(map[string][]string)}
}

func (q *fakeQueue) ClaimNext(_ context.Context) (*types.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return nil, nil
	}
	job := q.queue[0]
	q.queue = q.queue[1:]
	return job, nil
}

func (q *fakeQueue) Heartbeat(_ context.Context, _ string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heartbeatOK, nil
}

func (q *fakeQueue) Fail(_ context.Context, _ primitive.ObjectID, errs []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failures["last"] = errs
	return nil
}

func (q *fakeQueue) ReleaseAll(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.releaseRuns++
	return q.released, nil
}

func (q *fakeQueue) lastFailure() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failures["last"]
}

type fakeProcessor struct {
	mu        sync.Mutex
	processed []*types.Job
	err       error
	blockCtx  bool // return only when the job context ends
	started   chan struct{}
}

func (p *fakeProcessor) ProcessJob(ctx context.Context, job *types.Job) error {
	p.mu.Lock()
	p.processed = append(p.processed, job)
	started := p.started
	p.started = nil
	p.mu.Unlock()

	if started != nil {
		close(started)
	}
	if p.blockCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.err
}

func (p *fakeProcessor) processedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processed)
}

func testConfig() *config.Config {
	return &config.Config{WorkerID: "test-worker", HeartbeatIntervalSecs: 1}
}

func testWorker(q *fakeQueue, p *fakeProcessor) *Worker {
	w := New(testConfig(), q, p)
	w.emptySleep = 10 * time.Millisecond
	w.errorSleep = 10 * time.Millisecond
	return w
}

func testJob(jobID string) *types.Job {
	return &types.Job{ID: primitive.NewObjectID(), JobID: jobID, Username: "alice"}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not reached")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRunProcessesQueuedJobs(t *testing.T) {
	q := newFakeQueue(testJob("j1"), testJob("j2"))
	p := &fakeProcessor{}
	w := testWorker(q, p)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	waitFor(t, func() bool { return p.processedCount() == 2 })
	w.Stop()
	require.NoError(t, <-done)

	assert.Equal(t, "j1", p.processed[0].JobID)
	assert.Equal(t, "j2", p.processed[1].JobID)
	assert.Nil(t, w.CurrentJob())
	assert.Equal(t, 1, q.releaseRuns)
}

func TestRunMarksJobFailedOnProcessorError(t *testing.T) {
	q := newFakeQueue(testJob("j1"))
	p := &fakeProcessor{err: errors.New("terminal write failed")}
	w := testWorker(q, p)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	waitFor(t, func() bool { return q.lastFailure() != nil })
	w.Stop()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"terminal write failed"}, q.lastFailure())
}

func TestRunAbandonsReclaimedJob(t *testing.T) {
	q := newFakeQueue(testJob("j1"))
	q.heartbeatOK = false
	p := &fakeProcessor{blockCtx: true}
	w := testWorker(q, p)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	// Processor blocks until the heartbeat loss cancels the job context
	waitFor(t, func() bool { return p.processedCount() == 1 && w.CurrentJob() == nil })
	w.Stop()
	require.NoError(t, <-done)

	// A reclaimed job must not be overwritten with a failure
	assert.Nil(t, q.lastFailure())
}

func TestCurrentJobVisibleWhileProcessing(t *testing.T) {
	job := testJob("j1")
	q := newFakeQueue(job)
	p := &fakeProcessor{blockCtx: true, started: make(chan struct{})}
	w := testWorker(q, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	<-p.started
	current := w.CurrentJob()
	require.NotNil(t, current)
	assert.Equal(t, "j1", current.JobID)

	cancel()
	require.NoError(t, <-done)
}

func TestStopIsIdempotent(t *testing.T) {
	w := testWorker(newFakeQueue(), &fakeProcessor{})
	w.Stop()
	w.Stop()

	require.NoError(t, w.Run(context.Background()))
}
