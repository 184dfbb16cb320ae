package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalForge/internal/domain/models"
	"SignalForge/pkg/queue"
)

type fakeQueue struct {
	mu   sync.Mutex
	msgs []PipelineMessage
}

func (q *fakeQueue) Enqueue(_ context.Context, msgType string, payload interface{}) error {
	if msgType != PipelineMessageType {
		return errors.New("unexpected message type")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, payload.(PipelineMessage))
	return nil
}

type fakeLocker struct {
	mu    sync.Mutex
	taken map[string]bool
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.taken[key] {
		return false, nil
	}
	l.taken[key] = true
	return true, nil
}

func TestScheduler_TriggerEnqueues(t *testing.T) {
	h := newHarness(t, hammerClose)
	q := &fakeQueue{}
	s := NewScheduler(ScheduleConfig{}, h.pipeline, nil, q, nil, nil)
	s.now = func() time.Time { return hammerClose }

	require.NoError(t, s.Trigger(context.Background(), models.JobIngest))
	require.Len(t, q.msgs, 1)
	assert.Equal(t, models.JobIngest, q.msgs[0].Job)
	assert.Equal(t, hammerClose, q.msgs[0].ScheduledAt)
	assert.Empty(t, h.provider.calls)
}

func TestScheduler_TriggerInProcess(t *testing.T) {
	h := newHarness(t, hammerClose)
	s := NewScheduler(ScheduleConfig{}, h.pipeline, nil, nil, nil, nil)

	require.NoError(t, s.Trigger(context.Background(), models.JobIngest))
	assert.Equal(t, []string{"AAPL"}, h.provider.calls)
	runs, err := h.runs.Recent(context.Background(), models.JobIngest, 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestScheduler_TickLockedOncePerSlot(t *testing.T) {
	h := newHarness(t, hammerClose)
	lock := &fakeLocker{taken: map[string]bool{}}
	a := NewScheduler(ScheduleConfig{}, h.pipeline, nil, nil, lock, nil)
	b := NewScheduler(ScheduleConfig{}, h.pipeline, nil, nil, lock, nil)
	a.now = func() time.Time { return hammerClose }
	b.now = func() time.Time { return hammerClose.Add(10 * time.Second) }

	calls := 0
	fn := func(context.Context) error { calls++; return nil }
	a.tick(context.Background(), "job:ingest", time.Minute, fn)
	b.tick(context.Background(), "job:ingest", time.Minute, fn)
	assert.Equal(t, 1, calls)

	b.now = func() time.Time { return hammerClose.Add(time.Minute) }
	b.tick(context.Background(), "job:ingest", time.Minute, fn)
	assert.Equal(t, 2, calls)
}

func TestPipelineJob_Handle(t *testing.T) {
	h := newHarness(t, hammerClose)
	job := NewPipelineJob(h.pipeline, nil)
	assert.Equal(t, PipelineMessageType, job.Type())

	raw, err := json.Marshal(PipelineMessage{Job: models.JobIngest, Symbols: []string{"MSFT"}})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), raw))
	assert.Equal(t, []string{"MSFT"}, h.provider.calls)

	// unknown jobs are dropped without retry
	require.NoError(t, job.Handle(context.Background(), json.RawMessage(`{"job":"rebalance"}`)))
	assert.Len(t, h.provider.calls, 1)

	err = job.Handle(context.Background(), json.RawMessage(`not json`))
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
}

func TestPipelineJob_MisconfiguredNotRetried(t *testing.T) {
	h := newHarness(t, hammerClose)
	h.pipeline.cfg.BearerToken = ""
	job := NewPipelineJob(h.pipeline, nil)
	assert.NoError(t, job.Handle(context.Background(), json.RawMessage(`{"job":"all"}`)))
	assert.Empty(t, h.provider.calls)
}
