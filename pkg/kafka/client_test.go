package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duplike-go/pkg/tasks"
)

type countingProcessor struct {
	err   error
	calls int
}

func (p *countingProcessor) Process(ctx context.Context, task tasks.IngestTask) error {
	p.calls++
	return p.err
}

type memoryCounter struct {
	counts map[string]int64
	err    error
}

func (m *memoryCounter) Incr(ctx context.Context, taskID string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.counts[taskID]++
	return m.counts[taskID], nil
}

func (m *memoryCounter) Reset(ctx context.Context, taskID string) error {
	delete(m.counts, taskID)
	return nil
}

func message(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(tasks.IngestTask{TaskID: "task-1", TenantID: "tenant-a", Row: map[string]interface{}{"Summary": "x"}})
	require.NoError(t, err)
	return b
}

func TestHandleMessage_SuccessCommits(t *testing.T) {
	counter := &memoryCounter{counts: map[string]int64{"task-1": 2}}
	p := &countingProcessor{}
	assert.True(t, handleMessage(context.Background(), message(t), p, counter, 3))
	assert.Equal(t, 1, p.calls)
	assert.NotContains(t, counter.counts, "task-1")
}

func TestHandleMessage_RetriesUntilMaxAttempts(t *testing.T) {
	counter := &memoryCounter{counts: map[string]int64{}}
	p := &countingProcessor{err: errors.New("tenant busy")}
	assert.False(t, handleMessage(context.Background(), message(t), p, counter, 3))
	assert.False(t, handleMessage(context.Background(), message(t), p, counter, 3))
	assert.True(t, handleMessage(context.Background(), message(t), p, counter, 3))
	assert.Equal(t, 3, p.calls)
}

func TestHandleMessage_CounterDownLeavesUncommitted(t *testing.T) {
	counter := &memoryCounter{err: errors.New("redis down")}
	p := &countingProcessor{err: errors.New("boom")}
	assert.False(t, handleMessage(context.Background(), message(t), p, counter, 3))
}

func TestHandleMessage_MalformedIsCommitted(t *testing.T) {
	p := &countingProcessor{}
	assert.True(t, handleMessage(context.Background(), []byte("{not json"), p, &memoryCounter{counts: map[string]int64{}}, 3))
	assert.Equal(t, 0, p.calls)
}

func TestRetryMessage_RetriesInPlaceUntilCommit(t *testing.T) {
	retryBackoff, maxRetryBackoff = time.Millisecond, 2*time.Millisecond
	counter := &memoryCounter{counts: map[string]int64{}}
	p := &countingProcessor{err: errors.New("tenant busy")}

	assert.True(t, retryMessage(context.Background(), message(t), p, counter, 3))
	assert.Equal(t, 3, p.calls)
}

func TestRetryMessage_StopsOnCancel(t *testing.T) {
	retryBackoff, maxRetryBackoff = time.Millisecond, 2*time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	counter := &memoryCounter{err: errors.New("redis down")}
	p := &countingProcessor{err: errors.New("tenant busy")}

	assert.False(t, retryMessage(ctx, message(t), p, counter, 3))
	assert.Equal(t, 1, p.calls)
}
