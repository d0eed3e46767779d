package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsAllTasksDespiteFailures(t *testing.T) {
	d := NewDispatcher("test", DispatcherConfig{Workers: 3})
	var ran int32
	tasks := make([]Task, 0, 5)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		fail := i == 2
		tasks = append(tasks, Task{ID: id, Run: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			if fail {
				return errors.New("boom")
			}
			return nil
		}})
	}

	results := d.Run(context.Background(), tasks)
	require.Len(t, results, 5)
	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
	for i, res := range results {
		assert.Equal(t, tasks[i].ID, res.ID)
		assert.True(t, res.Started)
		if i == 2 {
			assert.Error(t, res.Err)
		} else {
			assert.NoError(t, res.Err)
		}
	}
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	d := NewDispatcher("bounded", DispatcherConfig{Workers: 2})
	var current, peak int32
	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{ID: "t", Run: func(ctx context.Context) error {
			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return nil
		}}
	}

	d.Run(context.Background(), tasks)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestDispatcherSkipsTasksAfterCancellation(t *testing.T) {
	d := NewDispatcher("cancelled", DispatcherConfig{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	results := d.Run(ctx, []Task{{ID: "x", Run: func(context.Context) error {
		called = true
		return nil
	}}})
	require.Len(t, results, 1)
	assert.False(t, called)
	assert.False(t, results[0].Started)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := NewDispatcher("panics", DispatcherConfig{})
	results := d.Run(context.Background(), []Task{{ID: "p", Run: func(context.Context) error {
		panic("bad")
	}}})
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestDispatcherEmptyBatch(t *testing.T) {
	d := NewDispatcher("empty", DispatcherConfig{Workers: 4})
	assert.Empty(t, d.Run(context.Background(), nil))
	assert.Equal(t, 4, d.Workers())
}
