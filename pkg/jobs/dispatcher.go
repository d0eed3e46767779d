package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Task is a unit of work fanned out by a Dispatcher.
type Task struct {
	ID  string
	Run func(context.Context) error
}

// Result reports the outcome of one task.
type Result struct {
	ID       string
	Err      error
	Started  bool
	Duration time.Duration
}

// DispatcherConfig configures worker pool behaviour.
type DispatcherConfig struct {
	Workers int
	Logger  *zap.Logger
}

// Dispatcher runs a batch of independent tasks on a bounded set of goroutines.
// A failing task never cancels its siblings; every task is awaited.
type Dispatcher struct {
	name    string
	workers int
	logger  *zap.Logger
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(name string, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Dispatcher{name: name, workers: cfg.Workers, logger: cfg.Logger}
}

// Workers returns the configured concurrency.
func (d *Dispatcher) Workers() int {
	return d.workers
}

// Run executes tasks and returns one Result per task in input order.
// Tasks that have not started when ctx is done are reported with ctx.Err() and never run.
func (d *Dispatcher) Run(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	workers := d.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	p := pool.New().WithMaxGoroutines(workers)
	for idx := range tasks {
		idx := idx
		p.Go(func() {
			results[idx] = d.execute(ctx, tasks[idx])
		})
	}
	p.Wait()

	return results
}

func (d *Dispatcher) execute(ctx context.Context, task Task) (result Result) {
	result.ID = task.ID
	if err := ctx.Err(); err != nil {
		result.Err = fmt.Errorf("dispatcher %s: task %s not started: %w", d.name, task.ID, err)
		return result
	}
	if task.Run == nil {
		result.Err = fmt.Errorf("dispatcher %s: task %s has no body", d.name, task.ID)
		return result
	}

	start := time.Now()
	result.Started = true
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("dispatcher %s: task %s panicked: %v", d.name, task.ID, r)
			d.logger.Sugar().Errorw("task panicked", "dispatcher", d.name, "task_id", task.ID, "panic", r)
		}
		result.Duration = time.Since(start)
	}()

	result.Err = task.Run(ctx)
	if result.Err != nil {
		d.logger.Sugar().Warnw("task failed", "dispatcher", d.name, "task_id", task.ID, "error", result.Err)
	}
	return result
}
