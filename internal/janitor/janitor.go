package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Task removes expired state and reports how many records it removed.
type Task struct {
	Name string
	// Every overrides the janitor's interval for this task.
	Every time.Duration
	Sweep func(ctx context.Context) (int, error)
}

// Janitor runs each task on its own ticker, so a slow task never delays
// the others. A failing task is logged and retried on its next tick.
type Janitor struct {
	interval time.Duration
	tasks    []Task
}

func New(interval time.Duration, tasks ...Task) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{interval: interval, tasks: tasks}
}

// Run sweeps every task once immediately and then on its interval until
// ctx is done. It returns once every task loop has stopped.
func (j *Janitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, task := range j.tasks {
		interval := task.Every
		if interval <= 0 {
			interval = j.interval
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.loop(ctx, task, interval)
		}()
	}
	wg.Wait()
}

func (j *Janitor) loop(ctx context.Context, task Task, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep(ctx, task)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, task)
		}
	}
}

func sweep(ctx context.Context, task Task) int {
	n, err := task.Sweep(ctx)
	if err != nil {
		log.Err(err).Str("task", task.Name).Msg("janitor sweep failed")
		return 0
	}
	if n > 0 {
		log.Debug().Str("task", task.Name).Int("removed", n).Msg("janitor sweep")
	}
	return n
}

// RunOnce runs every task in order and returns the total removed.
func (j *Janitor) RunOnce(ctx context.Context) int {
	total := 0
	for _, task := range j.tasks {
		if ctx.Err() != nil {
			return total
		}
		total += sweep(ctx, task)
	}
	return total
}

// At adapts a sweep that takes the current time.
func At(name string, now func() time.Time, sweep func(ctx context.Context, now time.Time) (int, error)) Task {
	return Task{Name: name, Sweep: func(ctx context.Context) (int, error) {
		return sweep(ctx, now())
	}}
}
