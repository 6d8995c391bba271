// Package scheduler runs the background refresh loops. Each task runs in its
// own goroutine on a fixed cadence: the next run starts interval-minus-runtime
// after the previous one finished, floored at zero, so a slow run never makes
// the loop drift further than one interval. A failed run is retried after a
// short backoff instead of waiting out the full interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Johnsingh007-ui/transitpulse/internal/logging"
)

const defaultBackoff = 5 * time.Second

// Task is one recurring job.
type Task struct {
	Name string
	// Interval is the cadence between run starts.
	Interval time.Duration
	// Backoff is the retry delay after a failed run. Defaults to 5s.
	Backoff time.Duration
	// Timeout bounds each run's context. Zero means no timeout.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler owns the task goroutines and shuts them down together. Tasks are
// isolated: one task's failures or slowness never affects another's cadence.
type Scheduler struct {
	logger       *slog.Logger
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:       logger,
		shutdownChan: make(chan struct{}),
	}
}

// Add starts a task's loop. The first run happens immediately.
func (s *Scheduler) Add(task Task) {
	if task.Backoff <= 0 {
		task.Backoff = defaultBackoff
	}

	s.wg.Add(1)
	go s.runLoop(task)
}

func (s *Scheduler) runLoop(task Task) {
	defer s.wg.Done()

	for {
		start := time.Now()
		err := s.runOnce(task)
		elapsed := time.Since(start)

		if err != nil {
			logging.LogError(s.logger, "task failed", err,
				slog.String("task", task.Name),
				slog.Duration("retry_in", task.Backoff))
		} else {
			logging.LogOperation(s.logger, "task completed", elapsed,
				slog.String("task", task.Name))
		}

		timer := time.NewTimer(nextDelay(task.Interval, elapsed, task.Backoff, err != nil))
		select {
		case <-timer.C:
		case <-s.shutdownChan:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) runOnce(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			// a panicked run is a failed run; runLoop logs it and backs off
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	ctx := context.Background()
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}
	return task.Run(ctx)
}

// nextDelay picks the sleep before the next run: the backoff after a failure,
// otherwise the interval minus the time the run consumed, floored at zero.
func nextDelay(interval, elapsed, backoff time.Duration, failed bool) time.Duration {
	if failed {
		return backoff
	}
	delay := interval - elapsed
	if delay < 0 {
		return 0
	}
	return delay
}

// Shutdown stops all task loops and waits for in-flight runs to finish.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)
		s.wg.Wait()
	})
}
