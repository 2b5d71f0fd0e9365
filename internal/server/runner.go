package server

import (
	"context"
	"sync"

	"citescope/internal/logger"
)

// Runner executes pipeline runs detached from the request that started them.
type Runner struct {
	log    logger.Logger
	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]bool
}

func NewRunner(log logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{log: log, active: map[string]bool{}}
}

// Go starts fn for jobID unless a run for that job is already in flight.
// It reports whether fn was started.
func (r *Runner) Go(jobID string, fn func(ctx context.Context) error) bool {
	r.mu.Lock()
	if r.active[jobID] {
		r.mu.Unlock()
		return false
	}
	r.active[jobID] = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.active, jobID)
			r.mu.Unlock()
		}()
		if err := fn(context.Background()); err != nil {
			r.log.Warn("background run ended with error", logger.String("job_id", jobID), logger.Error(err))
		}
	}()
	return true
}

// Running reports whether a background run for jobID is in flight.
func (r *Runner) Running(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[jobID]
}

// Wait blocks until every run finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
