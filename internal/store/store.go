// Package store keeps job snapshots: a read-your-writes cache in front of a
// durable backend that is written asynchronously.
package store

import (
	"context"
	"errors"

	"citescope/internal/domain"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrExists   = errors.New("job already exists")
)

// Filter narrows job listings. Zero values match everything.
type Filter struct {
	Status string
	Domain string
	Limit  int
}

// Matches reports whether job passes the filter, ignoring Limit.
func (f Filter) Matches(job domain.Job) bool {
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if f.Domain != "" && job.Domain != f.Domain {
		return false
	}
	return true
}

// Store is what the job state machine reads and writes.
type Store interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, error)
	// Update applies fn to the current snapshot and stores the result. An
	// error from fn leaves the job untouched.
	Update(ctx context.Context, id string, fn func(*domain.Job) error) (domain.Job, error)
	List(ctx context.Context, f Filter) ([]domain.Job, error)
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Durable is the slow backing store. SaveJob must ignore snapshots whose
// revision is lower than the one already stored.
type Durable interface {
	SaveJob(ctx context.Context, job domain.Job) error
	LoadJob(ctx context.Context, id string) (domain.Job, error)
	ListJobs(ctx context.Context, f Filter) ([]domain.Job, error)
}
