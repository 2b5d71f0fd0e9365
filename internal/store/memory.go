package store

import (
	"context"
	"sort"
	"sync"

	"citescope/internal/domain"
)

// Memory is an in-process Durable, used for the "memory" backend and tests.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
	// Fail, when set, is consulted before every SaveJob.
	Fail func(job domain.Job) error
}

func NewMemory() *Memory {
	return &Memory{jobs: map[string]domain.Job{}}
}

func (m *Memory) SaveJob(ctx context.Context, job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		if err := m.Fail(job); err != nil {
			return err
		}
	}
	if cur, ok := m.jobs[job.ID]; ok && cur.Revision > job.Revision {
		return nil
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) LoadJob(ctx context.Context, id string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, ErrNotFound
	}
	return j, nil
}

func (m *Memory) ListJobs(ctx context.Context, f Filter) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.jobs {
		if f.Matches(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt != out[k].CreatedAt {
			return out[i].CreatedAt > out[k].CreatedAt
		}
		return out[i].ID > out[k].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
