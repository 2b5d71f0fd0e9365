package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"citescope/internal/domain"
	"citescope/internal/logger"
	"citescope/internal/telemetry"
)

type Options struct {
	CacheSize    int
	Retries      int
	Backoff      time.Duration
	FlushEvery   time.Duration
	WriteTimeout time.Duration
	Logger       logger.Logger
	Telemetry    *telemetry.Provider
}

func (o Options) withDefaults() Options {
	if o.CacheSize <= 0 {
		o.CacheSize = 512
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	return o
}

// WriteBehind answers reads from memory and persists snapshots to a Durable
// from a single background writer. A Put is visible to Get immediately.
type WriteBehind struct {
	durable Durable
	opts    Options
	cache   *lru.Cache[string, domain.Job]

	mu       sync.Mutex
	updateMu sync.Mutex
	pending  map[string]domain.Job
	closed   bool

	wake  chan struct{}
	flush chan chan error
	stop  chan struct{}
	done  chan struct{}
}

var ErrClosed = errors.New("store closed")

func NewWriteBehind(durable Durable, opts Options) (*WriteBehind, error) {
	opts = opts.withDefaults()
	cache, err := lru.New[string, domain.Job](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	w := &WriteBehind{
		durable: durable,
		opts:    opts,
		cache:   cache,
		pending: map[string]domain.Job{},
		wake:    make(chan struct{}, 1),
		flush:   make(chan chan error),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Create stores a new job. It fails with ErrExists if the id is already known.
func (w *WriteBehind) Create(ctx context.Context, job domain.Job) error {
	w.updateMu.Lock()
	defer w.updateMu.Unlock()
	if _, err := w.Get(ctx, job.ID); err == nil {
		return ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return w.Put(ctx, job)
}

// Update serializes read-modify-write cycles so two merges never start from
// the same snapshot.
func (w *WriteBehind) Update(ctx context.Context, id string, fn func(*domain.Job) error) (domain.Job, error) {
	w.updateMu.Lock()
	defer w.updateMu.Unlock()
	job, err := w.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if err := fn(&job); err != nil {
		return domain.Job{}, err
	}
	if err := w.Put(ctx, job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// Put records job in memory and schedules a durable write. A snapshot older
// than the one already held is dropped.
func (w *WriteBehind) Put(ctx context.Context, job domain.Job) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if cur, ok := w.latestLocked(job.ID); ok && cur.Revision > job.Revision {
		w.mu.Unlock()
		return nil
	}
	w.cache.Add(job.ID, job)
	w.pending[job.ID] = job
	n := len(w.pending)
	w.mu.Unlock()

	w.opts.Telemetry.StoreWrite("queued", n)
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

func (w *WriteBehind) latestLocked(id string) (domain.Job, bool) {
	if j, ok := w.pending[id]; ok {
		return j, true
	}
	return w.cache.Peek(id)
}

// Get reads the cache, then pending writes, then the durable store. Durable
// hits are promoted into the cache.
func (w *WriteBehind) Get(ctx context.Context, id string) (domain.Job, error) {
	w.mu.Lock()
	if j, ok := w.cache.Get(id); ok {
		w.mu.Unlock()
		w.opts.Telemetry.StoreRead("cache")
		return j, nil
	}
	if j, ok := w.pending[id]; ok {
		w.cache.Add(id, j)
		w.mu.Unlock()
		w.opts.Telemetry.StoreRead("pending")
		return j, nil
	}
	w.mu.Unlock()

	j, err := w.durable.LoadJob(ctx, id)
	if errors.Is(err, ErrNotFound) {
		w.opts.Telemetry.StoreRead("miss")
		return domain.Job{}, ErrNotFound
	}
	if err != nil {
		return domain.Job{}, err
	}
	w.mu.Lock()
	if cur, ok := w.latestLocked(id); ok && cur.Revision >= j.Revision {
		j = cur
	} else {
		w.cache.Add(id, j)
	}
	w.mu.Unlock()
	w.opts.Telemetry.StoreRead("durable")
	return j, nil
}

// List merges durable rows with snapshots not yet written, newest first.
func (w *WriteBehind) List(ctx context.Context, f Filter) ([]domain.Job, error) {
	// each pending snapshot can evict at most one durable row from the page
	query := f
	if query.Limit > 0 {
		query.Limit += w.Pending()
	}
	rows, err := w.durable.ListJobs(ctx, query)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Job, len(rows))
	for _, j := range rows {
		byID[j.ID] = j
	}
	w.mu.Lock()
	for id, j := range w.pending {
		if cur, ok := byID[id]; ok && cur.Revision > j.Revision {
			continue
		}
		if f.Matches(j) {
			byID[id] = j
		} else {
			delete(byID, id)
		}
	}
	w.mu.Unlock()

	out := make([]domain.Job, 0, len(byID))
	for _, j := range byID {
		out = append(out, j)
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

// Pending returns the number of snapshots not yet durable.
func (w *WriteBehind) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush blocks until every pending snapshot has been written or ctx ends.
func (w *WriteBehind) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case w.flush <- reply:
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the writer after a final drain.
func (w *WriteBehind) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	close(w.stop)
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if n := w.Pending(); n > 0 {
		return errors.New("store closed with unwritten jobs")
	}
	return nil
}

func (w *WriteBehind) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.opts.FlushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			w.drain()
			return
		case reply := <-w.flush:
			reply <- w.drain()
		case <-w.wake:
			w.drain()
		case <-ticker.C:
			if w.Pending() > 0 {
				w.drain()
			}
		}
	}
}

func (w *WriteBehind) drain() error {
	w.mu.Lock()
	batch := make([]domain.Job, 0, len(w.pending))
	for _, j := range w.pending {
		batch = append(batch, j)
	}
	w.mu.Unlock()

	var failed error
	for _, j := range batch {
		if err := w.write(j); err != nil {
			failed = err
			continue
		}
		w.mu.Lock()
		if cur, ok := w.pending[j.ID]; ok && cur.Revision == j.Revision {
			delete(w.pending, j.ID)
		}
		n := len(w.pending)
		w.mu.Unlock()
		w.opts.Telemetry.StoreWrite("ok", n)
	}
	return failed
}

func (w *WriteBehind) write(job domain.Job) error {
	var err error
	for attempt := 0; attempt <= w.opts.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(w.opts.Backoff * time.Duration(attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), w.opts.WriteTimeout)
		err = w.durable.SaveJob(ctx, job)
		cancel()
		if err == nil {
			return nil
		}
		w.opts.Logger.Warn("durable job write failed",
			logger.String("job_id", job.ID),
			logger.Int64("revision", job.Revision),
			logger.Int("attempt", attempt+1),
			logger.Error(err))
	}
	w.opts.Telemetry.StoreWrite("error", w.Pending())
	w.opts.Logger.Error("giving up on durable job write until next flush",
		logger.String("job_id", job.ID), logger.Error(err))
	return err
}
