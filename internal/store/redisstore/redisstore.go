// Package redisstore is a Durable job store backed by Redis hashes.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"citescope/internal/domain"
	"citescope/internal/store"
)

// saveScript writes the snapshot unless a newer revision is already stored.
var saveScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'revision')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'revision', ARGV[1], 'snapshot', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return 1
`)

type Store struct {
	client *redis.Client
	prefix string
}

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func New(cfg Config) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg.KeyPrefix)
}

func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "citescope"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) jobKey(id string) string { return fmt.Sprintf("%s:job:%s", s.prefix, id) }
func (s *Store) indexKey() string        { return s.prefix + ":jobs" }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) SaveJob(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	var score float64
	if t, err := time.Parse(time.RFC3339, job.CreatedAt); err == nil {
		score = float64(t.Unix())
	}
	keys := []string{s.jobKey(job.ID), s.indexKey()}
	return saveScript.Run(ctx, s.client, keys, job.Revision, string(data), score, job.ID).Err()
}

func (s *Store) LoadJob(ctx context.Context, id string) (domain.Job, error) {
	raw, err := s.client.HGet(ctx, s.jobKey(id), "snapshot").Result()
	if errors.Is(err, redis.Nil) {
		return domain.Job{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Job{}, err
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return domain.Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs walks the creation index newest first and filters client side.
func (s *Store) ListJobs(ctx context.Context, f store.Filter) ([]domain.Job, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, s.jobKey(id), "snapshot")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	var out []domain.Job
	for i, cmd := range cmds {
		raw, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var job domain.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", ids[i], err)
		}
		if !f.Matches(job) {
			continue
		}
		out = append(out, job)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
