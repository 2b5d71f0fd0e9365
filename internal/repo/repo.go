package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"citescope/internal/domain"
	"citescope/internal/store"
)

// Repo is the SQLite durable store for job snapshots and the event log.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = store.ErrNotFound

func (r Repo) now() string {
	if r.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return r.Now().UTC().Format(time.RFC3339)
}

// SaveJob upserts the snapshot. Older revisions never overwrite newer ones.
func (r Repo) SaveJob(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO jobs(id,domain,topic,status,stage,revision,created_at,updated_at,completed_at,snapshot_json)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  status=excluded.status,
  stage=excluded.stage,
  revision=excluded.revision,
  updated_at=excluded.updated_at,
  completed_at=excluded.completed_at,
  snapshot_json=excluded.snapshot_json
WHERE excluded.revision >= jobs.revision`,
		job.ID, job.Domain, job.Topic, job.Status, int(job.Stage), job.Revision, job.CreatedAt, r.now(), nullableStringPtr(job.CompletedAt), string(data))
	return err
}

func (r Repo) LoadJob(ctx context.Context, id string) (domain.Job, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT snapshot_json FROM jobs WHERE id=?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, ErrNotFound
	}
	if err != nil {
		return domain.Job{}, err
	}
	return decodeJob(raw)
}

// ListJobs returns jobs newest first.
func (r Repo) ListJobs(ctx context.Context, f store.Filter) ([]domain.Job, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Domain != "" {
		clauses = append(clauses, "domain=?")
		args = append(args, f.Domain)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT snapshot_json FROM jobs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		job, err := decodeJob(raw)
		if err != nil {
			return nil, err
		}
		res = append(res, job)
	}
	return res, rows.Err()
}

func decodeJob(raw string) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return domain.Job{}, fmt.Errorf("decode job snapshot: %w", err)
	}
	return job, nil
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
