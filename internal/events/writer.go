package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"citescope/internal/domain"
)

// Event types recorded for jobs.
const (
	JobCreated        = "job.created"
	JobStageCompleted = "job.stage.completed"
	JobStageDegraded  = "job.stage.degraded"
	JobFailed         = "job.failed"
	JobCompleted      = "job.completed"
)

// Types lists every event type in emission order.
func Types() []string {
	return []string{JobCreated, JobStageCompleted, JobStageDegraded, JobFailed, JobCompleted}
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event for a job. A nil payload is stored as {}.
func (w Writer) Append(ctx context.Context, evtType, jobID string, stage domain.Stage, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,job_id,stage,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, jobID, int(stage), string(data))
	return err
}
