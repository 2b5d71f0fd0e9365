package server

import (
	"encoding/json"

	"citescope/internal/domain"
)

// Request payloads

type CreateJobRequest struct {
	Domain string            `json:"domain" example:"example.com"`
	Topic  string            `json:"topic" example:"running shoes"`
	Config *JobConfigRequest `json:"config,omitempty"`
	Run    bool              `json:"run,omitempty" doc:"Start the full pipeline in the background"`
}

type JobConfigRequest struct {
	Depth        string   `json:"depth,omitempty" enum:"quick,standard,deep"`
	Country      string   `json:"country,omitempty" minLength:"2" maxLength:"2"`
	SourceTypes  []string `json:"source_types,omitempty"`
	OutputFormat string   `json:"output_format,omitempty" enum:"pdf,html,markdown"`
	Competitors  []string `json:"competitors,omitempty"`
}

func (c JobConfigRequest) toDomain() domain.JobConfig {
	return domain.JobConfig{
		Depth:        c.Depth,
		Country:      c.Country,
		SourceTypes:  c.SourceTypes,
		OutputFormat: c.OutputFormat,
		Competitors:  c.Competitors,
	}
}

// Response payloads

type JobListResponse struct {
	Items []domain.Job `json:"items"`
}

type RunResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status" enum:"accepted,already_running"`
	Stage   int    `json:"stage"`
	Pending string `json:"pending_stage,omitempty"`
}

type EventResponse struct {
	ID        int64           `json:"id"`
	TS        string          `json:"ts"`
	Type      string          `json:"type"`
	JobID     string          `json:"job_id"`
	Stage     int             `json:"stage"`
	StageName string          `json:"stage_name"`
	Payload   json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:        evt.ID,
		TS:        evt.TS,
		Type:      evt.Type,
		JobID:     evt.JobID,
		Stage:     evt.Stage,
		StageName: domain.Stage(evt.Stage).Name(),
		Payload:   payload,
	}
}

func nextStage(job domain.Job) string {
	if job.Stage >= domain.StageReport {
		return ""
	}
	return (job.Stage + 1).Name()
}
