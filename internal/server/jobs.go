package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"citescope/internal/domain"
	"citescope/internal/engine"
	"citescope/internal/report"
	"citescope/internal/store"
)

type jobPath struct {
	JobID string `path:"job_id"`
}

func registerJobs(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Create an analysis job",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateJobRequest
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		opts := engine.CreateJobOptions{Domain: input.Body.Domain, Topic: input.Body.Topic}
		if input.Body.Config != nil {
			opts.Config = input.Body.Config.toDomain()
		}
		job, err := e.CreateJob(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Run {
			startRun(cfg, job.ID)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs, newest first",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,running,complete,failed"`
		Domain string `query:"domain"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body JobListResponse `json:"body"`
	}, error) {
		jobs, err := e.ListJobs(ctx, store.Filter{
			Status: input.Status,
			Domain: input.Domain,
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if jobs == nil {
			jobs = []domain.Job{}
		}
		return &struct {
			Body JobListResponse `json:"body"`
		}{Body: JobListResponse{Items: jobs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get job status and results",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *jobPath) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		job, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "run-job",
		Method:        http.MethodPost,
		Path:          "/jobs/{job_id}/run",
		Summary:       "Run all remaining stages in the background",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *jobPath) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		job, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		if job.Terminal() {
			return nil, handleError(fmt.Errorf("%w: job %s is %s", engine.ErrPreconditionFailed, job.ID, job.Status))
		}
		status := "accepted"
		if !startRun(cfg, job.ID) {
			status = "already_running"
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: RunResponse{JobID: job.ID, Status: status, Stage: int(job.Stage), Pending: nextStage(job)}}, nil
	})
}

func startRun(cfg Config, jobID string) bool {
	e := cfg.Engine
	return cfg.Runner.Go(jobID, func(ctx context.Context) error {
		_, err := e.Run(ctx, jobID)
		return err
	})
}

func registerStages(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "run-stage",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/stages/{stage}",
		Summary:     "Run one pipeline stage",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
		Stage string `path:"stage" enum:"discovery,extraction,patterns,research,assets,report"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		if cfg.Runner.Running(input.JobID) {
			return nil, newAPIError(http.StatusConflict, "precondition_failed",
				"a background run is in progress for this job", map[string]any{"job_id": input.JobID})
		}
		job, err := e.RunStage(ctx, input.JobID, input.Stage)
		if err != nil {
			apiErr := handleError(err)
			if ae, ok := apiErr.(*apiError); ok && job.ID != "" {
				ae.Body.Details = map[string]any{"job_id": job.ID, "status": job.Status, "stage": int(job.Stage)}
			}
			return nil, apiErr
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: job}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "list-job-events",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/events",
		Summary:     "List job events in order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID  string `path:"job_id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := e.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if cfg.Events.DB != nil {
			items, err := cfg.Events.EventsAfter(ctx, limit+1, cursorID, input.JobID)
			if err != nil {
				return nil, handleError(err)
			}
			if len(items) > limit {
				items = items[:limit]
				resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			}
			for _, evt := range items {
				resp.Items = append(resp.Items, eventResponse(evt))
			}
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

// registerReportDownload serves the rendered artifact. Local files are
// streamed; remote locations redirect.
func registerReportDownload(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "jobs/{job_id}/report"), func(w http.ResponseWriter, req *http.Request) {
		job, err := e.GetJob(req.Context(), chi.URLParam(req, "job_id"))
		if err != nil {
			writeError(w, handleError(err))
			return
		}
		if job.Report == nil || job.Report.Location == "" {
			msg := "report not generated"
			if job.Report != nil && job.Report.Error != "" {
				msg = job.Report.Error
			}
			writeError(w, newAPIError(http.StatusConflict, "precondition_failed", msg, map[string]any{"job_id": job.ID, "stage": int(job.Stage)}))
			return
		}
		loc := job.Report.Location
		if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
			http.Redirect(w, req, loc, http.StatusTemporaryRedirect)
			return
		}
		f, err := os.Open(loc)
		if err != nil {
			writeError(w, newAPIError(http.StatusNotFound, "not_found", "report artifact missing", map[string]any{"location": loc}))
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			writeError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", report.ContentType(job.Report.Format))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(loc)))
		http.ServeContent(w, req, filepath.Base(loc), info.ModTime(), f)
	})
}
