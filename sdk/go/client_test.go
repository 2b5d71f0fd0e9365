package citescopesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citescope/internal/domain"
)

func TestCreateAndGetJob(t *testing.T) {
	var gotBody CreateJobRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v0/jobs":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(Job{ID: "j1", Domain: gotBody.Domain, Topic: gotBody.Topic, Status: domain.StatusPending})
		case r.Method == http.MethodGet && r.URL.Path == "/v0/jobs/j1":
			_ = json.NewEncoder(w).Encode(Job{ID: "j1", Status: domain.StatusRunning, Stage: domain.StageDiscovery})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	job, err := c.CreateJob(context.Background(), CreateJobRequest{
		Domain: "example.com",
		Topic:  "running shoes",
		Config: &JobConfig{Depth: domain.DepthQuick},
		Run:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "j1", job.ID)
	assert.True(t, gotBody.Run)
	assert.Equal(t, domain.DepthQuick, gotBody.Config.Depth)

	job, err = c.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageDiscovery, job.Stage)
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"precondition_failed","message":"patterns requires the extraction result","details":{"job_id":"j1"}}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).RunStage(context.Background(), "j1", "patterns")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "precondition_failed", apiErr.Code)
	assert.Equal(t, "j1", apiErr.Details["job_id"])
	assert.False(t, IsNotFound(err))
}

func TestListJobsAndEventsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/jobs":
			assert.Equal(t, "complete", r.URL.Query().Get("status"))
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"items":[{"id":"a"},{"id":"b"}]}`))
		case "/v0/jobs/a/events":
			assert.Equal(t, "7", r.URL.Query().Get("cursor"))
			_, _ = w.Write([]byte(`{"items":[{"id":8,"type":"job.completed","payload":{"status":"complete"}}],"next_cursor":""}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	jobs, err := c.ListJobs(context.Background(), ListJobsOptions{Status: "complete", Limit: 5})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	page, err := c.Events(context.Background(), "a", 0, "7")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "complete", page.Items[0].Payload["status"])

	_, err = c.GetJob(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestWaitPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := domain.StatusRunning
		if calls.Add(1) >= 3 {
			status = domain.StatusComplete
		}
		_ = json.NewEncoder(w).Encode(Job{ID: "j1", Status: status})
	}))
	defer srv.Close()

	job, err := New(srv.URL).Wait(context.Background(), "j1", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, job.Status)
	assert.EqualValues(t, 3, calls.Load())
}

func TestEmptyJobConfigFieldsAreOmitted(t *testing.T) {
	b, err := json.Marshal(CreateJobRequest{Domain: "example.com", Topic: "shoes", Config: &JobConfig{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"domain":"example.com","topic":"shoes","config":{}}`, string(b))
}
