package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"citescope/internal/config"
	"citescope/internal/db"
	"citescope/internal/domain"
	"citescope/internal/engine"
	"citescope/internal/events"
	"citescope/internal/fetch"
	"citescope/internal/migrate"
	"citescope/internal/repo"
	"citescope/internal/report"
	"citescope/internal/search"
	"citescope/internal/store"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	Repo   repo.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type searchFunc func(q search.Query) ([]search.Result, error)

func (f searchFunc) Search(_ context.Context, q search.Query) ([]search.Result, error) { return f(q) }

type agentFunc func(prompt string) (string, error)

func (f agentFunc) Run(_ context.Context, prompt string) (string, error) { return f(prompt) }

func okSearch(search.Query) ([]search.Result, error) {
	return []search.Result{
		{URL: "https://guide.example.org/a", Title: "A"},
		{URL: "https://review.example.net/b", Title: "B"},
	}, nil
}

func okFetch(_ context.Context, pageURL string) (string, error) {
	return "# Page\n\n## Part\n\nSome words about running shoes here.\n\n### Why buy?\n\nBecause.\n", nil
}

func newTestServer(t *testing.T, mutate func(*engine.Engine)) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	st, err := store.NewWriteBehind(r, store.Options{FlushEvery: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	e := engine.New(st, cfg)
	e.Events = events.Writer{DB: conn}
	e.Searcher = searchFunc(okSearch)
	e.Fetcher = fetch.Func(okFetch)
	e.Agent = agentFunc(func(string) (string, error) { return "", errors.New("agent offline") })
	e.Reporter = report.Chain{Tiers: []report.Tier{{Name: "local", Renderer: report.Local{Dir: filepath.Join(workspace, "reports")}}}}
	if mutate != nil {
		mutate(&e)
	}
	runner := NewRunner(nil)
	handler, err := New(Config{Engine: e, Events: r, BasePath: "/v0", Runner: runner})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Repo:   r,
		client: &http.Client{},
		close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
			runner.Wait(ctx)
			st.Close(ctx)
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, string(data))
	}
	return env
}

func createJob(t *testing.T, srv *testServer, body map[string]any) domain.Job {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/jobs", body, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create job status %d: %s", res.StatusCode, string(data))
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	return job
}

func TestHealthAndMetrics(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/jobs/{job_id}/stages/{stage}") {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
}

func TestStagesOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	job := createJob(t, srv, map[string]any{
		"domain": "shoes.example.com",
		"topic":  "running shoes",
		"config": map[string]any{"depth": "quick", "output_format": "markdown"},
	})
	if job.Status != domain.StatusPending || job.Config.Depth != "quick" {
		t.Fatalf("unexpected job: %+v", job)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/stages/patterns", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "precondition_failed" {
		t.Fatalf("unexpected code %q", env.Error.Code)
	}

	for _, stage := range []string{"discovery", "extraction", "patterns", "research", "assets", "report"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/stages/"+stage, nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("stage %s status %d: %s", stage, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/"+job.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get job status %d", res.StatusCode)
	}
	var done domain.Job
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatal(err)
	}
	if done.Status != domain.StatusComplete || done.Stage != domain.StageReport || !done.Research.Degraded {
		t.Fatalf("unexpected final job: %s/%d", done.Status, done.Stage)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/"+job.ID+"/report", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "Citation Readiness Report") {
		t.Fatalf("report download %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Fatalf("unexpected content type %q", ct)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/"+job.ID+"/events?limit=3", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d", res.StatusCode)
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 3 || page.Items[0].Type != events.JobCreated || page.NextCursor == "" {
		t.Fatalf("unexpected events page: %+v", page)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/"+job.ID+"/events?cursor="+page.NextCursor, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d", res.StatusCode)
	}
	var rest paginatedEvents
	if err := json.Unmarshal(data, &rest); err != nil {
		t.Fatal(err)
	}
	if len(rest.Items) == 0 || rest.Items[len(rest.Items)-1].Type != events.JobCompleted {
		t.Fatalf("expected completion event last: %+v", rest.Items)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs?status=complete", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", res.StatusCode)
	}
	var list JobListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != job.ID {
		t.Fatalf("unexpected list: %d items", len(list.Items))
	}
}

func TestErrorEnvelopes(t *testing.T) {
	srv, cleanup := newTestServer(t, func(e *engine.Engine) {
		e.Searcher = searchFunc(func(search.Query) ([]search.Result, error) {
			return nil, errors.New("search quota exhausted")
		})
	})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound || decodeError(t, data).Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs", map[string]any{"domain": "not a domain", "topic": "x"}, nil)
	if res.StatusCode != http.StatusBadRequest || decodeError(t, data).Error.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs", map[string]any{"domain": "example.com", "topic": "x", "config": map[string]any{"depth": "abyss"}}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected schema validation 400, got %d: %s", res.StatusCode, string(data))
	}

	job := createJob(t, srv, map[string]any{"domain": "example.com", "topic": "running shoes"})
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/stages/discovery", nil, nil)
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "upstream_failure" || env.Error.Details["status"] != domain.StatusFailed {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if !strings.Contains(env.Error.Message, "search quota exhausted") {
		t.Fatalf("message lost upstream cause: %q", env.Error.Message)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/run", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected failed job to reject run, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/"+job.ID+"/report", nil, nil)
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Error.Code != "precondition_failed" {
		t.Fatalf("expected report 409, got %d: %s", res.StatusCode, string(data))
	}
}

func TestBackgroundRun(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	job := createJob(t, srv, map[string]any{"domain": "example.com", "topic": "running shoes"})

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/run", nil, nil)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("run status %d: %s", res.StatusCode, string(data))
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		_, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/"+job.ID, nil, nil)
		var cur domain.Job
		if err := json.Unmarshal(data, &cur); err != nil {
			t.Fatal(err)
		}
		if cur.Terminal() {
			if cur.Status != domain.StatusComplete {
				t.Fatalf("expected complete, got %s (%s)", cur.Status, cur.Error)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job still %s at stage %d", cur.Status, cur.Stage)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var got []*http.Request
	var bodies []webhookEvent
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, r)
		bodies = append(bodies, evt)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	d := NewWebhookDispatcher(srv.Repo, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{events.JobCreated},
		Secret: "s3cret",
	}}, nil, nil)
	d.SetCursor(0, 0)

	job := createJob(t, srv, map[string]any{"domain": "example.com", "topic": "running shoes"})
	if _, err := srv.Engine.Discover(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}
	d.DispatchAll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Header.Get("X-Citescope-Event") != events.JobCreated || got[0].Header.Get("X-Citescope-Secret") != "s3cret" {
		t.Fatalf("unexpected headers: %v", got[0].Header)
	}
	if bodies[0].JobID != job.ID || bodies[0].StageName != "created" {
		t.Fatalf("unexpected body: %+v", bodies[0])
	}
}
