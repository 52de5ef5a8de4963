package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/qbitworks/simq/internal/engine"
	"github.com/qbitworks/simq/internal/worker"
	"github.com/qbitworks/simq/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
)

func setupApp(t *testing.T) *Application {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.RedisAddr = mr.Addr()
	cfg.LogLevel = "error"

	application, err := NewApplication(cfg, WithoutBackgroundSweep())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	t.Cleanup(func() { _ = application.Redis.Close() })
	SetupMappings(application)
	return application
}

func doJSON(t *testing.T, app *Application, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	app.Engine.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode %s %s response: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec, decoded
}

func TestHealthz(t *testing.T) {
	app := setupApp(t)

	rec, body := doJSON(t, app, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", rec.Code, body)
	}
}

func TestSubmitRejectsBadBodies(t *testing.T) {
	app := setupApp(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "qc=foo"},
		{"empty qc", `{"qc":""}`},
		{"missing qc", `{}`},
		{"negative shots", `{"qc":"OPENQASM 3;","shots":-5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := doJSON(t, app, http.MethodPost, "/tasks", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSubmitPollExecuteFlow(t *testing.T) {
	app := setupApp(t)

	rec, body := doJSON(t, app, http.MethodPost, "/tasks", `{"qc":"OPENQASM 3; qubit[2] q;"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: %d (%s)", rec.Code, rec.Body.String())
	}
	taskID, _ := body["task_id"].(string)
	if taskID == "" {
		t.Fatalf("expected task_id, got %v", body)
	}
	if body["message"] != "Task submitted successfully." {
		t.Fatalf("unexpected message: %v", body["message"])
	}

	rec, body = doJSON(t, app, http.MethodGet, "/tasks/"+taskID, "")
	if rec.Code != http.StatusOK || body["status"] != "pending" {
		t.Fatalf("poll before execution: %d %v", rec.Code, body)
	}

	// Drive one delivery through a worker by hand instead of running the loop.
	eng := engine.Func(func(ctx context.Context, circuit string, shots int) (map[string]int, error) {
		return map[string]int{"00": 512, "11": 512}, nil
	})
	w := worker.New(app.Queue, app.Repo, eng, app.Logger, worker.Config{WorkerID: "w-test"})
	job, ok, err := app.Queue.Claim(context.Background(), "w-test", 60, 50)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	w.ProcessJob(context.Background(), job)

	rec, body = doJSON(t, app, http.MethodGet, "/tasks/"+taskID, "")
	if rec.Code != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("poll after execution: %d %v", rec.Code, body)
	}
	result, _ := body["result"].(map[string]any)
	if result["00"] != float64(512) || result["11"] != float64(512) {
		t.Fatalf("unexpected result: %v", body["result"])
	}
}

func TestConcurrentSubmissionsAllComplete(t *testing.T) {
	app := setupApp(t)

	const n = 8
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(`{"qc":"OPENQASM 3; qubit[2] q;"}`))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			app.Engine.ServeHTTP(rec, req)
			if rec.Code != http.StatusAccepted {
				t.Errorf("submit: %d (%s)", rec.Code, rec.Body.String())
				ids <- ""
				return
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Errorf("decode submit response: %v", err)
				ids <- ""
				return
			}
			id, _ := body["task_id"].(string)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		if id == "" {
			t.Fatalf("a submission returned no task id")
		}
		if seen[id] {
			t.Fatalf("duplicate task id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d unique task ids, got %d", n, len(seen))
	}

	eng := engine.Func(func(ctx context.Context, circuit string, shots int) (map[string]int, error) {
		return map[string]int{"00": 512, "11": 512}, nil
	})
	w := worker.New(app.Queue, app.Repo, eng, app.Logger, worker.Config{WorkerID: "w-test"})
	for i := 0; i < n; i++ {
		job, ok, err := app.Queue.Claim(context.Background(), "w-test", 60, 50)
		if err != nil || !ok {
			t.Fatalf("claim %d: ok=%v err=%v", i, ok, err)
		}
		w.ProcessJob(context.Background(), job)
	}

	for id := range seen {
		rec, body := doJSON(t, app, http.MethodGet, "/tasks/"+id, "")
		if rec.Code != http.StatusOK || body["status"] != "completed" {
			t.Fatalf("task %s did not complete: %d %v", id, rec.Code, body)
		}
	}
}

func TestPollUnknownTask(t *testing.T) {
	app := setupApp(t)

	rec, body := doJSON(t, app, http.MethodGet, "/tasks/does-not-exist", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body["message"] != "Task not found." {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAdminQueueStats(t *testing.T) {
	app := setupApp(t)

	if rec, _ := doJSON(t, app, http.MethodPost, "/tasks", `{"qc":"OPENQASM 3;"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("submit failed: %d", rec.Code)
	}

	rec, body := doJSON(t, app, http.MethodGet, "/admin/queue", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("queue stats: %d (%s)", rec.Code, rec.Body.String())
	}
	q, _ := body["queue"].(map[string]any)
	if q["queued"] != float64(1) {
		t.Fatalf("expected 1 queued job, got %v", body)
	}
	tasks, _ := body["tasks"].(map[string]any)
	if tasks["PENDING"] != float64(1) {
		t.Fatalf("expected 1 PENDING task, got %v", body)
	}
}

func TestAdminReconcile(t *testing.T) {
	app := setupApp(t)

	rec, body := doJSON(t, app, http.MethodPost, "/admin/reconcile", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile: %d (%s)", rec.Code, rec.Body.String())
	}
	if body["requeued"] != float64(0) {
		t.Fatalf("expected 0 requeued on empty store, got %v", body)
	}
}

func TestSubmitRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.RedisAddr = mr.Addr()
	cfg.LogLevel = "error"
	cfg.SubmitRateLimit.RequestsPerMinute = 60
	cfg.SubmitRateLimit.BurstSize = 2

	app, err := NewApplication(cfg, WithoutBackgroundSweep())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	t.Cleanup(func() { _ = app.Redis.Close() })
	SetupMappings(app)

	for i := 0; i < 2; i++ {
		rec, _ := doJSON(t, app, http.MethodPost, "/tasks", `{"qc":"OPENQASM 3;"}`)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("request %d within burst: %d", i, rec.Code)
		}
	}
	rec, _ := doJSON(t, app, http.MethodPost, "/tasks", `{"qc":"OPENQASM 3;"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over burst, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}
