package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"manuscript-ai-api/internal/application/orchestrator"
	"manuscript-ai-api/internal/config"
	"manuscript-ai-api/internal/infrastructure/persistence/memory"
	"manuscript-ai-api/internal/interfaces/http/handler"
)

type stubChecker struct{ err error }

func (s stubChecker) HealthCheck(context.Context) error { return s.err }

type testServer struct {
	engine *gin.Engine
	queue  *orchestrator.ChannelQueue
}

func newTestServer(t *testing.T, deps ...handler.Dependency) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	queue := orchestrator.NewChannelQueue(16)
	materials := memory.NewMaterialRepository(store)
	svc := orchestrator.NewService(orchestrator.ServiceDeps{
		Tasks:       memory.NewTaskRepository(store),
		Materials:   materials,
		Outlines:    memory.NewOutlineRepository(store),
		Chapters:    memory.NewChapterRepository(store),
		Manuscripts: memory.NewManuscriptRepository(store),
		Profiles:    memory.NewVoiceProfileRepository(store),
		Queue:       queue,
		Tx:          memory.Transactor{},
	}, orchestrator.ServiceConfig{})

	cfg := &config.Config{}
	cfg.App.Env = "test"
	r := New(cfg, Handlers{
		Health:   handler.NewHealthHandler("test", deps...),
		Task:     handler.NewTaskHandler(svc),
		Review:   handler.NewReviewHandler(svc),
		Voice:    handler.NewVoiceHandler(svc),
		Material: handler.NewMaterialHandler(materials, 1<<20),
	}, nil)
	return &testServer{engine: r.Engine(), queue: queue}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func data(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	d, ok := resp["data"].(map[string]any)
	if !ok {
		t.Fatalf("response has no data object: %v", resp)
	}
	return d
}

func (s *testServer) registerMaterial(t *testing.T, projectID string) {
	t.Helper()
	code, resp := s.do(t, http.MethodPost, "/api/v1/projects/"+projectID+"/materials", map[string]any{
		"filename":    "notes/clinic-notes.txt",
		"mime_type":   "text/plain",
		"storage_key": projectID + "/clinic-notes.txt",
		"size_bytes":  120,
	})
	if code != http.StatusCreated {
		t.Fatalf("register material = %d %v", code, resp)
	}
	if got := data(t, resp)["filename"]; got != "clinic-notes.txt" {
		t.Fatalf("filename = %v", got)
	}
}

func (s *testServer) startTask(t *testing.T, projectID string) string {
	t.Helper()
	code, resp := s.do(t, http.MethodPost, "/api/v1/projects/"+projectID+"/tasks", map[string]any{
		"title":         "Clinic Days",
		"brief":         "A year at the clinic",
		"chapter_count": 2,
	})
	if code != http.StatusAccepted {
		t.Fatalf("start task = %d %v", code, resp)
	}
	id, _ := data(t, resp)["task_id"].(string)
	if id == "" {
		t.Fatalf("missing task_id: %v", resp)
	}
	return id
}

func TestStartTask_RequiresMaterial(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/projects/p1/tasks", map[string]any{"title": "Clinic Days"})
	if code != http.StatusBadRequest {
		t.Fatalf("code = %d %v", code, resp)
	}
	if s.queue.Len() != 0 {
		t.Fatalf("rejected start must not enqueue")
	}

	code, _ = s.do(t, http.MethodPost, "/api/v1/projects/p1/tasks", map[string]any{"brief": "no title"})
	if code != http.StatusBadRequest {
		t.Fatalf("missing title code = %d", code)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.registerMaterial(t, "p1")
	taskID := s.startTask(t, "p1")

	if s.queue.Len() != 1 {
		t.Fatalf("queue len = %d", s.queue.Len())
	}

	code, resp := s.do(t, http.MethodGet, "/api/v1/tasks/"+taskID, nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d %v", code, resp)
	}
	st := data(t, resp)
	if st["state"] != "queued" || st["total_chapters"] != float64(2) {
		t.Fatalf("status = %v", st)
	}

	// 未等待反馈时提交决定是非法迁移
	code, _ = s.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/feedback", map[string]any{"decision": "approve"})
	if code != http.StatusConflict {
		t.Fatalf("feedback on queued task = %d", code)
	}
	code, _ = s.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/feedback", map[string]any{"decision": "maybe"})
	if code != http.StatusBadRequest {
		t.Fatalf("unknown decision = %d", code)
	}

	code, resp = s.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/pause", nil)
	if code != http.StatusOK || data(t, resp)["state"] != "paused" {
		t.Fatalf("pause = %d %v", code, resp)
	}
	code, _ = s.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/pause", nil)
	if code != http.StatusConflict {
		t.Fatalf("double pause = %d", code)
	}
	code, resp = s.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/resume", nil)
	if code != http.StatusOK || data(t, resp)["state"] != "queued" {
		t.Fatalf("resume = %d %v", code, resp)
	}
	if s.queue.Len() != 2 {
		t.Fatalf("resume must enqueue, queue len = %d", s.queue.Len())
	}

	code, _ = s.do(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/manuscript", nil)
	if code != http.StatusConflict {
		t.Fatalf("manuscript before completion = %d", code)
	}
	code, _ = s.do(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/outline", nil)
	if code != http.StatusNotFound {
		t.Fatalf("outline before outline stage = %d", code)
	}

	code, resp = s.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/cancel", nil)
	if code != http.StatusOK || data(t, resp)["state"] != "cancelled" {
		t.Fatalf("cancel = %d %v", code, resp)
	}
	code, _ = s.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/resume", nil)
	if code != http.StatusConflict {
		t.Fatalf("resume after cancel = %d", code)
	}

	code, resp = s.do(t, http.MethodGet, "/api/v1/projects/p1/tasks", nil)
	if code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	tasks, _ := data(t, resp)["tasks"].([]any)
	if len(tasks) != 1 {
		t.Fatalf("tasks = %v", tasks)
	}
}

func TestNotFoundAndBadParams(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/api/v1/tasks/missing", nil)
	if code != http.StatusNotFound {
		t.Fatalf("unknown task = %d", code)
	}
	detail, _ := resp["error"].(map[string]any)
	if detail["error_code"] != "3001" {
		t.Fatalf("error = %v", resp)
	}

	code, _ = s.do(t, http.MethodGet, "/api/v1/tasks/missing/chapters/abc", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("bad index = %d", code)
	}
	code, _ = s.do(t, http.MethodGet, "/api/v1/projects/p1/voice-profile", nil)
	if code != http.StatusNotFound {
		t.Fatalf("missing profile = %d", code)
	}

	code, _ = s.do(t, http.MethodPost, "/api/v1/projects/p1/materials", map[string]any{
		"filename":    "a.txt",
		"storage_key": "../etc/passwd",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("escaping key = %d", code)
	}
	code, _ = s.do(t, http.MethodPost, "/api/v1/projects/p1/materials", map[string]any{
		"filename":    "a.txt",
		"storage_key": "p1/a.txt",
		"size_bytes":  2 << 20,
	})
	if code != http.StatusBadRequest {
		t.Fatalf("oversized material = %d", code)
	}
}

func TestReadyReportsRequiredAndOptionalDependencies(t *testing.T) {
	s := newTestServer(t,
		handler.Dependency{Name: "postgres", Checker: stubChecker{}, Required: true},
		handler.Dependency{Name: "milvus", Checker: stubChecker{err: errors.New("unreachable")}},
		handler.Dependency{Name: "redis"},
	)
	code, resp := s.do(t, http.MethodGet, "/ready", nil)
	if code != http.StatusOK {
		t.Fatalf("ready = %d %v", code, resp)
	}
	checks, _ := resp["checks"].(map[string]any)
	milvus, _ := checks["milvus"].(map[string]any)
	redis, _ := checks["redis"].(map[string]any)
	if milvus["status"] != "degraded" || redis["status"] != "disabled" {
		t.Fatalf("checks = %v", checks)
	}

	s = newTestServer(t, handler.Dependency{Name: "postgres", Checker: stubChecker{err: errors.New("down")}, Required: true})
	code, resp = s.do(t, http.MethodGet, "/ready", nil)
	if code != http.StatusServiceUnavailable || resp["status"] != "not_ready" {
		t.Fatalf("not ready = %d %v", code, resp)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("code = %d header = %q", w.Code, w.Header().Get("X-Request-ID"))
	}
	if !strings.Contains(w.Body.String(), `"version":"test"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}
