package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"genforge/pkg/config"
	"genforge/pkg/llm"
	"genforge/pkg/logx"
	"genforge/pkg/persistence"
	"genforge/pkg/proto"
	"genforge/pkg/runner"
	"genforge/pkg/testkit"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Sandbox.Root = filepath.Join(t.TempDir(), "generated_project")
	cfg.Relay.PollInterval = 5 * time.Millisecond
	cfg.Relay.DrainGrace = 20 * time.Millisecond
	return cfg
}

func newTestServer(t *testing.T, client llm.LLMClient, opts ...Option) *Server {
	t.Helper()
	if client == nil {
		client = llm.NewMockLLMClient()
	}
	cfg := testConfig(t)
	return NewServer(runner.NewService(cfg, client), cfg.Server, opts...)
}

func writeProjectFile(t *testing.T, s *Server, rel, content string) string {
	t.Helper()
	sb, err := s.runner.Sandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	if _, err := sb.Write(rel, content); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return sb.Root()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func TestHealth(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	if body["active_run"] != "" {
		t.Errorf("expected no active run, got %v", body["active_run"])
	}
}

func TestRootListsEndpoints(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	body := decode(t, w)
	endpoints, ok := body["endpoints"].(map[string]any)
	if !ok {
		t.Fatalf("expected endpoints map, got %v", body)
	}
	if endpoints["websocket"] != "/ws" {
		t.Errorf("expected websocket endpoint, got %v", endpoints["websocket"])
	}
}

func TestBasicAuth(t *testing.T) {
	config.SetDecryptedSecrets(nil)
	t.Setenv(EnvWebUIPassword, "letmein")
	handler := newTestServer(t, nil).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/files", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 without credentials, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.SetBasicAuth(WebUIUser, "wrong")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 with a wrong password, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.SetBasicAuth(WebUIUser, "letmein")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 with credentials, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health must not require auth, got %d", w.Code)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "", true},
		{"same origin", nil, "http://example.com", true},
		{"cross origin without config", nil, "http://evil.com", false},
		{"wildcard", []string{"*"}, "http://evil.com", true},
		{"listed", []string{"http://app.local"}, "http://app.local", true},
		{"not listed", []string{"http://app.local"}, "http://other.local", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(nil, config.ServerConfig{AllowedOrigins: tt.allowed})
			req := httptest.NewRequest(http.MethodGet, "http://example.com/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestStopWithoutActiveRun(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/stop", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
}

func TestFilesEmptyProject(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/files", nil))

	body := decode(t, w)
	if body["message"] != "No project generated yet" {
		t.Errorf("expected empty-project message, got %v", body["message"])
	}
	if files, _ := body["files"].([]any); len(files) != 0 {
		t.Errorf("expected no files, got %v", files)
	}
}

func TestFilesTree(t *testing.T) {
	s := newTestServer(t, nil)
	writeProjectFile(t, s, "index.html", "<h1>home</h1>")
	writeProjectFile(t, s, "css/style.css", "body {}")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/files", nil))

	var body struct {
		Files []FileNode `json:"files"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Files) != 2 {
		t.Fatalf("expected 2 top-level entries, got %+v", body.Files)
	}
	if body.Files[0].Type != "directory" || body.Files[0].Path != "css" {
		t.Errorf("expected css directory first, got %+v", body.Files[0])
	}
	if len(body.Files[0].Children) != 1 || body.Files[0].Children[0].Path != "css/style.css" {
		t.Errorf("expected css/style.css child, got %+v", body.Files[0].Children)
	}
	if body.Files[1].Type != "file" || body.Files[1].Path != "index.html" {
		t.Errorf("expected index.html second, got %+v", body.Files[1])
	}
}

func TestFileRead(t *testing.T) {
	s := newTestServer(t, nil)
	writeProjectFile(t, s, "css/style.css", "body {}")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/file/css/style.css", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["content"] != "body {}" {
		t.Errorf("unexpected content %v", body["content"])
	}
	if body["path"] != "css/style.css" {
		t.Errorf("unexpected path %v", body["path"])
	}
}

func TestFileReadErrors(t *testing.T) {
	s := newTestServer(t, nil)
	root := writeProjectFile(t, s, "docs/readme.md", "hi")
	if err := os.WriteFile(filepath.Join(root, "logo.png"), []byte{0xff, 0xfe, 0x00, 0x80}, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want int
	}{
		{"../outside.txt", http.StatusForbidden},
		{"/etc/passwd", http.StatusForbidden},
		{"missing.txt", http.StatusNotFound},
		{"docs", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/file/x", nil)
			req.SetPathValue("path", tt.path)
			w := httptest.NewRecorder()
			s.handleFileRead(w, req)
			if w.Code != tt.want {
				t.Errorf("GET %s: expected status %d, got %d", tt.path, tt.want, w.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/file/logo.png", nil)
	req.SetPathValue("path", "logo.png")
	w := httptest.NewRecorder()
	s.handleFileRead(w, req)
	if body := decode(t, w); body["content"] != "[Binary file: .png]" {
		t.Errorf("expected binary placeholder, got %v", body["content"])
	}
}

func TestFileDelete(t *testing.T) {
	s := newTestServer(t, nil)
	root := writeProjectFile(t, s, "about.html", "<h1>about</h1>")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/file/about.html", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if body := decode(t, w); body["message"] != "File about.html deleted successfully" {
		t.Errorf("unexpected message %v", body["message"])
	}
	if _, err := os.Stat(filepath.Join(root, "about.html")); !os.IsNotExist(err) {
		t.Errorf("expected file to be removed, stat err = %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/file/x", nil)
	req.SetPathValue("path", "../../etc/hosts")
	w = httptest.NewRecorder()
	s.handleFileDelete(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403 outside the root, got %d", w.Code)
	}
}

func TestRunsWithoutStore(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestRunsHistory(t *testing.T) {
	db, err := persistence.InitializeDatabase(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := persistence.NewDatabaseOperations(db)

	cfg := testConfig(t)
	svc := runner.NewService(cfg, testkit.TwoPageSite().Client(), runner.WithStore(store))
	res, err := svc.Run(context.Background(), "Build a two-page static site", proto.Discard)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	handler := NewServer(svc, cfg.Server).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs?limit=5", nil))
	var list struct {
		Runs []persistence.Run `json:"runs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(list.Runs) != 1 || list.Runs[0].ID != res.RunID {
		t.Fatalf("expected the finished run, got %+v", list.Runs)
	}
	if list.Runs[0].Status != persistence.RunStatusCompleted {
		t.Errorf("expected completed, got %s", list.Runs[0].Status)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/"+res.RunID, nil))
	var detail struct {
		FileEvents []persistence.FileEvent `json:"file_events"`
	}
	if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(detail.FileEvents) != 3 {
		t.Errorf("expected 3 journaled events, got %d", len(detail.FileEvents))
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs?limit=zero", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestRunLogs(t *testing.T) {
	svc := runner.NewService(testConfig(t), testkit.TwoPageSite().Client())
	res, err := svc.Run(context.Background(), "Build a two-page static site", proto.Discard)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	handler := NewServer(svc, testConfig(t).Server).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/"+res.RunID+"/logs", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body struct {
		RunID string       `json:"run_id"`
		Logs  []logx.Entry `json:"logs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Logs) == 0 {
		t.Fatal("expected log lines for the finished run")
	}
	for _, e := range body.Logs {
		if e.RunID != res.RunID {
			t.Errorf("entry from another run leaked into the response: %+v", e)
		}
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/"+res.RunID+"/logs?level=error", nil))
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	for _, e := range body.Logs {
		if e.Level != "ERROR" {
			t.Errorf("expected only ERROR entries, got %s", e.Level)
		}
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/unknown-run/logs", nil))
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Logs) != 0 {
		t.Errorf("expected no logs for an unknown run, got %d", len(body.Logs))
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("genforge_runs_total 0\n"))
	})
	handler := newTestServer(t, nil, WithMetricsHandler(metrics)).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "genforge_runs_total") {
		t.Errorf("expected metrics output, got %q", w.Body.String())
	}
}

func dialWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	greeting := readMessage(t, conn)
	if greeting.Type != proto.MsgTypeLog || greeting.Message != "Connected to server" {
		t.Fatalf("unexpected greeting %+v", greeting)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) proto.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var msg proto.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocketGenerate(t *testing.T) {
	s := newTestServer(t, testkit.TwoPageSite().Client())
	conn := dialWS(t, s)

	if err := conn.WriteJSON(proto.ClientMessage{Type: proto.ClientGenerate, Prompt: "Build a two-page static site"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var (
		msgs    []proto.Message
		created []string
	)
	for {
		msg := readMessage(t, conn)
		msgs = append(msgs, msg)
		if msg.Type == proto.MsgTypeFileCreate {
			created = append(created, msg.Data.Path)
		}
		if msg.IsTerminal() {
			break
		}
	}

	last := msgs[len(msgs)-1]
	if last.Status != proto.StatusCompleted || last.Message != runner.MsgCompleted {
		t.Errorf("expected completed status, got %+v", last)
	}
	if len(created) != 3 {
		t.Errorf("expected 3 created files, got %v", created)
	}
	if msgs[0].Message != "🚀 Starting project generation..." {
		t.Errorf("unexpected first run message %+v", msgs[0])
	}
	runID := last.RunID
	for _, m := range msgs {
		if m.RunID != runID || runID == "" {
			t.Errorf("message %s not stamped with run %q", m.String(), runID)
		}
	}
}

func TestWebSocketControlMessages(t *testing.T) {
	conn := dialWS(t, newTestServer(t, nil))

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Message != "No active run to stop" {
		t.Errorf("unexpected stop reply %+v", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != proto.MsgTypeError {
		t.Errorf("expected error for unknown type, got %+v", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"generate","prompt":"  "}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != proto.MsgTypeError || msg.Message != "no prompt provided" {
		t.Errorf("expected empty-prompt error, got %+v", msg)
	}
}
