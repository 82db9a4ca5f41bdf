package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/notesagent/internal/agent"
	"github.com/haasonsaas/notesagent/internal/auth"
	"github.com/haasonsaas/notesagent/internal/observability"
	"github.com/haasonsaas/notesagent/pkg/models"
)

type fakeChat struct {
	mu     sync.Mutex
	events []models.ChatEvent
	err    error
	got    agent.ChatRequest
	ctxErr error
	block  bool
}

func (f *fakeChat) Chat(ctx context.Context, req agent.ChatRequest) (<-chan models.ChatEvent, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, agent.ErrEmptyMessage
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.got = req
	f.mu.Unlock()

	out := make(chan models.ChatEvent)
	go func() {
		defer close(out)
		for _, ev := range f.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if f.block {
			<-ctx.Done()
		}
	}()
	return out, nil
}

func (f *fakeChat) request() agent.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got
}

type testServer struct {
	server   *Server
	auth     *auth.Service
	metrics  *observability.Metrics
	registry *prometheus.Registry
}

func newTestServer(t *testing.T, chat ChatRunner, health func(context.Context) error) *testServer {
	t.Helper()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	authService := auth.NewService(auth.Config{JWTSecret: "secret", TokenExpiry: time.Hour})
	server, err := New(Config{
		Addr:     "127.0.0.1:0",
		Gatherer: registry,
		Health:   health,
		Auth:     authService,
		Chat:     chat,
		Metrics:  metrics,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testServer{server: server, auth: authService, metrics: metrics, registry: registry}
}

func (ts *testServer) chat(t *testing.T, body string, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		token, err := ts.auth.GenerateToken("user-1")
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Auth: auth.NewService(auth.Config{JWTSecret: "s"})}); err == nil {
		t.Fatal("expected error without chat runner")
	}
	if _, err := New(Config{Chat: &fakeChat{}, Auth: auth.NewService(auth.Config{})}); err == nil {
		t.Fatal("expected error without jwt secret")
	}
}

func TestChatStream(t *testing.T) {
	chat := &fakeChat{events: []models.ChatEvent{
		{Type: models.ChatEventToolCall, Name: "search_notes", CallID: "c1", Arguments: map[string]any{"query": "milk"}},
		{Type: models.ChatEventToolResult, Name: "search_notes", CallID: "c1"},
		{Type: models.ChatEventFinalStart},
		{Type: models.ChatEventFinalDelta, Delta: "You need milk."},
		{Type: models.ChatEventFinalDone, Sources: []string{"n1"}, ResponseID: "resp_2"},
	}}
	ts := newTestServer(t, chat, nil)

	rec := ts.chat(t, `{"message":"what do I need?","previous_response_id":"resp_1"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	for header, want := range map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache",
		"Connection":        "keep-alive",
		"X-Accel-Buffering": "no",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected request id header")
	}

	want := "event: tool_call\ndata: {\"arguments\":{\"query\":\"milk\"},\"call_id\":\"c1\",\"name\":\"search_notes\",\"type\":\"tool_call\"}\n\n" +
		"event: tool_result\ndata: {\"call_id\":\"c1\",\"name\":\"search_notes\",\"type\":\"tool_result\"}\n\n" +
		"event: final_start\ndata: {\"type\":\"final_start\"}\n\n" +
		"event: final_delta\ndata: {\"delta\":\"You need milk.\",\"type\":\"final_delta\"}\n\n" +
		"event: final_done\ndata: {\"response_id\":\"resp_2\",\"sources\":[\"n1\"],\"type\":\"final_done\"}\n\n"
	if rec.Body.String() != want {
		t.Errorf("body =\n%s\nwant\n%s", rec.Body, want)
	}

	got := chat.request()
	if got.UserID != "user-1" || got.Message != "what do I need?" || got.PreviousResponseID != "resp_1" {
		t.Errorf("chat request = %+v", got)
	}

	if v := testutil.ToFloat64(ts.metrics.HTTPRequestCounter.WithLabelValues("POST", "POST /api/v1/chat/stream", "200")); v != 1 {
		t.Errorf("http request counter = %v", v)
	}
}

func TestChatStream_NullPreviousResponse(t *testing.T) {
	chat := &fakeChat{events: []models.ChatEvent{{Type: models.ChatEventFinal, Response: "hi"}}}
	ts := newTestServer(t, chat, nil)

	rec := ts.chat(t, `{"message":"hello","previous_response_id":null}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if chat.request().PreviousResponseID != "" {
		t.Errorf("previous response id = %q", chat.request().PreviousResponseID)
	}
	if !strings.HasPrefix(rec.Body.String(), "event: final\n") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestChatStream_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		authorized bool
		want       int
	}{
		{"no token", `{"message":"hi"}`, false, http.StatusUnauthorized},
		{"malformed json", `{"message":`, true, http.StatusBadRequest},
		{"missing message", `{}`, true, http.StatusUnprocessableEntity},
		{"empty message", `{"message":""}`, true, http.StatusUnprocessableEntity},
		{"blank message", `{"message":"   "}`, true, http.StatusUnprocessableEntity},
		{"wrong type", `{"message":"hi","previous_response_id":5}`, true, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeChat{}, nil)
			rec := ts.chat(t, tt.body, tt.authorized)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %q", ct)
			}
		})
	}
}

func TestChatStream_StartFailure(t *testing.T) {
	ts := newTestServer(t, &fakeChat{err: errors.New("boom")}, nil)
	rec := ts.chat(t, `{"message":"hi"}`, true)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChatStream_BrokenGenerator(t *testing.T) {
	chat := &fakeChat{events: []models.ChatEvent{
		{Type: models.ChatEventFinalStart},
		{Type: models.ChatEventFinalDelta, Delta: "par"},
	}}
	ts := newTestServer(t, chat, nil)

	rec := ts.chat(t, `{"message":"hi"}`, true)
	want := "event: error\ndata: {\"message\":\"Streaming failed.\",\"type\":\"error\"}\n\n"
	if !strings.HasSuffix(rec.Body.String(), want) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestChatStream_UnencodableEvent(t *testing.T) {
	chat := &fakeChat{events: []models.ChatEvent{
		{Type: models.ChatEventFinalStart},
		{Type: "bogus"},
	}, block: true}
	ts := newTestServer(t, chat, nil)

	rec := ts.chat(t, `{"message":"hi"}`, true)
	body := rec.Body.String()
	if strings.Count(body, "event: error") != 1 || !strings.HasSuffix(body, "{\"message\":\"Streaming failed.\",\"type\":\"error\"}\n\n") {
		t.Errorf("body = %s", body)
	}
}

func TestHealthz(t *testing.T) {
	healthy := newTestServer(t, &fakeChat{}, func(context.Context) error { return nil })
	rec := httptest.NewRecorder()
	healthy.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != `{"status":"ok"}` {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body)
	}

	down := newTestServer(t, &fakeChat{}, func(context.Context) error { return errors.New("db down") })
	rec = httptest.NewRecorder()
	down.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, nil)
	ts.metrics.RecordChatRun("final_done", 2)

	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `notesagent_chat_runs_total{outcome="final_done"} 1`) {
		t.Errorf("metrics body missing chat run counter:\n%s", rec.Body)
	}
}

func TestRequestIDPropagates(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("request id = %q", got)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	handler := recoverMiddleware(observability.NopLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestServeShutsDownGracefully(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.server.Serve(ctx, listener) }()

	url := "http://" + listener.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != `{"status":"ok"}` {
		t.Fatalf("body = %s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
