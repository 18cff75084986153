package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/janela/internal/chat"
	"github.com/antoniostano/janela/internal/completion"
	"github.com/antoniostano/janela/internal/config"
	"github.com/antoniostano/janela/internal/observability"
	"github.com/antoniostano/janela/internal/protocol"
	"github.com/antoniostano/janela/internal/reliability"
	"github.com/antoniostano/janela/internal/session"
	"github.com/antoniostano/janela/internal/transcript"
	"github.com/antoniostano/janela/internal/window"
)

type failingProvider struct {
	err error
}

func (p failingProvider) Name() string { return "failing" }

func (p failingProvider) Generate(context.Context, completion.Request) (string, error) {
	return "", p.err
}

type testEnv struct {
	ts       *httptest.Server
	sessions *session.Manager
}

func newTestEnv(t *testing.T, cfg config.Config, provider completion.Provider) *testEnv {
	t.Helper()
	if cfg.CompletionProvider == "" {
		cfg.CompletionProvider = "mock"
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = 20
	}
	if provider == nil {
		provider = completion.NewMockProvider()
	}

	sessions := session.NewManager(time.Minute)
	win, err := window.New(cfg.WindowSize)
	if err != nil {
		t.Fatalf("window.New() error = %v", err)
	}
	gateway := completion.NewGateway(provider, completion.Options{Timeout: time.Second})
	svc, err := chat.NewService(sessions, win, gateway, chat.Config{
		MaxMessageLength: 2000,
		Retry:            reliability.Policy{MaxRetries: 0},
	})
	if err != nil {
		t.Fatalf("chat.NewService() error = %v", err)
	}
	metrics := observability.NewMetrics("test_httpapi")
	svc.SetMetrics(metrics)
	svc.SetArchive(transcript.NewInMemoryStore(0))

	srv := New(cfg, svc, sessions, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, sessions: sessions}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(e.ts.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	defer res.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return res, payload
}

func (e *testEnv) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, e.ts.URL+path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s error = %v", path, err)
	}
	return res
}

func TestChatRoundTrip(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	res, first := env.postJSON(t, "/chat", map[string]any{"message": "olá", "session_id": nil})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%v)", res.StatusCode, first)
	}
	sessionID, _ := first["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id: %v", first)
	}
	if first["response"] != "I heard you: olá" || first["history_size"] != float64(2) {
		t.Fatalf("first reply = %v", first)
	}
	if res.Header.Get("X-Request-Id") == "" {
		t.Fatalf("missing X-Request-Id header")
	}

	_, second := env.postJSON(t, "/chat", map[string]any{"message": "tudo bem?", "session_id": sessionID})
	if second["session_id"] != sessionID {
		t.Fatalf("session_id = %v, want %s", second["session_id"], sessionID)
	}
	if second["history_size"] != float64(4) {
		t.Fatalf("history_size = %v, want 4", second["history_size"])
	}
	if second["response"] != "I heard you: tudo bem?\nI also remember: olá" {
		t.Fatalf("response = %q", second["response"])
	}
}

func TestChatRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	for _, msg := range []string{"", "   ", strings.Repeat("x", 2001)} {
		res, payload := env.postJSON(t, "/chat", map[string]any{"message": msg})
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", res.StatusCode)
		}
		if payload["code"] != "invalid_input" {
			t.Fatalf("code = %v, want invalid_input", payload["code"])
		}
	}
	if n := env.sessions.ActiveCount(); n != 0 {
		t.Fatalf("ActiveCount() = %d after rejected input, want 0", n)
	}

	res, err := http.Post(env.ts.URL+"/chat", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST /chat error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", res.StatusCode)
	}
}

func TestChatMapsProviderFailures(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&completion.StatusError{Status: 401}, http.StatusInternalServerError, "auth_failure"},
		{&completion.StatusError{Status: 429}, http.StatusServiceUnavailable, "rate_limited"},
		{&completion.StatusError{Status: 504}, http.StatusGatewayTimeout, "timeout"},
		{&completion.StatusError{Status: 500}, http.StatusBadGateway, "provider_error"},
		{completion.ErrMalformedResponse, http.StatusBadGateway, "invalid_response"},
	}
	for _, tc := range cases {
		env := newTestEnv(t, config.Config{}, failingProvider{err: tc.err})
		res, payload := env.postJSON(t, "/chat", map[string]any{"message": "hello"})
		if res.StatusCode != tc.status || payload["code"] != tc.code {
			t.Fatalf("%v: status=%d code=%v, want %d %s", tc.err, res.StatusCode, payload["code"], tc.status, tc.code)
		}
		id, _ := payload["session_id"].(string)
		if id == "" {
			t.Fatalf("%v: error payload missing session_id: %v", tc.err, payload)
		}
		snap, err := env.sessions.History(id)
		if err != nil || len(snap.Turns) != 1 {
			t.Fatalf("%v: user turn not kept after failure: %+v err=%v", tc.err, snap, err)
		}
		if msg, _ := payload["error"].(string); strings.Contains(msg, "status") {
			t.Fatalf("error message leaks provider detail: %q", msg)
		}
	}
}

func TestClearAlwaysSucceeds(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)
	_, first := env.postJSON(t, "/chat", map[string]any{"message": "one"})
	id := first["session_id"].(string)

	for _, target := range []string{id, id, "unknown"} {
		res, _ := env.postJSON(t, "/clear", map[string]any{"session_id": target})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("clear status = %d, want 200", res.StatusCode)
		}
	}

	_, next := env.postJSON(t, "/chat", map[string]any{"message": "two", "session_id": id})
	if next["history_size"] != float64(2) {
		t.Fatalf("history_size after clear = %v, want 2", next["history_size"])
	}
}

func TestClearRejectsTruncatedBody(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	cases := map[string]int{
		"":                   http.StatusOK,
		`{"session_id":"x"}`: http.StatusOK,
		`{"session_id":"x`:   http.StatusBadRequest,
		`{`:                  http.StatusBadRequest,
	}
	for body, want := range cases {
		res, err := http.Post(env.ts.URL+"/clear", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST /clear error = %v", err)
		}
		res.Body.Close()
		if res.StatusCode != want {
			t.Fatalf("POST /clear body %q status = %d, want %d", body, res.StatusCode, want)
		}
	}
}

func TestDebugArchiveServesRedactedTurns(t *testing.T) {
	env := newTestEnv(t, config.Config{DebugToken: "s3cret"}, nil)
	_, first := env.postJSON(t, "/chat", map[string]any{"message": "write to ana@example.com"})
	id := first["session_id"].(string)

	res := env.get(t, "/history/"+id+"/archive", "")
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("archive without token status = %d, want 401", res.StatusCode)
	}

	res = env.get(t, "/history/"+id+"/archive?limit=1", "s3cret")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("archive status = %d, want 200", res.StatusCode)
	}
	var payload struct {
		Total   int                 `json:"total"`
		Records []transcript.Record `json:"records"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if payload.Total != 1 || payload.Records[0].Role != "assistant" {
		t.Fatalf("archive payload = %+v, want the latest assistant turn", payload)
	}
	if strings.Contains(payload.Records[0].Content, "ana@example.com") || !payload.Records[0].PIIRedacted {
		t.Fatalf("archived reply not redacted: %+v", payload.Records[0])
	}

	bad := env.get(t, "/history/"+id+"/archive?limit=zero", "s3cret")
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", bad.StatusCode)
	}

	empty := env.get(t, "/history/unknown/archive", "s3cret")
	defer empty.Body.Close()
	var none map[string]any
	_ = json.NewDecoder(empty.Body).Decode(&none)
	if none["total"] != float64(0) {
		t.Fatalf("unknown archive payload = %v", none)
	}
}

func TestDebugRoutesRequireToken(t *testing.T) {
	closed := newTestEnv(t, config.Config{}, nil)
	res := closed.get(t, "/sessions", "")
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("debug disabled status = %d, want 404", res.StatusCode)
	}

	env := newTestEnv(t, config.Config{DebugToken: "s3cret"}, nil)
	_, first := env.postJSON(t, "/chat", map[string]any{"message": "hi"})
	id := first["session_id"].(string)

	res = env.get(t, "/history/"+id, "wrong")
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", res.StatusCode)
	}

	res = env.get(t, "/history/"+id, "s3cret")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want 200", res.StatusCode)
	}
	var hist map[string]any
	if err := json.NewDecoder(res.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if hist["total_messages"] != float64(2) || hist["window_size"] != float64(20) {
		t.Fatalf("history payload = %v", hist)
	}

	missing := env.get(t, "/history/nope", "s3cret")
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown history status = %d, want 404", missing.StatusCode)
	}

	list := env.get(t, "/sessions", "s3cret")
	defer list.Body.Close()
	var sessions map[string]any
	_ = json.NewDecoder(list.Body).Decode(&sessions)
	if sessions["total_sessions"] != float64(1) {
		t.Fatalf("sessions payload = %v", sessions)
	}

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/cleanup-sessions", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	cleanup, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /cleanup-sessions error = %v", err)
	}
	defer cleanup.Body.Close()
	var swept map[string]any
	_ = json.NewDecoder(cleanup.Body).Decode(&swept)
	if swept["sessions_removed"] != float64(0) || swept["sessions_remaining"] != float64(1) {
		t.Fatalf("cleanup payload = %v", swept)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, config.Config{CompletionProvider: "anthropic"}, nil)

	health := env.get(t, "/healthz", "")
	defer health.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(health.Body).Decode(&payload)
	if payload["credential_configured"] != false || payload["model"] != "claude-haiku-4-5-20251001" {
		t.Fatalf("healthz payload = %v", payload)
	}

	ready := env.get(t, "/readyz", "")
	ready.Body.Close()
	if ready.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503 without credential", ready.StatusCode)
	}

	for _, path := range []string{"/metrics", "/v1/perf/latency"} {
		res := env.get(t, path, "")
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, res.StatusCode)
		}
	}
}

func TestCORSAllowList(t *testing.T) {
	env := newTestEnv(t, config.Config{AllowedOrigins: []string{"https://app.example"}}, nil)

	for origin, want := range map[string]string{
		"https://app.example":  "https://app.example",
		"https://evil.example": "",
	} {
		req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+"/chat", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("preflight error = %v", err)
		}
		res.Body.Close()
		if got := res.Header.Get("Access-Control-Allow-Origin"); got != want {
			t.Fatalf("origin %s: Access-Control-Allow-Origin = %q, want %q", origin, got, want)
		}
	}
}

func TestChatWebSocket(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/chat/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	send := func(v any) {
		if err := conn.WriteJSON(v); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}
	}
	read := func() map[string]any {
		var out map[string]any
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return out
	}

	send(protocol.ChatMessage{Type: protocol.TypeChatMessage, Message: "olá", ClientID: "c1"})
	first := read()
	if first["type"] != string(protocol.TypeAssistantMessage) || first["client_id"] != "c1" {
		t.Fatalf("first frame = %v", first)
	}
	id, _ := first["session_id"].(string)

	send(protocol.ChatMessage{Type: protocol.TypeChatMessage, Message: "tudo bem?"})
	second := read()
	if second["session_id"] != id || second["history_size"] != float64(4) {
		t.Fatalf("second frame = %v, want same session with 4 turns", second)
	}

	send(protocol.ChatMessage{Type: protocol.TypeChatMessage, Message: " "})
	if bad := read(); bad["type"] != string(protocol.TypeErrorEvent) || bad["code"] != "invalid_input" {
		t.Fatalf("blank frame reply = %v", bad)
	}

	send(map[string]string{"type": "wat"})
	if bad := read(); bad["code"] != "invalid_client_message" {
		t.Fatalf("unknown frame reply = %v", bad)
	}

	send(protocol.ClearSession{Type: protocol.TypeClearSession})
	if cleared := read(); cleared["type"] != string(protocol.TypeSessionCleared) || cleared["session_id"] != id {
		t.Fatalf("clear frame reply = %v", cleared)
	}
	snap, err := env.sessions.History(id)
	if err != nil || len(snap.Turns) != 0 {
		t.Fatalf("session not cleared: %+v err=%v", snap, err)
	}
}
