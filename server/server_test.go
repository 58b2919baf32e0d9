package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiware/capi-orchestrator/agent"
	"github.com/capiware/capi-orchestrator/agents"
	"github.com/capiware/capi-orchestrator/event"
	"github.com/capiware/capi-orchestrator/gateway"
	"github.com/capiware/capi-orchestrator/graph/checkpoint/inmemory"
	"github.com/capiware/capi-orchestrator/intent"
	"github.com/capiware/capi-orchestrator/orchestrator"
	"github.com/capiware/capi-orchestrator/session"
)

func newTestServer(t *testing.T) (*Server, *gateway.Gateway) {
	t.Helper()
	registry, err := agent.NewRegistry(agent.WithDeps(agent.Deps{WorkspaceRoot: t.TempDir()}))
	require.NoError(t, err)
	agents.RegisterBuiltins(registry)

	rt, err := orchestrator.NewRuntime(registry, intent.NewHeuristicService(),
		orchestrator.WithCheckpointSaver(inmemory.NewSaver()),
		orchestrator.WithSessionStore(session.NewStore(t.TempDir())),
	)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	gw := gateway.New()
	return New(rt, gw), gw
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestQueryEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postJSON(t, s.Handler(), "/api/query", map[string]any{
		"session_id": "sess-1",
		"user_id":    "user-1",
		"query":      "hola",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["response_type"])
	assert.NotEmpty(t, body["message"])
	assert.NotEmpty(t, body["trace_id"])
}

func TestQueryEndpointValidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postJSON(t, s.Handler(), "/api/query", map[string]any{"query": "hola"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResumeWithoutInterruptReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postJSON(t, s.Handler(), "/api/resume", map[string]any{
		"session_id": "never-seen",
		"decision":   true,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryAndResumeFlow(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postJSON(t, s.Handler(), "/api/query", map[string]any{
		"session_id": "sess-flow",
		"user_id":    "user-1",
		"query":      "saldo de la sucursal 23",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "notice", body["response_type"])
	meta := body["meta"].(map[string]any)
	require.Equal(t, true, meta["requires_human"])

	rec = postJSON(t, s.Handler(), "/api/resume", map[string]any{
		"session_id": "sess-flow",
		"decision":   map[string]any{"approved": true},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	meta = body["meta"].(map[string]any)
	assert.Equal(t, "completed", meta["status"])
}

func TestSessionEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.Handler()

	rec := postJSON(t, handler, "/api/query", map[string]any{
		"session_id": "sess-api",
		"user_id":    "user-1",
		"query":      "hola",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, handler, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sess-api")

	rec = get(t, handler, "/api/sessions/sess-api/history")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody(t, rec)["history"].([]any)
	assert.Len(t, history, 2)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/sess-api", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, handler, "/api/sessions/sess-api/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["history"])
}

func TestRegistryEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.Handler()

	rec := get(t, handler, "/api/registry/agents")
	require.Equal(t, http.StatusOK, rec.Code)
	enabled := decodeBody(t, rec)["enabled_agents"].([]any)
	assert.Len(t, enabled, 9)

	req := httptest.NewRequest(http.MethodDelete, "/api/registry/agents/capi_desktop", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "capi_desktop")

	req = httptest.NewRequest(http.MethodDelete, "/api/registry/agents/no_such_agent", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, handler, "/api/registry/agents/capi_desktop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "capi_desktop")
}

func TestGraphStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Handler(), "/api/graph/status")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["version"])
	assert.NotEmpty(t, body["nodes"])
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestWebSocketStream(t *testing.T) {
	s, gw := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sess-ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return gw.SubscriberCount("sess-ws") == 1
	}, time.Second, 5*time.Millisecond)

	gw.Emit("sess-ws", event.NewNodeTransition("sess-ws", "t1", "router", "capi_gus", "advance"))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var evt map[string]any
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, string(event.TypeNodeTransition), evt["type"].(string))
	assert.Equal(t, "capi_gus", evt["to_node"])
}
