package agentgateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmai/gateway/config"
	"github.com/pharmai/gateway/monitor"
	"github.com/pharmai/gateway/upstream"
)

func newTestGateway(t *testing.T, h http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return New(config.AgentConfig{
		BackendURL:   srv.URL,
		APIKey:       "agent-key",
		RunTimeout:   time.Second,
		ShortTimeout: 200 * time.Millisecond,
	}, monitor.New())
}

func TestRun_ForwardsQueryAndSession(t *testing.T) {
	var got map[string]any
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/run", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer agent-key", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(b, &got))
		_, _ = w.Write([]byte(`{"session_id":"s1","decision_brief":"ok"}`))
	})

	sid := "s1"
	resp, err := g.Run(context.Background(), RunRequest{SessionID: &sid, Query: "Drug X for Y"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"session_id":"s1","decision_brief":"ok"}`, string(resp.Body))
	assert.Equal(t, map[string]any{"session_id": "s1", "query": "Drug X for Y"}, got)
}

func TestRun_NilSessionIsNull(t *testing.T) {
	var raw string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		raw = string(b)
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := g.Run(context.Background(), RunRequest{Query: "q"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":null,"query":"q"}`, raw)
}

func TestRunTyped(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"session_id":"s9","decision_brief":"brief","confidence_score":0.8,"citations":["PMID:1"],"metadata":{"has_prior_messages":true}}`))
	})

	out, err := g.RunTyped(context.Background(), RunRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "s9", out.SessionID)
	assert.Equal(t, "brief", out.DecisionBrief)
	require.NotNil(t, out.ConfidenceScore)
	assert.InDelta(t, 0.8, *out.ConfidenceScore, 1e-9)
	assert.Equal(t, []string{"PMID:1"}, out.Citations)
	assert.Equal(t, true, out.Metadata["has_prior_messages"])
}

func TestHistoryAndClear_EscapeSessionID(t *testing.T) {
	var paths []string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := g.History(context.Background(), "a b/c")
	require.NoError(t, err)
	_, err = g.ClearSession(context.Background(), "a b/c")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"GET /session/a%20b%2Fc/history",
		"DELETE /session/a%20b%2Fc",
	}, paths)
}

func TestHealth_UsesShortTimeout(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	start := time.Now()
	_, err := g.Health(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	e, ok := upstream.AsError(err)
	require.True(t, ok)
	assert.Equal(t, upstream.KindTimeout, e.Kind)
}

func TestDetail(t *testing.T) {
	cases := []struct {
		name string
		body string
		want any
	}{
		{"fastapi detail", `{"detail":"Session not found"}`, "Session not found"},
		{"structured detail", `{"detail":[{"loc":["body","query"]}]}`, []any{map[string]any{"loc": []any{"body", "query"}}}},
		{"no detail", `{"error":"x"}`, map[string]any{"error": "x"}},
		{"plain text", `Internal Server Error`, "Internal Server Error"},
		{"empty", ``, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Detail([]byte(tc.body)))
		})
	}
}

func TestSessionHistory(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"session_id":"s1","message_count":2,"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`))
	})

	h, err := g.SessionHistory(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", h.SessionID)
	assert.Equal(t, 2, h.MessageCount)
	assert.Equal(t, []Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}, h.Messages)
}

func TestSessionHistory_UpstreamNotFound(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Session not found"}`))
	})

	_, err := g.SessionHistory(context.Background(), "missing")
	e, ok := upstream.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, e.StatusCode)
	assert.Equal(t, "Session not found", Detail(e.Body))
}
