package apigateway

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmai/gateway/config"
)

func TestPredict_EchoRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	payload := `{"inputs":"aspirin","parameters":{"top_k":3}}`
	resp, body := env.do(t, http.MethodPost, "/api/model/predict", payload)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true,"result":`+payload+`}`, string(body))
}

func TestPredict_ForwardsToken(t *testing.T) {
	var auth string
	env := newTestEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}, func(cfg *config.Config) {
		cfg.Model.APIKey = "hf_secret"
	})

	resp, body := env.do(t, http.MethodPost, "/api/model/predict", `{"inputs":"x"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true,"result":[]}`, string(body))
	assert.Equal(t, "Bearer hf_secret", auth)
}

func TestPredict_NonJSONResult(t *testing.T) {
	env := newTestEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	})

	resp, body := env.do(t, http.MethodPost, "/api/model/predict", `{"inputs":"x"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true,"result":"plain text"}`, string(body))
}

func TestPredict_EmptyBody(t *testing.T) {
	env := newTestEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	})

	resp, body := env.do(t, http.MethodPost, "/api/model/predict", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"success":false,"error":"request body is required"}`, string(body))
}

func TestPredict_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, body := env.do(t, http.MethodPost, "/api/model/predict", `{"inputs":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.JSONEq(t, `{"success":false,"error":"model endpoint is not configured"}`, string(body))
}

func TestPredict_UpstreamStatus(t *testing.T) {
	env := newTestEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Model is loading","estimated_time":20}`))
	})

	resp, body := env.do(t, http.MethodPost, "/api/model/predict", `{"inputs":"x"}`)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	out := decode(t, body)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "inference endpoint returned 503 Service Unavailable", out["error"])
	assert.Equal(t, map[string]any{"error": "Model is loading", "estimated_time": float64(20)}, out["details"])
}

func TestPredict_Refused(t *testing.T) {
	env := newTestEnv(t, nil, nil, func(cfg *config.Config) {
		cfg.Model.URL = closedURL(t)
	})

	resp, body := env.do(t, http.MethodPost, "/api/model/predict", `{"inputs":"x"}`)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	out := decode(t, body)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Inference endpoint is unreachable", out["error"])
	assert.Contains(t, out["message"], "HF_MODEL_URL")
}

func TestPredict_Timeout(t *testing.T) {
	env := newTestEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, func(cfg *config.Config) {
		cfg.Model.Timeout = 50 * time.Millisecond
	})

	resp, body := env.do(t, http.MethodPost, "/api/model/predict", `{"inputs":"x"}`)
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	out := decode(t, body)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Inference endpoint timed out", out["error"])
}
