package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaFlavor(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		io.WriteString(w, `{"message":{"role":"assistant","content":"  not spam  "}}`)
	}))
	defer srv.Close()

	// A base ending in /api/chat selects the local protocol.
	c := NewClient(srv.URL+"/api/chat", "llama3", "unused-key", 5*time.Second)
	out, err := c.OneShot(context.Background(), "is this spam?", nil)
	require.NoError(t, err)
	assert.Equal(t, "not spam", out)

	assert.Equal(t, "llama3", gotBody["model"])
	assert.Equal(t, false, gotBody["stream"])
	assert.Equal(t, "5m", gotBody["keep_alive"])
	msgs := gotBody["messages"].([]interface{})
	msg := msgs[0].(map[string]interface{})
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "is this spam?", msg["content"])
	// Local protocol never forwards the API key.
	assert.Empty(t, gotAuth)
}

func TestOpenAIFlavor(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"SPAM"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "gpt-4o-mini", "sk-test", 5*time.Second)
	out, err := c.OneShot(context.Background(), "classify this", nil)
	require.NoError(t, err)
	assert.Equal(t, "SPAM", out)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.NotContains(t, gotBody, "keep_alive")
}

func TestOpenAIBaseEndingInV1(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1", "m", "", 5*time.Second)
	_, err := c.OneShot(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "/v1/chat/completions", gotPath)
}

func TestExtraJSONOverlay(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "base-model", "", 5*time.Second)
	extra := json.RawMessage(`{"temperature":0.1,"model":"override-model"}`)
	_, err := c.OneShot(context.Background(), "x", extra)
	require.NoError(t, err)

	assert.Equal(t, 0.1, gotBody["temperature"])
	// Top-level overlay wins over the configured model.
	assert.Equal(t, "override-model", gotBody["model"])
}

func TestErrorBodyTruncatedTo2000(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, strings.Repeat("x", 3000))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", "", 5*time.Second)
	_, err := c.OneShot(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
	// 2000 bytes of body plus the prefix, nothing more.
	assert.LessOrEqual(t, len(err.Error()), 2000+len("HTTP 500: "))
}

func TestEmptyOutputIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":"   "}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", "", 5*time.Second)
	_, err := c.OneShot(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty model output")
}

func TestFlavorDetection(t *testing.T) {
	tests := []struct {
		base   string
		ollama bool
	}{
		{"http://localhost:11434", true},
		{"http://ollama.internal:8080", true},
		{"http://models.internal/api/chat", true},
		{"https://api.openai.com", false},
		{"https://api.openai.com/v1", false},
	}
	for _, tt := range tests {
		c := &Client{baseURL: tt.base}
		assert.Equal(t, tt.ollama, c.looksLikeOllama(), tt.base)
	}
}
