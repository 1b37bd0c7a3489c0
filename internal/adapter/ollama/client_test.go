package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPrompt = `Three keywords for: "{{TEXT}}"`

func newTestClient(t *testing.T, model string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, model, testPrompt, zap.NewNop())
}

func TestCheckModel(t *testing.T) {
	client := newTestClient(t, "gemma2:2b", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models": [{"name": "gemma2:2b"}, {"name": "mistral:7b"}]}`))
	})

	require.NoError(t, client.CheckModel(context.Background()))
}

func TestCheckModelMissing(t *testing.T) {
	client := newTestClient(t, "gemma2:2b", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models": [{"name": "mistral:7b"}]}`))
	})

	err := client.CheckModel(context.Background())
	require.Error(t, err)

	var notFound *ErrModelNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "gemma2:2b", notFound.Model)
}

func TestCheckModelPOSTFallback(t *testing.T) {
	client := newTestClient(t, "gemma2:2b", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Write([]byte(`{"models": [{"name": "gemma2:2b"}]}`))
	})

	require.NoError(t, client.CheckModel(context.Background()))
}

func TestGenerate(t *testing.T) {
	client := newTestClient(t, "gemma2:2b", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gemma2:2b", req.Model)
		assert.Equal(t, `Three keywords for: "un texte"`, req.Prompt)
		assert.False(t, req.Stream)

		w.Write([]byte(`{"response": "chat;chien;oiseau"}`))
	})

	out, err := client.Generate(context.Background(), "un texte")
	require.NoError(t, err)
	assert.Equal(t, "chat;chien;oiseau", out)
}

func TestGenerateChoicesFallback(t *testing.T) {
	client := newTestClient(t, "gemma2:2b", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [{"text": "a;b;c"}]}`))
	})

	out, err := client.Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "a;b;c", out)
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	calls := 0
	client := newTestClient(t, "gemma2:2b", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"response": "ok"}`))
	})

	out, err := client.Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
}

func TestGenerateNonJSONDegradesToEmpty(t *testing.T) {
	client := newTestClient(t, "gemma2:2b", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	})

	out, err := client.Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, out)
}
