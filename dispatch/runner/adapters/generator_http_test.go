package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(endpoint string) *GeneratorHTTP {
	return NewGeneratorHTTP(GeneratorHTTPConfig{
		Endpoint: endpoint,
		APIKey:   "test-key",
		Timeout:  5 * time.Second,
		RetryMax: 0,
	})
}

func TestGeneratorHTTP_Success(t *testing.T) {
	var gotAuth string
	var gotBody generateRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(generateResponse{
			Success: true,
			Ref:     "artifact://out/1",
			Data:    json.RawMessage(`{"text": "hello"}`),
		})
	}))
	defer server.Close()

	g := newTestGenerator(server.URL)
	res, err := g.Generate(context.Background(), json.RawMessage(`{"prompt": "hi"}`), "gen-fast-v2")
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gen-fast-v2", gotBody.Model)
	assert.Equal(t, "artifact://out/1", res.Ref)
	assert.JSONEq(t, `{"text": "hello"}`, string(res.Output))
}

func TestGeneratorHTTP_Non2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded upstream", http.StatusForbidden)
	}))
	defer server.Close()

	g := newTestGenerator(server.URL)
	_, err := g.Generate(context.Background(), json.RawMessage(`{"prompt": "hi"}`), "gen-fast-v2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestGeneratorHTTP_APIRejectionIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Success: false, Error: "content policy"})
	}))
	defer server.Close()

	g := newTestGenerator(server.URL)
	_, err := g.Generate(context.Background(), json.RawMessage(`{"prompt": "hi"}`), "gen-fast-v2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content policy")
}

func TestGeneratorHTTP_MalformedResponseIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	g := newTestGenerator(server.URL)
	_, err := g.Generate(context.Background(), json.RawMessage(`{"prompt": "hi"}`), "gen-fast-v2")
	assert.Error(t, err)
}
