package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/tenantsearch/pkg/apperr"
)

func TestHTTPClientCallReturnsResponseText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "split_after: 1, 3", req.Prompt[:len("split_after: 1, 3")])
		json.NewEncoder(w).Encode(generateResponse{Response: "split_after: 1, 3"})
	}))
	defer srv.Close()

	c := NewHTTPClient(&Config{APIURL: srv.URL, APIPath: "/api/generate", Model: "m", Timeout: 5 * time.Second, MaxRetries: 0})
	out, err := c.ChunkSplit(context.Background(), "split_after: 1, 3")
	require.NoError(t, err)
	assert.Equal(t, "split_after: 1, 3", out)
}

func TestHTTPClientRetriesOnFailureThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "ok"})
	}))
	defer srv.Close()

	c := NewHTTPClient(&Config{APIURL: srv.URL, APIPath: "/", Model: "m", Timeout: 5 * time.Second, MaxRetries: 3})
	out, err := c.GenerateAnswer(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, attempts)
}

func TestHTTPClientExhaustsRetriesAndReturnsDependencyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(&Config{APIURL: srv.URL, APIPath: "/", Model: "m", Timeout: 5 * time.Second, MaxRetries: 1})
	_, err := c.EnhanceQuery(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrDependency)
}

func TestHTTPClientRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewHTTPClient(&Config{APIURL: srv.URL, APIPath: "/", Model: "m", Timeout: 5 * time.Second, MaxRetries: 3})
	_, err := c.SelectContext(ctx, "q")
	require.Error(t, err)
}
