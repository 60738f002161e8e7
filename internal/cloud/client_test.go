package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/mcp-memory/internal/memory"
)

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(srv.URL, "test-key")
	require.NoError(t, err)
	return c
}

func TestNewHTTPClientValidation(t *testing.T) {
	_, err := NewHTTPClient("", "key")
	assert.Error(t, err)

	_, err = NewHTTPClient("https://api.example.com", "")
	assert.Error(t, err)
}

func TestAddMemorySendsAuthAndBody(t *testing.T) {
	var gotAuth string
	var gotBody addRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode([]memory.Memory{{ID: "m1", Content: "hello", UserID: "u1"}})
	}))

	ms, err := c.AddMemory(context.Background(), "u1", memory.WriteInput{Content: "hello"}, map[string]any{"k": "v"})
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "m1", ms[0].ID)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "u1", gotBody.UserID)
	assert.Equal(t, "hello", gotBody.Content)
}

func TestSearchNormalizesResponseShapes(t *testing.T) {
	shapes := []struct {
		name string
		body string
	}{
		{name: "bare array", body: `[{"id":"m1","content":"a"}]`},
		{name: "results object", body: `{"results":[{"id":"m1","content":"a"}]}`},
		{name: "memories object", body: `{"memories":[{"id":"m1","content":"a"}]}`},
	}

	for _, tt := range shapes {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			ms, err := c.Search(context.Background(), "u1", "a", 10)
			require.NoError(t, err)
			require.Len(t, ms, 1)
			assert.Equal(t, "m1", ms[0].ID)
		})
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))

	_, err := c.ListAll(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))

	_, err := c.Search(context.Background(), "u1", "q", 10)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindClient, apiErr.Kind)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.False(t, apiErr.Retryable())
	assert.Equal(t, int32(1), calls.Load())
}

func TestAuthErrorsAreFatal(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))

	_, err := c.ListAll(context.Background(), "u1", 10)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindAuth, apiErr.Kind)
	assert.False(t, apiErr.Retryable())
}

func TestGetNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := c.Get(context.Background(), "u1", "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteMissingIsNotAnError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	assert.NoError(t, c.Delete(context.Background(), "u1", "missing"))
}

func TestCircuitBreakerOpensOnPersistentFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))

	// Each call makes several attempts; a couple of calls push the breaker
	// past its consecutive-failure threshold.
	for i := 0; i < 3; i++ {
		_, _ = c.ListAll(context.Background(), "u1", 10)
	}

	assert.False(t, c.Healthy(context.Background()))
}

func TestNormalizeMemories(t *testing.T) {
	ms, err := normalizeMemories(json.RawMessage(``))
	require.NoError(t, err)
	assert.Nil(t, ms)

	_, err = normalizeMemories(json.RawMessage(`"nonsense"`))
	assert.Error(t, err)
}
