package toolpool

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/albertlabs/composer/config"
	"github.com/albertlabs/composer/types"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewWithHTTPClient(config.ToolPoolConfig{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	}, srv.Client(), zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNew_RejectsEmptyBaseURL(t *testing.T) {
	_, err := New(config.ToolPoolConfig{}, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestSearchTools(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/tools/search", r.URL.Path)
		assert.Equal(t, "convert currency", r.URL.Query().Get("query"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"tools": []types.ToolDescriptor{
				{Ref: types.ToolRef{ServerID: "fx", ToolID: "convert"}, Name: "convert"},
			},
		})
	}))

	tools, err := c.SearchTools(context.Background(), "convert currency", 3)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "fx/convert", tools[0].Ref.String())
}

func TestExecuteTool(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/tools/fx/convert/execute", r.URL.Path)

		var body struct {
			Params map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "USD", body.Params["from"])

		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"amount": 92.5},
		})
	}))

	result, err := c.ExecuteTool(context.Background(),
		types.ToolRef{ServerID: "fx", ToolID: "convert"},
		map[string]any{"from": "USD"})
	require.NoError(t, err)
	assert.Equal(t, 92.5, result["amount"])
}

func TestExecuteTool_RejectsIncompleteRef(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	_, err := c.ExecuteTool(context.Background(), types.ToolRef{ServerID: "fx"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestExecuteTool_RemoteErrorEnvelope(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":      "VALIDATION",
				"message":   "missing parameter from",
				"retryable": false,
			},
		})
	}))

	_, err := c.ExecuteTool(context.Background(),
		types.ToolRef{ServerID: "fx", ToolID: "convert"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "missing parameter from")
	assert.False(t, types.IsRetryable(err))
}

func TestExecuteTool_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"ok": true}})
	}))

	result, err := c.ExecuteTool(context.Background(),
		types.ToolRef{ServerID: "fx", ToolID: "convert"}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteTool_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	_, err := c.ExecuteTool(context.Background(),
		types.ToolRef{ServerID: "fx", ToolID: "convert"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteTool_DeadlineMapsToTimeout(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context; otherwise Cleanup's srv.Close hangs.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.ExecuteTool(ctx, types.ToolRef{ServerID: "fx", ToolID: "convert"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
}

func TestPublishTool(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/tools/composer/comp-1", r.URL.Path)

		var desc types.ToolDescriptor
		require.NoError(t, json.NewDecoder(r.Body).Decode(&desc))
		assert.Equal(t, "greet city", desc.Name)
		w.WriteHeader(http.StatusCreated)
	}))

	err := c.PublishTool(context.Background(), types.ToolDescriptor{
		Ref:  types.CompositionToolRef("comp-1"),
		Name: "greet city",
	})
	require.NoError(t, err)
}

func TestUnpublishTool_MissingEntryIsNotAnError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))

	err := c.UnpublishTool(context.Background(), types.CompositionToolRef("comp-gone"))
	require.NoError(t, err)
}

func TestPing(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.Ping(context.Background()))
}
