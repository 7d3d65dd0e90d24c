package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbase/stockpulse/pkg/types"
)

func stubServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/analysis/start":
			json.NewEncoder(w).Encode(StartResponse{AnalysisID: "t1", Status: types.StatusPending})
		case "/analysis/start/batch":
			json.NewEncoder(w).Encode(map[string]any{
				"results": []BatchResult{
					{AnalysisID: "t1", Status: types.StatusPending},
					{Error: "invalid research_depth: must be between 1 and 5"},
				},
			})
		case "/analysis/t1/pause", "/analysis/t1/resume", "/analysis/t1/stop":
			json.NewEncoder(w).Encode(ControlResponse{AnalysisID: "t1", Success: true})
		case "/analysis/t1/status":
			json.NewEncoder(w).Encode(types.Task{TaskID: "t1", Status: types.StatusRunning})
		case "/analysis/missing/status":
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "task not found: missing"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &paths
}

func TestClientRoundTrips(t *testing.T) {
	srv, paths := stubServer(t)
	c := NewClient(srv.URL)
	ctx := context.Background()

	start, err := c.Start(ctx, types.AnalysisRequest{StockSymbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "t1", start.AnalysisID)

	batch, err := c.StartBatch(ctx, []types.AnalysisRequest{{}, {}})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Empty(t, batch[0].Error)
	assert.NotEmpty(t, batch[1].Error)

	for _, call := range []func(context.Context, string) (*ControlResponse, error){c.Pause, c.Resume, c.Stop} {
		resp, err := call(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, resp.Success)
	}

	task, err := c.Status(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, task.Status)

	assert.Contains(t, *paths, "POST /analysis/start")
	assert.Contains(t, *paths, "POST /analysis/t1/stop")
	assert.Contains(t, *paths, "GET /analysis/t1/status")
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv, _ := stubServer(t)
	c := NewClient(srv.URL)

	_, err := c.Status(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task not found")
	assert.Contains(t, err.Error(), "404")
}
