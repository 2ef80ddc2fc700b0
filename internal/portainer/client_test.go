package portainer_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlhmz/dockermc-dashboard/internal/config"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/portainer"
)

func newTestClient(t *testing.T, handler http.Handler, envID int) *portainer.Client {
	t.Helper()
	return newTestClientWithConfig(t, handler, config.PortainerConfig{EnvironmentID: envID})
}

func newTestClientWithConfig(t *testing.T, handler http.Handler, cfg config.PortainerConfig) *portainer.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.URL = srv.URL
	cfg.APIKey = "secret-key"
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	c, err := portainer.NewClient(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNewClient_RejectsBadScheme(t *testing.T) {
	_, err := portainer.NewClient(config.PortainerConfig{URL: "ftp://portainer"}, slog.Default())
	assert.Error(t, err)
}

func TestResolveEnvironment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/endpoints/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "7" {
			writeJSON(w, http.StatusOK, map[string]any{"Id": 7, "Name": "edge", "Status": 1})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Unable to find an environment"})
	})
	mux.HandleFunc("GET /api/endpoints", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-key", r.Header.Get("X-API-Key"))
		writeJSON(w, http.StatusOK, []map[string]any{
			{"Id": 2, "Name": "down", "Status": 2},
			{"Id": 3, "Name": "local", "Status": 1},
		})
	})
	c := newTestClient(t, mux, 0)
	ctx := context.Background()

	id, err := c.ResolveEnvironment(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, id)

	id, err = c.ResolveEnvironment(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, 3, id, "falls back to the first environment that is up")

	id, err = c.ResolveEnvironment(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, id)
}

func TestResolveEnvironment_NoEnvironments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/endpoints", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{})
	})
	c := newTestClient(t, mux, 0)

	_, err := c.ResolveEnvironment(context.Background(), 0)
	assert.Error(t, err)
}

func TestStacks(t *testing.T) {
	var updated map[string]any
	deleted := false

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stacks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"Id": 10, "Name": "mc-abc123", "EndpointId": 1, "Status": 1},
			{"Id": 11, "Name": "mc-other", "EndpointId": 2, "Status": 1},
		})
	})
	mux.HandleFunc("POST /api/stacks/create/standalone/string", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("endpointId"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "mc-new", body["name"])
		writeJSON(w, http.StatusOK, map[string]any{"Id": 12, "Name": body["name"], "EndpointId": 1, "Status": 1})
	})
	mux.HandleFunc("GET /api/stacks/{id}/file", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"StackFileContent": "services: {}\n"})
	})
	mux.HandleFunc("PUT /api/stacks/{id}", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&updated))
		writeJSON(w, http.StatusOK, map[string]any{"Id": 10})
	})
	mux.HandleFunc("DELETE /api/stacks/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "10" {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "stack not found"})
			return
		}
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux, 1)
	ctx := context.Background()

	stacks, err := c.ListStacks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stacks, 1)

	stack, err := c.FindStackByName(ctx, "mc-abc123", 1)
	require.NoError(t, err)
	require.NotNil(t, stack)
	assert.Equal(t, 10, stack.ID)

	missing, err := c.FindStackByName(ctx, "mc-other", 1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	created, err := c.DeployStack(ctx, 1, "mc-new", []byte("services: {}\n"), map[string]string{"EULA": "TRUE"})
	require.NoError(t, err)
	assert.Equal(t, 12, created.ID)

	require.NoError(t, c.RedeployStack(ctx, 10, 1))
	assert.Equal(t, true, updated["pullImage"])
	assert.Equal(t, "services: {}\n", updated["stackFileContent"])

	require.NoError(t, c.DeleteStack(ctx, 10, 1))
	assert.True(t, deleted)
	assert.ErrorIs(t, c.DeleteStack(ctx, 99, 1), portainer.ErrStackNotFound)
}

func TestAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stacks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "Access denied", "details": "bad key"})
	})
	c := newTestClient(t, mux, 1)

	_, err := c.ListStacks(context.Background(), 1)
	var apiErr *portainer.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "Access denied")
}

// dockerProxy imitates Portainer forwarding the Docker Engine API of environment 1
func dockerProxy(t *testing.T, calls *[]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "/api/endpoints/1/docker"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "secret-key", r.Header.Get("X-API-Key"))

		path := strings.TrimPrefix(r.URL.Path, prefix)
		if path == "/_ping" {
			w.Header().Set("Api-Version", "1.45")
			w.Write([]byte("OK"))
			return
		}
		// drop the negotiated version segment
		if i := strings.Index(path[1:], "/"); strings.HasPrefix(path, "/v") && i > 0 {
			path = path[i+1:]
		}
		*calls = append(*calls, r.Method+" "+path)

		switch {
		case r.Method == http.MethodGet && path == "/containers/json":
			writeJSON(w, http.StatusOK, []map[string]any{
				{"Id": "c1", "Names": []string{"/mc-abc123"}, "State": "running", "Status": "Up 2 minutes"},
				{"Id": "c2", "Names": []string{"/mc-abc1234"}, "State": "exited", "Status": "Exited (0)"},
			})
		case r.Method == http.MethodPost && path == "/containers/c1/stop":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && path == "/containers/gone/start":
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "No such container: gone"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "unexpected " + path})
		}
	})
}

func TestContainers(t *testing.T) {
	var calls []string
	c := newTestClient(t, dockerProxy(t, &calls), 1)
	ctx := context.Background()

	containers, err := c.ListContainers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, containers, 2)
	assert.Equal(t, []string{"mc-abc123"}, containers[0].Names)
	assert.Equal(t, models.StateRunning, containers[0].State)
	assert.Equal(t, models.StateExited, containers[1].State)

	found, err := c.FindContainerByName(ctx, "mc-abc123", 1)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "c1", found.ID, "prefix matches are not returned")

	timeout := 10
	require.NoError(t, c.StopContainer(ctx, "c1", 1, &timeout))
	assert.Contains(t, calls, "POST /containers/c1/stop")

	err = c.StartContainer(ctx, "gone", 1)
	assert.ErrorIs(t, err, portainer.ErrContainerNotFound)
}

func TestPullImage_HungRegistryTimesOut(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/endpoints/1/docker")
		switch {
		case path == "/_ping":
			w.Header().Set("Api-Version", "1.45")
			w.Write([]byte("OK"))
		case strings.HasSuffix(path, "/json"):
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "No such image"})
		case strings.HasSuffix(path, "/images/create"):
			// progress starts, then the registry stalls
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"Pulling from itzg/minecraft-server"}` + "\n"))
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "unexpected " + path})
		}
	})
	c := newTestClientWithConfig(t, handler, config.PortainerConfig{
		EnvironmentID: 1,
		PullTimeout:   200 * time.Millisecond,
	})

	start := time.Now()
	err := c.PullImage(context.Background(), 1, "itzg/minecraft-server:latest")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}
