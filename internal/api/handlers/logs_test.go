package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

// consoleServers feeds the console from a pipe and echoes commands
type consoleServers struct {
	ServerManager
	logs      *io.PipeReader
	streamErr error
	commands  chan string
}

func (c *consoleServers) StreamServerLogs(context.Context, string, string, string) (io.ReadCloser, error) {
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	return c.logs, nil
}

func (c *consoleServers) ExecuteCommand(_ context.Context, _, _, command string) (string, error) {
	c.commands <- command
	if command == "stop" {
		return "", apperror.StateConflict("execute command", models.StateExited)
	}
	return "ran " + command, nil
}

var _ ServerManager = (*consoleServers)(nil)

func newConsoleServer(t *testing.T, servers ServerManager) *httptest.Server {
	t.Helper()
	h := NewLogsHandler(servers, []string{"*"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/servers/{id}/console", h.StreamLogs)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) ResponseMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg ResponseMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestConsoleStreamsLogsAndRunsCommands(t *testing.T) {
	pr, pw := io.Pipe()
	servers := &consoleServers{logs: pr, commands: make(chan string, 4)}
	srv := newConsoleServer(t, servers)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/servers/abc123/console"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	go pw.Write([]byte("[Server thread/INFO]: Done (3.2s)!\n\n"))
	msg := readMessage(t, ctx, conn)
	assert.Equal(t, ResponseMessage{Type: "log", Content: "[Server thread/INFO]: Done (3.2s)!"}, msg)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"command","command":"list"}`)))
	assert.Equal(t, "list", <-servers.commands)
	msg = readMessage(t, ctx, conn)
	assert.Equal(t, ResponseMessage{Type: "command_result", Content: "ran list"}, msg)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"command","command":"stop"}`)))
	<-servers.commands
	msg = readMessage(t, ctx, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Content, "Failed to execute command")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`not json`)))
	msg = readMessage(t, ctx, conn)
	assert.Equal(t, ResponseMessage{Type: "error", Content: "Invalid message format"}, msg)

	pw.Close()
}

func TestConsoleRejectsUnknownServerBeforeUpgrade(t *testing.T) {
	servers := &consoleServers{streamErr: apperror.NotFound(apperror.ResourceServer, "server nope not found")}
	srv := newConsoleServer(t, servers)

	resp, err := http.Get(srv.URL + "/api/v1/servers/nope/console")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not_found", body["kind"])
	assert.Equal(t, "server", body["resource"])
}

func TestRespondErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(rec, errors.New("sql: database is closed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error","kind":"internal"}`, rec.Body.String())
}
