package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/coder/websocket"
)

// LogsHandler handles WebSocket connections for streaming server logs
type LogsHandler struct {
	servers        ServerManager
	originPatterns []string
	logger         *slog.Logger
}

// NewLogsHandler creates a new LogsHandler. originPatterns are the allowed
// browser origins; "*" accepts any origin.
func NewLogsHandler(servers ServerManager, originPatterns []string, logger *slog.Logger) *LogsHandler {
	return &LogsHandler{
		servers:        servers,
		originPatterns: originPatterns,
		logger:         logger,
	}
}

// CommandMessage represents a command sent from the client
type CommandMessage struct {
	Type    string `json:"type"`    // "command"
	Command string `json:"command"` // The Minecraft command to execute
}

// ResponseMessage represents a response sent to the client
type ResponseMessage struct {
	Type    string `json:"type"`    // "log", "command_result", "error"
	Content string `json:"content"` // The message content
}

// StreamLogs handles GET /api/v1/servers/{id}/console. It follows the server
// output and executes commands sent by the client.
func (h *LogsHandler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("id")
	user := owner(r)

	tail := r.URL.Query().Get("tail")
	if tail == "" {
		tail = "100"
	}

	h.logger.InfoContext(r.Context(), "WebSocket connection requested for server logs", "server_id", serverID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Resolving before the upgrade lets lookup failures answer as plain HTTP
	logReader, err := h.servers.StreamServerLogs(ctx, user, serverID, tail)
	if err != nil {
		h.logger.WarnContext(ctx, "Failed to open log stream", "server_id", serverID, "error", err)
		respondError(w, err)
		return
	}
	defer logReader.Close()

	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to upgrade to WebSocket", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	h.logger.InfoContext(ctx, "WebSocket connection established", "server_id", serverID)

	logsDone := make(chan struct{})

	go h.handleClientMessages(ctx, conn, user, serverID, cancel)

	go func() {
		defer close(logsDone)
		h.streamLogs(ctx, conn, logReader, serverID)
	}()

	select {
	case <-logsDone:
	case <-ctx.Done():
		// Closing the reader unblocks the scanner
		logReader.Close()
		<-logsDone
	}

	h.logger.InfoContext(ctx, "Log streaming completed", "server_id", serverID)
}

func (h *LogsHandler) acceptOptions() *websocket.AcceptOptions {
	if len(h.originPatterns) == 0 || slices.Contains(h.originPatterns, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
}

// handleClientMessages reads incoming WebSocket messages and handles commands
func (h *LogsHandler) handleClientMessages(ctx context.Context, conn *websocket.Conn, user, serverID string, cancel context.CancelFunc) {
	defer cancel()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.InfoContext(ctx, "Client disconnected", "server_id", serverID, "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			h.logger.WarnContext(ctx, "Received non-text message", "server_id", serverID, "type", msgType)
			continue
		}

		var cmdMsg CommandMessage
		if err := json.Unmarshal(data, &cmdMsg); err != nil {
			h.logger.WarnContext(ctx, "Failed to parse command message", "server_id", serverID, "error", err)
			h.send(ctx, conn, "error", "Invalid message format")
			continue
		}

		if cmdMsg.Type != "command" {
			h.send(ctx, conn, "error", "Unknown message type: "+cmdMsg.Type)
			continue
		}

		h.logger.InfoContext(ctx, "Executing command", "server_id", serverID, "command", cmdMsg.Command)

		output, err := h.servers.ExecuteCommand(ctx, user, serverID, cmdMsg.Command)
		if err != nil {
			h.logger.ErrorContext(ctx, "Failed to execute command", "server_id", serverID, "command", cmdMsg.Command, "error", err)
			h.send(ctx, conn, "error", "Failed to execute command: "+err.Error())
			continue
		}

		h.send(ctx, conn, "command_result", output)
	}
}

// streamLogs forwards the demultiplexed log stream line by line
func (h *LogsHandler) streamLogs(ctx context.Context, conn *websocket.Conn, logReader io.Reader, serverID string) {
	scanner := bufio.NewScanner(logReader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}

		if err := h.send(ctx, conn, "log", line); err != nil {
			if ctx.Err() == nil {
				h.logger.InfoContext(ctx, "Client disconnected or write error", "server_id", serverID, "error", err)
			}
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		h.logger.ErrorContext(ctx, "Error reading logs", "server_id", serverID, "error", err)
	}
}

func (h *LogsHandler) send(ctx context.Context, conn *websocket.Conn, msgType, content string) error {
	data, _ := json.Marshal(ResponseMessage{Type: msgType, Content: content})
	return conn.Write(ctx, websocket.MessageText, data)
}
