package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/auth"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/service"
)

// ServerManager is the server API of the orchestration layer
type ServerManager interface {
	CreateServer(ctx context.Context, owner string, req *models.CreateServerRequest) (*service.ProvisionResult, error)
	ListServers(ctx context.Context, owner string) ([]*models.MinecraftServer, error)
	GetServer(ctx context.Context, owner, ident string) (*service.ServerDetails, error)
	UpdateServer(ctx context.Context, owner, ident string, req *models.UpdateServerRequest) (*service.UpdateResult, error)
	DeleteServer(ctx context.Context, owner, ident string, opts service.DeleteOptions) (*service.DeletionReport, error)
	Do(ctx context.Context, owner, ident string, action service.Action, opts service.ActionOptions) (*service.ActionResult, error)
	GetServerLogs(ctx context.Context, owner, ident string, tail int) (string, error)
	StreamServerLogs(ctx context.Context, owner, ident, tail string) (io.ReadCloser, error)
	ExecuteCommand(ctx context.Context, owner, ident, command string) (string, error)
	GetResources(ctx context.Context, owner, ident string) (*models.ResourceUsage, error)
	RedeployServer(ctx context.Context, owner, ident string) (*models.MinecraftServer, error)
}

// ServerHandler handles HTTP requests for server management
type ServerHandler struct {
	servers ServerManager
	logger  *slog.Logger
}

// NewServerHandler creates a new ServerHandler
func NewServerHandler(servers ServerManager, logger *slog.Logger) *ServerHandler {
	return &ServerHandler{
		servers: servers,
		logger:  logger,
	}
}

// CreateServer handles POST /api/v1/servers
func (h *ServerHandler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var req models.CreateServerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Invalid request body for server creation", "error", err)
		respondError(w, apperror.Validation("invalid request body"))
		return
	}

	h.logger.InfoContext(r.Context(), "Creating new server", "name", req.ServerName, "type", req.Type)

	result, err := h.servers.CreateServer(r.Context(), owner(r), &req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to create server", "name", req.ServerName, "error", err)
		if result != nil {
			respondJSON(w, apperror.HTTPStatus(err), withError(err, map[string]any{"result": result}))
			return
		}
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Server created successfully", "server_id", result.Server.UniqueID)
	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "server created",
		"server":  result.Server,
		"steps":   result.Steps,
	})
}

// ListServers handles GET /api/v1/servers
func (h *ServerHandler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.servers.ListServers(r.Context(), owner(r))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"servers": servers, "count": len(servers)})
}

// GetServer handles GET /api/v1/servers/{id}
func (h *ServerHandler) GetServer(w http.ResponseWriter, r *http.Request) {
	server, err := h.servers.GetServer(r.Context(), owner(r), r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, server)
}

// UpdateServer handles PATCH /api/v1/servers/{id}
func (h *ServerHandler) UpdateServer(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateServerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, apperror.Validation("invalid request body"))
		return
	}

	result, err := h.servers.UpdateServer(r.Context(), owner(r), r.PathValue("id"), &req)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message":          "server updated",
		"server":           result.Server,
		"restart_required": result.RestartRequired,
	})
}

// DeleteServer handles DELETE /api/v1/servers/{id}. The deletion report is
// returned in every case; a partial teardown answers 207.
func (h *ServerHandler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()
	opts := service.DeleteOptions{
		Force:         queryBool(q.Get("force")),
		RemoveVolumes: queryBool(q.Get("volumes")),
		Reason:        q.Get("reason"),
	}

	h.logger.InfoContext(r.Context(), "Deleting server", "server_id", id, "force", opts.Force)

	report, err := h.servers.DeleteServer(r.Context(), owner(r), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to delete server", "server_id", id, "error", err)
		if report != nil {
			respondJSON(w, apperror.HTTPStatus(err), withError(err, map[string]any{"report": report}))
			return
		}
		respondError(w, err)
		return
	}

	if report.Partial {
		respondJSON(w, http.StatusMultiStatus, map[string]any{
			"message": "server deleted with failed cleanup steps",
			"report":  report,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "server deleted", "report": report})
}

// ServerAction handles POST /api/v1/servers/{id}/{action}
func (h *ServerHandler) ServerAction(w http.ResponseWriter, r *http.Request) {
	action, err := service.ParseAction(r.PathValue("action"))
	if err != nil {
		respondError(w, err)
		return
	}

	var opts service.ActionOptions
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &opts); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, apperror.Validation("invalid request body"))
			return
		}
	}

	result, err := h.servers.Do(r.Context(), owner(r), r.PathValue("id"), action, opts)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Lifecycle action failed", "server_id", r.PathValue("id"), "action", action, "error", err)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": result.Message,
		"server":  result.ServerID,
		"action":  result.Action,
		"state":   result.State,
		"no_op":   result.NoOp,
	})
}

// GetLogs handles GET /api/v1/servers/{id}/logs
func (h *ServerHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	tail := 100
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, apperror.Validation("invalid tail %q", v))
			return
		}
		tail = n
	}

	logs, err := h.servers.GetServerLogs(r.Context(), owner(r), r.PathValue("id"), tail)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

type execRequest struct {
	Command string `json:"command"`
}

// ExecCommand handles POST /api/v1/servers/{id}/exec
func (h *ServerHandler) ExecCommand(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, apperror.Validation("invalid request body"))
		return
	}

	output, err := h.servers.ExecuteCommand(r.Context(), owner(r), r.PathValue("id"), req.Command)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "command executed", "output": output})
}

// GetResources handles GET /api/v1/servers/{id}/resources
func (h *ServerHandler) GetResources(w http.ResponseWriter, r *http.Request) {
	usage, err := h.servers.GetResources(r.Context(), owner(r), r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, usage)
}

// RedeployServer handles POST /api/v1/servers/{id}/redeploy
func (h *ServerHandler) RedeployServer(w http.ResponseWriter, r *http.Request) {
	server, err := h.servers.RedeployServer(r.Context(), owner(r), r.PathValue("id"))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to redeploy server", "server_id", r.PathValue("id"), "error", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "server redeployed", "server": server})
}

// Helper functions

const maxBodyBytes = 1 << 20

func owner(r *http.Request) string {
	if user := auth.UserFromContext(r.Context()); user != nil {
		return user.Owner()
	}
	return ""
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

func queryBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorBody(err error) map[string]any {
	body := map[string]any{
		"error": err.Error(),
		"kind":  apperror.KindOf(err),
	}
	if resource := apperror.ResourceOf(err); resource != "" {
		body["resource"] = resource
	}
	return body
}

func withError(err error, extra map[string]any) map[string]any {
	body := errorBody(err)
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func respondError(w http.ResponseWriter, err error) {
	status := apperror.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		// Unclassified errors may carry driver details
		respondJSON(w, status, map[string]any{"error": "internal server error", "kind": apperror.KindInternal})
		return
	}
	respondJSON(w, status, errorBody(err))
}
