package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/service"
)

// ProxyManager is the proxy API of the orchestration layer
type ProxyManager interface {
	ListProxies(ctx context.Context) ([]service.ProxyStatus, error)
	EnsureProxy(ctx context.Context, proxyID string) (*models.ProxyServer, error)
	RegenerateConfig(ctx context.Context, proxyID string) error
	AttachToProxy(ctx context.Context, owner, ident, proxyID string) (*service.AttachResult, error)
	DetachFromProxy(ctx context.Context, owner, ident string) (*service.AttachResult, error)
}

// ProxyHandler handles HTTP requests for proxy operations
type ProxyHandler struct {
	proxies ProxyManager
	logger  *slog.Logger
}

// NewProxyHandler creates a new proxy handler
func NewProxyHandler(proxies ProxyManager, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		proxies: proxies,
		logger:  logger,
	}
}

// ListProxies handles GET /api/v1/proxies
func (h *ProxyHandler) ListProxies(w http.ResponseWriter, r *http.Request) {
	proxies, err := h.proxies.ListProxies(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list proxies", "error", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"proxies": proxies})
}

// EnsureProxy handles POST /api/v1/proxies/{id}/ensure
func (h *ProxyHandler) EnsureProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	proxy, err := h.proxies.EnsureProxy(ctx, r.PathValue("id"))
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to ensure proxy", "proxy_id", r.PathValue("id"), "error", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "proxy running", "proxy": proxy})
}

// RegenerateConfig handles POST /api/v1/proxies/{id}/regenerate
func (h *ProxyHandler) RegenerateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.proxies.RegenerateConfig(ctx, r.PathValue("id")); err != nil {
		h.logger.ErrorContext(ctx, "Failed to regenerate proxy config", "proxy_id", r.PathValue("id"), "error", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "configuration regenerated"})
}

type attachRequest struct {
	ProxyID string `json:"proxy_id"`
}

// AttachToProxy handles POST /api/v1/servers/{id}/proxy
func (h *ProxyHandler) AttachToProxy(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, apperror.Validation("invalid request body"))
		return
	}

	result, err := h.proxies.AttachToProxy(r.Context(), owner(r), r.PathValue("id"), req.ProxyID)
	h.respondAttach(w, r, "attach", result, err)
}

// DetachFromProxy handles DELETE /api/v1/servers/{id}/proxy
func (h *ProxyHandler) DetachFromProxy(w http.ResponseWriter, r *http.Request) {
	result, err := h.proxies.DetachFromProxy(r.Context(), owner(r), r.PathValue("id"))
	h.respondAttach(w, r, "detach", result, err)
}

func (h *ProxyHandler) respondAttach(w http.ResponseWriter, r *http.Request, op string, result *service.AttachResult, err error) {
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Proxy membership change failed", "op", op, "server_id", r.PathValue("id"), "error", err)
		if result != nil {
			respondJSON(w, apperror.HTTPStatus(err), withError(err, map[string]any{"result": result}))
			return
		}
		respondError(w, err)
		return
	}

	message := "server attached to proxy"
	if op == "detach" {
		message = "server detached from proxy"
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": message, "result": result})
}
