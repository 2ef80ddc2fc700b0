package handlers

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/service"
)

// maxFileBytes bounds uploads through the file endpoints
const maxFileBytes = 64 << 20

// FileManager is the server file API of the orchestration layer
type FileManager interface {
	List(ctx context.Context, owner, ident, rel string) ([]models.FileEntry, error)
	Read(ctx context.Context, owner, ident, rel string) ([]byte, error)
	Write(ctx context.Context, owner, ident, rel string, data []byte) error
	Delete(ctx context.Context, owner, ident, rel string, mode service.DeleteMode) error
}

// FileHandler handles HTTP requests for server files
type FileHandler struct {
	files  FileManager
	logger *slog.Logger
}

// NewFileHandler creates a new FileHandler
func NewFileHandler(files FileManager, logger *slog.Logger) *FileHandler {
	return &FileHandler{
		files:  files,
		logger: logger,
	}
}

// ListFiles handles GET /api/v1/servers/{id}/files/list
func (h *FileHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := h.files.List(r.Context(), owner(r), r.PathValue("id"), r.URL.Query().Get("path"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"path": r.URL.Query().Get("path"), "entries": entries})
}

// ReadFile handles GET /api/v1/servers/{id}/files and answers the raw content
func (h *FileHandler) ReadFile(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	data, err := h.files.Read(r.Context(), owner(r), r.PathValue("id"), rel)
	if err != nil {
		respondError(w, err)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(rel))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// WriteFile handles PUT /api/v1/servers/{id}/files with the raw content as body
func (h *FileHandler) WriteFile(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFileBytes))
	if err != nil {
		respondError(w, apperror.Validation("failed to read file content: %v", err))
		return
	}

	rel := r.URL.Query().Get("path")
	if err := h.files.Write(r.Context(), owner(r), r.PathValue("id"), rel, data); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to write file", "server_id", r.PathValue("id"), "path", rel, "error", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "file written", "path": rel, "size": len(data)})
}

// DeleteFile handles DELETE /api/v1/servers/{id}/files?path=&mode=
func (h *FileHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rel := q.Get("path")
	mode := service.DeleteMode(q.Get("mode"))

	if err := h.files.Delete(r.Context(), owner(r), r.PathValue("id"), rel, mode); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to delete file", "server_id", r.PathValue("id"), "path", rel, "error", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "deleted", "path": rel})
}
