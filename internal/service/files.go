package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/webdav"
)

// DeleteMode selects how a path is deleted
type DeleteMode string

const (
	DeleteFile   DeleteMode = "file"
	DeleteFolder DeleteMode = "folder"
)

const backupTimeLayout = "20060102150405"

// FileService manages the files of a server on the file server
type FileService struct {
	files     FileStorage
	resolver  *Resolver
	locks     *ServerLocks
	layout    Layout
	protected map[string]bool
	clock     Clock
	logger    *slog.Logger
}

// NewFileService creates a file service. protected lists paths relative to
// a server root that can never be deleted.
func NewFileService(files FileStorage, resolver *Resolver, locks *ServerLocks, layout Layout, protected []string, clock Clock, logger *slog.Logger) *FileService {
	set := make(map[string]bool, len(protected))
	for _, p := range protected {
		if cleaned, err := CleanRelative(strings.TrimSpace(p)); err == nil && cleaned != "" {
			set[cleaned] = true
		}
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &FileService{
		files:     files,
		resolver:  resolver,
		locks:     locks,
		layout:    layout,
		protected: set,
		clock:     clock,
		logger:    logger,
	}
}

// resolvePath cleans rel and resolves it inside the server's directory
func (s *FileService) resolvePath(ctx context.Context, owner, ident, rel string) (*models.MinecraftServer, string, string, error) {
	cleaned, err := CleanRelative(rel)
	if err != nil {
		return nil, "", "", err
	}
	server, err := s.resolver.Resolve(ctx, owner, ident)
	if err != nil {
		return nil, "", "", err
	}
	return server, cleaned, s.layout.ServerPath(server.Owner, server.UniqueID, cleaned), nil
}

// List returns the entries of a directory of the server
func (s *FileService) List(ctx context.Context, owner, ident, rel string) ([]models.FileEntry, error) {
	_, _, p, err := s.resolvePath(ctx, owner, ident, rel)
	if err != nil {
		return nil, err
	}
	entries, err := s.files.ListDirectory(ctx, p)
	if err != nil {
		return nil, s.backendError("list", rel, err)
	}
	return entries, nil
}

// Read returns the content of a file of the server
func (s *FileService) Read(ctx context.Context, owner, ident, rel string) ([]byte, error) {
	_, cleaned, p, err := s.resolvePath(ctx, owner, ident, rel)
	if err != nil {
		return nil, err
	}
	if cleaned == "" {
		return nil, apperror.Validation("path is required")
	}
	data, err := s.files.Read(ctx, p)
	if err != nil {
		return nil, s.backendError("read", rel, err)
	}
	return data, nil
}

// Write stores a file of the server, creating parent directories
func (s *FileService) Write(ctx context.Context, owner, ident, rel string, data []byte) error {
	_, cleaned, p, err := s.resolvePath(ctx, owner, ident, rel)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return apperror.Validation("path is required")
	}
	if err := s.files.Write(ctx, p, data); err != nil {
		return s.backendError("write", rel, err)
	}
	s.logger.InfoContext(ctx, "File written", "path", p, "size", len(data))
	return nil
}

// Delete removes a file or folder of the server. Protected paths and the
// server root are rejected before the file server is contacted.
func (s *FileService) Delete(ctx context.Context, owner, ident, rel string, mode DeleteMode) error {
	if mode == "" {
		mode = DeleteFile
	}
	if mode != DeleteFile && mode != DeleteFolder {
		return apperror.Validation("invalid delete mode %q", mode)
	}

	cleaned, err := CleanRelative(rel)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return apperror.Forbidden("the server directory cannot be deleted")
	}
	if s.protected[cleaned] {
		return apperror.Forbidden("%s is protected", cleaned)
	}

	server, err := s.resolver.Resolve(ctx, owner, ident)
	if err != nil {
		return err
	}
	unlock, err := s.locks.TryLock(server.UniqueID, "delete file")
	if err != nil {
		return err
	}
	defer unlock()

	p := s.layout.ServerPath(server.Owner, server.UniqueID, cleaned)
	if mode == DeleteFolder {
		if err := s.files.DeleteDirectory(ctx, p); err != nil {
			return s.backendError("delete folder", cleaned, err)
		}
		s.logger.InfoContext(ctx, "Folder deleted", "server_id", server.UniqueID, "path", cleaned)
		return nil
	}
	return s.deleteWithBackup(ctx, server.UniqueID, p, cleaned)
}

// deleteWithBackup copies the file aside before deleting it. The backup is
// only removed once the original is confirmed gone.
func (s *FileService) deleteWithBackup(ctx context.Context, serverID, p, rel string) error {
	backup := fmt.Sprintf("%s.bak-%s", p, s.clock.Now().Format(backupTimeLayout))

	if err := s.files.Copy(ctx, p, backup); err != nil {
		return s.backendError("backup", rel, err)
	}

	if err := s.files.Delete(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "Failed to delete file, backup kept",
			"server_id", serverID,
			"path", rel,
			"backup", path.Base(backup),
			"error", err,
		)
		return s.backendError("delete", rel, err)
	}

	exists, err := s.files.Exists(ctx, p)
	if err != nil {
		return s.backendError("verify delete", rel, err)
	}
	if exists {
		return apperror.Platform("verify delete", fmt.Errorf("%s still exists, backup kept at %s", rel, path.Base(backup)))
	}

	if err := s.files.Delete(ctx, backup); err != nil && !errors.Is(err, webdav.ErrNotFound) {
		s.logger.WarnContext(ctx, "Failed to remove backup", "server_id", serverID, "backup", backup, "error", err)
		return s.backendError("remove backup", rel, err)
	}

	s.logger.InfoContext(ctx, "File deleted", "server_id", serverID, "path", rel)
	return nil
}

func (s *FileService) backendError(op, rel string, err error) error {
	if errors.Is(err, webdav.ErrNotFound) {
		return apperror.NotFound(apperror.ResourceFile, "%s not found", rel)
	}
	if errors.Is(err, webdav.ErrIsDirectory) {
		return apperror.Validation("%s is a directory, delete it in folder mode", rel)
	}
	return apperror.Platform(op, err)
}
