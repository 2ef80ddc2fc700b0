package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/database"
	"github.com/mlhmz/dockermc-dashboard/internal/dns"
	"github.com/mlhmz/dockermc-dashboard/internal/metrics"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/portainer"
	"github.com/mlhmz/dockermc-dashboard/internal/webdav"
)

// DeleteOptions tune a server deletion
type DeleteOptions struct {
	// Force skips the graceful stop
	Force         bool
	RemoveVolumes bool
	Reason        string
}

// DeletionReport is the outcome of every teardown step
type DeletionReport struct {
	ServerID string       `json:"server_id"`
	Success  bool         `json:"success"`
	Partial  bool         `json:"partial"`
	Reason   string       `json:"reason,omitempty"`
	Details  []StepResult `json:"details"`
}

// DeletionService tears a server down across the platform, the record
// store, DNS and file storage
type DeletionService struct {
	platform Platform
	files    FileStorage
	dns      dns.Provider
	store    ServerStore
	resolver *Resolver
	locks    *ServerLocks
	layout   Layout
	logger   *slog.Logger
}

// NewDeletionService creates a deletion service
func NewDeletionService(
	platform Platform,
	files FileStorage,
	dnsProvider dns.Provider,
	store ServerStore,
	resolver *Resolver,
	locks *ServerLocks,
	layout Layout,
	logger *slog.Logger,
) *DeletionService {
	return &DeletionService{
		platform: platform,
		files:    files,
		dns:      dnsProvider,
		store:    store,
		resolver: resolver,
		locks:    locks,
		layout:   layout,
		logger:   logger,
	}
}

// Delete removes the server identified by ident. Removing the record is the
// point of no return: once it succeeds the server is gone, and later step
// failures only make the report partial.
func (s *DeletionService) Delete(ctx context.Context, owner, ident string, opts DeleteOptions) (*DeletionReport, error) {
	server, err := s.resolver.Resolve(ctx, owner, ident)
	if err != nil {
		metrics.ObserveOperation("delete", err)
		return nil, err
	}

	unlock, err := s.locks.TryLock(server.UniqueID, "delete")
	if err != nil {
		metrics.ObserveOperation("delete", err)
		return nil, err
	}
	defer unlock()

	// Teardown runs to the end even when the caller goes away
	ctx = context.WithoutCancel(ctx)

	s.logger.InfoContext(ctx, "Deleting server",
		"server_id", server.UniqueID,
		"owner", server.Owner,
		"force", opts.Force,
		"remove_volumes", opts.RemoveVolumes,
		"reason", opts.Reason,
	)

	steps := newStepLog(s.logger, "delete", server.UniqueID)
	report := &DeletionReport{ServerID: server.UniqueID, Reason: opts.Reason}

	s.observe(StepContainer, steps.run(ctx, StepContainer, func() error {
		return s.removeContainer(ctx, server, opts)
	}))

	if err := steps.run(ctx, StepDatabaseRecord, func() error {
		return s.store.Delete(ctx, server.UniqueID)
	}); err != nil {
		s.observe(StepDatabaseRecord, err)
		steps.skip(ctx, StepDNSRecord, "record removal failed")
		steps.skip(ctx, StepFiles, "record removal failed")
		report.Details = steps.steps

		if errors.Is(err, database.ErrNotFound) {
			err = apperror.NotFound(apperror.ResourceServer, "server %s not found", server.UniqueID)
		} else {
			err = apperror.Platform(StepDatabaseRecord, err)
		}
		metrics.ObserveOperation("delete", err)
		return report, err
	}
	s.observe(StepDatabaseRecord, nil)

	if server.DNSManaged && server.SubdomainName != "" {
		s.observe(StepDNSRecord, steps.run(ctx, StepDNSRecord, func() error {
			err := s.dns.DeleteRecord(ctx, dns.Record{
				Subdomain: server.SubdomainName,
				Owner:     server.Owner,
				Port:      server.Port,
			})
			if err != nil && !errors.Is(err, dns.ErrRecordNotFound) {
				return apperror.Platform(StepDNSRecord, err)
			}
			return nil
		}))
	} else {
		steps.skip(ctx, StepDNSRecord, "no managed dns record")
	}

	s.observe(StepFiles, steps.run(ctx, StepFiles, func() error {
		return s.removeFiles(ctx, s.layout.ServerRoot(server.Owner, server.UniqueID))
	}))

	report.Details = steps.steps
	report.Success = !steps.failed()
	report.Partial = !report.Success

	var result error
	if report.Partial {
		result = apperror.Partial("server deleted with failed cleanup steps")
		s.logger.WarnContext(ctx, "Server deleted with failed cleanup steps", "server_id", server.UniqueID)
	} else {
		s.logger.InfoContext(ctx, "Server deleted", "server_id", server.UniqueID)
	}
	metrics.ObserveOperation("delete", result)
	return report, nil
}

func (s *DeletionService) observe(step string, err error) {
	metrics.DeletionStepsTotal.WithLabelValues(step, metrics.Outcome(err)).Inc()
}

// removeContainer removes the server's stack or container. An absent
// container counts as removed.
func (s *DeletionService) removeContainer(ctx context.Context, server *models.MinecraftServer, opts DeleteOptions) error {
	if server.DeploymentMethod == models.DeployStack && server.StackID > 0 {
		err := s.platform.DeleteStack(ctx, server.StackID, server.EnvironmentID)
		if err == nil {
			return nil
		}
		// Fall through to the container in case the stack is gone but its container is not
		s.logger.WarnContext(ctx, "Failed to delete stack, removing container directly",
			"server_id", server.UniqueID,
			"stack_id", server.StackID,
			"error", err,
		)
	}

	c, err := s.platform.FindContainerByName(ctx, server.ContainerName(), server.EnvironmentID)
	if err != nil {
		return apperror.Platform("find container", err)
	}
	if c == nil {
		s.logger.InfoContext(ctx, "Container already absent", "server_id", server.UniqueID)
		return nil
	}

	if !opts.Force && (c.State == models.StateRunning || c.State == models.StatePaused) {
		timeout := defaultStopTimeout
		if err := s.platform.StopContainer(ctx, c.ID, server.EnvironmentID, &timeout); err != nil {
			s.logger.WarnContext(ctx, "Graceful stop failed, forcing removal",
				"server_id", server.UniqueID,
				"error", err,
			)
		}
	}

	err = s.platform.RemoveContainer(ctx, c.ID, server.EnvironmentID, true, opts.RemoveVolumes)
	if err != nil && !errors.Is(err, portainer.ErrContainerNotFound) {
		return apperror.Platform("remove container", err)
	}
	return nil
}

// removeFiles deletes a server directory by enumerating its manifest,
// falling back to a single recursive delete
func (s *DeletionService) removeFiles(ctx context.Context, root string) error {
	exists, err := s.files.Exists(ctx, root)
	if err == nil && !exists {
		return nil
	}

	primary := s.deleteManifest(ctx, root)
	if primary == nil {
		return nil
	}
	s.logger.WarnContext(ctx, "Manifest deletion failed, deleting directory recursively",
		"path", root,
		"error", primary,
	)

	fallback := s.files.DeleteDirectory(ctx, root)
	if fallback == nil || errors.Is(fallback, webdav.ErrNotFound) {
		return nil
	}
	return apperror.Platform(StepFiles, fmt.Errorf("manifest deletion: %w; recursive deletion: %w", primary, fallback))
}

func (s *DeletionService) deleteManifest(ctx context.Context, root string) error {
	files, dirs, err := s.manifest(ctx, root)
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := s.files.Delete(ctx, f); err != nil && !errors.Is(err, webdav.ErrNotFound) {
			return err
		}
	}

	// Deepest directories first so each is empty when removed
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], "/") > strings.Count(dirs[j], "/")
	})
	for _, d := range append(dirs, root) {
		if err := s.files.DeleteDirectory(ctx, d); err != nil && !errors.Is(err, webdav.ErrNotFound) {
			return err
		}
	}
	return nil
}

// manifest lists every file and directory below root
func (s *DeletionService) manifest(ctx context.Context, root string) (files, dirs []string, err error) {
	pending := []string{root}
	for len(pending) > 0 {
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		entries, err := s.files.ListDirectory(ctx, dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, e := range entries {
			p := path.Join(dir, e.Name)
			if e.Type == models.FileTypeDir {
				dirs = append(dirs, p)
				pending = append(pending, p)
			} else {
				files = append(files, p)
			}
		}
	}
	return files, dirs, nil
}
