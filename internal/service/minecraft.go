package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/metrics"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

// ServerDetails is a server record with its observed container state
type ServerDetails struct {
	*models.MinecraftServer
	State models.ContainerState `json:"state"`
}

// UpdateResult reports a configuration update
type UpdateResult struct {
	Server          *models.MinecraftServer `json:"server"`
	RestartRequired bool                    `json:"restart_required"`
}

// MinecraftServerService manages Minecraft servers on behalf of their owners
type MinecraftServerService struct {
	provisioner *Provisioner
	lifecycle   *LifecycleService
	deletion    *DeletionService
	proxies     *ProxyService
	platform    Platform
	files       FileStorage
	store       ServerStore
	resolver    *Resolver
	locks       *ServerLocks
	layout      Layout
	logger      *slog.Logger
}

// NewMinecraftServerService creates a new Minecraft server service
func NewMinecraftServerService(
	provisioner *Provisioner,
	lifecycle *LifecycleService,
	deletion *DeletionService,
	proxies *ProxyService,
	platform Platform,
	files FileStorage,
	store ServerStore,
	resolver *Resolver,
	locks *ServerLocks,
	layout Layout,
	logger *slog.Logger,
) *MinecraftServerService {
	return &MinecraftServerService{
		provisioner: provisioner,
		lifecycle:   lifecycle,
		deletion:    deletion,
		proxies:     proxies,
		platform:    platform,
		files:       files,
		store:       store,
		resolver:    resolver,
		locks:       locks,
		layout:      layout,
		logger:      logger,
	}
}

// CreateServer provisions a new server for owner
func (s *MinecraftServerService) CreateServer(ctx context.Context, owner string, req *models.CreateServerRequest) (*ProvisionResult, error) {
	spec := ProvisionSpec{
		UniqueID:         strings.ToLower(strings.TrimSpace(req.UniqueID)),
		Owner:            owner,
		ServerName:       req.ServerName,
		SubdomainName:    req.SubdomainName,
		Port:             req.Port,
		EnvironmentID:    req.EnvironmentID,
		DeploymentMethod: models.DeploymentMethod(strings.ToLower(strings.TrimSpace(req.DeploymentMethod))),
		Config: models.ServerConfig{
			Version:    req.Version,
			Type:       models.EngineType(req.Type),
			Difficulty: req.Difficulty,
			GameMode:   req.GameMode,
			MaxPlayers: req.MaxPlayers,
			MOTD:       req.MOTD,
			Memory:     req.Memory,
			OnlineMode: boolOr(req.OnlineMode, true),
			PVP:        boolOr(req.PVP, true),
			Hardcore:   req.Hardcore,
			Whitelist:  req.Whitelist,
		},
	}
	if spec.UniqueID == "" {
		spec.UniqueID = NewUniqueID()
	}

	unlock, err := s.locks.TryLock(spec.UniqueID, "create")
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Concurrent creates must not both pass the subdomain check
	if sub := strings.ToLower(strings.TrimSpace(spec.SubdomainName)); sub != "" {
		unlockSub, err := s.locks.TryLock(subdomainLockKey(sub), "create")
		if err != nil {
			return nil, apperror.Conflict("subdomain %s is being claimed by another server", sub)
		}
		defer unlockSub()
	}

	if req.AttachProxy != "" {
		proxyID := req.AttachProxy
		if proxyID == "default" {
			proxyID = ""
		}
		def, ok := s.proxies.Registry().Definition(proxyID)
		if !ok {
			return nil, apperror.NotFound(apperror.ResourceProxy, "proxy %s not found", req.AttachProxy)
		}
		if err := ValidateForwarding(models.EngineType(strings.ToUpper(req.Type)), def); err != nil {
			return nil, err
		}
		if _, err := s.proxies.EnsureProxy(ctx, def.ID); err != nil {
			return nil, err
		}
		spec.Proxy = &def
	}

	result, err := s.provisioner.Provision(ctx, spec)
	if err != nil {
		return result, err
	}
	s.observeServerCount(ctx)

	if spec.Proxy != nil {
		if err := s.proxies.RegenerateConfig(context.WithoutCancel(ctx), spec.Proxy.ID); err != nil {
			s.logger.WarnContext(ctx, "Failed to regenerate proxy configuration", "proxy_id", spec.Proxy.ID, "error", err)
		}
	}
	return result, nil
}

// observeServerCount publishes the number of server records of all owners
func (s *MinecraftServerService) observeServerCount(ctx context.Context) {
	count, err := s.store.Count(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to count servers", "error", err)
		return
	}
	metrics.ServersTotal.Set(float64(count))
}

func subdomainLockKey(subdomain string) string {
	return "subdomain:" + subdomain
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// ListServers returns the servers of owner
func (s *MinecraftServerService) ListServers(ctx context.Context, owner string) ([]*models.MinecraftServer, error) {
	if owner == "" {
		return nil, apperror.Unauthorized("missing owner")
	}
	servers, err := s.store.FindAllByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	return servers, nil
}

// GetServer returns a server and its observed container state
func (s *MinecraftServerService) GetServer(ctx context.Context, owner, ident string) (*ServerDetails, error) {
	server, err := s.resolver.Resolve(ctx, owner, ident)
	if err != nil {
		return nil, err
	}

	details := &ServerDetails{MinecraftServer: server, State: models.StateAbsent}
	c, err := s.lifecycle.State(ctx, server)
	switch {
	case err == nil:
		details.State = c.State
	case apperror.IsNotFound(err, apperror.ResourceContainer):
	default:
		s.logger.WarnContext(ctx, "Failed to inspect server container", "server_id", server.UniqueID, "error", err)
	}
	return details, nil
}

// UpdateServer rewrites the game configuration of a server. The running
// server only picks the change up after a restart.
func (s *MinecraftServerService) UpdateServer(ctx context.Context, owner, ident string, req *models.UpdateServerRequest) (*UpdateResult, error) {
	server, err := s.resolver.Resolve(ctx, owner, ident)
	if err != nil {
		return nil, err
	}

	cfg := server.ServerConfig
	if req.MaxPlayers != nil {
		if *req.MaxPlayers < 1 {
			return nil, apperror.Validation("max players must be positive")
		}
		cfg.MaxPlayers = *req.MaxPlayers
	}
	if req.MOTD != nil {
		cfg.MOTD = *req.MOTD
	}
	if req.Difficulty != nil {
		cfg.Difficulty = *req.Difficulty
		if err := validateChoice("difficulty", &cfg.Difficulty, difficulties); err != nil {
			return nil, err
		}
	}
	if req.GameMode != nil {
		cfg.GameMode = *req.GameMode
		if err := validateChoice("game mode", &cfg.GameMode, gameModes); err != nil {
			return nil, err
		}
	}
	if req.PVP != nil {
		cfg.PVP = *req.PVP
	}
	if req.Whitelist != nil {
		cfg.Whitelist = *req.Whitelist
	}

	unlock, err := s.locks.TryLock(server.UniqueID, "update")
	if err != nil {
		return nil, err
	}
	defer unlock()

	root := s.layout.ServerRoot(server.Owner, server.UniqueID)
	if err := applyEdits(ctx, s.files, root, []fileEdit{propertiesEdit(configProperties(cfg))}); err != nil {
		return nil, apperror.Platform("file write failure", err)
	}
	if err := s.store.UpdateFields(ctx, server.UniqueID, models.ServerFields{ServerConfig: &cfg}); err != nil {
		return nil, fmt.Errorf("failed to update server: %w", err)
	}
	server.ServerConfig = cfg

	s.logger.InfoContext(ctx, "Server configuration updated", "server_id", server.UniqueID)
	return &UpdateResult{Server: server, RestartRequired: server.IsOnline}, nil
}

// DeleteServer tears a server down and refreshes the proxy it belonged to
func (s *MinecraftServerService) DeleteServer(ctx context.Context, owner, ident string, opts DeleteOptions) (*DeletionReport, error) {
	server, err := s.resolver.Resolve(ctx, owner, ident)
	if err != nil {
		return nil, err
	}

	report, err := s.deletion.Delete(ctx, owner, server.UniqueID, opts)
	s.observeServerCount(ctx)
	if err != nil {
		return report, err
	}

	if server.ProxyID != "" {
		if err := s.proxies.RegenerateConfig(context.WithoutCancel(ctx), server.ProxyID); err != nil && !apperror.IsNotFound(err, apperror.ResourceProxy) {
			s.logger.WarnContext(ctx, "Failed to regenerate proxy configuration", "proxy_id", server.ProxyID, "error", err)
		}
	}
	return report, nil
}

// Do applies a lifecycle action
func (s *MinecraftServerService) Do(ctx context.Context, owner, ident string, action Action, opts ActionOptions) (*ActionResult, error) {
	return s.lifecycle.Do(ctx, owner, ident, action, opts)
}

// container resolves a server and its container
func (s *MinecraftServerService) container(ctx context.Context, owner, ident string) (*models.MinecraftServer, *models.Container, error) {
	server, err := s.resolver.Resolve(ctx, owner, ident)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.lifecycle.State(ctx, server)
	if err != nil {
		return nil, nil, err
	}
	return server, c, nil
}

// GetServerLogs returns the last tail lines of a server's output
func (s *MinecraftServerService) GetServerLogs(ctx context.Context, owner, ident string, tail int) (string, error) {
	server, c, err := s.container(ctx, owner, ident)
	if err != nil {
		return "", err
	}
	logs, err := s.platform.Logs(ctx, c.ID, server.EnvironmentID, tail)
	if err != nil {
		return "", apperror.Platform("logs", err)
	}
	return logs, nil
}

// StreamServerLogs follows a server's output
func (s *MinecraftServerService) StreamServerLogs(ctx context.Context, owner, ident, tail string) (io.ReadCloser, error) {
	server, c, err := s.container(ctx, owner, ident)
	if err != nil {
		return nil, err
	}
	logs, err := s.platform.StreamLogs(ctx, c.ID, server.EnvironmentID, tail, true)
	if err != nil {
		return nil, apperror.Platform("stream logs", err)
	}
	return logs, nil
}

// ExecuteCommand runs a console command through rcon-cli
func (s *MinecraftServerService) ExecuteCommand(ctx context.Context, owner, ident, command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", apperror.Validation("command is required")
	}
	server, c, err := s.container(ctx, owner, ident)
	if err != nil {
		return "", err
	}
	if c.State != models.StateRunning {
		return "", apperror.StateConflict("execute command", c.State)
	}

	s.logger.InfoContext(ctx, "Executing command", "server_id", server.UniqueID, "command", command)
	output, err := s.platform.ExecCommand(ctx, c.ID, command, server.EnvironmentID)
	if err != nil {
		return "", apperror.Platform("exec", err)
	}
	return output, nil
}

// GetResources samples a running server's resource usage
func (s *MinecraftServerService) GetResources(ctx context.Context, owner, ident string) (*models.ResourceUsage, error) {
	server, c, err := s.container(ctx, owner, ident)
	if err != nil {
		return nil, err
	}
	if c.State != models.StateRunning {
		return nil, apperror.StateConflict("read resources", c.State)
	}
	usage, err := s.platform.Resources(ctx, c.ID, server.EnvironmentID)
	if err != nil {
		return nil, apperror.Platform("resources", err)
	}
	return usage, nil
}

// RedeployServer recreates a server's container with a freshly pulled image
func (s *MinecraftServerService) RedeployServer(ctx context.Context, owner, ident string) (*models.MinecraftServer, error) {
	server, err := s.resolver.Resolve(ctx, owner, ident)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.TryLock(server.UniqueID, "redeploy")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var network string
	if server.ProxyID != "" {
		if def, ok := s.proxies.Registry().Definition(server.ProxyID); ok {
			network = def.Network
		}
	}

	containerID, err := s.provisioner.Redeploy(ctx, server, network)
	metrics.ObserveOperation("redeploy", err)
	if err != nil {
		return nil, err
	}
	server.ContainerID = containerID
	server.IsOnline = true
	return server, nil
}
