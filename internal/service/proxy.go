package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/metrics"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/portainer"
)

// AttachResult reports a proxy attachment or detachment step by step
type AttachResult struct {
	ServerID string       `json:"server_id"`
	ProxyID  string       `json:"proxy_id"`
	Success  bool         `json:"success"`
	Steps    []StepResult `json:"steps"`
	Error    string       `json:"error,omitempty"`
}

// ProxyStatus is a declared proxy with its instance and members
type ProxyStatus struct {
	Definition models.ProxyDefinition `json:"definition"`
	Instance   *models.ProxyServer    `json:"instance,omitempty"`
	Members    []string               `json:"members"`
}

// ProxyService puts servers behind the reverse proxies
type ProxyService struct {
	registry    *ProxyRegistry
	provisioner *Provisioner
	platform    Platform
	files       FileStorage
	servers     ServerStore
	proxies     ProxyStore
	resolver    *Resolver
	locks       *ServerLocks
	layout      Layout
	waits       Waits
	envHint     int
	logger      *slog.Logger

	// ensureMu serializes proxy deployment so concurrent attachments share one proxy
	ensureMu sync.Mutex
}

// NewProxyService creates a new proxy service
func NewProxyService(
	registry *ProxyRegistry,
	provisioner *Provisioner,
	platform Platform,
	files FileStorage,
	servers ServerStore,
	proxies ProxyStore,
	resolver *Resolver,
	locks *ServerLocks,
	layout Layout,
	waits Waits,
	envHint int,
	logger *slog.Logger,
) *ProxyService {
	return &ProxyService{
		registry:    registry,
		provisioner: provisioner,
		platform:    platform,
		files:       files,
		servers:     servers,
		proxies:     proxies,
		resolver:    resolver,
		locks:       locks,
		layout:      layout,
		waits:       waits,
		envHint:     envHint,
		logger:      logger,
	}
}

// Registry exposes the proxy registry
func (s *ProxyService) Registry() *ProxyRegistry {
	return s.registry
}

func (s *ProxyService) definition(proxyID string) (models.ProxyDefinition, error) {
	def, ok := s.registry.Definition(proxyID)
	if !ok {
		return models.ProxyDefinition{}, apperror.NotFound(apperror.ResourceProxy, "proxy %s not found", proxyID)
	}
	return def, nil
}

// EnsureProxy deploys the proxy when it has no instance and starts it when
// its container is not running
func (s *ProxyService) EnsureProxy(ctx context.Context, proxyID string) (*models.ProxyServer, error) {
	def, err := s.definition(proxyID)
	if err != nil {
		return nil, err
	}

	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()

	envHint := s.envHint
	existing, hadInstance := s.registry.Instance(def.ID)
	if hadInstance {
		envHint = existing.EnvironmentID
	}

	proxy, err := s.provisioner.DeployProxy(ctx, def, envHint)
	if err != nil {
		metrics.ObserveOperation("ensure_proxy", err)
		return nil, err
	}

	if err := s.proxies.Save(ctx, proxy); err != nil {
		s.logger.WarnContext(ctx, "Failed to persist proxy", "proxy_id", proxy.ID, "error", err)
	}
	s.registry.SetInstance(proxy)

	if !hadInstance || existing.ContainerID != proxy.ContainerID {
		// A fresh container starts with the image's default config
		if err := s.regenerate(ctx, def, proxy); err != nil {
			s.logger.WarnContext(ctx, "Failed to write proxy configuration", "proxy_id", proxy.ID, "error", err)
		}
	}

	metrics.ObserveOperation("ensure_proxy", nil)
	return proxy, nil
}

// AttachToProxy puts a server behind a proxy: the server is started if
// needed, its files are awaited, forwarding is injected while it is stopped
// and it is restarted on the proxy network.
func (s *ProxyService) AttachToProxy(ctx context.Context, owner, ident, proxyID string) (*AttachResult, error) {
	server, err := s.resolver.Resolve(ctx, owner, ident)
	if err != nil {
		return nil, err
	}
	def, err := s.definition(proxyID)
	if err != nil {
		return nil, err
	}
	if server.ProxyID != "" && server.ProxyID != def.ID {
		return nil, apperror.Conflict("server %s is attached to proxy %s, detach it first", server.UniqueID, server.ProxyID)
	}
	if err := ValidateForwarding(server.ServerConfig.Type, def); err != nil {
		return nil, err
	}

	unlock, err := s.locks.TryLock(server.UniqueID, "attach proxy")
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	s.logger.InfoContext(ctx, "Attaching server to proxy", "server_id", server.UniqueID, "proxy_id", def.ID)

	steps := newStepLog(s.logger, "attach", server.UniqueID)
	err = s.attach(ctx, server, def, steps)

	result := &AttachResult{ServerID: server.UniqueID, ProxyID: def.ID, Steps: steps.steps}
	metrics.ObserveOperation("attach_proxy", err)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.Success = true
	s.logger.InfoContext(ctx, "Server attached to proxy", "server_id", server.UniqueID, "proxy_id", def.ID)
	return result, nil
}

func (s *ProxyService) attach(ctx context.Context, server *models.MinecraftServer, def models.ProxyDefinition, steps *stepLog) error {
	var proxy *models.ProxyServer
	if err := steps.run(ctx, StepEnsureProxy, func() error {
		var err error
		proxy, err = s.EnsureProxy(ctx, def.ID)
		return err
	}); err != nil {
		return err
	}

	var (
		c     *models.Container
		prior models.ContainerState
	)
	if err := steps.run(ctx, StepContainer, func() error {
		var err error
		c, prior, err = s.runningContainer(ctx, server)
		return err
	}); err != nil {
		return err
	}

	root := s.layout.ServerRoot(server.Owner, server.UniqueID)
	if err := steps.run(ctx, StepWaitFiles, func() error {
		return s.provisioner.waitFiles(ctx, root, ForwardingFiles(server.ServerConfig.Type, def))
	}); err != nil {
		s.settle(ctx, server, c.ID, prior, false)
		return err
	}

	if err := steps.run(ctx, StepStop, func() error {
		timeout := defaultStopTimeout
		if err := s.platform.StopContainer(ctx, c.ID, server.EnvironmentID, &timeout); err != nil {
			return apperror.Platform("stop failure", err)
		}
		return nil
	}); err != nil {
		s.settle(ctx, server, c.ID, prior, false)
		return err
	}

	if err := steps.run(ctx, StepWriteConfig, func() error {
		edits, err := forwardingEdits(server.ServerConfig.Type, def)
		if err != nil {
			return err
		}
		if err := applyEdits(ctx, s.files, root, edits); err != nil {
			return apperror.Platform("file write failure", err)
		}
		return nil
	}); err != nil {
		s.settle(ctx, server, c.ID, prior, true)
		return err
	}

	if err := steps.run(ctx, StepNetwork, func() error {
		err := s.platform.ConnectNetwork(ctx, server.EnvironmentID, c.ID, def.Network, []string{server.UniqueID})
		if err != nil {
			return apperror.Platform(StepNetwork, err)
		}
		return nil
	}); err != nil {
		s.settle(ctx, server, c.ID, prior, true)
		return err
	}

	if err := steps.run(ctx, StepRestart, func() error {
		if err := s.platform.RestartContainer(ctx, c.ID, server.EnvironmentID, nil); err != nil {
			return apperror.Platform("restart failure", err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := steps.run(ctx, StepPersist, func() error {
		online := true
		proxyID := def.ID
		if err := s.servers.UpdateFields(ctx, server.UniqueID, models.ServerFields{ProxyID: &proxyID, IsOnline: &online}); err != nil {
			return apperror.WithOp(StepPersist, fmt.Errorf("failed to record proxy membership: %w", err))
		}
		server.ProxyID = proxyID
		server.IsOnline = online
		return nil
	}); err != nil {
		return err
	}

	// The server already joined the network; a stale proxy config is reported, not fatal
	steps.record(ctx, StepProxyConfig, s.regenerate(ctx, def, proxy))
	return nil
}

// runningContainer returns the server's container and the state it had,
// starting it and waiting for it when it is not running
func (s *ProxyService) runningContainer(ctx context.Context, server *models.MinecraftServer) (*models.Container, models.ContainerState, error) {
	name := server.ContainerName()
	c, err := s.platform.FindContainerByName(ctx, name, server.EnvironmentID)
	if err != nil {
		return nil, "", apperror.Platform("find container", err)
	}
	if c == nil {
		return nil, "", apperror.NotFound(apperror.ResourceContainer, "container not found")
	}

	prior := c.State
	switch prior {
	case models.StateRunning:
		return c, prior, nil
	case models.StatePaused:
		err = s.platform.UnpauseContainer(ctx, c.ID, server.EnvironmentID)
	default:
		err = s.platform.StartContainer(ctx, c.ID, server.EnvironmentID)
	}
	if err != nil {
		if errors.Is(err, portainer.ErrContainerNotFound) {
			return nil, "", apperror.NotFound(apperror.ResourceContainer, "container not found")
		}
		return nil, "", apperror.Platform("start container", err)
	}

	c, err = s.provisioner.waitRunning(ctx, name, server.EnvironmentID)
	return c, prior, err
}

// settle returns the container of a failed attachment to the state it had
// before the attempt. stopped reports whether the attempt left it stopped.
func (s *ProxyService) settle(ctx context.Context, server *models.MinecraftServer, containerID string, prior models.ContainerState, stopped bool) {
	var err error
	switch prior {
	case models.StateRunning:
		if stopped {
			err = s.platform.StartContainer(ctx, containerID, server.EnvironmentID)
		}
	case models.StatePaused:
		if stopped {
			err = s.platform.StartContainer(ctx, containerID, server.EnvironmentID)
		}
		if err == nil {
			err = s.platform.PauseContainer(ctx, containerID, server.EnvironmentID)
		}
	default:
		if !stopped {
			timeout := defaultStopTimeout
			err = s.platform.StopContainer(ctx, containerID, server.EnvironmentID, &timeout)
		}
	}
	if err == nil {
		return
	}

	s.logger.WarnContext(ctx, "Failed to restore container state after failed attachment",
		"server_id", server.UniqueID,
		"state", prior,
		"error", err,
	)
	// The record follows the container, which is still up
	if !stopped && !server.IsOnline {
		online := true
		if err := s.servers.UpdateFields(ctx, server.UniqueID, models.ServerFields{IsOnline: &online}); err != nil {
			s.logger.WarnContext(ctx, "Failed to update online status", "server_id", server.UniqueID, "error", err)
			return
		}
		server.IsOnline = true
	}
}

// restore starts a container stopped for a failed config injection
func (s *ProxyService) restore(ctx context.Context, server *models.MinecraftServer, containerID string) {
	if err := s.platform.StartContainer(ctx, containerID, server.EnvironmentID); err != nil {
		s.logger.WarnContext(ctx, "Failed to start container after failed attachment",
			"server_id", server.UniqueID,
			"error", err,
		)
	}
}

// DetachFromProxy undoes AttachToProxy and returns the server to standalone mode
func (s *ProxyService) DetachFromProxy(ctx context.Context, owner, ident string) (*AttachResult, error) {
	server, err := s.resolver.Resolve(ctx, owner, ident)
	if err != nil {
		return nil, err
	}
	if server.ProxyID == "" {
		return nil, apperror.Conflict("server %s is not attached to a proxy", server.UniqueID)
	}
	def, err := s.definition(server.ProxyID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.TryLock(server.UniqueID, "detach proxy")
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	steps := newStepLog(s.logger, "detach", server.UniqueID)
	err = s.detach(ctx, server, def, steps)

	result := &AttachResult{ServerID: server.UniqueID, ProxyID: def.ID, Steps: steps.steps}
	metrics.ObserveOperation("detach_proxy", err)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.Success = true
	s.logger.InfoContext(ctx, "Server detached from proxy", "server_id", server.UniqueID, "proxy_id", def.ID)
	return result, nil
}

func (s *ProxyService) detach(ctx context.Context, server *models.MinecraftServer, def models.ProxyDefinition, steps *stepLog) error {
	var c *models.Container
	if err := steps.run(ctx, StepContainer, func() error {
		var err error
		c, err = s.platform.FindContainerByName(ctx, server.ContainerName(), server.EnvironmentID)
		if err != nil {
			return apperror.Platform("find container", err)
		}
		if c == nil {
			return apperror.NotFound(apperror.ResourceContainer, "container not found")
		}
		return nil
	}); err != nil {
		return err
	}
	wasRunning := c.State == models.StateRunning || c.State == models.StatePaused

	if wasRunning {
		if err := steps.run(ctx, StepStop, func() error {
			timeout := defaultStopTimeout
			if err := s.platform.StopContainer(ctx, c.ID, server.EnvironmentID, &timeout); err != nil {
				return apperror.Platform("stop failure", err)
			}
			return nil
		}); err != nil {
			return err
		}
	} else {
		steps.skip(ctx, StepStop, "container not running")
	}

	root := s.layout.ServerRoot(server.Owner, server.UniqueID)
	if err := steps.run(ctx, StepWriteConfig, func() error {
		if err := applyEdits(ctx, s.files, root, standaloneEdits(server, def)); err != nil {
			return apperror.Platform("file write failure", err)
		}
		return nil
	}); err != nil {
		if wasRunning {
			s.restore(ctx, server, c.ID)
		}
		return err
	}

	s.observeStep(ctx, steps, StepNetwork, s.platform.DisconnectNetwork(ctx, server.EnvironmentID, c.ID, def.Network))

	if wasRunning {
		if err := steps.run(ctx, StepRestart, func() error {
			if err := s.platform.StartContainer(ctx, c.ID, server.EnvironmentID); err != nil {
				return apperror.Platform("restart failure", err)
			}
			return nil
		}); err != nil {
			return err
		}
	} else {
		steps.skip(ctx, StepRestart, "container was not running")
	}

	if err := steps.run(ctx, StepPersist, func() error {
		none := ""
		if err := s.servers.UpdateFields(ctx, server.UniqueID, models.ServerFields{ProxyID: &none}); err != nil {
			return apperror.WithOp(StepPersist, fmt.Errorf("failed to clear proxy membership: %w", err))
		}
		server.ProxyID = ""
		return nil
	}); err != nil {
		return err
	}

	if proxy, ok := s.registry.Instance(def.ID); ok {
		steps.record(ctx, StepProxyConfig, s.regenerate(ctx, def, proxy))
	} else {
		steps.skip(ctx, StepProxyConfig, "proxy not deployed")
	}
	return nil
}

// observeStep records a best-effort step without failing the operation
func (s *ProxyService) observeStep(ctx context.Context, steps *stepLog, name string, err error) {
	if err != nil {
		err = apperror.Platform(name, err)
	}
	steps.record(ctx, name, err)
}

// ListProxies returns every known proxy with its instance and members
func (s *ProxyService) ListProxies(ctx context.Context) ([]ProxyStatus, error) {
	defs := s.registry.Definitions()
	statuses := make([]ProxyStatus, 0, len(defs))
	for _, def := range defs {
		members, err := s.servers.FindByProxyID(ctx, def.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list members of proxy %s: %w", def.ID, err)
		}
		status := ProxyStatus{Definition: def, Members: make([]string, 0, len(members))}
		for _, m := range members {
			status.Members = append(status.Members, m.UniqueID)
		}
		if inst, ok := s.registry.Instance(def.ID); ok {
			status.Instance = inst
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// RegenerateConfig rewrites a deployed proxy's configuration from its
// current members and restarts it
func (s *ProxyService) RegenerateConfig(ctx context.Context, proxyID string) error {
	def, err := s.definition(proxyID)
	if err != nil {
		return err
	}
	proxy, ok := s.registry.Instance(def.ID)
	if !ok {
		return apperror.NotFound(apperror.ResourceProxy, "proxy %s is not deployed", def.ID)
	}
	return s.regenerate(ctx, def, proxy)
}

func (s *ProxyService) regenerate(ctx context.Context, def models.ProxyDefinition, proxy *models.ProxyServer) error {
	members, err := s.servers.FindByProxyID(ctx, def.ID)
	if err != nil {
		return fmt.Errorf("failed to list proxy members: %w", err)
	}

	files, err := proxyConfigFiles(def, members)
	if err != nil {
		return err
	}
	root := s.layout.ProxyRoot(def.ID)
	for _, name := range sortedKeys(files) {
		if err := s.files.Write(ctx, path.Join(root, name), files[name]); err != nil {
			return apperror.Platform("write proxy config", err)
		}
	}

	if err := s.platform.RestartContainer(ctx, proxy.ContainerID, proxy.EnvironmentID, nil); err != nil {
		return apperror.Platform("restart proxy", err)
	}
	s.logger.InfoContext(ctx, "Proxy configuration regenerated", "proxy_id", def.ID, "members", len(members))
	return nil
}
