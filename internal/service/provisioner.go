package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/config"
	"github.com/mlhmz/dockermc-dashboard/internal/dns"
	"github.com/mlhmz/dockermc-dashboard/internal/metrics"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

// Bounded waits, named the way they are reported
const (
	WaitContainerRunning = "container did not start in time"
	WaitServerFiles      = "waiting for server files"
)

const defaultMaxPlayers = 20

var (
	uniqueIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)
	difficulties    = []string{"peaceful", "easy", "normal", "hard"}
	gameModes       = []string{"survival", "creative", "adventure", "spectator"}
)

// ProvisionSpec is the desired shape of a new server
type ProvisionSpec struct {
	UniqueID         string
	Owner            string
	ServerName       string
	SubdomainName    string
	Config           models.ServerConfig
	Port             int
	EnvironmentID    int
	DeploymentMethod models.DeploymentMethod
	// Proxy, when set, is the proxy the server joins during provisioning
	Proxy *models.ProxyDefinition
}

// ProvisionResult reports a provisioning run step by step
type ProvisionResult struct {
	Success          bool                    `json:"success"`
	ContainerID      string                  `json:"container_id,omitempty"`
	StackID          int                     `json:"stack_id,omitempty"`
	DeploymentMethod models.DeploymentMethod `json:"deployment_method"`
	Steps            []StepResult            `json:"steps"`
	Server           *models.MinecraftServer `json:"server,omitempty"`
	Error            string                  `json:"error,omitempty"`
}

// Provisioner deploys servers and proxies onto the container platform
type Provisioner struct {
	platform   Platform
	files      FileStorage
	dns        dns.Provider
	store      ServerStore
	mc         config.MinecraftConfig
	proxyImage string
	layout     Layout
	waits      Waits
	logger     *slog.Logger
}

// NewProvisioner creates a provisioner
func NewProvisioner(
	platform Platform,
	files FileStorage,
	dnsProvider dns.Provider,
	store ServerStore,
	mc config.MinecraftConfig,
	proxyImage string,
	layout Layout,
	waits Waits,
	logger *slog.Logger,
) *Provisioner {
	return &Provisioner{
		platform:   platform,
		files:      files,
		dns:        dnsProvider,
		store:      store,
		mc:         mc,
		proxyImage: proxyImage,
		layout:     layout,
		waits:      waits,
		logger:     logger,
	}
}

// NewUniqueID returns a fresh server identifier
func NewUniqueID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Validate normalizes spec, fills defaults and rejects it before any side
// effect when it cannot be provisioned.
func (p *Provisioner) Validate(ctx context.Context, spec *ProvisionSpec) error {
	if spec.Owner == "" {
		return apperror.Validation("owner is required")
	}

	spec.UniqueID = strings.ToLower(strings.TrimSpace(spec.UniqueID))
	if spec.UniqueID == "" {
		spec.UniqueID = NewUniqueID()
	}
	if !uniqueIDPattern.MatchString(spec.UniqueID) {
		return apperror.Validation("invalid unique id %q", spec.UniqueID)
	}

	engine, err := models.ParseEngineType(string(spec.Config.Type))
	if err != nil {
		return apperror.Validation("%v", err)
	}
	spec.Config.Type = engine

	spec.Config.Version = strings.TrimSpace(spec.Config.Version)
	if spec.Config.Version == "" {
		return apperror.Validation("version is required")
	}

	if err := validateChoice("difficulty", &spec.Config.Difficulty, difficulties); err != nil {
		return err
	}
	if err := validateChoice("game mode", &spec.Config.GameMode, gameModes); err != nil {
		return err
	}

	if spec.Config.MaxPlayers == 0 {
		spec.Config.MaxPlayers = defaultMaxPlayers
	}
	if spec.Config.MaxPlayers < 1 {
		return apperror.Validation("max players must be positive")
	}
	if spec.Config.Memory == "" {
		spec.Config.Memory = p.mc.DefaultMemory
	}
	if _, err := memoryLimit(spec.Config.Memory); err != nil {
		return apperror.Validation("%v", err)
	}
	if spec.ServerName == "" {
		spec.ServerName = spec.UniqueID
	}
	if spec.Config.MOTD == "" {
		spec.Config.MOTD = fmt.Sprintf("Minecraft Server - %s", spec.ServerName)
	}

	if spec.DeploymentMethod == "" {
		spec.DeploymentMethod = models.DeploymentMethod(p.mc.DeploymentMethod)
	}
	if spec.DeploymentMethod != models.DeployContainer && spec.DeploymentMethod != models.DeployStack {
		return apperror.Validation("invalid deployment method %q", spec.DeploymentMethod)
	}

	if spec.Proxy != nil {
		if err := ValidateForwarding(engine, *spec.Proxy); err != nil {
			return err
		}
	}

	exists, err := p.store.UniqueIDExists(ctx, spec.UniqueID)
	if err != nil {
		return fmt.Errorf("failed to check unique id: %w", err)
	}
	if exists {
		return apperror.Conflict("server %s already exists", spec.UniqueID)
	}

	if spec.SubdomainName != "" {
		spec.SubdomainName = strings.ToLower(strings.TrimSpace(spec.SubdomainName))
		if !dns.ValidSubdomain(spec.SubdomainName) {
			return apperror.Validation("invalid subdomain %q", spec.SubdomainName)
		}
		taken, err := p.store.SubdomainExists(ctx, spec.SubdomainName)
		if err != nil {
			return fmt.Errorf("failed to check subdomain: %w", err)
		}
		if taken {
			return apperror.Conflict("subdomain %s is already in use", spec.SubdomainName)
		}
	}

	return p.allocatePort(ctx, spec)
}

func validateChoice(name string, value *string, allowed []string) error {
	if *value == "" {
		return nil
	}
	*value = strings.ToLower(strings.TrimSpace(*value))
	for _, a := range allowed {
		if *value == a {
			return nil
		}
	}
	return apperror.Validation("invalid %s %q, expected one of %s", name, *value, strings.Join(allowed, ", "))
}

func (p *Provisioner) allocatePort(ctx context.Context, spec *ProvisionSpec) error {
	minPort, maxPort := p.mc.PortRangeMin, p.mc.PortRangeMax
	if spec.Port != 0 && (spec.Port < minPort || spec.Port > maxPort) {
		return apperror.Validation("port %d is outside the range %d-%d", spec.Port, minPort, maxPort)
	}

	used, err := p.store.UsedPorts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list used ports: %w", err)
	}
	taken := make(map[int]bool, len(used))
	for _, port := range used {
		taken[port] = true
	}

	if spec.Port != 0 {
		if taken[spec.Port] {
			return apperror.Conflict("port %d is already in use", spec.Port)
		}
		return nil
	}
	for port := minPort; port <= maxPort; port++ {
		if !taken[port] {
			spec.Port = port
			return nil
		}
	}
	return apperror.Conflict("no free port in the range %d-%d", minPort, maxPort)
}

// deployment tracks what a provisioning run created, for rollback
type deployment struct {
	envID       int
	containerID string
	stackID     int
	dnsManaged  bool
}

// Provision deploys a server and persists its record. On failure everything
// created so far is removed and no record is persisted.
func (p *Provisioner) Provision(ctx context.Context, spec ProvisionSpec) (*ProvisionResult, error) {
	// A disconnecting caller must not interrupt a half-finished deployment
	ctx = context.WithoutCancel(ctx)

	if err := p.Validate(ctx, &spec); err != nil {
		metrics.ObserveOperation("provision", err)
		return nil, err
	}

	p.logger.InfoContext(ctx, "Provisioning server",
		"server_id", spec.UniqueID,
		"owner", spec.Owner,
		"type", spec.Config.Type,
		"version", spec.Config.Version,
		"port", spec.Port,
		"deployment_method", spec.DeploymentMethod,
	)

	steps := newStepLog(p.logger, "provision", spec.UniqueID)
	d := &deployment{}
	server, err := p.provision(ctx, &spec, steps, d)

	result := &ProvisionResult{
		ContainerID:      d.containerID,
		StackID:          d.stackID,
		DeploymentMethod: spec.DeploymentMethod,
	}
	if err != nil {
		p.rollback(ctx, &spec, steps, d)
		result.Steps = steps.steps
		result.Error = err.Error()
		metrics.ObserveOperation("provision", err)
		p.logger.ErrorContext(ctx, "Provisioning failed", "server_id", spec.UniqueID, "error", err)
		return result, err
	}

	result.Success = true
	result.Server = server
	result.Steps = steps.steps
	metrics.ObserveOperation("provision", nil)
	p.logger.InfoContext(ctx, "Server provisioned", "server_id", spec.UniqueID, "container_id", d.containerID)
	return result, nil
}

func (p *Provisioner) provision(ctx context.Context, spec *ProvisionSpec, steps *stepLog, d *deployment) (*models.MinecraftServer, error) {
	if err := steps.run(ctx, StepResolveEnvironment, func() error {
		envID, err := p.platform.ResolveEnvironment(ctx, spec.EnvironmentID)
		if err != nil {
			return apperror.Platform(StepResolveEnvironment, err)
		}
		d.envID = envID
		return nil
	}); err != nil {
		return nil, err
	}

	cs, err := serverContainerSpec(p.mc, p.layout, spec)
	if err != nil {
		return nil, apperror.Validation("%v", err)
	}

	if err := steps.run(ctx, StepDeploy, func() error {
		return p.deploy(ctx, spec.DeploymentMethod, cs, d)
	}); err != nil {
		return nil, err
	}

	if err := steps.run(ctx, StepWaitRunning, func() error {
		c, err := p.waitRunning(ctx, cs.Name, d.envID)
		if err != nil {
			return err
		}
		d.containerID = c.ID
		return nil
	}); err != nil {
		return nil, err
	}

	root := p.layout.ServerRoot(spec.Owner, spec.UniqueID)
	waitFor := []string{ServerPropertiesFile}
	if spec.Proxy != nil {
		waitFor = ForwardingFiles(spec.Config.Type, *spec.Proxy)
	}
	if err := steps.run(ctx, StepWaitFiles, func() error {
		return p.waitFiles(ctx, root, waitFor)
	}); err != nil {
		return nil, err
	}

	if spec.Proxy != nil {
		if err := steps.run(ctx, StepWriteConfig, func() error {
			edits, err := forwardingEdits(spec.Config.Type, *spec.Proxy)
			if err != nil {
				return err
			}
			if err := applyEdits(ctx, p.files, root, edits); err != nil {
				return apperror.Platform("file write failure", err)
			}
			return nil
		}); err != nil {
			return nil, err
		}
		if err := steps.run(ctx, StepRestart, func() error {
			if err := p.platform.RestartContainer(ctx, d.containerID, d.envID, nil); err != nil {
				return apperror.Platform("restart failure", err)
			}
			return nil
		}); err != nil {
			return nil, err
		}
	} else {
		steps.skip(ctx, StepWriteConfig, "no proxy attached")
		steps.skip(ctx, StepRestart, "no proxy attached")
	}

	if p.dns.Enabled() && spec.SubdomainName != "" {
		// DNS is not fatal: the server stays reachable through its port
		_ = steps.run(ctx, StepDNS, func() error {
			err := p.dns.CreateRecord(ctx, dns.Record{Subdomain: spec.SubdomainName, Owner: spec.Owner, Port: spec.Port})
			if err != nil {
				return apperror.Platform(StepDNS, err)
			}
			d.dnsManaged = true
			return nil
		})
	} else {
		steps.skip(ctx, StepDNS, "dns disabled or no subdomain")
	}

	server := &models.MinecraftServer{
		UniqueID:         spec.UniqueID,
		Owner:            spec.Owner,
		ServerName:       spec.ServerName,
		SubdomainName:    spec.SubdomainName,
		ServerConfig:     spec.Config,
		EnvironmentID:    d.envID,
		ContainerID:      d.containerID,
		StackID:          d.stackID,
		DeploymentMethod: spec.DeploymentMethod,
		IsOnline:         false,
		Port:             spec.Port,
		DNSManaged:       d.dnsManaged,
	}
	if spec.Proxy != nil {
		server.ProxyID = spec.Proxy.ID
	}
	if err := steps.run(ctx, StepPersist, func() error {
		if err := p.store.Create(ctx, server); err != nil {
			return apperror.WithOp(StepPersist, fmt.Errorf("failed to persist server record: %w", err))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return server, nil
}

func (p *Provisioner) deploy(ctx context.Context, method models.DeploymentMethod, cs models.ContainerSpec, d *deployment) error {
	if method == models.DeployStack {
		compose, err := composeFor(cs)
		if err != nil {
			return err
		}
		if cs.Network != "" {
			if err := p.platform.EnsureNetwork(ctx, d.envID, cs.Network); err != nil {
				return apperror.Platform(StepDeploy, err)
			}
		}
		stack, err := p.platform.DeployStack(ctx, d.envID, cs.Name, compose, nil)
		if err != nil {
			return apperror.Platform(StepDeploy, err)
		}
		d.stackID = stack.ID
		return nil
	}

	id, err := p.platform.DeployContainer(ctx, d.envID, cs)
	if id != "" {
		d.containerID = id
	}
	if err != nil {
		return apperror.Platform(StepDeploy, err)
	}
	return nil
}

// waitRunning polls until the container called name is running
func (p *Provisioner) waitRunning(ctx context.Context, name string, envID int) (*models.Container, error) {
	var found *models.Container
	err := p.waits.Container.Poll(ctx, WaitContainerRunning, func(ctx context.Context) (bool, error) {
		c, err := p.platform.FindContainerByName(ctx, name, envID)
		if err != nil {
			return false, err
		}
		if c == nil || c.State != models.StateRunning {
			return false, nil
		}
		found = c
		return true, nil
	})
	return found, err
}

// waitFiles polls until every file below root exists
func (p *Provisioner) waitFiles(ctx context.Context, root string, files []string) error {
	return p.waits.Files.Poll(ctx, WaitServerFiles, func(ctx context.Context) (bool, error) {
		for _, f := range files {
			ok, err := p.files.Exists(ctx, root+"/"+f)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

func (p *Provisioner) rollback(ctx context.Context, spec *ProvisionSpec, steps *stepLog, d *deployment) {
	var errs []error

	switch {
	case d.stackID > 0:
		if err := p.platform.DeleteStack(ctx, d.stackID, d.envID); err != nil {
			errs = append(errs, err)
		}
	case d.containerID != "":
		if err := p.platform.RemoveContainer(ctx, d.containerID, d.envID, true, true); err != nil {
			errs = append(errs, err)
		}
	case d.envID > 0:
		// Creation may have failed after the container was registered
		if c, err := p.platform.FindContainerByName(ctx, models.ContainerName(spec.UniqueID), d.envID); err == nil && c != nil {
			if err := p.platform.RemoveContainer(ctx, c.ID, d.envID, true, true); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if d.dnsManaged {
		if err := p.dns.DeleteRecord(ctx, dns.Record{Subdomain: spec.SubdomainName, Owner: spec.Owner, Port: spec.Port}); err != nil {
			errs = append(errs, err)
		}
	}

	root := p.layout.ServerRoot(spec.Owner, spec.UniqueID)
	if exists, err := p.files.Exists(ctx, root); err == nil && exists {
		if err := p.files.DeleteDirectory(ctx, root); err != nil {
			errs = append(errs, err)
		}
	}

	steps.record(ctx, StepRollback, errors.Join(errs...))
}

// DeployProxy makes sure the container of def exists and runs
func (p *Provisioner) DeployProxy(ctx context.Context, def models.ProxyDefinition, envHint int) (*models.ProxyServer, error) {
	ctx = context.WithoutCancel(ctx)

	envID, err := p.platform.ResolveEnvironment(ctx, envHint)
	if err != nil {
		return nil, apperror.Platform(StepResolveEnvironment, err)
	}

	cs, err := proxyContainerSpec(p.proxyImage, p.layout, def)
	if err != nil {
		return nil, apperror.Validation("%v", err)
	}

	existing, err := p.platform.FindContainerByName(ctx, cs.Name, envID)
	if err != nil {
		return nil, apperror.Platform("find proxy container", err)
	}
	switch {
	case existing == nil:
		p.logger.InfoContext(ctx, "Deploying proxy", "proxy_id", def.ID, "type", def.Type, "port", def.Port)
		if _, err := p.platform.DeployContainer(ctx, envID, cs); err != nil {
			return nil, apperror.Platform("deploy proxy", err)
		}
	case existing.State == models.StatePaused:
		if err := p.platform.UnpauseContainer(ctx, existing.ID, envID); err != nil {
			return nil, apperror.Platform("unpause proxy", err)
		}
	case existing.State != models.StateRunning:
		if err := p.platform.StartContainer(ctx, existing.ID, envID); err != nil {
			return nil, apperror.Platform("start proxy", err)
		}
	}

	c, err := p.waitRunning(ctx, cs.Name, envID)
	if err != nil {
		return nil, err
	}

	return &models.ProxyServer{
		ID:               def.ID,
		Name:             def.Name,
		Host:             def.Host,
		Port:             def.Port,
		Memory:           def.Memory,
		Network:          def.Network,
		Type:             def.Type,
		ForwardingMode:   def.ForwardingMode,
		ForwardingSecret: def.Secret,
		ContainerID:      c.ID,
		EnvironmentID:    envID,
		Status:           models.StatusRunning,
	}, nil
}

// Redeploy recreates a server's container from its record with a fresh
// image. network is the proxy network the server belongs to, if any.
func (p *Provisioner) Redeploy(ctx context.Context, server *models.MinecraftServer, network string) (string, error) {
	ctx = context.WithoutCancel(ctx)
	name := server.ContainerName()

	if server.DeploymentMethod == models.DeployStack {
		stackID := server.StackID
		if stackID == 0 {
			stack, err := p.platform.FindStackByName(ctx, name, server.EnvironmentID)
			if err != nil {
				return "", apperror.Platform("find stack", err)
			}
			if stack == nil {
				return "", apperror.NotFound(apperror.ResourceStack, "stack %s not found", name)
			}
			stackID = stack.ID
		}
		if err := p.platform.RedeployStack(ctx, stackID, server.EnvironmentID); err != nil {
			return "", apperror.Platform("redeploy stack", err)
		}
	} else {
		spec := &ProvisionSpec{
			UniqueID: server.UniqueID,
			Owner:    server.Owner,
			Config:   server.ServerConfig,
			Port:     server.Port,
		}
		cs, err := serverContainerSpec(p.mc, p.layout, spec)
		if err != nil {
			return "", apperror.Validation("%v", err)
		}
		if network != "" {
			cs.Network = network
			cs.Aliases = []string{server.UniqueID}
		}

		existing, err := p.platform.FindContainerByName(ctx, name, server.EnvironmentID)
		if err != nil {
			return "", apperror.Platform("find container", err)
		}
		if existing != nil {
			if err := p.platform.RemoveContainer(ctx, existing.ID, server.EnvironmentID, true, false); err != nil {
				return "", apperror.Platform("remove container", err)
			}
		}
		if _, err := p.platform.DeployContainer(ctx, server.EnvironmentID, cs); err != nil {
			return "", apperror.Platform(StepDeploy, err)
		}
	}

	c, err := p.waitRunning(ctx, name, server.EnvironmentID)
	if err != nil {
		return "", err
	}

	online := true
	if err := p.store.UpdateFields(ctx, server.UniqueID, models.ServerFields{ContainerID: &c.ID, IsOnline: &online}); err != nil {
		p.logger.WarnContext(ctx, "Failed to record redeployed container", "server_id", server.UniqueID, "error", err)
	}
	p.logger.InfoContext(ctx, "Server redeployed", "server_id", server.UniqueID, "container_id", c.ID)
	return c.ID, nil
}
