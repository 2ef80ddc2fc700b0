package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/mlhmz/dockermc-dashboard/internal/api/handlers"
	"github.com/mlhmz/dockermc-dashboard/internal/config"
	"github.com/mlhmz/dockermc-dashboard/internal/database"
	"github.com/mlhmz/dockermc-dashboard/internal/dns"
	"github.com/mlhmz/dockermc-dashboard/internal/portainer"
	"github.com/mlhmz/dockermc-dashboard/internal/service"
	"github.com/mlhmz/dockermc-dashboard/internal/webdav"
)

var (
	_ service.Platform       = (*portainer.Client)(nil)
	_ service.FileStorage    = (*webdav.Client)(nil)
	_ service.ServerStore    = (*database.ServerRepository)(nil)
	_ service.ProxyStore     = (*database.ProxyRepository)(nil)
	_ handlers.ServerManager = (*service.MinecraftServerService)(nil)
	_ handlers.ProxyManager  = (*service.ProxyService)(nil)
	_ handlers.FileManager   = (*service.FileService)(nil)
)

// services is the wired orchestration layer shared by the API server and
// the CLI commands
type services struct {
	db        *database.DB
	portainer *portainer.Client

	servers *service.MinecraftServerService
	proxies *service.ProxyService
	files   *service.FileService
}

// initializeServices connects to the database, Portainer, the file server
// and the DNS registrar and wires the services on top of them
func initializeServices(ctx context.Context) (*services, error) {
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	platform, err := portainer.NewClient(cfg.Portainer, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize portainer client: %w", err)
	}

	dnsProvider, err := dns.NewProvider(cfg.DNS, logger)
	if err != nil {
		platform.Close()
		db.Close()
		return nil, fmt.Errorf("failed to initialize dns provider: %w", err)
	}

	defs, err := config.LoadProxyDefinitions(cfg.Proxy.DefinitionFile, cfg.Proxy)
	if err != nil {
		platform.Close()
		db.Close()
		return nil, fmt.Errorf("failed to load proxy definitions: %w", err)
	}

	storage := webdav.NewClient(cfg.WebDAV, logger)
	serverRepo := database.NewServerRepository(db)
	proxyRepo := database.NewProxyRepository(db)

	registry := service.NewProxyRegistry(defs, config.DefaultProxyDefinition(cfg.Proxy))
	if err := registry.Load(ctx, proxyRepo); err != nil {
		platform.Close()
		db.Close()
		return nil, fmt.Errorf("failed to load proxy instances: %w", err)
	}

	layout := service.Layout{
		BasePath: strings.Trim(cfg.Minecraft.ServerBasePath, "/"),
		HostPath: cfg.Minecraft.ServerHostPath,
	}
	waits := service.NewWaits(cfg.Wait, service.RealClock{})
	locks := service.NewServerLocks()
	resolver := service.NewResolver(serverRepo, cfg.LegacyAliasLookup, logger)

	provisioner := service.NewProvisioner(platform, storage, dnsProvider, serverRepo, cfg.Minecraft, cfg.Proxy.Image, layout, waits, logger)
	lifecycle := service.NewLifecycleService(platform, serverRepo, resolver, locks, logger)
	deletion := service.NewDeletionService(platform, storage, dnsProvider, serverRepo, resolver, locks, layout, logger)
	proxies := service.NewProxyService(registry, provisioner, platform, storage, serverRepo, proxyRepo,
		resolver, locks, layout, waits, cfg.Portainer.EnvironmentID, logger)
	files := service.NewFileService(storage, resolver, locks, layout, cfg.Files.ProtectedPaths, service.RealClock{}, logger)
	servers := service.NewMinecraftServerService(provisioner, lifecycle, deletion, proxies,
		platform, storage, serverRepo, resolver, locks, layout, logger)

	logger.Info("Services initialized",
		"portainer_url", cfg.Portainer.URL,
		"webdav_url", cfg.WebDAV.URL,
		"dns_enabled", dnsProvider.Enabled(),
		"proxies", len(registry.Definitions()),
	)

	return &services{
		db:        db,
		portainer: platform,
		servers:   servers,
		proxies:   proxies,
		files:     files,
	}, nil
}

// Close releases the platform client and the database
func (s *services) Close() {
	if err := s.portainer.Close(); err != nil {
		logger.Warn("Failed to close portainer client", "error", err)
	}
	if err := s.db.Close(); err != nil {
		logger.Warn("Failed to close database", "error", err)
	}
}
