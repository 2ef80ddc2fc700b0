package service

import (
	"context"
	"io"
	"log/slog"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mlhmz/dockermc-dashboard/internal/config"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/service/fakes"
)

const testOwner = "alice@example.com"

var (
	testProperties  = "#Minecraft server properties\nmotd=A Minecraft Server\nonline-mode=true\nmax-players=20\n"
	testSpigot      = "settings:\n  bungeecord: false\n  timeout-time: 60\n"
	testPaperGlobal = "proxies:\n  velocity:\n    enabled: false\n    online-mode: false\n    secret: ''\n"
)

type harness struct {
	platform   *fakes.Platform
	storage    *fakes.Storage
	dns        *fakes.DNS
	store      *fakes.ServerStore
	proxyStore *fakes.ProxyStore
	clock      *fakes.Clock

	layout      Layout
	locks       *ServerLocks
	resolver    *Resolver
	registry    *ProxyRegistry
	provisioner *Provisioner
	lifecycle   *LifecycleService
	deletion    *DeletionService
	files       *FileService
	proxies     *ProxyService
	servers     *MinecraftServerService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProxyDefinition() models.ProxyDefinition {
	return models.ProxyDefinition{
		ID:             models.DefaultProxyID,
		Name:           "Main Proxy",
		Port:           25565,
		Memory:         "512M",
		Network:        "minecraft-network",
		Type:           models.ProxyVelocity,
		ForwardingMode: models.ForwardingModern,
		Secret:         "s3cret",
	}
}

func newHarness(t *testing.T, servers ...*models.MinecraftServer) *harness {
	t.Helper()
	logger := testLogger()

	h := &harness{
		platform:   fakes.NewPlatform(),
		storage:    fakes.NewStorage(),
		dns:        fakes.NewDNS(),
		store:      fakes.NewServerStore(servers...),
		proxyStore: fakes.NewProxyStore(),
		clock:      fakes.NewClock(time.Date(2024, 5, 17, 14, 30, 5, 0, time.UTC)),
		layout:     Layout{BasePath: "servers", HostPath: "/srv/minecraft/servers"},
		locks:      NewServerLocks(),
	}

	mc := config.MinecraftConfig{
		Image:            "itzg/minecraft-server:latest",
		DeploymentMethod: "container",
		DefaultMemory:    "2G",
		PortRangeMin:     25566,
		PortRangeMax:     25665,
	}
	waits := NewWaits(config.WaitConfig{
		ContainerAttempts: 30,
		ContainerInterval: 2 * time.Second,
		FilesTimeout:      2 * time.Minute,
		FilesInterval:     2 * time.Second,
	}, h.clock)

	h.resolver = NewResolver(h.store, true, logger)
	h.registry = NewProxyRegistry([]models.ProxyDefinition{testProxyDefinition()}, testProxyDefinition())
	h.provisioner = NewProvisioner(h.platform, h.storage, h.dns, h.store, mc, "itzg/bungeecord:latest", h.layout, waits, logger)
	h.lifecycle = NewLifecycleService(h.platform, h.store, h.resolver, h.locks, logger)
	h.deletion = NewDeletionService(h.platform, h.storage, h.dns, h.store, h.resolver, h.locks, h.layout, logger)
	h.files = NewFileService(h.storage, h.resolver, h.locks, h.layout,
		[]string{"server.properties", "eula.txt", "world", "world_nether", "world_the_end", "world/level.dat"},
		h.clock, logger)
	h.proxies = NewProxyService(h.registry, h.provisioner, h.platform, h.storage, h.store, h.proxyStore,
		h.resolver, h.locks, h.layout, waits, 0, logger)
	h.servers = NewMinecraftServerService(h.provisioner, h.lifecycle, h.deletion, h.proxies,
		h.platform, h.storage, h.store, h.resolver, h.locks, h.layout, logger)
	return h
}

// bootFiles makes deployed server containers write their first-boot files
func (h *harness) bootFiles(owner string) {
	h.platform.OnDeploy = func(spec models.ContainerSpec) {
		if !strings.HasPrefix(spec.Name, "mc-") || strings.HasPrefix(spec.Name, "mc-proxy-") {
			return
		}
		h.writeServerFiles(owner, strings.TrimPrefix(spec.Name, "mc-"))
	}
}

func (h *harness) writeServerFiles(owner, uniqueID string) {
	root := h.layout.ServerRoot(owner, uniqueID)
	h.storage.Put(path.Join(root, ServerPropertiesFile), []byte(testProperties))
	h.storage.Put(path.Join(root, SpigotConfigFile), []byte(testSpigot))
	h.storage.Put(path.Join(root, PaperGlobalConfigFile), []byte(testPaperGlobal))
	h.storage.Put(path.Join(root, "world", "level.dat"), []byte("level"))
	h.storage.Put(path.Join(root, "world", "region", "r.0.0.mca"), []byte("region"))
}

func (h *harness) serverFile(owner, uniqueID, rel string) string {
	data, _ := h.storage.File(path.Join(h.layout.ServerRoot(owner, uniqueID), rel))
	return string(data)
}

func testServer(uniqueID string) *models.MinecraftServer {
	return &models.MinecraftServer{
		UniqueID:      uniqueID,
		Owner:         testOwner,
		ServerName:    "Survival " + uniqueID,
		SubdomainName: "survival-" + uniqueID,
		ServerConfig: models.ServerConfig{
			Version:    "1.21.1",
			Type:       models.EnginePaper,
			MaxPlayers: 20,
			MOTD:       "hello",
			Memory:     "2G",
			OnlineMode: true,
			PVP:        true,
		},
		EnvironmentID:    1,
		ContainerID:      "id-mc-" + uniqueID,
		DeploymentMethod: models.DeployContainer,
		Port:             25570,
	}
}

// withServer stores a server, its container in state and its files
func (h *harness) withServer(t *testing.T, server *models.MinecraftServer, state models.ContainerState) {
	t.Helper()
	require.NoError(t, h.store.Create(context.Background(), server))
	if state != models.StateAbsent {
		h.platform.AddContainer(server.ContainerName(), state)
	}
	h.writeServerFiles(server.Owner, server.UniqueID)
}

func stepNames(steps []StepResult) []string {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.Name)
	}
	return names
}

func findStep(steps []StepResult, name string) StepResult {
	for _, s := range steps {
		if s.Name == name {
			return s
		}
	}
	return StepResult{}
}
