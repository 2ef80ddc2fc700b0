package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/mlhmz/dockermc-dashboard/internal/config"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	minecraftContainerPort = 25565
	proxyContainerPort     = 25577
	serverDataMount        = "/data"
	proxyDataMount         = "/server"

	labelServerID = "dockermc.server-id"
	labelOwner    = "dockermc.owner"
	labelProxyID  = "dockermc.proxy-id"
)

// memoryLimit is the container limit for a JVM heap size, leaving headroom
// for off-heap memory
func memoryLimit(heap string) (int64, error) {
	bytes, err := units.RAMInBytes(heap)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q: %w", heap, err)
	}
	return bytes + bytes/4, nil
}

// serverContainerSpec describes the container of a provisioned server
func serverContainerSpec(mc config.MinecraftConfig, layout Layout, spec *ProvisionSpec) (models.ContainerSpec, error) {
	cfg := spec.Config
	limit, err := memoryLimit(cfg.Memory)
	if err != nil {
		return models.ContainerSpec{}, err
	}

	env := []string{
		"EULA=TRUE",
		"TYPE=" + string(cfg.Type),
		"VERSION=" + cfg.Version,
		"MEMORY=" + cfg.Memory,
		fmt.Sprintf("MAX_PLAYERS=%d", cfg.MaxPlayers),
		"MOTD=" + cfg.MOTD,
		"ONLINE_MODE=" + strconv.FormatBool(cfg.OnlineMode),
		"PVP=" + strconv.FormatBool(cfg.PVP),
		"HARDCORE=" + strconv.FormatBool(cfg.Hardcore),
		"ENABLE_WHITELIST=" + strconv.FormatBool(cfg.Whitelist),
		"ENABLE_RCON=true",
	}
	if cfg.Difficulty != "" {
		env = append(env, "DIFFICULTY="+cfg.Difficulty)
	}
	if cfg.GameMode != "" {
		env = append(env, "MODE="+cfg.GameMode)
	}

	cs := models.ContainerSpec{
		Name:  models.ContainerName(spec.UniqueID),
		Image: mc.Image,
		Env:   env,
		Labels: map[string]string{
			labelServerID: spec.UniqueID,
			labelOwner:    spec.Owner,
		},
		ContainerPort: minecraftContainerPort,
		HostPort:      spec.Port,
		DataMount:     serverDataMount,
		HostDataPath:  layout.HostDataPath(spec.Owner, spec.UniqueID),
		MemoryBytes:   limit,
	}
	if spec.Proxy != nil {
		cs.Network = spec.Proxy.Network
		cs.Aliases = []string{spec.UniqueID}
	}
	return cs, nil
}

// proxyContainerSpec describes the container of a proxy
func proxyContainerSpec(image string, layout Layout, def models.ProxyDefinition) (models.ContainerSpec, error) {
	limit, err := memoryLimit(def.Memory)
	if err != nil {
		return models.ContainerSpec{}, err
	}
	proxyType := "VELOCITY"
	if def.Type == models.ProxyBungeeCord {
		proxyType = "BUNGEECORD"
	}
	return models.ContainerSpec{
		Name:  def.ContainerName(),
		Image: image,
		Env: []string{
			"TYPE=" + proxyType,
			"MEMORY=" + def.Memory,
		},
		Labels:        map[string]string{labelProxyID: def.ID},
		ContainerPort: proxyContainerPort,
		HostPort:      def.Port,
		DataMount:     proxyDataMount,
		HostDataPath:  layout.HostProxyPath(def.ID),
		MemoryBytes:   limit,
		Network:       def.Network,
		Aliases:       []string{def.ID, "proxy"},
	}, nil
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Networks map[string]composeNetwork `yaml:"networks,omitempty"`
}

type composeService struct {
	Image         string                           `yaml:"image"`
	ContainerName string                           `yaml:"container_name"`
	Restart       string                           `yaml:"restart"`
	TTY           bool                             `yaml:"tty"`
	StdinOpen     bool                             `yaml:"stdin_open"`
	Environment   map[string]string                `yaml:"environment,omitempty"`
	Ports         []string                         `yaml:"ports,omitempty"`
	Volumes       []string                         `yaml:"volumes,omitempty"`
	Labels        map[string]string                `yaml:"labels,omitempty"`
	MemLimit      int64                            `yaml:"mem_limit,omitempty"`
	Networks      map[string]composeServiceNetwork `yaml:"networks,omitempty"`
}

type composeServiceNetwork struct {
	Aliases []string `yaml:"aliases,omitempty"`
}

type composeNetwork struct {
	External bool `yaml:"external"`
}

// composeFor renders a single-service compose file for spec
func composeFor(spec models.ContainerSpec) ([]byte, error) {
	env := make(map[string]string, len(spec.Env))
	for _, kv := range spec.Env {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}

	svc := composeService{
		Image:         spec.Image,
		ContainerName: spec.Name,
		Restart:       "unless-stopped",
		TTY:           true,
		StdinOpen:     true,
		Environment:   env,
		Labels:        spec.Labels,
		MemLimit:      spec.MemoryBytes,
	}
	if spec.HostPort > 0 {
		svc.Ports = []string{fmt.Sprintf("%d:%d", spec.HostPort, spec.ContainerPort)}
	}
	if spec.HostDataPath != "" {
		svc.Volumes = []string{spec.HostDataPath + ":" + spec.DataMount}
	}

	file := composeFile{Services: map[string]composeService{spec.Name: svc}}
	if spec.Network != "" {
		svc.Networks = map[string]composeServiceNetwork{spec.Network: {Aliases: spec.Aliases}}
		file.Services[spec.Name] = svc
		file.Networks = map[string]composeNetwork{spec.Network: {External: true}}
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return nil, fmt.Errorf("failed to render compose file: %w", err)
	}
	return data, nil
}
