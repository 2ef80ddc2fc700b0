package service

import (
	"fmt"

	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	velocityConfigFile   = "velocity.toml"
	velocitySecretFile   = "forwarding.secret"
	bungeeCordConfigFile = "config.yml"
)

// proxyConfigFiles renders the configuration files of a proxy and its members
func proxyConfigFiles(def models.ProxyDefinition, members []*models.MinecraftServer) (map[string][]byte, error) {
	if def.Type == models.ProxyBungeeCord {
		data, err := bungeeCordConfig(def, members)
		if err != nil {
			return nil, err
		}
		return map[string][]byte{bungeeCordConfigFile: data}, nil
	}
	data, err := velocityConfig(def, members)
	if err != nil {
		return nil, err
	}
	return map[string][]byte{
		velocityConfigFile: data,
		velocitySecretFile: []byte(def.Secret),
	}, nil
}

func memberAddress(server *models.MinecraftServer) string {
	return fmt.Sprintf("%s:%d", server.UniqueID, minecraftContainerPort)
}

const velocityHeader = "# Velocity Configuration\n# Auto-generated by dockermc-dashboard\n\n"

type velocityAdvanced struct {
	CompressionThreshold int `toml:"compression-threshold"`
	CompressionLevel     int `toml:"compression-level"`
	LoginRatelimit       int `toml:"login-ratelimit"`
	ConnectionTimeout    int `toml:"connection-timeout"`
	ReadTimeout          int `toml:"read-timeout"`
}

type velocityQuery struct {
	Enabled bool `toml:"enabled"`
}

type velocityFile struct {
	ConfigVersion          string              `toml:"config-version"`
	Bind                   string              `toml:"bind"`
	MOTD                   string              `toml:"motd"`
	ShowMaxPlayers         int                 `toml:"show-max-players"`
	OnlineMode             bool                `toml:"online-mode"`
	ForceKeyAuthentication bool                `toml:"force-key-authentication"`
	ForwardingMode         string              `toml:"player-info-forwarding-mode" comment:"Player information forwarding settings"`
	ForwardingSecretFile   string              `toml:"forwarding-secret-file"`
	Servers                map[string]any      `toml:"servers"`
	ForcedHosts            map[string][]string `toml:"forced-hosts"`
	Advanced               velocityAdvanced    `toml:"advanced"`
	Query                  velocityQuery       `toml:"query"`
}

// velocityTryKey holds the connection order inside the servers table
const velocityTryKey = "try"

// velocityConfig generates the Velocity TOML configuration
func velocityConfig(def models.ProxyDefinition, members []*models.MinecraftServer) ([]byte, error) {
	servers := make(map[string]any, len(members)+1)
	tryList := make([]string, 0, len(members))
	for _, server := range members {
		if server.UniqueID == velocityTryKey {
			return nil, fmt.Errorf("server id %q clashes with the velocity try list", server.UniqueID)
		}
		// The unique ID is the container's alias on the proxy network
		servers[server.UniqueID] = memberAddress(server)
		tryList = append(tryList, server.UniqueID)
	}
	servers[velocityTryKey] = tryList

	forwarding := "legacy"
	if def.ForwardingMode == models.ForwardingModern {
		forwarding = "modern"
	}

	name := def.Name
	if name == "" {
		name = def.ID
	}

	data, err := toml.Marshal(velocityFile{
		ConfigVersion:          "2.7",
		Bind:                   fmt.Sprintf("0.0.0.0:%d", proxyContainerPort),
		MOTD:                   "<aqua>" + name + "</aqua>",
		ShowMaxPlayers:         500,
		OnlineMode:             true,
		ForceKeyAuthentication: false,
		ForwardingMode:         forwarding,
		ForwardingSecretFile:   velocitySecretFile,
		Servers:                servers,
		ForcedHosts:            map[string][]string{},
		Advanced: velocityAdvanced{
			CompressionThreshold: 256,
			CompressionLevel:     -1,
			LoginRatelimit:       3000,
			ConnectionTimeout:    5000,
			ReadTimeout:          30000,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render velocity configuration: %w", err)
	}
	return append([]byte(velocityHeader), data...), nil
}

type bungeeServer struct {
	Address    string `yaml:"address"`
	MOTD       string `yaml:"motd"`
	Restricted bool   `yaml:"restricted"`
}

type bungeeListener struct {
	Host               string   `yaml:"host"`
	MaxPlayers         int      `yaml:"max_players"`
	MOTD               string   `yaml:"motd"`
	Priorities         []string `yaml:"priorities"`
	ForceDefaultServer bool     `yaml:"force_default_server"`
}

type bungeeConfigDoc struct {
	OnlineMode bool                    `yaml:"online_mode"`
	IPForward  bool                    `yaml:"ip_forward"`
	Listeners  []bungeeListener        `yaml:"listeners"`
	Servers    map[string]bungeeServer `yaml:"servers"`
}

// bungeeCordConfig generates the BungeeCord config.yml
func bungeeCordConfig(def models.ProxyDefinition, members []*models.MinecraftServer) ([]byte, error) {
	doc := bungeeConfigDoc{
		OnlineMode: true,
		IPForward:  true,
		Servers:    make(map[string]bungeeServer, len(members)),
	}
	listener := bungeeListener{
		Host:       fmt.Sprintf("0.0.0.0:%d", proxyContainerPort),
		MaxPlayers: 500,
		MOTD:       def.Name,
	}
	for _, server := range members {
		doc.Servers[server.UniqueID] = bungeeServer{
			Address: memberAddress(server),
			MOTD:    server.ServerConfig.MOTD,
		}
		listener.Priorities = append(listener.Priorities, server.UniqueID)
	}
	doc.Listeners = []bungeeListener{listener}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to render bungeecord config: %w", err)
	}
	return data, nil
}
