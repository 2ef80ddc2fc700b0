package models

import (
	"fmt"
	"strings"
	"time"
)

// EngineType is the server software the container runs
type EngineType string

const (
	EngineVanilla EngineType = "VANILLA"
	EngineSpigot  EngineType = "SPIGOT"
	EnginePaper   EngineType = "PAPER"
	EngineBukkit  EngineType = "BUKKIT"
	EnginePurpur  EngineType = "PURPUR"
	EngineForge   EngineType = "FORGE"
	EngineFabric  EngineType = "FABRIC"
)

var supportedEngines = []EngineType{
	EngineVanilla, EngineSpigot, EnginePaper, EngineBukkit, EnginePurpur, EngineForge, EngineFabric,
}

// ParseEngineType normalizes and validates an engine name
func ParseEngineType(s string) (EngineType, error) {
	e := EngineType(strings.ToUpper(strings.TrimSpace(s)))
	for _, supported := range supportedEngines {
		if e == supported {
			return e, nil
		}
	}
	return "", fmt.Errorf("unsupported server type %q", s)
}

// SupportsBungeeForwarding reports whether the engine reads spigot.yml
func (e EngineType) SupportsBungeeForwarding() bool {
	switch e {
	case EngineSpigot, EnginePaper, EngineBukkit, EnginePurpur:
		return true
	}
	return false
}

// SupportsVelocityForwarding reports whether the engine reads paper-global.yml
func (e EngineType) SupportsVelocityForwarding() bool {
	return e == EnginePaper || e == EnginePurpur
}

// DeploymentMethod is how the container was created on the platform
type DeploymentMethod string

const (
	DeployContainer DeploymentMethod = "container"
	DeployStack     DeploymentMethod = "stack"
)

// ServerConfig is the game configuration embedded in a server record
type ServerConfig struct {
	Version    string     `json:"version"`
	Type       EngineType `json:"type" gorm:"type:varchar(16)"`
	Difficulty string     `json:"difficulty"`
	GameMode   string     `json:"game_mode"`
	MaxPlayers int        `json:"max_players"`
	MOTD       string     `json:"motd"`
	Memory     string     `json:"memory"`
	OnlineMode bool       `json:"online_mode"`
	PVP        bool       `json:"pvp"`
	Hardcore   bool       `json:"hardcore"`
	Whitelist  bool       `json:"whitelist"`
}

// MinecraftServer is the authoritative record of a provisioned server
type MinecraftServer struct {
	UniqueID         string           `json:"unique_id" gorm:"primaryKey;column:unique_id"`
	Owner            string           `json:"owner" gorm:"index;not null"`
	ServerName       string           `json:"server_name" gorm:"index"`
	SubdomainName    string           `json:"subdomain_name" gorm:"uniqueIndex:idx_servers_subdomain,where:subdomain_name <> ''"`
	ServerConfig     ServerConfig     `json:"server_config" gorm:"embedded;embeddedPrefix:cfg_"`
	EnvironmentID    int              `json:"environment_id"`
	ContainerID      string           `json:"container_id"`
	StackID          int              `json:"stack_id,omitempty"`
	DeploymentMethod DeploymentMethod `json:"deployment_method" gorm:"type:varchar(16)"`
	IsOnline         bool             `json:"is_online"`
	Port             int              `json:"port" gorm:"uniqueIndex"`
	DNSManaged       bool             `json:"dns_managed"`
	ProxyID          string           `json:"proxy_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time        `json:"updated_at" gorm:"autoUpdateTime"`
}

// ContainerName is the deterministic platform name for a server
func ContainerName(uniqueID string) string {
	return "mc-" + uniqueID
}

// ContainerName returns the platform name of the server's container
func (s *MinecraftServer) ContainerName() string {
	return ContainerName(s.UniqueID)
}

// ServerFields is a narrow field-level update of a server record.
// Nil fields are left untouched.
type ServerFields struct {
	IsOnline     *bool
	ContainerID  *string
	ProxyID      *string
	ServerConfig *ServerConfig
}

// CreateServerRequest represents the request body for creating a new server
type CreateServerRequest struct {
	UniqueID         string `json:"unique_id,omitempty"`
	ServerName       string `json:"server_name"`
	SubdomainName    string `json:"subdomain_name,omitempty"`
	Type             string `json:"type"`
	Version          string `json:"version"`
	Difficulty       string `json:"difficulty,omitempty"`
	GameMode         string `json:"game_mode,omitempty"`
	MaxPlayers       int    `json:"max_players,omitempty"`
	MOTD             string `json:"motd,omitempty"`
	Memory           string `json:"memory,omitempty"`
	Port             int    `json:"port,omitempty"`
	EnvironmentID    int    `json:"environment_id,omitempty"`
	// DeploymentMethod is "container" or "stack"; empty uses the configured default
	DeploymentMethod string `json:"deployment_method,omitempty"`
	OnlineMode       *bool  `json:"online_mode,omitempty"`
	PVP              *bool  `json:"pvp,omitempty"`
	Hardcore         bool   `json:"hardcore,omitempty"`
	Whitelist        bool   `json:"whitelist,omitempty"`
	AttachProxy      string `json:"attach_proxy,omitempty"`
}

// UpdateServerRequest represents the request body for updating a server
type UpdateServerRequest struct {
	MaxPlayers *int    `json:"max_players,omitempty"`
	MOTD       *string `json:"motd,omitempty"`
	Difficulty *string `json:"difficulty,omitempty"`
	GameMode   *string `json:"game_mode,omitempty"`
	PVP        *bool   `json:"pvp,omitempty"`
	Whitelist  *bool   `json:"whitelist,omitempty"`
}
