package models

import (
	"time"
)

const (
	// DefaultProxyID is used when no proxy definitions are declared
	DefaultProxyID = "main-proxy"
)

// ProxyType is the proxy software
type ProxyType string

const (
	ProxyVelocity   ProxyType = "velocity"
	ProxyBungeeCord ProxyType = "bungeecord"
)

// ForwardingMode is how the proxy forwards player information to backends
type ForwardingMode string

const (
	ForwardingModern ForwardingMode = "modern"
	ForwardingLegacy ForwardingMode = "legacy"
)

// ProxyDefinition is a proxy declared in static configuration
type ProxyDefinition struct {
	ID             string         `yaml:"id" json:"id"`
	Name           string         `yaml:"name" json:"name"`
	Host           string         `yaml:"host" json:"host"`
	Port           int            `yaml:"port" json:"port"`
	Memory         string         `yaml:"memory" json:"memory"`
	Network        string         `yaml:"network" json:"network"`
	Type           ProxyType      `yaml:"type" json:"type"`
	ForwardingMode ForwardingMode `yaml:"forwardingMode" json:"forwarding_mode"`
	Secret         string         `yaml:"secret" json:"-"`
}

// ContainerName is the deterministic platform name for a proxy
func (d ProxyDefinition) ContainerName() string {
	return "mc-proxy-" + d.ID
}

// ProxyServer is a proxy instantiated on the container platform
type ProxyServer struct {
	ID               string          `json:"id" gorm:"primaryKey"`
	Name             string          `json:"name" gorm:"not null"`
	Host             string          `json:"host"`
	Port             int             `json:"port" gorm:"not null"`
	Memory           string          `json:"memory"`
	Network          string          `json:"network"`
	Type             ProxyType       `json:"type" gorm:"type:varchar(16)"`
	ForwardingMode   ForwardingMode  `json:"forwarding_mode" gorm:"type:varchar(16)"`
	ForwardingSecret string          `json:"-"`
	ContainerID      string          `json:"container_id" gorm:"index"`
	EnvironmentID    int             `json:"environment_id"`
	Status           ContainerStatus `json:"status" gorm:"type:varchar(20)"`
	CreatedAt        time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// Definition returns the declared shape of the proxy
func (p *ProxyServer) Definition() ProxyDefinition {
	return ProxyDefinition{
		ID:             p.ID,
		Name:           p.Name,
		Host:           p.Host,
		Port:           p.Port,
		Memory:         p.Memory,
		Network:        p.Network,
		Type:           p.Type,
		ForwardingMode: p.ForwardingMode,
		Secret:         p.ForwardingSecret,
	}
}
