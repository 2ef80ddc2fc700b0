package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"gopkg.in/yaml.v3"
)

type proxyFile struct {
	Proxies []models.ProxyDefinition `yaml:"proxies"`
}

// LoadProxyDefinitions reads the declared proxies from path.
// A missing file yields no definitions.
func LoadProxyDefinitions(path string, defaults ProxyConfig) ([]models.ProxyDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read proxy definitions: %w", err)
	}
	return ParseProxyDefinitions(data, defaults)
}

// ParseProxyDefinitions decodes and validates a proxies YAML document
func ParseProxyDefinitions(data []byte, defaults ProxyConfig) ([]models.ProxyDefinition, error) {
	var file proxyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse proxy definitions: %w", err)
	}

	seen := make(map[string]bool, len(file.Proxies))
	defs := make([]models.ProxyDefinition, 0, len(file.Proxies))
	for i, def := range file.Proxies {
		def = ApplyProxyDefaults(def, defaults)
		if def.ID == "" {
			return nil, fmt.Errorf("proxy definition %d: id is required", i)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("proxy definition %q declared twice", def.ID)
		}
		seen[def.ID] = true

		switch def.Type {
		case models.ProxyVelocity, models.ProxyBungeeCord:
		default:
			return nil, fmt.Errorf("proxy definition %q: unsupported type %q", def.ID, def.Type)
		}
		switch def.ForwardingMode {
		case models.ForwardingModern, models.ForwardingLegacy:
		default:
			return nil, fmt.Errorf("proxy definition %q: unsupported forwarding mode %q", def.ID, def.ForwardingMode)
		}
		if def.Type == models.ProxyBungeeCord && def.ForwardingMode == models.ForwardingModern {
			return nil, fmt.Errorf("proxy definition %q: bungeecord only supports legacy forwarding", def.ID)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// DefaultProxyDefinition is used when no proxy is declared
func DefaultProxyDefinition(defaults ProxyConfig) models.ProxyDefinition {
	return ApplyProxyDefaults(models.ProxyDefinition{
		ID:   models.DefaultProxyID,
		Name: "Main Proxy",
	}, defaults)
}

// ApplyProxyDefaults fills unset definition fields from the proxy config
func ApplyProxyDefaults(def models.ProxyDefinition, defaults ProxyConfig) models.ProxyDefinition {
	def.ID = strings.TrimSpace(def.ID)
	if def.Name == "" {
		def.Name = def.ID
	}
	if def.Port == 0 {
		def.Port = defaults.DefaultPort
	}
	if def.Memory == "" {
		def.Memory = defaults.DefaultMemory
	}
	if def.Network == "" {
		def.Network = defaults.Network
	}
	if def.Type == "" {
		def.Type = models.ProxyVelocity
	}
	def.Type = models.ProxyType(strings.ToLower(string(def.Type)))
	if def.ForwardingMode == "" {
		if def.Type == models.ProxyVelocity {
			def.ForwardingMode = models.ForwardingModern
		} else {
			def.ForwardingMode = models.ForwardingLegacy
		}
	}
	def.ForwardingMode = models.ForwardingMode(strings.ToLower(string(def.ForwardingMode)))
	return def
}
