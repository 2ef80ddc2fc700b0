package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the application configuration
type Config struct {
	API       APIConfig       `envconfig:"API"`
	Log       LogConfig       `envconfig:"LOG"`
	Database  DatabaseConfig  `envconfig:"DATABASE"`
	Auth      AuthConfig      `envconfig:"AUTH"`
	Portainer PortainerConfig `envconfig:"PORTAINER"`
	WebDAV    WebDAVConfig    `envconfig:"WEBDAV"`
	DNS       DNSConfig       `envconfig:"DNS"`
	Minecraft MinecraftConfig `envconfig:"MINECRAFT"`
	Proxy     ProxyConfig     `envconfig:"PROXY"`
	Wait      WaitConfig      `envconfig:"WAIT"`
	Files     FilesConfig     `envconfig:"FILES"`

	// LegacyAliasLookup lets callers address servers by subdomain or server name
	LegacyAliasLookup bool `envconfig:"LEGACY_ALIAS_LOOKUP" default:"true"`
}

type APIConfig struct {
	Port        int      `split_words:"true" default:"8080"`
	CORSOrigins []string `split_words:"true" default:"*"`
}

type LogConfig struct {
	Level  string `split_words:"true" default:"INFO"`
	Format string `split_words:"true" default:"json"`
}

type DatabaseConfig struct {
	Driver string `split_words:"true" default:"sqlite"`
	Path   string `split_words:"true" default:"./data/dockermc.db"`
	URL    string `split_words:"true"`
}

type AuthConfig struct {
	JWTSecret string `split_words:"true"`
	Issuer    string `split_words:"true"`
}

type PortainerConfig struct {
	URL           string        `split_words:"true" default:"http://localhost:9000"`
	APIKey        string        `split_words:"true"`
	EnvironmentID int           `split_words:"true" default:"0"`
	Timeout       time.Duration `split_words:"true" default:"30s"`
	PullTimeout   time.Duration `split_words:"true" default:"10m"`
	InsecureTLS   bool          `split_words:"true" default:"false"`
}

type WebDAVConfig struct {
	URL      string        `split_words:"true" default:"http://localhost:8081"`
	User     string        `split_words:"true"`
	Password string        `split_words:"true"`
	Timeout  time.Duration `split_words:"true" default:"30s"`
}

type DNSConfig struct {
	Provider  string        `split_words:"true" default:"none"`
	BaseURL   string        `split_words:"true" default:"https://api.porkbun.com/api/json/v3"`
	APIKey    string        `split_words:"true"`
	SecretKey string        `split_words:"true"`
	Domain    string        `split_words:"true"`
	Target    string        `split_words:"true"`
	TTL       int           `split_words:"true" default:"600"`
	Timeout   time.Duration `split_words:"true" default:"15s"`
}

type MinecraftConfig struct {
	Image            string `split_words:"true" default:"itzg/minecraft-server:latest"`
	DeploymentMethod string `split_words:"true" default:"container"`
	DefaultMemory    string `split_words:"true" default:"2G"`
	PortRangeMin     int    `split_words:"true" default:"25566"`
	PortRangeMax     int    `split_words:"true" default:"25665"`
	ServerBasePath   string `split_words:"true" default:"/servers"`
	ServerHostPath   string `split_words:"true" default:"/srv/minecraft/servers"`
}

type ProxyConfig struct {
	Image          string `split_words:"true" default:"itzg/bungeecord:latest"`
	DefinitionFile string `split_words:"true" default:"./config/proxies.yaml"`
	Network        string `split_words:"true" default:"minecraft-network"`
	DefaultPort    int    `split_words:"true" default:"25565"`
	DefaultMemory  string `split_words:"true" default:"512M"`
}

type WaitConfig struct {
	ContainerAttempts int           `split_words:"true" default:"30"`
	ContainerInterval time.Duration `split_words:"true" default:"2s"`
	FilesTimeout      time.Duration `split_words:"true" default:"2m"`
	FilesInterval     time.Duration `split_words:"true" default:"2s"`
}

type FilesConfig struct {
	ProtectedPaths []string `split_words:"true" default:"server.properties,eula.txt,world,world_nether,world_the_end,world/level.dat"`
}

// Load reads configuration from an optional .env file and environment variables
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Minecraft.PortRangeMin <= 0 || c.Minecraft.PortRangeMax > 65535 || c.Minecraft.PortRangeMin > c.Minecraft.PortRangeMax {
		return fmt.Errorf("invalid port range %d-%d", c.Minecraft.PortRangeMin, c.Minecraft.PortRangeMax)
	}
	switch c.Minecraft.DeploymentMethod {
	case "container", "stack":
	default:
		return fmt.Errorf("invalid deployment method %q", c.Minecraft.DeploymentMethod)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid database driver %q", c.Database.Driver)
	}
	if c.Wait.ContainerAttempts <= 0 || c.Wait.ContainerInterval <= 0 || c.Wait.FilesInterval <= 0 {
		return fmt.Errorf("wait attempts and intervals must be positive")
	}
	return nil
}
