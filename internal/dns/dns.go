package dns

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mlhmz/dockermc-dashboard/internal/config"
)

// DefaultMinecraftPort is the port clients assume when no SRV record exists
const DefaultMinecraftPort = 25565

// Record is the DNS entry of a server
type Record struct {
	Subdomain string
	Owner     string
	Port      int
}

// Provider creates and deletes subdomain records
type Provider interface {
	CreateRecord(ctx context.Context, rec Record) error
	DeleteRecord(ctx context.Context, rec Record) error
	Enabled() bool
}

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidSubdomain reports whether s is a single valid DNS label
func ValidSubdomain(s string) bool {
	return labelPattern.MatchString(s)
}

// NewProvider builds the provider selected by cfg
func NewProvider(cfg config.DNSConfig, logger *slog.Logger) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return NoopProvider{}, nil
	case "porkbun":
		return NewPorkbunProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown dns provider %q", cfg.Provider)
	}
}

// NoopProvider is used when DNS management is disabled
type NoopProvider struct{}

func (NoopProvider) CreateRecord(context.Context, Record) error { return nil }
func (NoopProvider) DeleteRecord(context.Context, Record) error { return nil }
func (NoopProvider) Enabled() bool                              { return false }
