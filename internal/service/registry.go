package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

// ProxyRegistry holds the declared proxies and their running instances
type ProxyRegistry struct {
	mu          sync.RWMutex
	definitions map[string]models.ProxyDefinition
	instances   map[string]*models.ProxyServer
	defaultID   string
}

// NewProxyRegistry creates a registry from the declared definitions. With no
// definitions, fallback is registered and becomes the default.
func NewProxyRegistry(defs []models.ProxyDefinition, fallback models.ProxyDefinition) *ProxyRegistry {
	if len(defs) == 0 {
		defs = []models.ProxyDefinition{fallback}
	}

	r := &ProxyRegistry{
		definitions: make(map[string]models.ProxyDefinition, len(defs)),
		instances:   make(map[string]*models.ProxyServer),
		defaultID:   defs[0].ID,
	}
	for _, def := range defs {
		if def.Secret == "" {
			def.Secret = newForwardingSecret()
		}
		r.definitions[def.ID] = def
	}
	return r
}

func newForwardingSecret() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Load registers the proxies persisted by a previous run. A persisted
// secret wins over a generated one so running servers keep working.
func (r *ProxyRegistry) Load(ctx context.Context, store ProxyStore) error {
	proxies, err := store.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load proxies: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range proxies {
		def, ok := r.definitions[p.ID]
		if !ok {
			def = p.Definition()
		}
		if p.ForwardingSecret != "" {
			def.Secret = p.ForwardingSecret
		}
		r.definitions[p.ID] = def
		r.instances[p.ID] = p
	}
	return nil
}

// DefaultID is the proxy used when a caller names none
func (r *ProxyRegistry) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}

// Definition returns the definition of id, or of the default proxy when id is empty
func (r *ProxyRegistry) Definition(id string) (models.ProxyDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		id = r.defaultID
	}
	def, ok := r.definitions[id]
	return def, ok
}

// Definitions returns every known definition ordered by id
func (r *ProxyRegistry) Definitions() []models.ProxyDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ProxyDefinition, 0, len(r.definitions))
	for _, def := range r.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Instance returns the running instance of id, if any
func (r *ProxyRegistry) Instance(id string) (*models.ProxyServer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.instances[id]
	return p, ok
}

// SetInstance records a deployed proxy
func (r *ProxyRegistry) SetInstance(p *models.ProxyServer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[p.ID] = p
}
