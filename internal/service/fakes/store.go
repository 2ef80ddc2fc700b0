package fakes

import (
	"context"
	"sort"
	"sync"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/database"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

// ServerStore is an in-memory server repository. Records are copied on the
// way in and out, like rows of a database.
type ServerStore struct {
	mu      sync.Mutex
	servers map[string]models.MinecraftServer
	errs    map[string]error
	calls   []string
}

// NewServerStore creates a store holding servers
func NewServerStore(servers ...*models.MinecraftServer) *ServerStore {
	s := &ServerStore{servers: make(map[string]models.MinecraftServer), errs: make(map[string]error)}
	for _, srv := range servers {
		s.servers[srv.UniqueID] = *srv
	}
	return s
}

// Fail makes every call of op return err; a nil err clears it
func (s *ServerStore) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, op)
		return
	}
	s.errs[op] = err
}

// Called counts the recorded calls of op
func (s *ServerStore) Called(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == op {
			n++
		}
	}
	return n
}

// Get returns a copy of the record of uniqueID
func (s *ServerStore) Get(uniqueID string) (*models.MinecraftServer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[uniqueID]
	if !ok {
		return nil, false
	}
	return &srv, true
}

func (s *ServerStore) record(op string) error {
	s.calls = append(s.calls, op)
	return s.errs[op]
}

func (s *ServerStore) sorted(match func(models.MinecraftServer) bool) []*models.MinecraftServer {
	var out []*models.MinecraftServer
	for _, srv := range s.servers {
		if match(srv) {
			cp := srv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

func (s *ServerStore) Create(_ context.Context, server *models.MinecraftServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Create"); err != nil {
		return err
	}
	if _, ok := s.servers[server.UniqueID]; ok {
		return apperror.Conflict("duplicate unique id %s", server.UniqueID)
	}
	for _, srv := range s.servers {
		if server.SubdomainName != "" && srv.SubdomainName == server.SubdomainName {
			return apperror.Conflict("duplicate subdomain %s", server.SubdomainName)
		}
	}
	s.servers[server.UniqueID] = *server
	return nil
}

func (s *ServerStore) FindByUniqueID(_ context.Context, owner, uniqueID string) (*models.MinecraftServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("FindByUniqueID"); err != nil {
		return nil, err
	}
	srv, ok := s.servers[uniqueID]
	if !ok || srv.Owner != owner {
		return nil, database.ErrNotFound
	}
	return &srv, nil
}

func (s *ServerStore) FindByAlias(_ context.Context, owner, alias string) ([]*models.MinecraftServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("FindByAlias"); err != nil {
		return nil, err
	}
	return s.sorted(func(srv models.MinecraftServer) bool {
		return srv.Owner == owner && (srv.SubdomainName == alias || srv.ServerName == alias)
	}), nil
}

func (s *ServerStore) FindAllByOwner(_ context.Context, owner string) ([]*models.MinecraftServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("FindAllByOwner"); err != nil {
		return nil, err
	}
	return s.sorted(func(srv models.MinecraftServer) bool { return srv.Owner == owner }), nil
}

func (s *ServerStore) FindByProxyID(_ context.Context, proxyID string) ([]*models.MinecraftServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("FindByProxyID"); err != nil {
		return nil, err
	}
	return s.sorted(func(srv models.MinecraftServer) bool { return srv.ProxyID == proxyID }), nil
}

func (s *ServerStore) UniqueIDExists(_ context.Context, uniqueID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("UniqueIDExists"); err != nil {
		return false, err
	}
	_, ok := s.servers[uniqueID]
	return ok, nil
}

func (s *ServerStore) SubdomainExists(_ context.Context, subdomain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("SubdomainExists"); err != nil {
		return false, err
	}
	for _, srv := range s.servers {
		if srv.SubdomainName == subdomain {
			return true, nil
		}
	}
	return false, nil
}

func (s *ServerStore) UsedPorts(context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("UsedPorts"); err != nil {
		return nil, err
	}
	ports := make([]int, 0, len(s.servers))
	for _, srv := range s.servers {
		ports = append(ports, srv.Port)
	}
	sort.Ints(ports)
	return ports, nil
}

func (s *ServerStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Count"); err != nil {
		return 0, err
	}
	return int64(len(s.servers)), nil
}

func (s *ServerStore) UpdateFields(_ context.Context, uniqueID string, fields models.ServerFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("UpdateFields"); err != nil {
		return err
	}
	srv, ok := s.servers[uniqueID]
	if !ok {
		return database.ErrNotFound
	}
	if fields.IsOnline != nil {
		srv.IsOnline = *fields.IsOnline
	}
	if fields.ContainerID != nil {
		srv.ContainerID = *fields.ContainerID
	}
	if fields.ProxyID != nil {
		srv.ProxyID = *fields.ProxyID
	}
	if fields.ServerConfig != nil {
		srv.ServerConfig = *fields.ServerConfig
	}
	s.servers[uniqueID] = srv
	return nil
}

func (s *ServerStore) Delete(_ context.Context, uniqueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Delete"); err != nil {
		return err
	}
	if _, ok := s.servers[uniqueID]; !ok {
		return database.ErrNotFound
	}
	delete(s.servers, uniqueID)
	return nil
}

// ProxyStore is an in-memory proxy repository
type ProxyStore struct {
	mu      sync.Mutex
	proxies map[string]models.ProxyServer
	SaveErr error
}

// NewProxyStore creates a store holding proxies
func NewProxyStore(proxies ...*models.ProxyServer) *ProxyStore {
	s := &ProxyStore{proxies: make(map[string]models.ProxyServer)}
	for _, p := range proxies {
		s.proxies[p.ID] = *p
	}
	return s
}

func (s *ProxyStore) Save(_ context.Context, proxy *models.ProxyServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.proxies[proxy.ID] = *proxy
	return nil
}

func (s *ProxyStore) FindByID(_ context.Context, id string) (*models.ProxyServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proxies[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &p, nil
}

func (s *ProxyStore) FindAll(context.Context) ([]*models.ProxyServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ProxyServer, 0, len(s.proxies))
	for _, p := range s.proxies {
		cp := p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
