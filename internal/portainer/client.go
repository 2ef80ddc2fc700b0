package portainer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/client"
	"github.com/mlhmz/dockermc-dashboard/internal/config"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

const apiKeyHeader = "X-API-Key"

var (
	// ErrContainerNotFound is returned when the platform does not know a container
	ErrContainerNotFound = errors.New("container not found")
	// ErrStackNotFound is returned when the platform does not know a stack
	ErrStackNotFound = errors.New("stack not found")
)

// APIError is a non-2xx response from the Portainer API
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("portainer returned %d: %s (%s)", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("portainer returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to Portainer: its REST API for environments and stacks, and
// the Docker Engine API it proxies per environment for containers.
type Client struct {
	baseURL     *url.URL
	apiKey      string
	httpClient  *http.Client
	transport   *http.Transport
	timeout     time.Duration
	pullTimeout time.Duration
	logger      *slog.Logger
	defaultEnv  int

	mu      sync.Mutex
	dockers map[int]*client.Client
}

// NewClient creates a Portainer client
func NewClient(cfg config.PortainerConfig, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid portainer url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid portainer url scheme %q", base.Scheme)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL:     base,
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Transport: transport, Timeout: cfg.Timeout},
		transport:   transport,
		timeout:     cfg.Timeout,
		pullTimeout: cfg.PullTimeout,
		logger:      logger,
		defaultEnv:  cfg.EnvironmentID,
		dockers:     make(map[int]*client.Client),
	}, nil
}

// Close closes every Docker client opened for an environment
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cli := range c.dockers {
		cli.Close()
		delete(c.dockers, id)
	}
	return nil
}

// docker returns the Docker Engine client proxied through an environment
func (c *Client) docker(envID int) (*client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cli, ok := c.dockers[envID]; ok {
		return cli, nil
	}

	host := fmt.Sprintf("tcp://%s%s/api/endpoints/%d/docker", c.baseURL.Host, c.baseURL.Path, envID)
	cli, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithScheme(c.baseURL.Scheme),
		// No client-level timeout: log streams stay open, other calls use callTimeout
		client.WithHTTPClient(&http.Client{Transport: c.transport}),
		client.WithHTTPHeaders(map[string]string{apiKeyHeader: c.apiKey}),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client for environment %d: %w", envID, err)
	}
	c.dockers[envID] = cli
	return cli, nil
}

// callTimeout bounds a single non-streaming Docker API call
func (c *Client) callTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// pullDeadline bounds an image pull including its progress stream
func (c *Client) pullDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.pullTimeout <= 0 {
		return c.callTimeout(ctx)
	}
	return context.WithTimeout(ctx, c.pullTimeout)
}

// do performs a JSON request against the Portainer REST API
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("portainer request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
			Details string `json:"details"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
			apiErr.Message = payload.Message
			apiErr.Details = payload.Details
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode portainer response: %w", err)
	}
	return nil
}

type endpointDTO struct {
	ID     int    `json:"Id"`
	Name   string `json:"Name"`
	Status int    `json:"Status"`
}

const endpointStatusUp = 1

// ListEnvironments returns every environment visible to the API key
func (c *Client) ListEnvironments(ctx context.Context) ([]models.Environment, error) {
	var dtos []endpointDTO
	if err := c.do(ctx, http.MethodGet, "/api/endpoints", nil, nil, &dtos); err != nil {
		return nil, err
	}
	envs := make([]models.Environment, 0, len(dtos))
	for _, d := range dtos {
		envs = append(envs, models.Environment{ID: d.ID, Name: d.Name, Status: d.Status})
	}
	return envs, nil
}

// ResolveEnvironment validates hint, falling back to the configured environment
// and then to the first environment that is up.
func (c *Client) ResolveEnvironment(ctx context.Context, hint int) (int, error) {
	for _, candidate := range []int{hint, c.defaultEnv} {
		if candidate <= 0 {
			continue
		}
		var dto endpointDTO
		err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/endpoints/%d", candidate), nil, nil, &dto)
		if err == nil {
			return dto.ID, nil
		}
		c.logger.WarnContext(ctx, "Environment hint is not usable", "environment_id", candidate, "error", err)
	}

	envs, err := c.ListEnvironments(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list environments: %w", err)
	}
	if len(envs) == 0 {
		return 0, fmt.Errorf("no portainer environment available")
	}
	for _, env := range envs {
		if env.Status == endpointStatusUp {
			return env.ID, nil
		}
	}
	return envs[0].ID, nil
}
