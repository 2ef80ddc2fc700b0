package portainer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

type stackDTO struct {
	ID         int    `json:"Id"`
	Name       string `json:"Name"`
	EndpointID int    `json:"EndpointId"`
	Status     int    `json:"Status"`
}

func (d stackDTO) model() models.Stack {
	return models.Stack{ID: d.ID, Name: d.Name, EnvironmentID: d.EndpointID, Status: d.Status}
}

type stackEnv struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func envList(env map[string]string) []stackEnv {
	list := make([]stackEnv, 0, len(env))
	for k, v := range env {
		list = append(list, stackEnv{Name: k, Value: v})
	}
	return list
}

func endpointQuery(envID int) url.Values {
	return url.Values{"endpointId": []string{strconv.Itoa(envID)}}
}

// ListStacks returns the stacks deployed to an environment
func (c *Client) ListStacks(ctx context.Context, envID int) ([]models.Stack, error) {
	var dtos []stackDTO
	if err := c.do(ctx, http.MethodGet, "/api/stacks", nil, nil, &dtos); err != nil {
		return nil, fmt.Errorf("failed to list stacks: %w", err)
	}
	stacks := make([]models.Stack, 0, len(dtos))
	for _, d := range dtos {
		if envID > 0 && d.EndpointID != envID {
			continue
		}
		stacks = append(stacks, d.model())
	}
	return stacks, nil
}

// FindStackByName returns the stack called name, or nil
func (c *Client) FindStackByName(ctx context.Context, name string, envID int) (*models.Stack, error) {
	stacks, err := c.ListStacks(ctx, envID)
	if err != nil {
		return nil, err
	}
	for i := range stacks {
		if stacks[i].Name == name {
			return &stacks[i], nil
		}
	}
	return nil, nil
}

// DeployStack creates a standalone compose stack from file content
func (c *Client) DeployStack(ctx context.Context, envID int, name string, compose []byte, env map[string]string) (*models.Stack, error) {
	body := map[string]any{
		"name":             name,
		"stackFileContent": string(compose),
		"env":              envList(env),
	}
	var dto stackDTO
	if err := c.do(ctx, http.MethodPost, "/api/stacks/create/standalone/string", endpointQuery(envID), body, &dto); err != nil {
		return nil, fmt.Errorf("failed to deploy stack %s: %w", name, err)
	}
	c.logger.InfoContext(ctx, "Stack deployed", "stack", name, "stack_id", dto.ID, "environment_id", envID)
	stack := dto.model()
	return &stack, nil
}

// StackFile returns the compose file of a stack
func (c *Client) StackFile(ctx context.Context, stackID int) ([]byte, error) {
	var out struct {
		StackFileContent string `json:"StackFileContent"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/stacks/%d/file", stackID), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get stack file: %w", err)
	}
	return []byte(out.StackFileContent), nil
}

// UpdateStack replaces a stack's compose file, optionally pulling images
func (c *Client) UpdateStack(ctx context.Context, stackID, envID int, compose []byte, env map[string]string, pull bool) error {
	body := map[string]any{
		"stackFileContent": string(compose),
		"env":              envList(env),
		"prune":            true,
		"pullImage":        pull,
	}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/stacks/%d", stackID), endpointQuery(envID), body, nil); err != nil {
		return fmt.Errorf("failed to update stack %d: %w", stackID, err)
	}
	return nil
}

// RedeployStack re-applies the current compose file with a fresh image pull
func (c *Client) RedeployStack(ctx context.Context, stackID, envID int) error {
	compose, err := c.StackFile(ctx, stackID)
	if err != nil {
		return err
	}
	return c.UpdateStack(ctx, stackID, envID, compose, nil, true)
}

// DeleteStack removes a stack and its containers
func (c *Client) DeleteStack(ctx context.Context, stackID, envID int) error {
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/stacks/%d", stackID), endpointQuery(envID), nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("failed to delete stack %d: %w", stackID, ErrStackNotFound)
		}
		return fmt.Errorf("failed to delete stack %d: %w", stackID, err)
	}
	return nil
}
