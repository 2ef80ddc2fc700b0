// Package fakes provides in-memory doubles of the orchestration backends
// with recorded calls and injectable errors.
package fakes

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/portainer"
)

// Platform is an in-memory container platform
type Platform struct {
	mu         sync.Mutex
	containers map[string]*models.Container
	stacks     map[int]*models.Stack
	nextStack  int
	networks   map[string]map[string][]string
	errs       map[string]error
	calls      []string

	// EnvironmentID is returned by ResolveEnvironment
	EnvironmentID int
	// DeployState is the state of a freshly deployed container
	DeployState models.ContainerState
	// OnDeploy runs after a container is created, e.g. to write server files
	OnDeploy func(spec models.ContainerSpec)

	Deployed    []models.ContainerSpec
	StackFiles  map[string][]byte
	LogsOutput  string
	ExecOutput  string
	Usage       models.ResourceUsage
	LastTimeout *int
	LastSignal  string
}

// NewPlatform creates an empty platform with environment 1
func NewPlatform() *Platform {
	return &Platform{
		containers:    make(map[string]*models.Container),
		stacks:        make(map[int]*models.Stack),
		networks:      make(map[string]map[string][]string),
		errs:          make(map[string]error),
		StackFiles:    make(map[string][]byte),
		EnvironmentID: 1,
		DeployState:   models.StateRunning,
	}
}

// AddContainer registers a container called name in state
func (p *Platform) AddContainer(name string, state models.ContainerState) *models.Container {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(name, state)
}

func (p *Platform) addLocked(name string, state models.ContainerState) *models.Container {
	c := &models.Container{ID: "id-" + name, Names: []string{name}, State: state, Status: string(state)}
	p.containers[c.ID] = c
	return c
}

// SetState changes the state of the container called name
func (p *Platform) SetState(name string, state models.ContainerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.byNameLocked(name); c != nil {
		c.State = state
	}
}

// Container returns a copy of the container called name, or nil
func (p *Platform) Container(name string) *models.Container {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.byNameLocked(name)
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Fail makes every call of op return err; a nil err clears it
func (p *Platform) Fail(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, op)
		return
	}
	p.errs[op] = err
}

// Calls returns the recorded calls as "Op arg"
func (p *Platform) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Called counts the recorded calls of op
func (p *Platform) Called(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == op || strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

// Networks returns the containers attached to network
func (p *Platform) Networks(network string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.networks[network]))
	for id := range p.networks[network] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Platform) record(op, arg string) error {
	p.calls = append(p.calls, op+" "+arg)
	return p.errs[op]
}

func (p *Platform) byNameLocked(name string) *models.Container {
	for _, c := range p.containers {
		for _, n := range c.Names {
			if n == name {
				return c
			}
		}
	}
	return nil
}

func (p *Platform) ResolveEnvironment(_ context.Context, hint int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ResolveEnvironment", fmt.Sprint(hint)); err != nil {
		return 0, err
	}
	if hint > 0 {
		return hint, nil
	}
	return p.EnvironmentID, nil
}

func (p *Platform) ListContainers(context.Context, int) ([]models.Container, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ListContainers", ""); err != nil {
		return nil, err
	}
	out := make([]models.Container, 0, len(p.containers))
	for _, c := range p.containers {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *Platform) FindContainerByName(_ context.Context, name string, _ int) (*models.Container, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("FindContainerByName", name); err != nil {
		return nil, err
	}
	c := p.byNameLocked(name)
	if c == nil {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// transition records op and moves container id to state
func (p *Platform) transition(op, id string, state models.ContainerState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(op, id); err != nil {
		return err
	}
	c, ok := p.containers[id]
	if !ok {
		return fmt.Errorf("failed to %s container: %w", op, portainer.ErrContainerNotFound)
	}
	c.State = state
	return nil
}

func (p *Platform) StartContainer(_ context.Context, id string, _ int) error {
	return p.transition("StartContainer", id, models.StateRunning)
}

func (p *Platform) StopContainer(_ context.Context, id string, _ int, timeout *int) error {
	p.mu.Lock()
	p.LastTimeout = timeout
	p.mu.Unlock()
	return p.transition("StopContainer", id, models.StateExited)
}

func (p *Platform) RestartContainer(_ context.Context, id string, _ int, timeout *int) error {
	p.mu.Lock()
	p.LastTimeout = timeout
	p.mu.Unlock()
	return p.transition("RestartContainer", id, models.StateRunning)
}

func (p *Platform) PauseContainer(_ context.Context, id string, _ int) error {
	return p.transition("PauseContainer", id, models.StatePaused)
}

func (p *Platform) UnpauseContainer(_ context.Context, id string, _ int) error {
	return p.transition("UnpauseContainer", id, models.StateRunning)
}

func (p *Platform) KillContainer(_ context.Context, id string, _ int, signal string) error {
	p.mu.Lock()
	p.LastSignal = signal
	p.mu.Unlock()
	return p.transition("KillContainer", id, models.StateExited)
}

func (p *Platform) RemoveContainer(_ context.Context, id string, _ int, _, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("RemoveContainer", id); err != nil {
		return err
	}
	if _, ok := p.containers[id]; !ok {
		return fmt.Errorf("failed to remove container: %w", portainer.ErrContainerNotFound)
	}
	delete(p.containers, id)
	return nil
}

func (p *Platform) Logs(_ context.Context, id string, _ int, _ int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Logs", id); err != nil {
		return "", err
	}
	return p.LogsOutput, nil
}

func (p *Platform) StreamLogs(_ context.Context, id string, _ int, _ string, _ bool) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("StreamLogs", id); err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(p.LogsOutput)), nil
}

func (p *Platform) ExecCommand(_ context.Context, id, command string, _ int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ExecCommand", id+" "+command); err != nil {
		return "", err
	}
	return p.ExecOutput, nil
}

func (p *Platform) Resources(_ context.Context, id string, _ int) (*models.ResourceUsage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Resources", id); err != nil {
		return nil, err
	}
	usage := p.Usage
	return &usage, nil
}

func (p *Platform) DeployContainer(_ context.Context, _ int, spec models.ContainerSpec) (string, error) {
	p.mu.Lock()
	if err := p.record("DeployContainer", spec.Name); err != nil {
		p.mu.Unlock()
		return "", err
	}
	if p.byNameLocked(spec.Name) != nil {
		p.mu.Unlock()
		return "", fmt.Errorf("failed to create container: name %s already in use", spec.Name)
	}
	c := p.addLocked(spec.Name, p.DeployState)
	p.Deployed = append(p.Deployed, spec)
	if spec.Network != "" {
		p.connectLocked(spec.Network, c.ID, spec.Aliases)
	}
	hook := p.OnDeploy
	p.mu.Unlock()

	if hook != nil {
		hook(spec)
	}
	return c.ID, nil
}

func (p *Platform) connectLocked(network, id string, aliases []string) {
	if p.networks[network] == nil {
		p.networks[network] = make(map[string][]string)
	}
	p.networks[network][id] = aliases
}

func (p *Platform) EnsureNetwork(_ context.Context, _ int, network string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("EnsureNetwork", network); err != nil {
		return err
	}
	if p.networks[network] == nil {
		p.networks[network] = make(map[string][]string)
	}
	return nil
}

func (p *Platform) ConnectNetwork(_ context.Context, _ int, id, network string, aliases []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ConnectNetwork", id+" "+network); err != nil {
		return err
	}
	if _, ok := p.containers[id]; !ok {
		return portainer.ErrContainerNotFound
	}
	p.connectLocked(network, id, aliases)
	return nil
}

func (p *Platform) DisconnectNetwork(_ context.Context, _ int, id, network string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("DisconnectNetwork", id+" "+network); err != nil {
		return err
	}
	delete(p.networks[network], id)
	return nil
}

func (p *Platform) ListStacks(context.Context, int) ([]models.Stack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ListStacks", ""); err != nil {
		return nil, err
	}
	out := make([]models.Stack, 0, len(p.stacks))
	for _, s := range p.stacks {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *Platform) FindStackByName(_ context.Context, name string, _ int) (*models.Stack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("FindStackByName", name); err != nil {
		return nil, err
	}
	for _, s := range p.stacks {
		if s.Name == name {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

// DeployStack creates the stack and a container named like it, the way a
// single-service compose file with a container_name does
func (p *Platform) DeployStack(_ context.Context, envID int, name string, compose []byte, _ map[string]string) (*models.Stack, error) {
	p.mu.Lock()
	if err := p.record("DeployStack", name); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.nextStack++
	stack := &models.Stack{ID: p.nextStack, Name: name, EnvironmentID: envID, Status: 1}
	p.stacks[stack.ID] = stack
	p.StackFiles[name] = compose
	p.addLocked(name, p.DeployState)
	hook := p.OnDeploy
	p.mu.Unlock()

	if hook != nil {
		hook(models.ContainerSpec{Name: name})
	}
	cp := *stack
	return &cp, nil
}

func (p *Platform) UpdateStack(_ context.Context, stackID, _ int, compose []byte, _ map[string]string, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("UpdateStack", fmt.Sprint(stackID)); err != nil {
		return err
	}
	s, ok := p.stacks[stackID]
	if !ok {
		return portainer.ErrStackNotFound
	}
	p.StackFiles[s.Name] = compose
	return nil
}

func (p *Platform) RedeployStack(_ context.Context, stackID, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("RedeployStack", fmt.Sprint(stackID)); err != nil {
		return err
	}
	s, ok := p.stacks[stackID]
	if !ok {
		return portainer.ErrStackNotFound
	}
	if c := p.byNameLocked(s.Name); c != nil {
		c.State = models.StateRunning
	} else {
		p.addLocked(s.Name, models.StateRunning)
	}
	return nil
}

func (p *Platform) DeleteStack(_ context.Context, stackID, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("DeleteStack", fmt.Sprint(stackID)); err != nil {
		return err
	}
	s, ok := p.stacks[stackID]
	if !ok {
		return portainer.ErrStackNotFound
	}
	delete(p.stacks, stackID)
	if c := p.byNameLocked(s.Name); c != nil {
		delete(p.containers, c.ID)
	}
	return nil
}
