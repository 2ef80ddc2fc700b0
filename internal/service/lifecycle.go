package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/metrics"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/portainer"
)

// Action is a lifecycle operation on a server's container
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionPause   Action = "pause"
	ActionUnpause Action = "unpause"
	ActionKill    Action = "kill"
)

// ParseAction validates an action name
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(s)); a {
	case ActionStart, ActionStop, ActionRestart, ActionPause, ActionUnpause, ActionKill:
		return a, nil
	}
	return "", apperror.Validation("unknown action %q", s)
}

const (
	defaultStopTimeout = 30
	maxStopTimeout     = 300
	defaultKillSignal  = "SIGKILL"
)

var killSignals = map[string]bool{
	"SIGKILL": true, "SIGTERM": true, "SIGINT": true, "SIGHUP": true,
	"SIGQUIT": true, "SIGUSR1": true, "SIGUSR2": true,
}

// ActionOptions tune stop, restart and kill
type ActionOptions struct {
	// Timeout is the graceful stop timeout in seconds
	Timeout *int   `json:"timeout,omitempty"`
	Signal  string `json:"signal,omitempty"`
}

// ActionResult reports a lifecycle operation
type ActionResult struct {
	ServerID string               `json:"server_id"`
	Action   Action               `json:"action"`
	State    models.ContainerState `json:"state"`
	// NoOp is set when the container already was in the requested state
	NoOp    bool   `json:"no_op,omitempty"`
	Message string `json:"message"`
}

// LifecycleService starts, stops and otherwise moves containers between states
type LifecycleService struct {
	platform Platform
	store    ServerStore
	resolver *Resolver
	locks    *ServerLocks
	logger   *slog.Logger
}

// NewLifecycleService creates a lifecycle service
func NewLifecycleService(platform Platform, store ServerStore, resolver *Resolver, locks *ServerLocks, logger *slog.Logger) *LifecycleService {
	return &LifecycleService{platform: platform, store: store, resolver: resolver, locks: locks, logger: logger}
}

// State returns the observed container state of a server
func (s *LifecycleService) State(ctx context.Context, server *models.MinecraftServer) (*models.Container, error) {
	c, err := s.platform.FindContainerByName(ctx, server.ContainerName(), server.EnvironmentID)
	if err != nil {
		return nil, apperror.Platform("inspect container", err)
	}
	if c == nil {
		return nil, apperror.NotFound(apperror.ResourceContainer, "container for server %s not found", server.UniqueID)
	}
	return c, nil
}

// Do applies action to the server identified by ident
func (s *LifecycleService) Do(ctx context.Context, owner, ident string, action Action, opts ActionOptions) (*ActionResult, error) {
	result, err := s.do(ctx, owner, ident, action, opts)
	metrics.ObserveOperation(string(action), err)
	return result, err
}

func (s *LifecycleService) do(ctx context.Context, owner, ident string, action Action, opts ActionOptions) (*ActionResult, error) {
	if err := validateOptions(action, &opts); err != nil {
		return nil, err
	}

	server, err := s.resolver.Resolve(ctx, owner, ident)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.TryLock(server.UniqueID, string(action))
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.State(ctx, server)
	if err != nil {
		return nil, err
	}

	result := &ActionResult{ServerID: server.UniqueID, Action: action}

	if noop, ok := s.alreadyThere(action, c.State); ok {
		result.State = noop
		result.NoOp = true
		result.Message = fmt.Sprintf("server %s already %s", server.UniqueID, noop)
		s.setOnline(ctx, server, noop == models.StateRunning)
		return result, nil
	}
	if !allowed(action, c.State) {
		return nil, apperror.StateConflict(string(action), c.State)
	}

	s.logger.InfoContext(ctx, "Applying lifecycle action",
		"server_id", server.UniqueID,
		"action", action,
		"state", c.State,
	)

	if err := s.apply(ctx, action, c.ID, server.EnvironmentID, opts); err != nil {
		if errors.Is(err, portainer.ErrContainerNotFound) {
			return nil, apperror.NotFound(apperror.ResourceContainer, "container for server %s not found", server.UniqueID)
		}
		return nil, apperror.Platform(string(action), err)
	}

	result.State = targetState(action)
	result.Message = fmt.Sprintf("server %s %s", server.UniqueID, pastTense(action))
	if action != ActionPause && action != ActionUnpause {
		s.setOnline(ctx, server, result.State == models.StateRunning)
	}
	return result, nil
}

func validateOptions(action Action, opts *ActionOptions) error {
	if opts.Timeout != nil && (*opts.Timeout < 0 || *opts.Timeout > maxStopTimeout) {
		return apperror.Validation("timeout must be between 0 and %d seconds", maxStopTimeout)
	}
	if (action == ActionStop || action == ActionRestart) && opts.Timeout == nil {
		t := defaultStopTimeout
		opts.Timeout = &t
	}
	if action == ActionKill {
		sig := strings.ToUpper(strings.TrimSpace(opts.Signal))
		if sig == "" {
			sig = defaultKillSignal
		}
		if !strings.HasPrefix(sig, "SIG") {
			sig = "SIG" + sig
		}
		if !killSignals[sig] {
			return apperror.Validation("unsupported signal %q", opts.Signal)
		}
		opts.Signal = sig
	}
	return nil
}

// alreadyThere reports the state a no-op action leaves the container in
func (s *LifecycleService) alreadyThere(action Action, state models.ContainerState) (models.ContainerState, bool) {
	switch action {
	case ActionStop, ActionKill:
		if state == models.StateCreated || state == models.StateExited {
			return state, true
		}
	case ActionStart:
		if state == models.StateRunning {
			return state, true
		}
	}
	return "", false
}

// allowed is the lifecycle transition table
func allowed(action Action, state models.ContainerState) bool {
	switch action {
	case ActionStart:
		return state == models.StateCreated || state == models.StateExited
	case ActionStop, ActionKill:
		return state == models.StateRunning || state == models.StatePaused
	case ActionPause:
		return state == models.StateRunning
	case ActionUnpause:
		return state == models.StatePaused
	case ActionRestart:
		return state != models.StateAbsent
	}
	return false
}

func targetState(action Action) models.ContainerState {
	switch action {
	case ActionPause:
		return models.StatePaused
	case ActionStop, ActionKill:
		return models.StateExited
	default:
		return models.StateRunning
	}
}

func pastTense(action Action) string {
	switch action {
	case ActionStop:
		return "stopped"
	case ActionKill:
		return "killed"
	case ActionPause:
		return "paused"
	case ActionUnpause:
		return "unpaused"
	default:
		return string(action) + "ed"
	}
}

func (s *LifecycleService) apply(ctx context.Context, action Action, id string, envID int, opts ActionOptions) error {
	switch action {
	case ActionStart:
		return s.platform.StartContainer(ctx, id, envID)
	case ActionStop:
		return s.platform.StopContainer(ctx, id, envID, opts.Timeout)
	case ActionRestart:
		return s.platform.RestartContainer(ctx, id, envID, opts.Timeout)
	case ActionPause:
		return s.platform.PauseContainer(ctx, id, envID)
	case ActionUnpause:
		return s.platform.UnpauseContainer(ctx, id, envID)
	case ActionKill:
		return s.platform.KillContainer(ctx, id, envID, opts.Signal)
	}
	return fmt.Errorf("unsupported action %s", action)
}

// setOnline reconciles the record's online flag. The container already
// changed state, so a failure here is only logged.
func (s *LifecycleService) setOnline(ctx context.Context, server *models.MinecraftServer, online bool) {
	if server.IsOnline == online {
		return
	}
	if err := s.store.UpdateFields(ctx, server.UniqueID, models.ServerFields{IsOnline: &online}); err != nil {
		s.logger.WarnContext(ctx, "Failed to update online status",
			"server_id", server.UniqueID,
			"is_online", online,
			"error", err,
		)
		return
	}
	server.IsOnline = online
}

// Start starts a created or exited server
func (s *LifecycleService) Start(ctx context.Context, owner, ident string) (*ActionResult, error) {
	return s.Do(ctx, owner, ident, ActionStart, ActionOptions{})
}

// Stop stops a running or paused server, waiting timeout seconds before killing it
func (s *LifecycleService) Stop(ctx context.Context, owner, ident string, timeout *int) (*ActionResult, error) {
	return s.Do(ctx, owner, ident, ActionStop, ActionOptions{Timeout: timeout})
}

// Restart restarts a server through the platform's restart primitive
func (s *LifecycleService) Restart(ctx context.Context, owner, ident string, timeout *int) (*ActionResult, error) {
	return s.Do(ctx, owner, ident, ActionRestart, ActionOptions{Timeout: timeout})
}

func (s *LifecycleService) Pause(ctx context.Context, owner, ident string) (*ActionResult, error) {
	return s.Do(ctx, owner, ident, ActionPause, ActionOptions{})
}

func (s *LifecycleService) Unpause(ctx context.Context, owner, ident string) (*ActionResult, error) {
	return s.Do(ctx, owner, ident, ActionUnpause, ActionOptions{})
}

// Kill sends signal to the server's container
func (s *LifecycleService) Kill(ctx context.Context, owner, ident, signal string) (*ActionResult, error) {
	return s.Do(ctx, owner, ident, ActionKill, ActionOptions{Signal: signal})
}
