package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

func TestStopRunningServer(t *testing.T) {
	h := newHarness(t)
	server := testServer("abc123")
	server.IsOnline = true
	h.withServer(t, server, models.StateRunning)

	timeout := 10
	result, err := h.lifecycle.Stop(context.Background(), testOwner, "abc123", &timeout)
	require.NoError(t, err)

	assert.Equal(t, models.StateExited, result.State)
	assert.False(t, result.NoOp)
	assert.Equal(t, 1, h.platform.Called("StopContainer"))
	require.NotNil(t, h.platform.LastTimeout)
	assert.Equal(t, 10, *h.platform.LastTimeout)

	record, _ := h.store.Get("abc123")
	assert.False(t, record.IsOnline)
}

func TestPauseExitedServerIsStateConflict(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateExited)

	_, err := h.lifecycle.Pause(context.Background(), testOwner, "abc123")
	require.Error(t, err)

	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Contains(t, err.Error(), "cannot pause, current state: exited")
	assert.Zero(t, h.platform.Called("PauseContainer"))
}

func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		action     Action
		from       models.ContainerState
		wantErr    apperror.Kind
		wantNoOp   bool
		wantState  models.ContainerState
		wantOnline bool
	}{
		{action: ActionStart, from: models.StateCreated, wantState: models.StateRunning, wantOnline: true},
		{action: ActionStart, from: models.StateExited, wantState: models.StateRunning, wantOnline: true},
		{action: ActionStart, from: models.StateRunning, wantNoOp: true, wantState: models.StateRunning, wantOnline: true},
		{action: ActionStart, from: models.StatePaused, wantErr: apperror.KindConflict},
		{action: ActionStop, from: models.StateRunning, wantState: models.StateExited},
		{action: ActionStop, from: models.StatePaused, wantState: models.StateExited},
		{action: ActionStop, from: models.StateExited, wantNoOp: true, wantState: models.StateExited},
		{action: ActionStop, from: models.StateCreated, wantNoOp: true, wantState: models.StateCreated},
		{action: ActionKill, from: models.StateRunning, wantState: models.StateExited},
		{action: ActionKill, from: models.StateExited, wantNoOp: true, wantState: models.StateExited},
		{action: ActionPause, from: models.StateRunning, wantState: models.StatePaused, wantOnline: true},
		{action: ActionPause, from: models.StatePaused, wantErr: apperror.KindConflict},
		{action: ActionPause, from: models.StateCreated, wantErr: apperror.KindConflict},
		{action: ActionUnpause, from: models.StatePaused, wantState: models.StateRunning, wantOnline: true},
		{action: ActionUnpause, from: models.StateRunning, wantErr: apperror.KindConflict},
		{action: ActionRestart, from: models.StateExited, wantState: models.StateRunning, wantOnline: true},
		{action: ActionRestart, from: models.StatePaused, wantState: models.StateRunning, wantOnline: true},
		{action: ActionRestart, from: models.StateRunning, wantState: models.StateRunning, wantOnline: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.action)+" from "+string(tt.from), func(t *testing.T) {
			h := newHarness(t)
			server := testServer("abc123")
			// Running and paused containers are recorded online
			server.IsOnline = tt.from == models.StateRunning || tt.from == models.StatePaused
			h.withServer(t, server, tt.from)

			result, err := h.lifecycle.Do(context.Background(), testOwner, "abc123", tt.action, ActionOptions{})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, apperror.KindOf(err))
				assert.Equal(t, 1, len(h.platform.Calls()), "only the state lookup may reach the platform")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNoOp, result.NoOp)
			assert.Equal(t, tt.wantState, result.State)
			assert.Equal(t, tt.wantState, h.platform.Container("mc-abc123").State)

			record, _ := h.store.Get("abc123")
			assert.Equal(t, tt.wantOnline, record.IsOnline)
		})
	}
}

func TestKillSignal(t *testing.T) {
	tests := []struct {
		signal  string
		want    string
		wantErr bool
	}{
		{signal: "", want: "SIGKILL"},
		{signal: "term", want: "SIGTERM"},
		{signal: "SIGUSR1", want: "SIGUSR1"},
		{signal: "SIGSTOP", wantErr: true},
		{signal: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.signal, func(t *testing.T) {
			h := newHarness(t)
			h.withServer(t, testServer("abc123"), models.StateRunning)

			_, err := h.lifecycle.Kill(context.Background(), testOwner, "abc123", tt.signal)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
				assert.Empty(t, h.platform.Calls())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.platform.LastSignal)
		})
	}
}

func TestStopTimeoutBounds(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateRunning)

	tooLong := 301
	_, err := h.lifecycle.Stop(context.Background(), testOwner, "abc123", &tooLong)
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = h.lifecycle.Stop(context.Background(), testOwner, "abc123", nil)
	require.NoError(t, err)
	require.NotNil(t, h.platform.LastTimeout)
	assert.Equal(t, defaultStopTimeout, *h.platform.LastTimeout)
}

func TestLifecycleNotFound(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateAbsent)

	_, err := h.lifecycle.Start(context.Background(), testOwner, "abc123")
	assert.True(t, apperror.IsNotFound(err, apperror.ResourceContainer))

	_, err = h.lifecycle.Start(context.Background(), testOwner, "missing")
	assert.True(t, apperror.IsNotFound(err, apperror.ResourceServer))

	_, err = h.lifecycle.Start(context.Background(), "mallory@example.com", "abc123")
	assert.True(t, apperror.IsNotFound(err, apperror.ResourceServer))
}

func TestLifecyclePlatformFailure(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateExited)
	h.platform.Fail("StartContainer", errors.New("daemon unreachable"))

	_, err := h.lifecycle.Start(context.Background(), testOwner, "abc123")
	require.Error(t, err)
	assert.Equal(t, apperror.KindPlatform, apperror.KindOf(err))
	assert.Equal(t, 1, h.platform.Called("StartContainer"))

	record, _ := h.store.Get("abc123")
	assert.False(t, record.IsOnline)
}

func TestLifecycleOnlineUpdateFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateExited)
	h.store.Fail("UpdateFields", errors.New("database locked"))

	result, err := h.lifecycle.Start(context.Background(), testOwner, "abc123")
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, result.State)
}

func TestLifecycleRejectsOverlappingOperation(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateRunning)

	unlock, err := h.locks.TryLock("abc123", "delete")
	require.NoError(t, err)
	defer unlock()

	_, err = h.lifecycle.Stop(context.Background(), testOwner, "abc123", nil)
	require.Error(t, err)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Contains(t, err.Error(), "operation already in progress")
	assert.Zero(t, h.platform.Called("StopContainer"))
}

func TestLifecycleResolvesAlias(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateExited)

	result, err := h.lifecycle.Start(context.Background(), testOwner, "survival-abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", result.ServerID)
}

func TestParseAction(t *testing.T) {
	action, err := ParseAction("Restart")
	require.NoError(t, err)
	assert.Equal(t, ActionRestart, action)

	_, err = ParseAction("explode")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}
