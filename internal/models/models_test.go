package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

func TestParseEngineType(t *testing.T) {
	engine, err := models.ParseEngineType(" paper ")
	require.NoError(t, err)
	assert.Equal(t, models.EnginePaper, engine)

	_, err = models.ParseEngineType("sponge")
	assert.Error(t, err)
}

func TestParseContainerState(t *testing.T) {
	tests := map[string]models.ContainerState{
		"created":    models.StateCreated,
		"running":    models.StateRunning,
		"restarting": models.StateRunning,
		"paused":     models.StatePaused,
		"exited":     models.StateExited,
		"dead":       models.StateExited,
		"":           models.StateAbsent,
	}
	for docker, want := range tests {
		assert.Equal(t, want, models.ParseContainerState(docker), docker)
	}
}

func TestForwardingSupport(t *testing.T) {
	assert.True(t, models.EnginePaper.SupportsVelocityForwarding())
	assert.False(t, models.EngineSpigot.SupportsVelocityForwarding())
	assert.True(t, models.EngineSpigot.SupportsBungeeForwarding())
	assert.False(t, models.EngineFabric.SupportsBungeeForwarding())
}

func TestContainerName(t *testing.T) {
	server := &models.MinecraftServer{UniqueID: "abc123"}
	assert.Equal(t, "mc-abc123", server.ContainerName())
	assert.Equal(t, "mc-proxy-main", models.ProxyDefinition{ID: "main"}.ContainerName())
}
