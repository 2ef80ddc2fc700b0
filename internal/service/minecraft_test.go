package service

import (
	"context"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/metrics"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

func TestCreateServerBehindDefaultProxy(t *testing.T) {
	h := newHarness(t)
	h.bootFiles(testOwner)

	result, err := h.servers.CreateServer(context.Background(), testOwner, &models.CreateServerRequest{
		UniqueID:    "ABC123",
		ServerName:  "Survival",
		Type:        "paper",
		Version:     "1.21.1",
		AttachProxy: "default",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "abc123", result.Server.UniqueID)
	assert.Equal(t, models.DefaultProxyID, result.Server.ProxyID)
	assert.True(t, result.Server.ServerConfig.OnlineMode)
	assert.True(t, result.Server.ServerConfig.PVP)

	velocity, ok := h.storage.File(velocityConfigPath)
	require.True(t, ok)
	servers, _ := velocityMembers(t, velocity)
	assert.Equal(t, "abc123:25565", servers["abc123"])
}

func TestCreateServerUnknownProxy(t *testing.T) {
	h := newHarness(t)

	_, err := h.servers.CreateServer(context.Background(), testOwner, &models.CreateServerRequest{
		Type:        "PAPER",
		Version:     "1.21.1",
		AttachProxy: "lobby",
	})
	assert.True(t, apperror.IsNotFound(err, apperror.ResourceProxy))
	assert.Empty(t, h.platform.Calls())
}

func TestCreateServerSubdomainClaimedConcurrently(t *testing.T) {
	h := newHarness(t)
	h.bootFiles(testOwner)

	unlock, err := h.locks.TryLock(subdomainLockKey("play"), "create")
	require.NoError(t, err)

	_, err = h.servers.CreateServer(context.Background(), testOwner, &models.CreateServerRequest{
		UniqueID:      "abc123",
		SubdomainName: "Play",
		Type:          "PAPER",
		Version:       "1.21.1",
	})
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Empty(t, h.platform.Calls())
	_, ok := h.dns.Record("play")
	assert.False(t, ok)

	unlock()
	_, err = h.servers.CreateServer(context.Background(), testOwner, &models.CreateServerRequest{
		UniqueID:      "abc123",
		SubdomainName: "Play",
		Type:          "PAPER",
		Version:       "1.21.1",
	})
	require.NoError(t, err)
}

func TestServerCountMetricCoversAllOwners(t *testing.T) {
	h := newHarness(t)
	other := testServer("def456")
	other.Owner = "bob@example.com"
	other.Port = 25571
	h.withServer(t, testServer("abc123"), models.StateRunning)
	h.withServer(t, other, models.StateRunning)

	_, err := h.servers.DeleteServer(context.Background(), testOwner, "abc123", DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ServersTotal))

	servers, err := h.servers.ListServers(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Empty(t, servers)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ServersTotal))
}

func TestCreateServerAsStack(t *testing.T) {
	h := newHarness(t)
	h.bootFiles(testOwner)

	result, err := h.servers.CreateServer(context.Background(), testOwner, &models.CreateServerRequest{
		UniqueID:         "abc123",
		Type:             "PAPER",
		Version:          "1.21.1",
		DeploymentMethod: "Stack",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DeployStack, result.DeploymentMethod)
}

func TestGetServerReportsState(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StatePaused)
	h.withServer(t, testServer("gone"), models.StateAbsent)

	details, err := h.servers.GetServer(context.Background(), testOwner, "abc123")
	require.NoError(t, err)
	assert.Equal(t, models.StatePaused, details.State)

	details, err = h.servers.GetServer(context.Background(), testOwner, "gone")
	require.NoError(t, err)
	assert.Equal(t, models.StateAbsent, details.State)
}

func TestListServersIsScopedToOwner(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateRunning)
	bobs := testServer("bob001")
	bobs.Owner = "bob@example.com"
	bobs.Port = 25571
	h.withServer(t, bobs, models.StateRunning)

	servers, err := h.servers.ListServers(context.Background(), testOwner)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "abc123", servers[0].UniqueID)

	_, err = h.servers.ListServers(context.Background(), "")
	assert.Equal(t, apperror.KindUnauthorized, apperror.KindOf(err))
}

func TestUpdateServerRewritesProperties(t *testing.T) {
	h := newHarness(t)
	server := testServer("abc123")
	server.IsOnline = true
	h.withServer(t, server, models.StateRunning)

	maxPlayers := 50
	motd := "Welcome"
	difficulty := "HARD"
	result, err := h.servers.UpdateServer(context.Background(), testOwner, "abc123", &models.UpdateServerRequest{
		MaxPlayers: &maxPlayers,
		MOTD:       &motd,
		Difficulty: &difficulty,
	})
	require.NoError(t, err)
	assert.True(t, result.RestartRequired)

	props := h.serverFile(testOwner, "abc123", ServerPropertiesFile)
	assert.Contains(t, props, "max-players = 50")
	assert.Contains(t, props, "motd = Welcome")
	assert.Contains(t, props, "difficulty = hard")

	record, _ := h.store.Get("abc123")
	assert.Equal(t, 50, record.ServerConfig.MaxPlayers)
	assert.Equal(t, "hard", record.ServerConfig.Difficulty)

	bad := 0
	_, err = h.servers.UpdateServer(context.Background(), testOwner, "abc123", &models.UpdateServerRequest{MaxPlayers: &bad})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestExecuteCommandRequiresRunningServer(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateExited)

	_, err := h.servers.ExecuteCommand(context.Background(), testOwner, "abc123", "say hi")
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Zero(t, h.platform.Called("ExecCommand"))

	h.platform.SetState("mc-abc123", models.StateRunning)
	h.platform.ExecOutput = "[Server] hi"
	out, err := h.servers.ExecuteCommand(context.Background(), testOwner, "abc123", "say hi")
	require.NoError(t, err)
	assert.Equal(t, "[Server] hi", out)

	_, err = h.servers.ExecuteCommand(context.Background(), testOwner, "abc123", "  ")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestGetResourcesAndLogs(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateRunning)
	h.platform.Usage = models.ResourceUsage{MemoryUsage: 1024}
	h.platform.LogsOutput = "Done (3.2s)!"

	usage, err := h.servers.GetResources(context.Background(), testOwner, "abc123")
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), usage.MemoryUsage)

	logs, err := h.servers.GetServerLogs(context.Background(), testOwner, "abc123", 100)
	require.NoError(t, err)
	assert.Equal(t, "Done (3.2s)!", logs)

	stream, err := h.servers.StreamServerLogs(context.Background(), testOwner, "abc123", "all")
	require.NoError(t, err)
	defer stream.Close()
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "Done (3.2s)!", string(data))
}

func TestDeleteServerRefreshesProxy(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateRunning)
	_, err := h.proxies.AttachToProxy(context.Background(), testOwner, "abc123", models.DefaultProxyID)
	require.NoError(t, err)

	report, err := h.servers.DeleteServer(context.Background(), testOwner, "abc123", DeleteOptions{})
	require.NoError(t, err)
	assert.True(t, report.Success)

	velocity, ok := h.storage.File(velocityConfigPath)
	require.True(t, ok)
	servers, _ := velocityMembers(t, velocity)
	assert.NotContains(t, servers, "abc123")
}

func TestRedeployServerKeepsProxyNetwork(t *testing.T) {
	h := newHarness(t)
	server := testServer("abc123")
	server.ProxyID = models.DefaultProxyID
	h.withServer(t, server, models.StateRunning)

	redeployed, err := h.servers.RedeployServer(context.Background(), testOwner, "abc123")
	require.NoError(t, err)
	assert.True(t, redeployed.IsOnline)
	require.Len(t, h.platform.Deployed, 1)
	assert.Equal(t, "minecraft-network", h.platform.Deployed[0].Network)
}
