package database_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/config"
	"github.com/mlhmz/dockermc-dashboard/internal/database"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newServer(uniqueID, owner string, port int) *models.MinecraftServer {
	return &models.MinecraftServer{
		UniqueID:      uniqueID,
		Owner:         owner,
		ServerName:    "Server " + uniqueID,
		SubdomainName: "sub-" + uniqueID,
		Port:          port,
		ServerConfig: models.ServerConfig{
			Version:    "1.21.1",
			Type:       models.EnginePaper,
			MaxPlayers: 20,
		},
		DeploymentMethod: models.DeployContainer,
	}
}

func TestServerRepository_OwnerScopedLookup(t *testing.T) {
	ctx := context.Background()
	repo := database.NewServerRepository(newTestDB(t))

	require.NoError(t, repo.Create(ctx, newServer("abc123", "alice@example.com", 25570)))

	found, err := repo.FindByUniqueID(ctx, "alice@example.com", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", found.UniqueID)
	assert.Equal(t, models.EnginePaper, found.ServerConfig.Type)

	_, err = repo.FindByUniqueID(ctx, "mallory@example.com", "abc123")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestServerRepository_FindByAlias(t *testing.T) {
	ctx := context.Background()
	repo := database.NewServerRepository(newTestDB(t))

	require.NoError(t, repo.Create(ctx, newServer("abc123", "alice@example.com", 25570)))
	require.NoError(t, repo.Create(ctx, newServer("def456", "bob@example.com", 25571)))

	servers, err := repo.FindByAlias(ctx, "alice@example.com", "sub-abc123")
	require.NoError(t, err)
	require.Len(t, servers, 1)

	servers, err = repo.FindByAlias(ctx, "alice@example.com", "Server abc123")
	require.NoError(t, err)
	assert.Len(t, servers, 1)

	servers, err = repo.FindByAlias(ctx, "alice@example.com", "sub-def456")
	require.NoError(t, err)
	assert.Empty(t, servers)
}

func TestServerRepository_UpdateFields(t *testing.T) {
	ctx := context.Background()
	repo := database.NewServerRepository(newTestDB(t))
	require.NoError(t, repo.Create(ctx, newServer("abc123", "alice@example.com", 25570)))

	online := true
	require.NoError(t, repo.UpdateFields(ctx, "abc123", models.ServerFields{IsOnline: &online}))

	found, err := repo.FindByUniqueID(ctx, "alice@example.com", "abc123")
	require.NoError(t, err)
	assert.True(t, found.IsOnline)
	assert.Equal(t, 20, found.ServerConfig.MaxPlayers)

	cfg := found.ServerConfig
	cfg.MaxPlayers = 50
	cfg.MOTD = "hello"
	require.NoError(t, repo.UpdateFields(ctx, "abc123", models.ServerFields{ServerConfig: &cfg}))

	found, err = repo.FindByUniqueID(ctx, "alice@example.com", "abc123")
	require.NoError(t, err)
	assert.Equal(t, 50, found.ServerConfig.MaxPlayers)
	assert.Equal(t, "hello", found.ServerConfig.MOTD)
	assert.True(t, found.IsOnline)

	err = repo.UpdateFields(ctx, "missing", models.ServerFields{IsOnline: &online})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestServerRepository_DeleteTwice(t *testing.T) {
	ctx := context.Background()
	repo := database.NewServerRepository(newTestDB(t))
	require.NoError(t, repo.Create(ctx, newServer("abc123", "alice@example.com", 25570)))

	require.NoError(t, repo.Delete(ctx, "abc123"))
	assert.ErrorIs(t, repo.Delete(ctx, "abc123"), database.ErrNotFound)

	exists, err := repo.UniqueIDExists(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestServerRepository_PortsAndSubdomains(t *testing.T) {
	ctx := context.Background()
	repo := database.NewServerRepository(newTestDB(t))
	require.NoError(t, repo.Create(ctx, newServer("abc123", "alice@example.com", 25570)))
	require.NoError(t, repo.Create(ctx, newServer("def456", "bob@example.com", 25571)))

	ports, err := repo.UsedPorts(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{25570, 25571}, ports)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	taken, err := repo.SubdomainExists(ctx, "sub-def456")
	require.NoError(t, err)
	assert.True(t, taken)

	err = repo.Create(ctx, newServer("ghi789", "carol@example.com", 25570))
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err), "port is unique")
}

func TestServerRepository_SubdomainIsUnique(t *testing.T) {
	ctx := context.Background()
	repo := database.NewServerRepository(newTestDB(t))

	first := newServer("abc123", "alice@example.com", 25570)
	first.SubdomainName = "play"
	require.NoError(t, repo.Create(ctx, first))

	second := newServer("def456", "bob@example.com", 25571)
	second.SubdomainName = "play"
	err := repo.Create(ctx, second)
	require.Error(t, err)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))

	// Servers without a subdomain do not collide
	for i, id := range []string{"ghi789", "jkl012"} {
		srv := newServer(id, "carol@example.com", 25572+i)
		srv.SubdomainName = ""
		require.NoError(t, repo.Create(ctx, srv))
	}
}

func TestServerRepository_FindByProxyID(t *testing.T) {
	ctx := context.Background()
	repo := database.NewServerRepository(newTestDB(t))
	require.NoError(t, repo.Create(ctx, newServer("abc123", "alice@example.com", 25570)))
	require.NoError(t, repo.Create(ctx, newServer("def456", "bob@example.com", 25571)))

	proxyID := "lobby"
	require.NoError(t, repo.UpdateFields(ctx, "def456", models.ServerFields{ProxyID: &proxyID}))

	servers, err := repo.FindByProxyID(ctx, "lobby")
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "def456", servers[0].UniqueID)
}

func TestProxyRepository_SaveUpserts(t *testing.T) {
	ctx := context.Background()
	repo := database.NewProxyRepository(newTestDB(t))

	proxy := &models.ProxyServer{ID: "lobby", Name: "Lobby", Port: 25577, Status: models.StatusCreating}
	require.NoError(t, repo.Save(ctx, proxy))

	proxy.ContainerID = "c-1"
	proxy.Status = models.StatusRunning
	require.NoError(t, repo.Save(ctx, proxy))

	found, err := repo.FindByID(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, "c-1", found.ContainerID)
	assert.Equal(t, models.StatusRunning, found.Status)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}
