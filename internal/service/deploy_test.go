package service

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mlhmz/dockermc-dashboard/internal/config"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

func TestMemoryLimit(t *testing.T) {
	limit, err := memoryLimit("2G")
	require.NoError(t, err)
	assert.Equal(t, int64(2684354560), limit)

	limit, err = memoryLimit("512M")
	require.NoError(t, err)
	assert.Equal(t, int64(671088640), limit)

	_, err = memoryLimit("lots")
	assert.Error(t, err)
}

func TestServerContainerSpec(t *testing.T) {
	layout := Layout{BasePath: "servers", HostPath: "/srv/minecraft/servers"}
	mc := config.MinecraftConfig{Image: "itzg/minecraft-server:latest"}
	spec := &ProvisionSpec{
		UniqueID: "abc123",
		Owner:    testOwner,
		Port:     25570,
		Config: models.ServerConfig{
			Type:       models.EnginePaper,
			Version:    "1.21.1",
			Memory:     "2G",
			MaxPlayers: 20,
			MOTD:       "hello",
			OnlineMode: true,
			GameMode:   "creative",
		},
	}

	cs, err := serverContainerSpec(mc, layout, spec)
	require.NoError(t, err)

	assert.Equal(t, "mc-abc123", cs.Name)
	assert.Equal(t, "itzg/minecraft-server:latest", cs.Image)
	assert.Equal(t, 25570, cs.HostPort)
	assert.Equal(t, 25565, cs.ContainerPort)
	assert.Equal(t, "/data", cs.DataMount)
	assert.Equal(t, "/srv/minecraft/servers/alice_example_com/abc123", cs.HostDataPath)
	assert.Subset(t, cs.Env, []string{"EULA=TRUE", "TYPE=PAPER", "VERSION=1.21.1", "MEMORY=2G", "ONLINE_MODE=true", "MODE=creative"})
	assert.Equal(t, "abc123", cs.Labels[labelServerID])
	assert.Empty(t, cs.Network)

	proxy := testProxyDefinition()
	spec.Proxy = &proxy
	cs, err = serverContainerSpec(mc, layout, spec)
	require.NoError(t, err)
	assert.Equal(t, "minecraft-network", cs.Network)
	assert.Equal(t, []string{"abc123"}, cs.Aliases)
}

func TestProxyContainerSpec(t *testing.T) {
	layout := Layout{BasePath: "servers", HostPath: "/srv/minecraft/servers"}

	cs, err := proxyContainerSpec("itzg/bungeecord:latest", layout, testProxyDefinition())
	require.NoError(t, err)
	assert.Equal(t, "mc-proxy-main-proxy", cs.Name)
	assert.Contains(t, cs.Env, "TYPE=VELOCITY")
	assert.Equal(t, 25565, cs.HostPort)
	assert.Equal(t, 25577, cs.ContainerPort)
	assert.Equal(t, "/srv/minecraft/servers/_proxies/main-proxy", cs.HostDataPath)
	assert.Equal(t, "minecraft-network", cs.Network)

	cs, err = proxyContainerSpec("itzg/bungeecord:latest", layout, bungeeProxy())
	require.NoError(t, err)
	assert.Contains(t, cs.Env, "TYPE=BUNGEECORD")
}

func TestComposeFor(t *testing.T) {
	data, err := composeFor(models.ContainerSpec{
		Name:          "mc-abc123",
		Image:         "itzg/minecraft-server:latest",
		Env:           []string{"EULA=TRUE", "MOTD=a=b"},
		ContainerPort: 25565,
		HostPort:      25570,
		DataMount:     "/data",
		HostDataPath:  "/srv/minecraft/servers/alice_example_com/abc123",
		MemoryBytes:   1024,
		Network:       "minecraft-network",
		Aliases:       []string{"abc123"},
	})
	require.NoError(t, err)

	var file composeFile
	require.NoError(t, yaml.Unmarshal(data, &file))
	svc, ok := file.Services["mc-abc123"]
	require.True(t, ok)
	assert.Equal(t, "mc-abc123", svc.ContainerName)
	assert.Equal(t, "a=b", svc.Environment["MOTD"])
	assert.Equal(t, []string{"25570:25565"}, svc.Ports)
	assert.Equal(t, []string{"/srv/minecraft/servers/alice_example_com/abc123:/data"}, svc.Volumes)
	assert.Equal(t, []string{"abc123"}, svc.Networks["minecraft-network"].Aliases)
	assert.True(t, file.Networks["minecraft-network"].External)
	assert.Equal(t, "unless-stopped", svc.Restart)
}

func TestVelocityConfig(t *testing.T) {
	members := []*models.MinecraftServer{testServer("abc123"), testServer("def456")}

	files, err := proxyConfigFiles(testProxyDefinition(), members)
	require.NoError(t, err)

	var file velocityFile
	require.NoError(t, toml.Unmarshal(files[velocityConfigFile], &file))
	assert.Equal(t, "0.0.0.0:25577", file.Bind)
	assert.Equal(t, "modern", file.ForwardingMode)
	assert.Equal(t, "<aqua>Main Proxy</aqua>", file.MOTD)
	assert.Equal(t, -1, file.Advanced.CompressionLevel)

	servers, try := velocityMembers(t, files[velocityConfigFile])
	assert.Equal(t, map[string]string{"abc123": "abc123:25565", "def456": "def456:25565"}, servers)
	assert.Equal(t, []string{"abc123", "def456"}, try)
	assert.Equal(t, "s3cret", string(files[velocitySecretFile]))
}

func TestVelocityConfigEscapesProxyName(t *testing.T) {
	def := testProxyDefinition()
	def.Name = "Bell\a \"quoted\" \x00name"

	files, err := proxyConfigFiles(def, nil)
	require.NoError(t, err)

	var file velocityFile
	require.NoError(t, toml.Unmarshal(files[velocityConfigFile], &file))
	assert.Equal(t, "<aqua>"+def.Name+"</aqua>", file.MOTD)
}

func TestBungeeCordConfig(t *testing.T) {
	files, err := proxyConfigFiles(bungeeProxy(), []*models.MinecraftServer{testServer("abc123")})
	require.NoError(t, err)
	require.Len(t, files, 1)

	var doc bungeeConfigDoc
	require.NoError(t, yaml.Unmarshal(files[bungeeCordConfigFile], &doc))
	assert.True(t, doc.IPForward)
	assert.Equal(t, "abc123:25565", doc.Servers["abc123"].Address)
	require.Len(t, doc.Listeners, 1)
	assert.Equal(t, []string{"abc123"}, doc.Listeners[0].Priorities)
	assert.Equal(t, "0.0.0.0:25577", doc.Listeners[0].Host)
}
