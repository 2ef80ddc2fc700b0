package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/service/fakes"
)

func TestSetProperties(t *testing.T) {
	out, err := SetProperties([]byte(testProperties), map[string]string{
		"online-mode": "false",
		"pvp":         "true",
	})
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "# Minecraft server properties")
	assert.Contains(t, text, "online-mode = false")
	assert.Contains(t, text, "pvp = true")
	assert.Contains(t, text, "motd = A Minecraft Server")
	assert.NotContains(t, text, "online-mode = true")
	assert.Less(t, strings.Index(text, "motd"), strings.Index(text, "online-mode"))
}

func TestSetPropertiesOnEmptyDocument(t *testing.T) {
	out, err := SetProperties(nil, map[string]string{"online-mode": "false"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "online-mode = false")
}

func TestSetYAMLValuesKeepsComments(t *testing.T) {
	in := "# Spigot configuration\nsettings:\n  bungeecord: false # toggled by the dashboard\n  timeout-time: 60\n"

	out, err := SetYAMLValues([]byte(in), map[string]any{"settings.bungeecord": true})
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "# Spigot configuration")
	assert.Contains(t, text, "bungeecord: true # toggled by the dashboard")
	assert.Contains(t, text, "timeout-time: 60")
}

func TestSetYAMLValuesCreatesMappings(t *testing.T) {
	out, err := SetYAMLValues(nil, map[string]any{
		"proxies.velocity.enabled": true,
		"proxies.velocity.secret":  "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, "proxies:\n  velocity:\n    enabled: true\n    secret: s3cret\n", string(out))

	out, err = SetYAMLValues([]byte("proxies:\n"), map[string]any{"proxies.velocity.enabled": false})
	require.NoError(t, err)
	assert.Contains(t, string(out), "enabled: false")
}

func TestSetYAMLValuesRejectsScalarParent(t *testing.T) {
	_, err := SetYAMLValues([]byte("settings: 3\n"), map[string]any{"settings.bungeecord": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings is not a mapping")
}

func bungeeProxy() models.ProxyDefinition {
	return models.ProxyDefinition{
		ID:             "lobby",
		Name:           "Lobby",
		Port:           25577,
		Memory:         "512M",
		Network:        "lobby-network",
		Type:           models.ProxyBungeeCord,
		ForwardingMode: models.ForwardingLegacy,
	}
}

func TestForwardingEdits(t *testing.T) {
	tests := []struct {
		name    string
		engine  models.EngineType
		proxy   models.ProxyDefinition
		files   []string
		wantErr bool
	}{
		{name: "paper behind velocity", engine: models.EnginePaper, proxy: testProxyDefinition(), files: []string{ServerPropertiesFile, PaperGlobalConfigFile}},
		{name: "purpur behind velocity", engine: models.EnginePurpur, proxy: testProxyDefinition(), files: []string{ServerPropertiesFile, PaperGlobalConfigFile}},
		{name: "spigot behind bungeecord", engine: models.EngineSpigot, proxy: bungeeProxy(), files: []string{ServerPropertiesFile, SpigotConfigFile}},
		{name: "paper behind bungeecord", engine: models.EnginePaper, proxy: bungeeProxy(), files: []string{ServerPropertiesFile, SpigotConfigFile}},
		{name: "vanilla behind bungeecord", engine: models.EngineVanilla, proxy: bungeeProxy(), files: []string{ServerPropertiesFile}},
		{name: "spigot behind velocity", engine: models.EngineSpigot, proxy: testProxyDefinition(), wantErr: true},
		{name: "fabric behind velocity", engine: models.EngineFabric, proxy: testProxyDefinition(), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edits, err := forwardingEdits(tt.engine, tt.proxy)
			if tt.wantErr {
				assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
				return
			}
			require.NoError(t, err)
			files := make([]string, 0, len(edits))
			for _, e := range edits {
				files = append(files, e.file)
			}
			assert.Equal(t, tt.files, files)
			assert.Equal(t, tt.files, ForwardingFiles(tt.engine, tt.proxy))
		})
	}
}

func TestApplyForwardingAndStandaloneEdits(t *testing.T) {
	storage := fakes.NewStorage()
	root := "/servers/alice_example_com/abc123"
	storage.Put(root+"/"+ServerPropertiesFile, []byte(testProperties))
	storage.Put(root+"/"+SpigotConfigFile, []byte(testSpigot))
	ctx := context.Background()

	edits, err := forwardingEdits(models.EngineSpigot, bungeeProxy())
	require.NoError(t, err)
	require.NoError(t, applyEdits(ctx, storage, root, edits))

	spigot, _ := storage.File(root + "/" + SpigotConfigFile)
	assert.Contains(t, string(spigot), "bungeecord: true")
	props, _ := storage.File(root + "/" + ServerPropertiesFile)
	assert.Contains(t, string(props), "online-mode = false")

	server := testServer("abc123")
	server.ServerConfig.Type = models.EngineSpigot
	require.NoError(t, applyEdits(ctx, storage, root, standaloneEdits(server, bungeeProxy())))

	spigot, _ = storage.File(root + "/" + SpigotConfigFile)
	assert.Contains(t, string(spigot), "bungeecord: false")
	props, _ = storage.File(root + "/" + ServerPropertiesFile)
	assert.Contains(t, string(props), "online-mode = true")
}

func TestConfigProperties(t *testing.T) {
	values := configProperties(models.ServerConfig{
		MaxPlayers: 50,
		MOTD:       "hello",
		PVP:        false,
		Difficulty: "hard",
	})
	assert.Equal(t, "50", values["max-players"])
	assert.Equal(t, "hello", values["motd"])
	assert.Equal(t, "false", values["pvp"])
	assert.Equal(t, "hard", values["difficulty"])
	assert.NotContains(t, values, "gamemode")
}
