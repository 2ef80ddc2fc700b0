package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/magiconair/properties"
	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/webdav"
	"gopkg.in/yaml.v3"
)

// Files the server process writes on first boot
const (
	ServerPropertiesFile  = "server.properties"
	SpigotConfigFile      = "spigot.yml"
	PaperGlobalConfigFile = "config/paper-global.yml"
)

// SetProperties rewrites keys of a server.properties document, keeping the
// order and comments of existing entries.
func SetProperties(data []byte, values map[string]string) ([]byte, error) {
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse properties: %w", err)
	}

	for _, key := range sortedKeys(values) {
		if _, _, err := p.Set(key, values[key]); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	var buf bytes.Buffer
	if _, err := p.WriteComment(&buf, "# ", properties.UTF8); err != nil {
		return nil, fmt.Errorf("failed to write properties: %w", err)
	}
	return buf.Bytes(), nil
}

// SetYAMLValues sets dotted keys in a YAML document, creating intermediate
// mappings and keeping everything else, comments included.
func SetYAMLValues(data []byte, values map[string]any) ([]byte, error) {
	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("yaml document is not a mapping")
	}

	for _, key := range sortedKeys(values) {
		if err := setYAMLPath(root, strings.Split(key, "."), values[key]); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setYAMLPath(node *yaml.Node, keys []string, value any) error {
	for i, key := range keys {
		child := mappingValue(node, key)
		if i == len(keys)-1 {
			var val yaml.Node
			if err := val.Encode(value); err != nil {
				return err
			}
			if child != nil {
				val.HeadComment, val.LineComment = child.HeadComment, child.LineComment
				*child = val
				return nil
			}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, &val)
			return nil
		}

		if child == nil {
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, child)
		} else if child.Kind == yaml.ScalarNode && child.Tag == "!!null" {
			*child = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		} else if child.Kind != yaml.MappingNode {
			return fmt.Errorf("%s is not a mapping", strings.Join(keys[:i+1], "."))
		}
		node = child
	}
	return nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fileEdit rewrites one configuration file of a server
type fileEdit struct {
	file  string
	apply func([]byte) ([]byte, error)
}

func propertiesEdit(values map[string]string) fileEdit {
	return fileEdit{file: ServerPropertiesFile, apply: func(data []byte) ([]byte, error) {
		return SetProperties(data, values)
	}}
}

func yamlEdit(file string, values map[string]any) fileEdit {
	return fileEdit{file: file, apply: func(data []byte) ([]byte, error) {
		return SetYAMLValues(data, values)
	}}
}

// ValidateForwarding checks that engine can be configured for proxy's forwarding mode
func ValidateForwarding(engine models.EngineType, proxy models.ProxyDefinition) error {
	if proxy.ForwardingMode == models.ForwardingModern && !engine.SupportsVelocityForwarding() {
		return apperror.Validation("server type %s does not support modern forwarding used by proxy %s", engine, proxy.ID)
	}
	return nil
}

// ForwardingFiles lists the files that must exist before forwarding can be injected
func ForwardingFiles(engine models.EngineType, proxy models.ProxyDefinition) []string {
	files := []string{ServerPropertiesFile}
	switch {
	case proxy.ForwardingMode == models.ForwardingModern && engine.SupportsVelocityForwarding():
		files = append(files, PaperGlobalConfigFile)
	case proxy.ForwardingMode == models.ForwardingLegacy && engine.SupportsBungeeForwarding():
		files = append(files, SpigotConfigFile)
	}
	return files
}

// forwardingEdits are the edits that put a server behind proxy
func forwardingEdits(engine models.EngineType, proxy models.ProxyDefinition) ([]fileEdit, error) {
	if err := ValidateForwarding(engine, proxy); err != nil {
		return nil, err
	}

	edits := []fileEdit{propertiesEdit(map[string]string{"online-mode": "false"})}
	switch {
	case proxy.ForwardingMode == models.ForwardingModern:
		edits = append(edits, yamlEdit(PaperGlobalConfigFile, map[string]any{
			"proxies.velocity.enabled":     true,
			"proxies.velocity.online-mode": true,
			"proxies.velocity.secret":      proxy.Secret,
		}))
	case engine.SupportsBungeeForwarding():
		edits = append(edits, yamlEdit(SpigotConfigFile, map[string]any{
			"settings.bungeecord": true,
		}))
	}
	return edits, nil
}

// standaloneEdits undo forwardingEdits
func standaloneEdits(server *models.MinecraftServer, proxy models.ProxyDefinition) []fileEdit {
	engine := server.ServerConfig.Type
	edits := []fileEdit{propertiesEdit(map[string]string{
		"online-mode": strconv.FormatBool(server.ServerConfig.OnlineMode),
	})}
	if proxy.ForwardingMode == models.ForwardingModern && engine.SupportsVelocityForwarding() {
		edits = append(edits, yamlEdit(PaperGlobalConfigFile, map[string]any{"proxies.velocity.enabled": false}))
	}
	if engine.SupportsBungeeForwarding() {
		edits = append(edits, yamlEdit(SpigotConfigFile, map[string]any{"settings.bungeecord": false}))
	}
	return edits
}

// applyEdits reads, rewrites and writes back every edited file below root
func applyEdits(ctx context.Context, files FileStorage, root string, edits []fileEdit) error {
	for _, edit := range edits {
		p := root + "/" + edit.file
		data, err := files.Read(ctx, p)
		if err != nil && !errors.Is(err, webdav.ErrNotFound) {
			return fmt.Errorf("failed to read %s: %w", edit.file, err)
		}
		updated, err := edit.apply(data)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", edit.file, err)
		}
		if err := files.Write(ctx, p, updated); err != nil {
			return fmt.Errorf("failed to write %s: %w", edit.file, err)
		}
	}
	return nil
}

// configProperties maps a server configuration onto server.properties keys
func configProperties(cfg models.ServerConfig) map[string]string {
	values := map[string]string{
		"max-players": strconv.Itoa(cfg.MaxPlayers),
		"motd":        cfg.MOTD,
		"pvp":         strconv.FormatBool(cfg.PVP),
		"white-list":  strconv.FormatBool(cfg.Whitelist),
	}
	if cfg.Difficulty != "" {
		values["difficulty"] = cfg.Difficulty
	}
	if cfg.GameMode != "" {
		values["gamemode"] = cfg.GameMode
	}
	return values
}
