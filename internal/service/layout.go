package service

import (
	"path"
	"strings"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
)

const proxiesFolder = "_proxies"

// Layout maps servers onto the file server and the container host. Both
// roots expose the same directory tree.
type Layout struct {
	// BasePath is the root of the tree on the file server
	BasePath string
	// HostPath is the root of the tree on the container host
	HostPath string
}

// OwnerFolder turns an owner into a path segment. Segments starting with an
// underscore belong to the dashboard, so owner folders never do.
func OwnerFolder(owner string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(owner) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	folder := b.String()
	if folder == "" || strings.HasPrefix(folder, "_") {
		return "u" + folder
	}
	return folder
}

// ServerRoot is the data directory of a server on the file server
func (l Layout) ServerRoot(owner, uniqueID string) string {
	return path.Join("/", l.BasePath, OwnerFolder(owner), uniqueID)
}

// ServerPath resolves a cleaned relative path inside a server's directory
func (l Layout) ServerPath(owner, uniqueID, rel string) string {
	return path.Join(l.ServerRoot(owner, uniqueID), rel)
}

// HostDataPath is the directory bind-mounted into the server's container
func (l Layout) HostDataPath(owner, uniqueID string) string {
	return path.Join(l.HostPath, OwnerFolder(owner), uniqueID)
}

// ProxyRoot is the data directory of a proxy on the file server
func (l Layout) ProxyRoot(proxyID string) string {
	return path.Join("/", l.BasePath, proxiesFolder, proxyID)
}

// HostProxyPath is the directory bind-mounted into a proxy's container
func (l Layout) HostProxyPath(proxyID string) string {
	return path.Join(l.HostPath, proxiesFolder, proxyID)
}

// CleanRelative normalizes a path relative to a server root. It rejects
// paths that climb above the root.
func CleanRelative(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", apperror.Validation("invalid path")
	}
	rel = strings.ReplaceAll(rel, "\\", "/")

	depth := 0
	for _, seg := range strings.Split(rel, "/") {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", apperror.Validation("path %q escapes the server directory", rel)
			}
		default:
			depth++
		}
	}

	cleaned := strings.TrimPrefix(path.Clean("/"+rel), "/")
	return cleaned, nil
}
