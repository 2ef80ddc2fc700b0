package service

import (
	"context"
	"io"

	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

// Platform is the container platform the servers run on
type Platform interface {
	ResolveEnvironment(ctx context.Context, hint int) (int, error)

	ListContainers(ctx context.Context, envID int) ([]models.Container, error)
	FindContainerByName(ctx context.Context, name string, envID int) (*models.Container, error)
	StartContainer(ctx context.Context, id string, envID int) error
	StopContainer(ctx context.Context, id string, envID int, timeout *int) error
	RestartContainer(ctx context.Context, id string, envID int, timeout *int) error
	PauseContainer(ctx context.Context, id string, envID int) error
	UnpauseContainer(ctx context.Context, id string, envID int) error
	KillContainer(ctx context.Context, id string, envID int, signal string) error
	RemoveContainer(ctx context.Context, id string, envID int, force, removeVolumes bool) error

	Logs(ctx context.Context, id string, envID int, tail int) (string, error)
	StreamLogs(ctx context.Context, id string, envID int, tail string, follow bool) (io.ReadCloser, error)
	ExecCommand(ctx context.Context, id, command string, envID int) (string, error)
	Resources(ctx context.Context, id string, envID int) (*models.ResourceUsage, error)

	DeployContainer(ctx context.Context, envID int, spec models.ContainerSpec) (string, error)
	EnsureNetwork(ctx context.Context, envID int, network string) error
	ConnectNetwork(ctx context.Context, envID int, containerID, network string, aliases []string) error
	DisconnectNetwork(ctx context.Context, envID int, containerID, network string) error

	ListStacks(ctx context.Context, envID int) ([]models.Stack, error)
	FindStackByName(ctx context.Context, name string, envID int) (*models.Stack, error)
	DeployStack(ctx context.Context, envID int, name string, compose []byte, env map[string]string) (*models.Stack, error)
	UpdateStack(ctx context.Context, stackID, envID int, compose []byte, env map[string]string, pull bool) error
	RedeployStack(ctx context.Context, stackID, envID int) error
	DeleteStack(ctx context.Context, stackID, envID int) error
}

// FileStorage is the file server holding every server's data directory
type FileStorage interface {
	Exists(ctx context.Context, path string) (bool, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string) error
	DeleteDirectory(ctx context.Context, path string) error
	ListDirectory(ctx context.Context, path string) ([]models.FileEntry, error)
}

// ServerStore persists server records
type ServerStore interface {
	Create(ctx context.Context, server *models.MinecraftServer) error
	FindByUniqueID(ctx context.Context, owner, uniqueID string) (*models.MinecraftServer, error)
	FindByAlias(ctx context.Context, owner, alias string) ([]*models.MinecraftServer, error)
	FindAllByOwner(ctx context.Context, owner string) ([]*models.MinecraftServer, error)
	FindByProxyID(ctx context.Context, proxyID string) ([]*models.MinecraftServer, error)
	UniqueIDExists(ctx context.Context, uniqueID string) (bool, error)
	SubdomainExists(ctx context.Context, subdomain string) (bool, error)
	UsedPorts(ctx context.Context) ([]int, error)
	Count(ctx context.Context) (int64, error)
	UpdateFields(ctx context.Context, uniqueID string, fields models.ServerFields) error
	Delete(ctx context.Context, uniqueID string) error
}

// ProxyStore persists instantiated proxies
type ProxyStore interface {
	Save(ctx context.Context, proxy *models.ProxyServer) error
	FindByID(ctx context.Context, id string) (*models.ProxyServer, error)
	FindAll(ctx context.Context) ([]*models.ProxyServer, error)
}
