package models

import "time"

// Container is a container as reported by the platform
type Container struct {
	ID     string         `json:"id"`
	Names  []string       `json:"names"`
	State  ContainerState `json:"state"`
	Status string         `json:"status"`
}

// Stack is a Portainer stack
type Stack struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	EnvironmentID int    `json:"environment_id"`
	Status        int    `json:"status"`
}

// Environment is a Portainer environment (endpoint)
type Environment struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status int    `json:"status"`
}

// ContainerSpec describes a container to deploy
type ContainerSpec struct {
	Name          string
	Image         string
	Env           []string
	Labels        map[string]string
	ContainerPort int
	HostPort      int
	DataMount     string
	HostDataPath  string
	MemoryBytes   int64
	Network       string
	Aliases       []string
}

// ResourceUsage is a one-shot resource sample of a container
type ResourceUsage struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryUsage   uint64    `json:"memory_usage"`
	MemoryLimit   uint64    `json:"memory_limit"`
	MemoryPercent float64   `json:"memory_percent"`
	NetworkRx     uint64    `json:"network_rx"`
	NetworkTx     uint64    `json:"network_tx"`
	SampledAt     time.Time `json:"sampled_at"`
}

// FileType distinguishes files from directories in a listing
type FileType string

const (
	FileTypeFile FileType = "file"
	FileTypeDir  FileType = "dir"
)

// FileEntry is an entry of a directory listing
type FileEntry struct {
	Name       string    `json:"name"`
	Type       FileType  `json:"type"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	MimeType   string    `json:"mime_type,omitempty"`
}
