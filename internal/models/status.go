package models

// ContainerStatus is the last recorded status of a proxy container
type ContainerStatus string

const (
	StatusCreating ContainerStatus = "creating"
	StatusRunning  ContainerStatus = "running"
	StatusStopped  ContainerStatus = "stopped"
	StatusError    ContainerStatus = "error"
)

// ContainerState is the observed state of a container on the platform
type ContainerState string

const (
	StateAbsent  ContainerState = "absent"
	StateCreated ContainerState = "created"
	StateRunning ContainerState = "running"
	StatePaused  ContainerState = "paused"
	StateExited  ContainerState = "exited"
)

func (s ContainerState) String() string {
	return string(s)
}

// ParseContainerState maps a Docker state string onto the lifecycle states
func ParseContainerState(docker string) ContainerState {
	switch docker {
	case "created":
		return StateCreated
	case "running", "restarting":
		return StateRunning
	case "paused":
		return StatePaused
	case "exited", "dead", "removing":
		return StateExited
	default:
		return StateAbsent
	}
}
