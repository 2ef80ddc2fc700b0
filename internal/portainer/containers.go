package portainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

// ListContainers returns every container of an environment
func (c *Client) ListContainers(ctx context.Context, envID int) ([]models.Container, error) {
	return c.listContainers(ctx, envID, container.ListOptions{All: true})
}

// FindContainerByName returns the container with exactly name, or nil
func (c *Client) FindContainerByName(ctx context.Context, name string, envID int) (*models.Container, error) {
	containers, err := c.listContainers(ctx, envID, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return nil, err
	}
	for i := range containers {
		for _, n := range containers[i].Names {
			if n == name {
				return &containers[i], nil
			}
		}
	}
	return nil, nil
}

func (c *Client) listContainers(ctx context.Context, envID int, opts container.ListOptions) ([]models.Container, error) {
	cli, err := c.docker(envID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.callTimeout(ctx)
	defer cancel()

	list, err := cli.ContainerList(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	containers := make([]models.Container, 0, len(list))
	for _, ct := range list {
		names := make([]string, 0, len(ct.Names))
		for _, n := range ct.Names {
			names = append(names, strings.TrimPrefix(n, "/"))
		}
		containers = append(containers, models.Container{
			ID:     ct.ID,
			Names:  names,
			State:  models.ParseContainerState(ct.State),
			Status: ct.Status,
		})
	}
	return containers, nil
}

// StartContainer starts a container
func (c *Client) StartContainer(ctx context.Context, id string, envID int) error {
	return c.call(ctx, envID, "start", func(ctx context.Context, cli dockerAPI) error {
		return cli.ContainerStart(ctx, id, container.StartOptions{})
	})
}

// StopContainer stops a container, waiting up to timeout seconds before killing it
func (c *Client) StopContainer(ctx context.Context, id string, envID int, timeout *int) error {
	return c.call(ctx, envID, "stop", func(ctx context.Context, cli dockerAPI) error {
		return cli.ContainerStop(ctx, id, container.StopOptions{Timeout: timeout})
	})
}

// RestartContainer restarts a container through the platform's restart primitive
func (c *Client) RestartContainer(ctx context.Context, id string, envID int, timeout *int) error {
	return c.call(ctx, envID, "restart", func(ctx context.Context, cli dockerAPI) error {
		return cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: timeout})
	})
}

// PauseContainer pauses a container
func (c *Client) PauseContainer(ctx context.Context, id string, envID int) error {
	return c.call(ctx, envID, "pause", func(ctx context.Context, cli dockerAPI) error {
		return cli.ContainerPause(ctx, id)
	})
}

// UnpauseContainer unpauses a container
func (c *Client) UnpauseContainer(ctx context.Context, id string, envID int) error {
	return c.call(ctx, envID, "unpause", func(ctx context.Context, cli dockerAPI) error {
		return cli.ContainerUnpause(ctx, id)
	})
}

// KillContainer sends signal to a container
func (c *Client) KillContainer(ctx context.Context, id string, envID int, signal string) error {
	return c.call(ctx, envID, "kill", func(ctx context.Context, cli dockerAPI) error {
		return cli.ContainerKill(ctx, id, signal)
	})
}

// RemoveContainer removes a container, optionally with its anonymous volumes
func (c *Client) RemoveContainer(ctx context.Context, id string, envID int, force, removeVolumes bool) error {
	return c.call(ctx, envID, "remove", func(ctx context.Context, cli dockerAPI) error {
		return cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force, RemoveVolumes: removeVolumes})
	})
}

// dockerAPI is the subset of the Docker client used by call
type dockerAPI interface {
	ContainerStart(ctx context.Context, id string, options container.StartOptions) error
	ContainerStop(ctx context.Context, id string, options container.StopOptions) error
	ContainerRestart(ctx context.Context, id string, options container.StopOptions) error
	ContainerPause(ctx context.Context, id string) error
	ContainerUnpause(ctx context.Context, id string) error
	ContainerKill(ctx context.Context, id, signal string) error
	ContainerRemove(ctx context.Context, id string, options container.RemoveOptions) error
}

func (c *Client) call(ctx context.Context, envID int, op string, fn func(context.Context, dockerAPI) error) error {
	cli, err := c.docker(envID)
	if err != nil {
		return err
	}
	ctx, cancel := c.callTimeout(ctx)
	defer cancel()

	if err := fn(ctx, cli); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to %s container: %w", op, ErrContainerNotFound)
		}
		return fmt.Errorf("failed to %s container: %w", op, err)
	}
	return nil
}

// Logs returns the last tail lines of a container's output
func (c *Client) Logs(ctx context.Context, id string, envID int, tail int) (string, error) {
	reader, err := c.StreamLogs(ctx, id, envID, strconv.Itoa(tail), false)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	return string(data), nil
}

// StreamLogs returns a demultiplexed stream of a container's output
func (c *Client) StreamLogs(ctx context.Context, id string, envID int, tail string, follow bool) (io.ReadCloser, error) {
	cli, err := c.docker(envID)
	if err != nil {
		return nil, err
	}

	inspectCtx, cancel := c.callTimeout(ctx)
	info, err := cli.ContainerInspect(inspectCtx, id)
	cancel()
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrContainerNotFound
		}
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	logs, err := cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       tail,
		Timestamps: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}

	if info.Config != nil && info.Config.Tty {
		return logs, nil
	}

	// Non-TTY output is multiplexed, split it back into a plain stream
	pr, pw := io.Pipe()
	go func() {
		defer logs.Close()
		_, err := stdcopy.StdCopy(pw, pw, logs)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// ExecCommand runs a console command through rcon-cli inside the container
func (c *Client) ExecCommand(ctx context.Context, id, command string, envID int) (string, error) {
	cli, err := c.docker(envID)
	if err != nil {
		return "", err
	}
	ctx, cancel := c.callTimeout(ctx)
	defer cancel()

	execConfig := container.ExecOptions{
		Cmd:          []string{"rcon-cli", command},
		AttachStdout: true,
		AttachStderr: true,
	}

	execResp, err := cli.ContainerExecCreate(ctx, id, execConfig)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", ErrContainerNotFound
		}
		return "", fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader); err != nil {
		return "", fmt.Errorf("failed to read exec output: %w", err)
	}

	inspectResp, err := cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect exec: %w", err)
	}
	if inspectResp.ExitCode != 0 {
		return "", fmt.Errorf("exec failed with exit code %d: %s", inspectResp.ExitCode, strings.TrimSpace(stderr.String()+stdout.String()))
	}

	return stdout.String(), nil
}

// Resources samples a container's resource usage once
func (c *Client) Resources(ctx context.Context, id string, envID int) (*models.ResourceUsage, error) {
	cli, err := c.docker(envID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.callTimeout(ctx)
	defer cancel()

	resp, err := cli.ContainerStats(ctx, id, false)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrContainerNotFound
		}
		return nil, fmt.Errorf("failed to get container stats: %w", err)
	}
	defer resp.Body.Close()

	var stats types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode container stats: %w", err)
	}
	return usageFromStats(&stats), nil
}

func usageFromStats(stats *types.StatsJSON) *models.ResourceUsage {
	usage := &models.ResourceUsage{
		MemoryUsage: stats.MemoryStats.Usage,
		MemoryLimit: stats.MemoryStats.Limit,
		SampledAt:   stats.Read,
	}
	if cache, ok := stats.MemoryStats.Stats["inactive_file"]; ok && cache < usage.MemoryUsage {
		usage.MemoryUsage -= cache
	}
	if usage.MemoryLimit > 0 {
		usage.MemoryPercent = float64(usage.MemoryUsage) / float64(usage.MemoryLimit) * 100
	}

	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	cpus := float64(stats.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && systemDelta > 0 {
		usage.CPUPercent = cpuDelta / systemDelta * cpus * 100
	}

	for _, n := range stats.Networks {
		usage.NetworkRx += n.RxBytes
		usage.NetworkTx += n.TxBytes
	}
	if usage.SampledAt.IsZero() {
		usage.SampledAt = time.Now()
	}
	return usage
}

// PullImage pulls a Docker image if it doesn't exist in the environment
func (c *Client) PullImage(ctx context.Context, envID int, imageName string) error {
	cli, err := c.docker(envID)
	if err != nil {
		return err
	}

	// Check if image already exists
	inspectCtx, cancel := c.callTimeout(ctx)
	_, _, err = cli.ImageInspectWithRaw(inspectCtx, imageName)
	cancel()
	if err == nil {
		c.logger.InfoContext(ctx, "Image already exists", "image", imageName, "environment_id", envID)
		return nil
	}

	pullCtx, cancel := c.pullDeadline(ctx)
	defer cancel()

	c.logger.InfoContext(ctx, "Pulling Docker image", "image", imageName, "environment_id", envID)
	reader, err := cli.ImagePull(pullCtx, imageName, image.PullOptions{})
	if err != nil {
		return c.pullError(pullCtx, imageName, err)
	}
	defer reader.Close()

	// ImagePull only completes once its progress stream is drained
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return c.pullError(pullCtx, imageName, err)
	}

	c.logger.InfoContext(ctx, "Successfully pulled image", "image", imageName)
	return nil
}

func (c *Client) pullError(ctx context.Context, imageName string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("image pull of %s timed out after %s: %w", imageName, c.pullTimeout, context.DeadlineExceeded)
	}
	return fmt.Errorf("failed to pull image %s: %w", imageName, err)
}

// DeployContainer pulls the image, creates and starts a container from spec
func (c *Client) DeployContainer(ctx context.Context, envID int, spec models.ContainerSpec) (string, error) {
	cli, err := c.docker(envID)
	if err != nil {
		return "", err
	}

	if err := c.PullImage(ctx, envID, spec.Image); err != nil {
		return "", err
	}

	if spec.Network != "" {
		if err := c.EnsureNetwork(ctx, envID, spec.Network); err != nil {
			return "", fmt.Errorf("failed to ensure network: %w", err)
		}
	}

	containerPort := nat.Port(fmt.Sprintf("%d/tcp", spec.ContainerPort))
	containerConfig := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
	}

	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
		Resources: container.Resources{
			Memory: spec.MemoryBytes,
		},
	}
	if spec.HostDataPath != "" {
		hostConfig.Binds = []string{fmt.Sprintf("%s:%s", spec.HostDataPath, spec.DataMount)}
	}
	if spec.HostPort > 0 {
		hostConfig.PortBindings = nat.PortMap{
			containerPort: []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.HostPort)},
			},
		}
	}

	var networkConfig *network.NetworkingConfig
	if spec.Network != "" {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {Aliases: spec.Aliases},
			},
		}
	}

	createCtx, cancel := c.callTimeout(ctx)
	defer cancel()
	resp, err := cli.ContainerCreate(createCtx, containerConfig, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := cli.ContainerStart(createCtx, resp.ID, container.StartOptions{}); err != nil {
		return resp.ID, fmt.Errorf("failed to start container: %w", err)
	}
	return resp.ID, nil
}

// EnsureNetwork creates a bridge network if it doesn't exist
func (c *Client) EnsureNetwork(ctx context.Context, envID int, networkName string) error {
	cli, err := c.docker(envID)
	if err != nil {
		return err
	}
	ctx, cancel := c.callTimeout(ctx)
	defer cancel()

	networks, err := cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return err
	}

	for _, net := range networks {
		if net.Name == networkName {
			return nil
		}
	}

	_, err = cli.NetworkCreate(ctx, networkName, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{
			"minecraft-network": "true",
		},
	})
	return err
}

// ConnectNetwork attaches a container to a network unless already attached
func (c *Client) ConnectNetwork(ctx context.Context, envID int, containerID, networkName string, aliases []string) error {
	cli, err := c.docker(envID)
	if err != nil {
		return err
	}
	if err := c.EnsureNetwork(ctx, envID, networkName); err != nil {
		return err
	}

	ctx, cancel := c.callTimeout(ctx)
	defer cancel()

	info, err := cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ErrContainerNotFound
		}
		return err
	}
	if info.NetworkSettings != nil {
		for netName := range info.NetworkSettings.Networks {
			if netName == networkName {
				return nil
			}
		}
	}

	return cli.NetworkConnect(ctx, networkName, containerID, &network.EndpointSettings{
		Aliases: aliases,
	})
}

// DisconnectNetwork detaches a container from a network. A container that is
// not attached is left alone.
func (c *Client) DisconnectNetwork(ctx context.Context, envID int, containerID, networkName string) error {
	cli, err := c.docker(envID)
	if err != nil {
		return err
	}
	ctx, cancel := c.callTimeout(ctx)
	defer cancel()

	info, err := cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ErrContainerNotFound
		}
		return err
	}
	if info.NetworkSettings == nil {
		return nil
	}
	if _, ok := info.NetworkSettings.Networks[networkName]; !ok {
		return nil
	}

	if err := cli.NetworkDisconnect(ctx, networkName, containerID, false); err != nil {
		return fmt.Errorf("failed to disconnect from network %s: %w", networkName, err)
	}
	return nil
}
