// Package container manages per-agent Docker sandboxes for command execution.
package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	DefaultNetworkName = "warren-network"
	LabelAgent         = "warren.agent"
	LabelManagedBy     = "warren.managed-by"
	DefaultImage       = "debian:bookworm-slim"
	containerPrefix    = "warren-"
)

// Manager handles Docker container operations for agent sandboxes. One
// sandbox per agent, lazily created on first exec, with the agent's working
// directory bind-mounted at /workspace.
type Manager struct {
	client      *client.Client
	networkName string
	defaultImg  string
	mu          sync.RWMutex
	available   bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNetworkName sets a custom Docker network name.
func WithNetworkName(name string) ManagerOption {
	return func(m *Manager) {
		m.networkName = name
	}
}

// WithDefaultImage sets the default sandbox image.
func WithDefaultImage(img string) ManagerOption {
	return func(m *Manager) {
		m.defaultImg = img
	}
}

// NewManager creates a new sandbox manager.
// If Docker is unavailable, it returns a Manager with available=false.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		networkName: DefaultNetworkName,
		defaultImg:  DefaultImage,
		available:   false,
	}

	for _, opt := range opts {
		opt(m)
	}

	cli, err := createDockerClient()
	if err != nil {
		return m, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return m, nil
	}

	m.client = cli
	m.available = true

	if err := m.ensureNetwork(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}

	return m, nil
}

// createDockerClient creates a Docker client, trying multiple socket locations
// for compatibility with Docker Desktop on macOS.
func createDockerClient() (*client.Client, error) {
	// First try with environment settings (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := cli.Ping(ctx); err == nil {
			return cli, nil
		}
		cli.Close()
	}

	socketPaths := []string{
		"unix://" + os.Getenv("HOME") + "/.docker/run/docker.sock", // Docker Desktop macOS
		"unix:///var/run/docker.sock",                              // Linux default
		"unix://" + os.Getenv("HOME") + "/.colima/docker.sock",     // Colima
	}

	for _, socketPath := range socketPaths {
		cli, err := client.NewClientWithOpts(
			client.WithHost(socketPath),
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err = cli.Ping(ctx)
		cancel()

		if err == nil {
			return cli, nil
		}
		cli.Close()
	}

	return nil, fmt.Errorf("could not connect to Docker daemon")
}

// IsAvailable returns whether Docker is available.
func (m *Manager) IsAvailable() bool {
	return m.available
}

// ensureNetwork creates the warren network if it doesn't exist.
func (m *Manager) ensureNetwork(ctx context.Context) error {
	if !m.available {
		return nil
	}

	networks, err := m.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", m.networkName)),
	})
	if err != nil {
		return err
	}

	if len(networks) > 0 {
		return nil
	}

	_, err = m.client.NetworkCreate(ctx, m.networkName, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{
			LabelManagedBy: "warren",
		},
	})
	return err
}

// SandboxConfig holds configuration for an agent sandbox.
type SandboxConfig struct {
	AgentID    string
	Image      string
	WorkingDir string
	Env        []string
}

// StartSandbox starts a sandbox container for an agent. Idempotent: an
// existing sandbox is reused, a stopped one restarted.
func (m *Manager) StartSandbox(ctx context.Context, cfg SandboxConfig) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.available {
		return "", fmt.Errorf("docker not available")
	}

	containerName := containerPrefix + cfg.AgentID

	existing, err := m.getContainer(ctx, containerName)
	if err == nil && existing != "" {
		inspect, err := m.client.ContainerInspect(ctx, existing)
		if err == nil {
			if inspect.State.Running {
				return existing, nil
			}
			if err := m.client.ContainerStart(ctx, existing, container.StartOptions{}); err != nil {
				return "", fmt.Errorf("failed to start existing sandbox: %w", err)
			}
			return existing, nil
		}
	}

	img := cfg.Image
	if img == "" {
		img = m.defaultImg
	}

	if err := m.ensureImage(ctx, img); err != nil {
		return "", fmt.Errorf("failed to pull image: %w", err)
	}

	workingDir, err := filepath.Abs(cfg.WorkingDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve working dir: %w", err)
	}
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create working dir: %w", err)
	}

	containerCfg := &container.Config{
		Image:      img,
		WorkingDir: "/workspace",
		Env:        cfg.Env,
		Labels: map[string]string{
			LabelAgent:     cfg.AgentID,
			LabelManagedBy: "warren",
		},
		Tty:       true,
		OpenStdin: true,
		Cmd:       []string{"tail", "-f", "/dev/null"}, // Keep container running
		User:      "1000:1000",
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: workingDir,
				Target: "/workspace",
			},
		},
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
		NetworkMode: container.NetworkMode(m.networkName),
	}

	resp, err := m.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, containerName)
	if err != nil {
		return "", fmt.Errorf("failed to create sandbox: %w", err)
	}

	if err := m.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start sandbox: %w", err)
	}

	return resp.ID, nil
}

// RemoveSandbox stops and removes an agent's sandbox.
func (m *Manager) RemoveSandbox(ctx context.Context, agentID string) error {
	if !m.available {
		return fmt.Errorf("docker not available")
	}

	containerName := containerPrefix + agentID

	m.mu.Lock()
	defer m.mu.Unlock()

	containerID, err := m.getContainer(ctx, containerName)
	if err != nil {
		return nil // Sandbox doesn't exist, that's fine
	}

	timeout := 5
	_ = m.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})

	return m.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// ExecResult holds the result of a command execution.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Exec runs a command in an agent's sandbox. The sandbox is auto-created on
// first use with the agent's working directory mounted at /workspace.
func (m *Manager) Exec(ctx context.Context, agentID, workingDir string, command []string) (*ExecResult, error) {
	if !m.available {
		return nil, fmt.Errorf("docker not available")
	}

	containerName := containerPrefix + agentID

	m.mu.RLock()
	containerID, err := m.getContainer(ctx, containerName)
	m.mu.RUnlock()
	if err != nil {
		containerID, err = m.StartSandbox(ctx, SandboxConfig{
			AgentID:    agentID,
			WorkingDir: workingDir,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to auto-start sandbox: %w", err)
		}
	}

	execCfg := container.ExecOptions{
		Cmd:          command,
		WorkingDir:   "/workspace",
		AttachStdout: true,
		AttachStderr: true,
	}

	execResp, err := m.client.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := m.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader); err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}

	inspectResp, err := m.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &ExecResult{
		ExitCode: inspectResp.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// ListSandboxes returns the agent ids of all warren-managed sandboxes.
func (m *Manager) ListSandboxes(ctx context.Context) ([]string, error) {
	if !m.available {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	containers, err := m.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManagedBy+"=warren"),
		),
	})
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, c := range containers {
		if agent, ok := c.Labels[LabelAgent]; ok {
			ids = append(ids, agent)
		}
	}
	return ids, nil
}

// getContainer finds a container by name.
func (m *Manager) getContainer(ctx context.Context, name string) (string, error) {
	containers, err := m.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("name", name),
		),
	})
	if err != nil {
		return "", err
	}

	for _, c := range containers {
		for _, n := range c.Names {
			if n == "/"+name {
				return c.ID, nil
			}
		}
	}

	return "", fmt.Errorf("container not found: %s", name)
}

// ensureImage pulls an image if not present locally.
func (m *Manager) ensureImage(ctx context.Context, imageName string) error {
	_, _, err := m.client.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil // Image exists
	}

	reader, err := m.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	// Consume the reader to complete the pull
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close closes the Docker client.
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
