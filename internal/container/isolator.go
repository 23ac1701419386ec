// Package container isolates the demo terminal's Docker container from its networks.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

// Isolator cuts Terminal A off the network while an infection is handled.
type Isolator interface {
	// Isolate disconnects the terminal from every network it is attached to.
	Isolate(ctx context.Context) error
	// Restore reconnects whatever Isolate disconnected.
	Restore(ctx context.Context) error
}

// NoopIsolator is used when no terminal container is configured.
type NoopIsolator struct{}

// Isolate does nothing.
func (NoopIsolator) Isolate(context.Context) error { return nil }

// Restore does nothing.
func (NoopIsolator) Restore(context.Context) error { return nil }

// networkAPI is the subset of the Docker client used for isolation.
type networkAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error
	NetworkDisconnect(ctx context.Context, networkID, containerID string, force bool) error
}

// DockerIsolator disconnects a named container from its networks and remembers
// them so Restore can reconnect.
type DockerIsolator struct {
	api         networkAPI
	containerID string
	closeFn     func() error

	mu       sync.Mutex
	detached []string
}

// NewDockerIsolator connects to the Docker daemon from the environment.
func NewDockerIsolator(containerID string) (*DockerIsolator, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker client initialized", "terminal_container", containerID)
	return &DockerIsolator{api: cli, containerID: containerID, closeFn: cli.Close}, nil
}

func newDockerIsolatorWithAPI(api networkAPI, containerID string) *DockerIsolator {
	return &DockerIsolator{api: api, containerID: containerID}
}

// Isolate disconnects the container from all of its networks.
// A container that no longer exists is treated as already isolated.
func (d *DockerIsolator) Isolate(ctx context.Context) error {
	inspect, err := d.api.ContainerInspect(ctx, d.containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			slog.Warn("Terminal container not found, skipping isolation", "container_id", d.containerID)
			return nil
		}
		return fmt.Errorf("inspect container %s: %w", d.containerID, err)
	}

	var names []string
	if inspect.NetworkSettings != nil {
		for name := range inspect.NetworkSettings.Networks {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range names {
		if err := d.api.NetworkDisconnect(ctx, name, d.containerID, true); err != nil {
			if errdefs.IsNotFound(err) {
				slog.Debug("Network already gone", "network", name, "container_id", d.containerID)
				continue
			}
			return fmt.Errorf("disconnect %s from %s: %w", d.containerID, name, err)
		}
		d.detached = append(d.detached, name)
		slog.Info("Terminal disconnected from network", "network", name, "container_id", d.containerID)
	}
	return nil
}

// Restore reconnects every network removed by Isolate.
func (d *DockerIsolator) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var remaining []string
	var firstErr error
	for _, name := range d.detached {
		err := d.api.NetworkConnect(ctx, name, d.containerID, nil)
		if err == nil || errdefs.IsNotFound(err) {
			slog.Info("Terminal reconnected to network", "network", name, "container_id", d.containerID)
			continue
		}
		remaining = append(remaining, name)
		if firstErr == nil {
			firstErr = fmt.Errorf("connect %s to %s: %w", d.containerID, name, err)
		}
	}
	d.detached = remaining
	return firstErr
}

// Check confirms the daemon is reachable and the container exists.
func (d *DockerIsolator) Check(ctx context.Context) error {
	if _, err := d.api.ContainerInspect(ctx, d.containerID); err != nil {
		return fmt.Errorf("inspect container %s: %w", d.containerID, err)
	}
	return nil
}

// Detached returns the networks currently disconnected by the isolator.
func (d *DockerIsolator) Detached() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.detached...)
}

// Close releases the Docker client.
func (d *DockerIsolator) Close() error {
	if d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}
