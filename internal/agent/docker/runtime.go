// Package docker maps service names onto Docker containers for the executor
// agent. A service is addressed by its container name.
package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"
)

const (
	// DefaultLabel marks the containers the agent manages when a command
	// names no services.
	DefaultLabel = "relay.managed"

	// stopTimeout is how long to wait for graceful container stop before SIGKILL.
	stopTimeout = 10 * time.Second
)

// ErrNoSuchService is returned when no container has the requested name.
var ErrNoSuchService = errors.New("docker: no such service")

// State mirrors docker container states.
type State string

const (
	StateRunning    State = "running"
	StateExited     State = "exited"
	StateCreated    State = "created"
	StatePaused     State = "paused"
	StateRestarting State = "restarting"
	StateRemoving   State = "removing"
	StateDead       State = "dead"
	StateUnknown    State = "unknown"
)

// Status is the live state of one service container.
type Status struct {
	Service   string
	State     State
	StartedAt time.Time
	ExitCode  int
}

// Runtime controls containers through the Docker Engine API.
type Runtime struct {
	client *dockerclient.Client
	label  string
}

// New creates a Runtime using DOCKER_HOST or the default socket. label
// selects the managed containers; empty means DefaultLabel.
func New(label string) (*Runtime, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if label == "" {
		label = DefaultLabel
	}
	return &Runtime{client: cli, label: label}, nil
}

// Ping checks that the daemon is reachable.
func (r *Runtime) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

// Close releases the client's connections.
func (r *Runtime) Close() error {
	return r.client.Close()
}

// Services lists the names of every container carrying the managed label,
// running or not.
func (r *Runtime) Services(ctx context.Context) ([]string, error) {
	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", r.label)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	names := make([]string, 0, len(containers))
	for _, c := range containers {
		if len(c.Names) > 0 {
			names = append(names, strings.TrimPrefix(c.Names[0], "/"))
		}
	}
	return names, nil
}

// Status inspects the named service.
func (r *Runtime) Status(ctx context.Context, service string) (Status, error) {
	inspect, err := r.client.ContainerInspect(ctx, service)
	if err != nil {
		return Status{}, wrap("inspect", service, err)
	}
	st := Status{Service: service, State: StateUnknown}
	if inspect.State != nil {
		st.State = parseState(inspect.State.Status)
		st.ExitCode = inspect.State.ExitCode
		st.StartedAt, _ = time.Parse(time.RFC3339Nano, inspect.State.StartedAt)
	}
	return st, nil
}

// Start starts a stopped service. Starting a running container is a no-op.
func (r *Runtime) Start(ctx context.Context, service string) error {
	if err := r.client.ContainerStart(ctx, service, container.StartOptions{}); err != nil {
		return wrap("start", service, err)
	}
	return nil
}

// Stop gracefully stops the service.
func (r *Runtime) Stop(ctx context.Context, service string) error {
	timeout := int(stopTimeout.Seconds())
	if err := r.client.ContainerStop(ctx, service, container.StopOptions{Timeout: &timeout}); err != nil {
		return wrap("stop", service, err)
	}
	return nil
}

// Restart stops and starts the service.
func (r *Runtime) Restart(ctx context.Context, service string) error {
	timeout := int(stopTimeout.Seconds())
	if err := r.client.ContainerRestart(ctx, service, container.StopOptions{Timeout: &timeout}); err != nil {
		return wrap("restart", service, err)
	}
	return nil
}

func wrap(op, service string, err error) error {
	if dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, service, ErrNoSuchService)
	}
	return fmt.Errorf("%s %s: %w", op, service, err)
}

func parseState(s string) State {
	switch st := State(strings.ToLower(s)); st {
	case StateRunning, StateExited, StateCreated, StatePaused,
		StateRestarting, StateRemoving, StateDead:
		return st
	default:
		return StateUnknown
	}
}
