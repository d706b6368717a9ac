package dockerd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// ErrNotFound reports an operation addressing a workload name the backend
// does not know.
var ErrNotFound = errors.New("workload not found")

// Workload is one container as the gateway reports it.
type Workload struct {
	Name          string    `json:"name"`
	Status        string    `json:"status"` // running, exited, created, ...
	Created       time.Time `json:"created"`
	PublishedPort int       `json:"published_port"` // host port bound to the VNC port, 0 when unpublished
}

// RawCounters is one stats sample. CPU counters are cumulative; the Pre*
// values are the same counters one collection interval earlier.
type RawCounters struct {
	CPUTotal     uint64
	PreCPUTotal  uint64
	SystemCPU    uint64
	PreSystemCPU uint64
	MemUsage     uint64
	MemLimit     uint64
}

// StartSpec describes one workload to create and start.
type StartSpec struct {
	Name    string
	Image   string
	Command []string
	Env     map[string]string
	Binds   []string
	// PortBindings maps container port -> host port.
	PortBindings map[int]int
}

// API is the command/query surface the control plane needs from the container
// backend. The docker-backed Client implements it; tests substitute fakes.
type API interface {
	List(ctx context.Context, all bool) ([]Workload, error)
	Start(ctx context.Context, spec StartSpec) (Workload, error)
	Stop(ctx context.Context, name string, timeout time.Duration) error
	Remove(ctx context.Context, name string, force bool) error
	Stats(ctx context.Context, name string) (RawCounters, error)
	Logs(ctx context.Context, name string, tail int) (string, error)
}

// Client wraps the docker engine API.
type Client struct {
	api     *client.Client
	vncPort int
	timeout time.Duration
	logger  *slog.Logger
}

func New(vncPort int, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("unable to create docker client: %w", err)
	}
	return &Client{api: api, vncPort: vncPort, timeout: timeout, logger: logger}, nil
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.api.Close()
}

// Ping verifies the docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.api.Ping(ctx)
	return err
}

func (c *Client) List(ctx context.Context, all bool) ([]Workload, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	containers, err := c.api.ContainerList(ctx, types.ContainerListOptions{All: all})
	if err != nil {
		c.logger.Error("unable to list containers", "err", err)
		return nil, fmt.Errorf("unable to list containers: %w", err)
	}

	out := make([]Workload, 0, len(containers))
	for _, ct := range containers {
		w := Workload{
			Status:  ct.State,
			Created: time.Unix(ct.Created, 0),
		}
		if len(ct.Names) > 0 {
			w.Name = strings.TrimPrefix(ct.Names[0], "/")
		}
		for _, p := range ct.Ports {
			if int(p.PrivatePort) == c.vncPort && p.PublicPort != 0 {
				w.PublishedPort = int(p.PublicPort)
				break
			}
		}
		out = append(out, w)
	}
	return out, nil
}

func (c *Client) Start(ctx context.Context, spec StartSpec) (Workload, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for cport, hport := range spec.PortBindings {
		p, err := nat.NewPort("tcp", strconv.Itoa(cport))
		if err != nil {
			return Workload{}, fmt.Errorf("invalid container port %d: %w", cport, err)
		}
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{HostPort: strconv.Itoa(hport)}}
	}

	created, err := c.api.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.Image,
			Cmd:          spec.Command,
			Env:          env,
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			Binds:        spec.Binds,
			PortBindings: bindings,
		},
		nil, nil, spec.Name)
	if err != nil {
		c.logger.Error("unable to create container", "name", spec.Name, "err", err)
		return Workload{}, fmt.Errorf("unable to create container %s: %w", spec.Name, err)
	}
	if err := c.api.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		c.logger.Error("unable to start container", "name", spec.Name, "err", err)
		return Workload{}, fmt.Errorf("unable to start container %s: %w", spec.Name, err)
	}

	w := Workload{Name: spec.Name, Status: "running", Created: time.Now()}
	for cport, hport := range spec.PortBindings {
		if cport == c.vncPort {
			w.PublishedPort = hport
		}
	}
	return w, nil
}

func (c *Client) Stop(ctx context.Context, name string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout+timeout)
	defer cancel()

	secs := int(timeout.Seconds())
	err := c.api.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs})
	if errdefs.IsNotFound(err) {
		return ErrNotFound
	}
	if err != nil {
		c.logger.Error("unable to stop container", "name", name, "err", err)
		return fmt.Errorf("unable to stop container %s: %w", name, err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, name string, force bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.api.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: force})
	if errdefs.IsNotFound(err) {
		return ErrNotFound
	}
	if err != nil {
		c.logger.Error("unable to remove container", "name", name, "err", err)
		return fmt.Errorf("unable to remove container %s: %w", name, err)
	}
	return nil
}

func (c *Client) Stats(ctx context.Context, name string) (RawCounters, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// stream=false still primes two sample cycles, so precpu_stats carries the
	// previous interval; one-shot would leave it zeroed and break the delta.
	resp, err := c.api.ContainerStats(ctx, name, false)
	if errdefs.IsNotFound(err) {
		return RawCounters{}, ErrNotFound
	}
	if err != nil {
		return RawCounters{}, fmt.Errorf("unable to read stats for %s: %w", name, err)
	}
	defer resp.Body.Close()

	var s types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return RawCounters{}, fmt.Errorf("unable to decode stats for %s: %w", name, err)
	}
	return RawCounters{
		CPUTotal:     s.CPUStats.CPUUsage.TotalUsage,
		PreCPUTotal:  s.PreCPUStats.CPUUsage.TotalUsage,
		SystemCPU:    s.CPUStats.SystemUsage,
		PreSystemCPU: s.PreCPUStats.SystemUsage,
		MemUsage:     s.MemoryStats.Usage,
		MemLimit:     s.MemoryStats.Limit,
	}, nil
}

func (c *Client) Logs(ctx context.Context, name string, tail int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rc, err := c.api.ContainerLogs(ctx, name, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if errdefs.IsNotFound(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("unable to read logs for %s: %w", name, err)
	}
	defer rc.Close()

	// Engine log streams are multiplexed when the container has no TTY.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("unable to demux logs for %s: %w", name, err)
	}
	return buf.String(), nil
}
