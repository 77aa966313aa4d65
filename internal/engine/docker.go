package engine

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

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"

	"github.com/jsverre/stevedore/internal/model"
)

// Labels stamped onto containers at create time so reconciliation can adopt
// them with their declared role and publication intact.
const (
	LabelRole   = "stevedore.role"
	LabelOwner  = "stevedore.owner"
	LabelDomain = "stevedore.domain"
	LabelPort   = "stevedore.port"
)

// dockerAPI is the slice of the Docker client the adapter uses.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (container.StatsResponseReader, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	Close() error
}

// DockerEngine implements Engine against the Docker API.
type DockerEngine struct {
	api     dockerAPI
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDockerEngine connects to the Docker daemon at host.
func NewDockerEngine(logger zerolog.Logger, host string, timeout time.Duration) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return &DockerEngine{
		api:     cli,
		timeout: timeout,
		logger:  logger.With().Str("component", "engine").Logger(),
	}, nil
}

// Close releases the underlying client connection.
func (e *DockerEngine) Close() error {
	return e.api.Close()
}

// classify wraps an engine error as ErrUnavailable, ErrNotFound, or
// ErrRejected so callers can decide whether to retry. A caller cancellation
// is passed through untyped: it is neither a daemon outage nor a refusal.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case client.IsErrConnectionFailed(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	case client.IsErrNotFound(err):
		return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrRejected, err)
	}
}

func (e *DockerEngine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// Create creates a container and verifies it with an inspect. If the
// verification fails the container is removed again so a failed create never
// leaves anything behind.
func (e *DockerEngine) Create(ctx context.Context, spec CreateSpec) (string, error) {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	for _, pm := range spec.Ports {
		cp := nat.Port(strconv.Itoa(pm.Container) + "/tcp")
		exposedPorts[cp] = struct{}{}
		portBindings[cp] = []nat.PortBinding{
			{HostPort: strconv.Itoa(pm.Host)},
		}
	}

	config := &container.Config{
		Image:        spec.Image,
		Env:          env,
		ExposedPorts: exposedPorts,
		Labels:       spec.Labels,
	}
	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
	}

	resp, err := e.api.ContainerCreate(callCtx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		// Not-found on create means the image does not exist: a refusal of
		// the request, not a missing container.
		if client.IsErrNotFound(err) {
			return "", fmt.Errorf("create container %s: %w: %v", spec.Name, ErrRejected, err)
		}
		return "", classify("create container "+spec.Name, err)
	}

	// Verify the container is usable; compensate if not.
	if _, err := e.api.ContainerInspect(callCtx, resp.ID); err != nil {
		e.logger.Warn().Str("container_id", resp.ID).Err(err).Msg("post-create inspect failed, removing container")
		rmCtx, rmCancel := context.WithTimeout(context.Background(), e.timeout)
		defer rmCancel()
		if rmErr := e.api.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			e.logger.Error().Str("container_id", resp.ID).Err(rmErr).Msg("compensating remove failed")
		}
		return "", classify("verify container "+spec.Name, err)
	}

	return resp.ID, nil
}

func (e *DockerEngine) Start(ctx context.Context, id string) error {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	if err := e.api.ContainerStart(callCtx, id, container.StartOptions{}); err != nil {
		return classify("start container "+id, err)
	}
	return nil
}

func (e *DockerEngine) Stop(ctx context.Context, id string, timeout time.Duration) error {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	opts := container.StopOptions{}
	if timeout > 0 {
		secs := int(timeout.Seconds())
		opts.Timeout = &secs
	}
	if err := e.api.ContainerStop(callCtx, id, opts); err != nil {
		return classify("stop container "+id, err)
	}
	return nil
}

func (e *DockerEngine) Remove(ctx context.Context, id string, force bool) error {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	if err := e.api.ContainerRemove(callCtx, id, container.RemoveOptions{Force: force}); err != nil {
		return classify("remove container "+id, err)
	}
	return nil
}

// List returns a snapshot of every container the engine knows, including
// stopped ones.
func (e *DockerEngine) List(ctx context.Context) ([]model.EngineContainerInfo, error) {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	summaries, err := e.api.ContainerList(callCtx, container.ListOptions{All: true})
	if err != nil {
		return nil, classify("list containers", err)
	}

	infos := make([]model.EngineContainerInfo, 0, len(summaries))
	for _, s := range summaries {
		info := model.EngineContainerInfo{
			ID:      s.ID,
			Image:   s.Image,
			State:   s.State,
			Labels:  s.Labels,
			Created: time.Unix(s.Created, 0),
		}
		if len(s.Names) > 0 {
			info.Name = strings.TrimPrefix(s.Names[0], "/")
		}
		for _, p := range s.Ports {
			if p.PublicPort != 0 {
				if info.Ports == nil {
					info.Ports = make(map[int]int)
				}
				info.Ports[int(p.PrivatePort)] = int(p.PublicPort)
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Stats takes a single stats reading and converts it into a ResourceSample.
// CPU percentage is the usage delta over the system delta, scaled by the
// number of online CPUs (0-100*N for N cores).
func (e *DockerEngine) Stats(ctx context.Context, id string) (model.ResourceSample, error) {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	resp, err := e.api.ContainerStats(callCtx, id, false)
	if err != nil {
		return model.ResourceSample{}, classify("stats container "+id, err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return model.ResourceSample{}, fmt.Errorf("decode stats for %s: %w", id, err)
	}

	return sampleFromStats(id, &stats), nil
}

func sampleFromStats(id string, stats *container.StatsResponse) model.ResourceSample {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)

	onlineCPUs := float64(stats.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}

	cpuPercent := 0.0
	if systemDelta > 0 && cpuDelta > 0 {
		cpuPercent = (cpuDelta / systemDelta) * onlineCPUs * 100.0
	}

	return model.ResourceSample{
		ContainerID: id,
		Timestamp:   time.Now(),
		CPUPercent:  cpuPercent,
		MemoryBytes: stats.MemoryStats.Usage,
		MemoryLimit: stats.MemoryStats.Limit,
	}
}

// Logs returns up to tail lines from the end of the container's output.
func (e *DockerEngine) Logs(ctx context.Context, id string, tail int) ([]string, error) {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	reader, err := e.api.ContainerLogs(callCtx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return nil, classify("logs container "+id, err)
	}
	defer reader.Close()

	// Container output is multiplexed; demux stdout and stderr together.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return nil, fmt.Errorf("read logs for %s: %w", id, err)
	}

	raw := strings.TrimRight(buf.String(), "\n")
	if raw == "" {
		return nil, nil
	}
	return strings.Split(raw, "\n"), nil
}
