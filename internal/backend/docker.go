package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	dockerclient "github.com/docker/docker/client"

	"github.com/cewlabs/cew/internal/config"
)

// LabelLabID marks every resource the orchestrator creates; the sweep uses
// it to find orphans from a dead process.
const LabelLabID = "cew.lab_id"

// cpuSample is the retained previous stats reading for one container.
type cpuSample struct {
	total  uint64
	system uint64
}

// Docker is the live backend variant driving a local daemon.
type Docker struct {
	cli *dockerclient.Client

	mu   sync.Mutex
	prev map[string]cpuSample
}

// NewDocker creates the docker variant. The daemon is not probed here; the
// factory pings it before committing to this variant.
func NewDocker(cfg config.BackendConfig) (*Docker, error) {
	opts := []dockerclient.Opt{
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	}
	if cfg.DockerHost != "" {
		opts = append(opts, dockerclient.WithHost(cfg.DockerHost))
	}

	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Docker{
		cli:  cli,
		prev: make(map[string]cpuSample),
	}, nil
}

// Mode reports ModeDocker.
func (d *Docker) Mode() string { return ModeDocker }

// Ping checks daemon reachability.
func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return classify("ping", err)
}

// EnsureImage pulls the image if it is not present locally.
func (d *Docker) EnsureImage(ctx context.Context, ref string) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w: %v", ref, ErrImageUnavailable, err)
	}
	defer reader.Close()

	// Consume pull output to ensure the pull completes
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull %s: %w: %v", ref, ErrImageUnavailable, err)
	}

	return nil
}

// CreateNetwork creates an internal bridge network with the declared subnet.
func (d *Docker) CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error) {
	resp, err := d.cli.NetworkCreate(ctx, spec.Name, network.CreateOptions{
		Driver:   "bridge",
		Internal: spec.Internal,
		Labels:   spec.Labels,
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: spec.Subnet}},
		},
	})
	if err != nil {
		return "", classify("create network "+spec.Name, err)
	}
	return resp.ID, nil
}

// RemoveNetwork removes a network; NotFound is success.
func (d *Docker) RemoveNetwork(ctx context.Context, id string) error {
	err := classify("remove network", d.cli.NetworkRemove(ctx, id))
	if err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// CreateContainer creates a container with the fixed security profile:
// all capabilities dropped, no-new-privileges, no network until connected.
func (d *Docker) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:    spec.Image,
		Hostname: spec.Hostname,
		Labels:   spec.Labels,
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		CapDrop:     strslice.StrSlice{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:    int64(spec.Limits.MemoryBytes),
			CPUPeriod: spec.Limits.CPUPeriod,
			CPUQuota:  spec.Limits.CPUQuota,
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", classify("create container "+spec.Name, err)
	}
	return resp.ID, nil
}

// ConnectNetwork attaches a container to a network, binding ip if given.
func (d *Docker) ConnectNetwork(ctx context.Context, containerID, networkID, ip string) error {
	var settings *network.EndpointSettings
	if ip != "" {
		settings = &network.EndpointSettings{
			IPAMConfig: &network.EndpointIPAMConfig{IPv4Address: ip},
		}
	}
	return classify("connect network", d.cli.NetworkConnect(ctx, networkID, containerID, settings))
}

// StartContainer starts a created container.
func (d *Docker) StartContainer(ctx context.Context, id string) error {
	return classify("start container", d.cli.ContainerStart(ctx, id, container.StartOptions{}))
}

// StopContainer gracefully stops then force-removes a container. NotFound at
// either step is success.
func (d *Docker) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	err := classify("stop container", d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}))
	if err != nil && !IsNotFound(err) {
		// Removal below is forced; a failed graceful stop is worth a log,
		// not an abort.
		log.Printf("Backend: graceful stop of %s failed: %v", id, err)
	}

	err = classify("remove container", d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}))
	if err != nil && !IsNotFound(err) {
		return err
	}

	d.mu.Lock()
	delete(d.prev, id)
	d.mu.Unlock()

	return nil
}

// RestartContainer stops then starts a container in place.
func (d *Docker) RestartContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return classify("restart container", d.cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: &secs}))
}

// Inspect returns the normalized container state.
func (d *Docker) Inspect(ctx context.Context, id string) (*InspectResult, error) {
	resp, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, classify("inspect container", err)
	}

	out := &InspectResult{}
	if resp.State != nil {
		out.Running = resp.State.Running
		out.Dead = resp.State.Dead
		out.Paused = resp.State.Paused
		out.StartedAt = resp.State.StartedAt
		out.ExitCode = resp.State.ExitCode
	}
	return out, nil
}

// Stats returns normalized usage computed against the previous sample
// retained for this handle. The first reading for a handle has no previous
// sample; it falls back to the daemon-provided precpu values, which are
// zeroed on a fresh stream and then yield 0% CPU.
func (d *Docker) Stats(ctx context.Context, id string) (*StatsResult, error) {
	resp, err := d.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return nil, classify("container stats", err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("container stats: %w: %v", ErrTransient, err)
	}

	cur := cpuSample{
		total:  stats.CPUStats.CPUUsage.TotalUsage,
		system: stats.CPUStats.SystemUsage,
	}

	d.mu.Lock()
	prev, ok := d.prev[id]
	d.prev[id] = cur
	d.mu.Unlock()

	if !ok {
		prev = cpuSample{
			total:  stats.PreCPUStats.CPUUsage.TotalUsage,
			system: stats.PreCPUStats.SystemUsage,
		}
	}

	out := &StatsResult{
		CPUPercent:       cpuPercent(prev, cur, stats.CPUStats.OnlineCPUs),
		MemoryUsageBytes: int64(stats.MemoryStats.Usage),
		MemoryLimitBytes: int64(stats.MemoryStats.Limit),
	}
	return out, nil
}

// cpuPercent applies the two-sample delta rule: negative deltas clamp to
// zero, a non-positive system delta yields zero, missing cpu counts count
// as one.
func cpuPercent(prev, cur cpuSample, onlineCPUs uint32) float64 {
	if cur.total <= prev.total || cur.system <= prev.system {
		return 0
	}
	cpuDelta := float64(cur.total - prev.total)
	sysDelta := float64(cur.system - prev.system)
	if sysDelta <= 0 {
		return 0
	}
	cpus := float64(onlineCPUs)
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / sysDelta * cpus * 100
}

// SweepOrphans force-removes any container or network labelled with a lab id
// left behind by a previous process.
func (d *Docker) SweepOrphans(ctx context.Context) (int, error) {
	labelled := filters.NewArgs(filters.Arg("label", LabelLabID))
	removed := 0

	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: labelled})
	if err != nil {
		return 0, classify("list orphan containers", err)
	}
	for _, c := range containers {
		if err := d.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			log.Printf("Backend: failed to remove orphan container %s: %v", c.ID, err)
			continue
		}
		removed++
	}

	networks, err := d.cli.NetworkList(ctx, network.ListOptions{Filters: labelled})
	if err != nil {
		return removed, classify("list orphan networks", err)
	}
	for _, n := range networks {
		if err := d.cli.NetworkRemove(ctx, n.ID); err != nil {
			log.Printf("Backend: failed to remove orphan network %s: %v", n.Name, err)
			continue
		}
		removed++
	}

	return removed, nil
}

// Close releases the daemon connection.
func (d *Docker) Close() error {
	return d.cli.Close()
}
