// Package backend abstracts the container runtime behind a single contract
// with two interchangeable variants: a docker variant that drives the local
// daemon and a simulation variant that performs no external I/O.
//
// The variant is selected once at process startup by probing the daemon; no
// call site branches on which variant is active.
package backend

import (
	"context"
	"log"
	"time"

	"github.com/cewlabs/cew/internal/config"
	"github.com/cewlabs/cew/models"
)

// Backend mode values, observable in resource-usage records.
const (
	ModeDocker     = "docker"
	ModeSimulation = "simulation"
)

// NetworkSpec describes a network to create. Internal is always true for
// lab networks; the backend must refuse nothing else, callers enforce it.
type NetworkSpec struct {
	Name     string
	Subnet   string
	Internal bool
	Labels   map[string]string
}

// ContainerSpec describes a container to create. The backend applies the
// fixed security profile: all capabilities dropped, no-new-privileges,
// initial network mode none.
type ContainerSpec struct {
	Name     string
	Hostname string
	Image    string
	Limits   models.ResourceLimits
	Labels   map[string]string
}

// InspectResult is the normalized container state record.
type InspectResult struct {
	Running   bool
	Dead      bool
	Paused    bool
	StartedAt string
	ExitCode  int
}

// StatsResult is the normalized resource usage record. CPUPercent is
// computed from two consecutive samples; the backend retains the previous
// sample per handle.
type StatsResult struct {
	CPUPercent       float64
	MemoryUsageBytes int64
	MemoryLimitBytes int64
}

// Backend is the container runtime contract. All operations honor the
// passed context; NotFound from stop/remove operations is success.
type Backend interface {
	// Mode reports which variant is active (ModeDocker or ModeSimulation).
	Mode() string

	// Ping checks the runtime is reachable within a short bounded time.
	Ping(ctx context.Context) error

	// EnsureImage makes the image available locally, pulling if missing.
	// Idempotent.
	EnsureImage(ctx context.Context, ref string) error

	// CreateNetwork creates an internal network and returns its handle.
	CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error)

	// RemoveNetwork removes a network. NotFound is success.
	RemoveNetwork(ctx context.Context, id string) error

	// CreateContainer creates (but does not start) a container.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// ConnectNetwork attaches a created container to a network, binding the
	// given ip when non-empty.
	ConnectNetwork(ctx context.Context, containerID, networkID, ip string) error

	// StartContainer starts a created container.
	StartContainer(ctx context.Context, id string) error

	// StopContainer gracefully stops then removes a container. Idempotent;
	// NotFound is success.
	StopContainer(ctx context.Context, id string, timeout time.Duration) error

	// RestartContainer stops then starts a container in place.
	RestartContainer(ctx context.Context, id string, timeout time.Duration) error

	// Inspect returns the normalized state of a container.
	Inspect(ctx context.Context, id string) (*InspectResult, error)

	// Stats returns normalized resource usage for a container.
	Stats(ctx context.Context, id string) (*StatsResult, error)

	// SweepOrphans removes leftover resources labelled by a previous process
	// and returns how many were removed.
	SweepOrphans(ctx context.Context) (int, error)

	// Close releases the runtime connection.
	Close() error
}

// New selects the backend variant per configuration: "simulation" forces the
// simulation variant; "auto" probes the daemon and silently falls back to
// simulation when the probe fails.
func New(cfg config.BackendConfig) Backend {
	if cfg.Mode == config.BackendModeSimulation {
		log.Println("Container backend: simulation (forced by configuration)")
		return NewSimulation()
	}

	docker, err := NewDocker(cfg)
	if err != nil {
		log.Printf("Container backend: simulation (docker client unavailable: %v)", err)
		return NewSimulation()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()

	if err := docker.Ping(ctx); err != nil {
		_ = docker.Close()
		log.Printf("Container backend: simulation (docker daemon unreachable: %v)", err)
		return NewSimulation()
	}

	log.Println("Container backend: docker")
	return docker
}
