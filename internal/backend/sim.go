package backend

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cewlabs/cew/models"
)

// simContainer is the in-memory record of a simulated container.
type simContainer struct {
	spec      ContainerSpec
	running   bool
	startedAt time.Time
	networks  []string
}

// Simulation is the backend variant used when no daemon is available. It
// performs no external I/O, returns synthetic handles, and reports every
// running container healthy.
type Simulation struct {
	mu         sync.Mutex
	networks   map[string]NetworkSpec
	netNames   map[string]string
	containers map[string]*simContainer
	ctrNames   map[string]string
	images     map[string]bool
}

// NewSimulation creates an empty simulation backend.
func NewSimulation() *Simulation {
	return &Simulation{
		networks:   make(map[string]NetworkSpec),
		netNames:   make(map[string]string),
		containers: make(map[string]*simContainer),
		ctrNames:   make(map[string]string),
		images:     make(map[string]bool),
	}
}

// Mode reports ModeSimulation.
func (s *Simulation) Mode() string { return ModeSimulation }

// Ping always succeeds.
func (s *Simulation) Ping(ctx context.Context) error { return nil }

// EnsureImage records the image as present. Idempotent.
func (s *Simulation) EnsureImage(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[ref] = true
	return nil
}

// CreateNetwork returns a synthetic handle, rejecting duplicate names.
func (s *Simulation) CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.netNames[spec.Name]; taken {
		return "", fmt.Errorf("create network %s: %w", spec.Name, ErrResourceConflict)
	}

	id := "sim-net-" + uuid.New().String()[:8]
	s.networks[id] = spec
	s.netNames[spec.Name] = id
	return id, nil
}

// RemoveNetwork removes a network; unknown handles are success.
func (s *Simulation) RemoveNetwork(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if spec, ok := s.networks[id]; ok {
		delete(s.netNames, spec.Name)
		delete(s.networks, id)
	}
	return nil
}

// CreateContainer returns a synthetic handle, rejecting duplicate names.
func (s *Simulation) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.ctrNames[spec.Name]; taken {
		return "", fmt.Errorf("create container %s: %w", spec.Name, ErrResourceConflict)
	}

	id := "sim-ctr-" + uuid.New().String()[:8]
	s.containers[id] = &simContainer{spec: spec}
	s.ctrNames[spec.Name] = id
	return id, nil
}

// ConnectNetwork records the attachment; both handles must exist.
func (s *Simulation) ConnectNetwork(ctx context.Context, containerID, networkID, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctr, ok := s.containers[containerID]
	if !ok {
		return fmt.Errorf("connect network: container %s: %w", containerID, ErrNotFound)
	}
	if _, ok := s.networks[networkID]; !ok {
		return fmt.Errorf("connect network: network %s: %w", networkID, ErrNotFound)
	}

	ctr.networks = append(ctr.networks, networkID)
	return nil
}

// StartContainer marks the container running.
func (s *Simulation) StartContainer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctr, ok := s.containers[id]
	if !ok {
		return fmt.Errorf("start container %s: %w", id, ErrNotFound)
	}
	ctr.running = true
	ctr.startedAt = time.Now()
	return nil
}

// StopContainer removes the container; unknown handles are success.
func (s *Simulation) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctr, ok := s.containers[id]; ok {
		delete(s.ctrNames, ctr.spec.Name)
		delete(s.containers, id)
	}
	return nil
}

// RestartContainer re-marks the container running.
func (s *Simulation) RestartContainer(ctx context.Context, id string, timeout time.Duration) error {
	return s.StartContainer(ctx, id)
}

// Inspect reports the simulated state.
func (s *Simulation) Inspect(ctx context.Context, id string) (*InspectResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctr, ok := s.containers[id]
	if !ok {
		return nil, fmt.Errorf("inspect container %s: %w", id, ErrNotFound)
	}

	out := &InspectResult{Running: ctr.running}
	if ctr.running {
		out.StartedAt = ctr.startedAt.UTC().Format(time.RFC3339Nano)
	}
	return out, nil
}

// Stats synthesizes stable usage values derived from the handle so repeated
// reads for the same container agree.
func (s *Simulation) Stats(ctx context.Context, id string) (*StatsResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctr, ok := s.containers[id]
	if !ok {
		return nil, fmt.Errorf("container stats %s: %w", id, ErrNotFound)
	}

	limit := int64(ctr.spec.Limits.MemoryBytes)
	if limit == 0 {
		limit = models.DefaultMemoryBytes
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	seed := h.Sum32()

	return &StatsResult{
		CPUPercent:       float64(1 + seed%5),
		MemoryUsageBytes: int64(16+seed%48) * 1024 * 1024,
		MemoryLimitBytes: limit,
	}, nil
}

// SweepOrphans is a no-op: simulated resources die with the process.
func (s *Simulation) SweepOrphans(ctx context.Context) (int, error) {
	return 0, nil
}

// Close is a no-op.
func (s *Simulation) Close() error { return nil }
