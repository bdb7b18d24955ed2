package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/cewlabs/cew/internal/backend"
	"github.com/cewlabs/cew/models"
)

// Supervisor polls the backend for container state and resource usage per
// lab and normalizes the results. Backend errors never propagate to callers
// as failures of the whole query; they become per-container records.
type Supervisor struct {
	be       backend.Backend
	registry *Registry
	timeout  time.Duration
}

// NewSupervisor creates a supervisor over the given backend and registry.
func NewSupervisor(be backend.Backend, registry *Registry, timeout time.Duration) *Supervisor {
	return &Supervisor{be: be, registry: registry, timeout: timeout}
}

// ContainerHealth returns one record per container, keyed by hostname, and
// updates the lab's container records with what was observed.
func (s *Supervisor) ContainerHealth(ctx context.Context, labID string) (map[string]models.HealthRecord, error) {
	containers, err := s.registry.Containers(labID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.HealthRecord, len(containers))
	for _, ci := range containers {
		ictx, cancel := context.WithTimeout(ctx, s.timeout)
		state, err := s.be.Inspect(ictx, ci.ID)
		cancel()

		var rec models.HealthRecord
		switch {
		case backend.IsNotFound(err):
			rec = models.HealthRecord{Status: "not_found", Health: models.HealthUnhealthy}
		case err != nil:
			rec = models.HealthRecord{Status: "error", Health: models.HealthUnknown, Error: err.Error()}
		default:
			rec = models.HealthRecord{
				Status:    containerStatus(state),
				Health:    containerHealth(state),
				Running:   state.Running,
				StartedAt: state.StartedAt,
				ExitCode:  state.ExitCode,
			}
		}

		s.registry.UpdateContainer(labID, ci.ID, rec.Status, rec.Health)
		out[ci.Hostname] = rec
	}

	return out, nil
}

// ResourceUsage returns one usage record per container, keyed by hostname.
// A failed stats read yields a zeroed record rather than an error.
func (s *Supervisor) ResourceUsage(ctx context.Context, labID string) (map[string]models.UsageRecord, error) {
	containers, err := s.registry.Containers(labID)
	if err != nil {
		return nil, err
	}

	mode := "docker"
	if s.be.Mode() == backend.ModeSimulation {
		mode = "simulated"
	}

	out := make(map[string]models.UsageRecord, len(containers))
	for _, ci := range containers {
		sctx, cancel := context.WithTimeout(ctx, s.timeout)
		stats, err := s.be.Stats(sctx, ci.ID)
		cancel()
		if err != nil {
			log.Printf("Supervisor: stats for %s unavailable: %v", ci.Hostname, err)
			out[ci.Hostname] = models.UsageRecord{MemoryLimitMB: 1, Mode: mode}
			continue
		}

		limitMB := float64(stats.MemoryLimitBytes) / 1024 / 1024
		if limitMB == 0 {
			// Avoid a zero denominator downstream.
			limitMB = 1
		}

		out[ci.Hostname] = models.UsageRecord{
			CPUPercent:    stats.CPUPercent,
			MemoryUsageMB: float64(stats.MemoryUsageBytes) / 1024 / 1024,
			MemoryLimitMB: limitMB,
			Mode:          mode,
		}
	}

	return out, nil
}

// Snapshot composes one health+usage reading of the lab.
func (s *Supervisor) Snapshot(ctx context.Context, labID string) (*models.Snapshot, error) {
	health, err := s.ContainerHealth(ctx, labID)
	if err != nil {
		return nil, err
	}
	usage, err := s.ResourceUsage(ctx, labID)
	if err != nil {
		return nil, err
	}
	return &models.Snapshot{
		Timestamp: time.Now(),
		LabID:     labID,
		Health:    health,
		Usage:     usage,
	}, nil
}

func containerStatus(state *backend.InspectResult) string {
	switch {
	case state.Running:
		return "running"
	case state.Paused:
		return "paused"
	case state.Dead:
		return "dead"
	default:
		return "exited"
	}
}

func containerHealth(state *backend.InspectResult) models.ContainerHealth {
	if state.Running {
		return models.HealthHealthy
	}
	return models.HealthUnhealthy
}
