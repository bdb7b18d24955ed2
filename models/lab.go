package models

import (
	"time"

	"github.com/google/uuid"
)

// LabStatus is the lab state machine:
// pending -> starting -> running -> stopping -> stopped, any -> failed.
// stopped and failed are terminal.
type LabStatus string

const (
	LabPending  LabStatus = "pending"
	LabStarting LabStatus = "starting"
	LabRunning  LabStatus = "running"
	LabStopping LabStatus = "stopping"
	LabStopped  LabStatus = "stopped"
	LabFailed   LabStatus = "failed"
)

// Active reports whether the lab counts against the one-active-lab-per-scenario
// invariant.
func (s LabStatus) Active() bool {
	return s == LabStarting || s == LabRunning
}

// Terminal reports whether the lab can never leave this state.
func (s LabStatus) Terminal() bool {
	return s == LabStopped || s == LabFailed
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s LabStatus) CanTransition(next LabStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == LabFailed {
		return true
	}
	switch s {
	case LabPending:
		return next == LabStarting
	case LabStarting:
		return next == LabRunning || next == LabStopping
	case LabRunning:
		return next == LabStopping
	case LabStopping:
		return next == LabStopped
	}
	return false
}

// ContainerHealth is derived from backend observations, never set by input.
type ContainerHealth string

const (
	HealthHealthy   ContainerHealth = "healthy"
	HealthUnhealthy ContainerHealth = "unhealthy"
	HealthStarting  ContainerHealth = "starting"
	HealthUnknown   ContainerHealth = "unknown"
)

// NetworkInfo records one network the lab owns in the backend.
type NetworkInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Subnet   string `json:"subnet"`
	Isolated bool   `json:"isolated"`
}

// ContainerInfo records one container the lab owns. Networks holds backend
// network handles only; the containing Lab owns the networks themselves.
type ContainerInfo struct {
	ID       string          `json:"id"`
	NodeID   string          `json:"node_id"`
	Hostname string          `json:"hostname"`
	Image    string          `json:"image"`
	IP       string          `json:"ip,omitempty"`
	Status   string          `json:"status"`
	Health   ContainerHealth `json:"health"`
	Networks []string        `json:"networks"`
	Limits   ResourceLimits  `json:"limits"`
}

// Lab is a running materialization of one scenario. It exclusively owns the
// backend resources whose handles it holds.
type Lab struct {
	ID           string          `json:"id"`
	ScenarioID   string          `json:"scenario_id"`
	ScenarioName string          `json:"scenario_name"`
	ActivatedBy  string          `json:"activated_by"`
	Status       LabStatus       `json:"status"`
	StartedAt    time.Time       `json:"started_at,omitzero"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Networks     []NetworkInfo   `json:"networks"`
	Containers   []ContainerInfo `json:"containers"`
	DockerMode   bool            `json:"docker_mode"`
}

// NewLabID returns a fresh opaque lab identifier.
func NewLabID() string {
	return uuid.New().String()
}

// ShortID returns the 8-character prefix used in backend resource names.
func (l *Lab) ShortID() string {
	if len(l.ID) < 8 {
		return l.ID
	}
	return l.ID[:8]
}

// Clone returns a deep copy safe to hand to observers.
func (l *Lab) Clone() *Lab {
	out := *l
	out.Networks = make([]NetworkInfo, len(l.Networks))
	copy(out.Networks, l.Networks)
	out.Containers = make([]ContainerInfo, len(l.Containers))
	for i, c := range l.Containers {
		cc := c
		cc.Networks = make([]string, len(c.Networks))
		copy(cc.Networks, c.Networks)
		out.Containers[i] = cc
	}
	return &out
}

// AuditEvent is delivered synchronously to registered hooks on every lab
// state transition.
type AuditEvent struct {
	LabID     string    `json:"lab_id"`
	From      LabStatus `json:"from_state"`
	To        LabStatus `json:"to_state"`
	Activator string    `json:"activator"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}
