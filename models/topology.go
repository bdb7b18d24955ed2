package models

import (
	"encoding/json"
	"fmt"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Topology is the declarative description of a lab network: an ordered set
// of nodes and the isolated networks they attach to. It is immutable input;
// the orchestrator never mutates a topology after validation.
type Topology struct {
	Nodes    []NodeDefinition    `json:"nodes" yaml:"nodes" validate:"required,min=1,dive"`
	Networks []NetworkDefinition `json:"networks" yaml:"networks" validate:"required,min=1,dive"`
}

// NodeDefinition describes one container to materialize.
type NodeDefinition struct {
	ID        string          `json:"id" yaml:"id" validate:"required"`
	Hostname  string          `json:"hostname" yaml:"hostname" validate:"required,hostname_rfc1123"`
	Image     string          `json:"image" yaml:"image" validate:"required"`
	IP        string          `json:"ip,omitempty" yaml:"ip,omitempty" validate:"omitempty,ip"`
	Networks  []string        `json:"networks" yaml:"networks" validate:"required,min=1"`
	Resources *ResourceLimits `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// NetworkDefinition describes one virtual network. Isolated must be true;
// the safety validator rejects anything else.
type NetworkDefinition struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Subnet   string `json:"subnet_cidr" yaml:"subnet_cidr" validate:"required,cidr"`
	Isolated bool   `json:"isolated" yaml:"isolated"`
}

// Constraints carries the air-gap flags and optional resource defaults for
// a scenario activation. Both flags must be false.
type Constraints struct {
	AllowExternalNetwork bool            `json:"allow_external_network" yaml:"allow_external_network"`
	AllowRealRF          bool            `json:"allow_real_rf" yaml:"allow_real_rf"`
	Resources            *ResourceLimits `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// ByteSize is a byte count that documents may spell as a bare number or as
// a size string with a unit suffix ("512m", "2g").
type ByteSize int64

// UnmarshalJSON accepts either an integer byte count or a suffixed size
// string.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := units.RAMInBytes(s)
		if err != nil {
			return fmt.Errorf("invalid memory limit %q: %w", s, err)
		}
		*b = ByteSize(n)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// UnmarshalYAML accepts the same shapes as UnmarshalJSON.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := units.RAMInBytes(s)
	if err != nil {
		return fmt.Errorf("invalid memory limit %q: %w", s, err)
	}
	*b = ByteSize(parsed)
	return nil
}

// ResourceLimits is applied at container creation and not mutated afterwards.
// CPUPeriod and CPUQuota are in microseconds.
type ResourceLimits struct {
	MemoryBytes ByteSize `json:"memory_limit,omitempty" yaml:"memory_limit,omitempty"`
	CPUPeriod   int64    `json:"cpu_period,omitempty" yaml:"cpu_period,omitempty"`
	CPUQuota    int64    `json:"cpu_quota,omitempty" yaml:"cpu_quota,omitempty"`
}

// Built-in resource defaults: half of one core and 512 MiB.
const (
	DefaultMemoryBytes = 512 * 1024 * 1024
	DefaultCPUPeriod   = 100000
	DefaultCPUQuota    = 50000
)

// DefaultResourceLimits returns the built-in per-container limits.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryBytes: DefaultMemoryBytes,
		CPUPeriod:   DefaultCPUPeriod,
		CPUQuota:    DefaultCPUQuota,
	}
}

// Resolve returns the effective limits for a node: per-node override first,
// then the scenario defaults, then the built-in defaults, field by field.
func (r ResourceLimits) Resolve(fallback ResourceLimits) ResourceLimits {
	out := r
	if out.MemoryBytes == 0 {
		out.MemoryBytes = fallback.MemoryBytes
	}
	if out.CPUPeriod == 0 {
		out.CPUPeriod = fallback.CPUPeriod
	}
	if out.CPUQuota == 0 {
		out.CPUQuota = fallback.CPUQuota
	}
	return out
}

// CheckCPU rejects a quota the host cannot honor: the quota must not exceed
// the period times the cpu count.
func (r ResourceLimits) CheckCPU(cpus int) error {
	if r.CPUPeriod > 0 && r.CPUQuota > r.CPUPeriod*int64(cpus) {
		return fmt.Errorf("%w: cpu quota %d exceeds %d cpus over period %d",
			ErrTopologyMalformed, r.CPUQuota, cpus, r.CPUPeriod)
	}
	return nil
}

// ActivationRequest is what a collaborator submits to bring a scenario up.
type ActivationRequest struct {
	ScenarioID   string      `json:"scenario_id" yaml:"scenario_id" validate:"required"`
	ScenarioName string      `json:"scenario_name" yaml:"scenario_name"`
	Topology     Topology    `json:"topology" yaml:"topology" validate:"required"`
	Constraints  Constraints `json:"constraints" yaml:"constraints"`
	ActivatedBy  string      `json:"activated_by" yaml:"activated_by"`
}
