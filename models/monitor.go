package models

import "time"

// HealthRecord is the normalized per-container health result.
type HealthRecord struct {
	Status    string          `json:"status"`
	Health    ContainerHealth `json:"health"`
	Running   bool            `json:"running"`
	StartedAt string          `json:"started_at,omitempty"`
	ExitCode  int             `json:"exit_code,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// UsageRecord is the normalized per-container resource usage result.
type UsageRecord struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsageMB float64 `json:"memory_usage_mb"`
	MemoryLimitMB float64 `json:"memory_limit_mb"`
	Mode          string  `json:"mode"`
}

// Snapshot is one {health, usage} reading of a lab at one instant, keyed by
// hostname, as published to monitoring subscribers.
type Snapshot struct {
	Timestamp time.Time               `json:"timestamp"`
	LabID     string                  `json:"lab_id"`
	Health    map[string]HealthRecord `json:"health"`
	Usage     map[string]UsageRecord  `json:"usage"`
}
