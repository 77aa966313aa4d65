package model

import "time"

// ResourceSample is one point-in-time CPU/memory reading for a container.
// Samples are ephemeral; only a bounded rolling window is kept.
type ResourceSample struct {
	ContainerID string    `json:"container_id"`
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryBytes uint64    `json:"memory_bytes"`
	MemoryLimit uint64    `json:"memory_limit"`
}
