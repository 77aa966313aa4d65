package model

import (
	"time"
)

// Container states. Desired state is orchestrator intent; observed state is
// what the engine last reported. The two may differ transiently while a
// transition is in flight.
const (
	StateCreated = "created"
	StateRunning = "running"
	StateStopped = "stopped"
	StateRemoved = "removed"
)

// Container roles. Containers declared admin-managed may only be operated on
// by admin users.
const (
	RoleWeb          = "web"
	RoleWorker       = "worker"
	RoleAdminManaged = "admin-managed"
)

// ContainerRecord is the registry's view of one container.
type ContainerRecord struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Image         string       `json:"image"`
	Role          string       `json:"role"`
	DesiredState  string       `json:"desired_state"`
	ObservedState string       `json:"observed_state"`
	Published     *Publication `json:"published,omitempty"`
	OwnerID       string       `json:"owner_id"`
	LastError     string       `json:"last_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Publication is the port/domain mapping of a published container.
type Publication struct {
	Domain        string `json:"domain"`
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
}

// EngineContainerInfo is one entry of an engine list snapshot.
type EngineContainerInfo struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	State   string            `json:"state"`
	Labels  map[string]string `json:"labels,omitempty"`
	Ports   map[int]int       `json:"ports,omitempty"` // container port -> host port
	Created time.Time         `json:"created"`
}
