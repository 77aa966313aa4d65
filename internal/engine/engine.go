package engine

import (
	"context"
	"errors"
	"time"

	"github.com/jsverre/stevedore/internal/model"
)

// ErrUnavailable marks a transient failure: the engine could not be reached
// before the timeout. Callers may retry.
var ErrUnavailable = errors.New("engine unavailable")

// ErrRejected marks a permanent failure: the engine was reachable but refused
// the operation (name collision, unknown image, no such container). Not
// retryable.
var ErrRejected = errors.New("engine rejected")

// ErrNotFound marks a lookup for a container the engine does not know.
var ErrNotFound = errors.New("container not found")

// PortMapping binds a host port to a container port.
type PortMapping struct {
	Host      int `json:"host"`
	Container int `json:"container"`
}

// CreateSpec holds the options for creating a container.
type CreateSpec struct {
	Name   string
	Image  string
	Env    map[string]string
	Ports  []PortMapping
	Labels map[string]string
}

// Engine is the adapter boundary around the container engine. All calls are
// synchronous with a configured timeout; failures are classified as
// ErrUnavailable or ErrRejected.
type Engine interface {
	Create(ctx context.Context, spec CreateSpec) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Remove(ctx context.Context, id string, force bool) error
	List(ctx context.Context) ([]model.EngineContainerInfo, error)
	Stats(ctx context.Context, id string) (model.ResourceSample, error)
	Logs(ctx context.Context, id string, tail int) ([]string, error)
}

// NormalizeState maps an engine-reported state string onto the registry's
// state set. Anything that is not running or freshly created counts as
// stopped; eviction of removed containers is handled by reconciliation.
func NormalizeState(engineState string) string {
	switch engineState {
	case "running", "restarting":
		return model.StateRunning
	case "created":
		return model.StateCreated
	default:
		return model.StateStopped
	}
}
