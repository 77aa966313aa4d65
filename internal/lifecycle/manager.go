package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/jsverre/stevedore/internal/engine"
	"github.com/jsverre/stevedore/internal/identity"
	"github.com/jsverre/stevedore/internal/model"
	"github.com/jsverre/stevedore/internal/registry"
)

var transitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stevedore_transitions_total",
	Help: "Total lifecycle transitions by action and result",
}, []string{"action", "result"})

// auditRecorder receives one event per attempted transition.
type auditRecorder interface {
	Record(actor, action, containerID, result, reason string)
}

// reconcilePoker triggers an immediate reconciliation after a transition.
type reconcilePoker interface {
	Poke()
}

// CreateRequest describes a container to create.
type CreateRequest struct {
	Name      string
	Image     string
	Role      string
	Env       map[string]string
	Published *model.Publication
}

// Manager validates and executes container lifecycle transitions. At most one
// transition per container id is in flight at any time; a concurrent request
// for the same id fails with ErrConflict.
type Manager struct {
	logger   zerolog.Logger
	eng      engine.Engine
	registry *registry.Registry
	authz    *identity.Authorizer
	audit    auditRecorder
	poker    reconcilePoker

	maxAttempts int
	backoffBase time.Duration
	stopTimeout time.Duration

	inflight sync.Map
}

func NewManager(
	logger zerolog.Logger,
	eng engine.Engine,
	reg *registry.Registry,
	authz *identity.Authorizer,
	audit auditRecorder,
	poker reconcilePoker,
	maxAttempts int,
) *Manager {
	return &Manager{
		logger:      logger.With().Str("component", "lifecycle").Logger(),
		eng:         eng,
		registry:    reg,
		authz:       authz,
		audit:       audit,
		poker:       poker,
		maxAttempts: maxAttempts,
		backoffBase: 250 * time.Millisecond,
		stopTimeout: 10 * time.Second,
	}
}

// Create creates a container and registers it with desired state created.
// Either a usable container id is returned or nothing is left behind.
func (m *Manager) Create(ctx context.Context, user *model.User, req CreateRequest) (model.ContainerRecord, error) {
	if !m.authz.Allowed(user, identity.ActionCreate, req.Role) {
		m.deny(user, identity.ActionCreate, req.Name)
		return model.ContainerRecord{}, ErrForbidden
	}

	labels := map[string]string{
		engine.LabelRole:  req.Role,
		engine.LabelOwner: user.ID,
	}
	spec := engine.CreateSpec{
		Name:   req.Name,
		Image:  req.Image,
		Env:    req.Env,
		Labels: labels,
	}
	if req.Published != nil {
		labels[engine.LabelDomain] = req.Published.Domain
		labels[engine.LabelPort] = strconv.Itoa(req.Published.ContainerPort)
		spec.Ports = []engine.PortMapping{
			{Host: req.Published.HostPort, Container: req.Published.ContainerPort},
		}
	}

	var id string
	err := m.withRetry(ctx, func(ctx context.Context) error {
		var createErr error
		id, createErr = m.eng.Create(ctx, spec)
		return createErr
	})
	if err != nil {
		transitionTotal.WithLabelValues(identity.ActionCreate, "failure").Inc()
		m.audit.Record(user.Username, identity.ActionCreate, req.Name, model.AuditResultFailure, err.Error())
		return model.ContainerRecord{}, err
	}

	now := time.Now()
	rec := model.ContainerRecord{
		ID:            id,
		Name:          req.Name,
		Image:         req.Image,
		Role:          req.Role,
		DesiredState:  model.StateCreated,
		ObservedState: model.StateCreated,
		Published:     req.Published,
		OwnerID:       user.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.registry.Upsert(rec)
	m.poker.Poke()

	transitionTotal.WithLabelValues(identity.ActionCreate, "success").Inc()
	m.audit.Record(user.Username, identity.ActionCreate, id, model.AuditResultSuccess, "")
	m.logger.Info().Str("container_id", id).Str("name", req.Name).Msg("container created")
	return rec, nil
}

// Start moves a created or stopped container to running.
func (m *Manager) Start(ctx context.Context, user *model.User, id string) error {
	return m.transition(ctx, user, id, identity.ActionStart,
		[]string{model.StateCreated, model.StateStopped}, model.StateRunning,
		func(ctx context.Context) error { return m.eng.Start(ctx, id) },
	)
}

// Stop moves a running container to stopped.
func (m *Manager) Stop(ctx context.Context, user *model.User, id string) error {
	return m.transition(ctx, user, id, identity.ActionStop,
		[]string{model.StateRunning}, model.StateStopped,
		func(ctx context.Context) error { return m.eng.Stop(ctx, id, m.stopTimeout) },
	)
}

// Remove deletes a created or stopped container. Removing a running container
// is rejected; callers must stop first or opt into ForceRemove.
func (m *Manager) Remove(ctx context.Context, user *model.User, id string) error {
	return m.transition(ctx, user, id, identity.ActionRemove,
		[]string{model.StateCreated, model.StateStopped}, model.StateRemoved,
		func(ctx context.Context) error { return m.eng.Remove(ctx, id, false) },
	)
}

// ForceRemove is the explicit stop-then-remove sequence for a running
// container. Never an implicit force: both steps go through the normal
// transition path.
func (m *Manager) ForceRemove(ctx context.Context, user *model.User, id string) error {
	if rec, ok := m.registry.Get(id); ok && rec.ObservedState == model.StateRunning {
		if err := m.Stop(ctx, user, id); err != nil {
			return fmt.Errorf("stop before remove: %w", err)
		}
	}
	return m.Remove(ctx, user, id)
}

// transition runs the shared path: authorize, single-flight, validate,
// execute with retry, then update the registry and audit log.
func (m *Manager) transition(
	ctx context.Context,
	user *model.User,
	id, action string,
	validFrom []string,
	target string,
	op func(ctx context.Context) error,
) error {
	rec, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}

	if !m.authz.Allowed(user, action, rec.Role) {
		m.deny(user, action, id)
		return ErrForbidden
	}

	if _, loaded := m.inflight.LoadOrStore(id, struct{}{}); loaded {
		transitionTotal.WithLabelValues(action, "conflict").Inc()
		m.audit.Record(user.Username, action, id, model.AuditResultFailure, ErrConflict.Error())
		return ErrConflict
	}
	defer m.inflight.Delete(id)

	// Re-read under the in-flight guard; the earlier read may be stale.
	rec, ok = m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}

	if !stateIn(rec.ObservedState, validFrom) {
		reason := fmt.Sprintf("%s not allowed from state %s", action, rec.ObservedState)
		transitionTotal.WithLabelValues(action, "invalid").Inc()
		m.audit.Record(user.Username, action, id, model.AuditResultFailure, reason)
		return fmt.Errorf("%w: %s", ErrInvalidTransition, reason)
	}

	rec.DesiredState = target
	rec.LastError = ""
	m.registry.Upsert(rec)

	if err := m.withRetry(ctx, op); err != nil {
		rec.LastError = err.Error()
		m.registry.Upsert(rec)
		m.poker.Poke()

		transitionTotal.WithLabelValues(action, "failure").Inc()
		m.audit.Record(user.Username, action, id, model.AuditResultFailure, err.Error())
		m.logger.Error().Err(err).Str("container_id", id).Str("action", action).Msg("transition failed")
		return err
	}

	if target == model.StateRemoved {
		// The engine confirmed deletion; only now does the record leave the
		// registry.
		m.registry.Remove(id)
	} else {
		rec.ObservedState = target
		m.registry.Upsert(rec)
	}
	m.poker.Poke()

	transitionTotal.WithLabelValues(action, "success").Inc()
	m.audit.Record(user.Username, action, id, model.AuditResultSuccess, "")
	m.logger.Info().Str("container_id", id).Str("action", action).Msg("transition completed")
	return nil
}

// withRetry retries an engine call with capped exponential backoff while the
// engine is unavailable. Rejections fail immediately.
func (m *Manager) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(m.maxAttempts-1), retry.NewExponential(m.backoffBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			if errors.Is(err, engine.ErrUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

func (m *Manager) deny(user *model.User, action, containerID string) {
	actor := ""
	if user != nil {
		actor = user.Username
	}
	transitionTotal.WithLabelValues(action, "denied").Inc()
	m.audit.Record(actor, action, containerID, model.AuditResultDenied, "role not permitted")
}

func stateIn(state string, states []string) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
