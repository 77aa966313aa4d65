package handler

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	mw "github.com/jsverre/stevedore/internal/api/middleware"
	"github.com/jsverre/stevedore/internal/api/request"
	"github.com/jsverre/stevedore/internal/api/response"
	"github.com/jsverre/stevedore/internal/engine"
	"github.com/jsverre/stevedore/internal/identity"
	"github.com/jsverre/stevedore/internal/lifecycle"
	"github.com/jsverre/stevedore/internal/model"
	"github.com/jsverre/stevedore/internal/registry"
)

const defaultLogTail = 100

// LifecycleService is the transition surface the container handler needs.
type LifecycleService interface {
	Create(ctx context.Context, user *model.User, req lifecycle.CreateRequest) (model.ContainerRecord, error)
	Start(ctx context.Context, user *model.User, id string) error
	Stop(ctx context.Context, user *model.User, id string) error
	Remove(ctx context.Context, user *model.User, id string) error
	ForceRemove(ctx context.Context, user *model.User, id string) error
}

// SampleSource exposes the supervisor's rolling sample windows.
type SampleSource interface {
	Window(id string) []model.ResourceSample
	Latest(id string) (model.ResourceSample, bool)
}

type Container struct {
	lifecycle LifecycleService
	registry  *registry.Registry
	samples   SampleSource
	eng       engine.Engine
	authz     *identity.Authorizer
}

func NewContainer(lc LifecycleService, reg *registry.Registry, samples SampleSource, eng engine.Engine, authz *identity.Authorizer) *Container {
	return &Container{lifecycle: lc, registry: reg, samples: samples, eng: eng, authz: authz}
}

// List returns all containers the caller may view, sorted by name. Role and
// owner query params narrow the result.
func (h *Container) List(w http.ResponseWriter, r *http.Request) {
	user := mw.GetUser(r.Context())

	filter := registry.Filter{
		Role:    r.URL.Query().Get("role"),
		OwnerID: r.URL.Query().Get("owner"),
	}

	records := h.registry.List(filter)
	visible := make([]model.ContainerRecord, 0, len(records))
	for _, rec := range records {
		if h.authz.Allowed(user, identity.ActionView, rec.Role) {
			visible = append(visible, rec)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].Name < visible[j].Name })

	response.WriteJSON(w, http.StatusOK, visible)
}

// Get returns one container.
func (h *Container) Get(w http.ResponseWriter, r *http.Request) {
	user := mw.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	rec, ok := h.registry.Get(id)
	if !ok {
		response.WriteError(w, http.StatusNotFound, "container not found")
		return
	}
	if !h.authz.Allowed(user, identity.ActionView, rec.Role) {
		response.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}
	response.WriteJSON(w, http.StatusOK, rec)
}

// Create creates a new container.
func (h *Container) Create(w http.ResponseWriter, r *http.Request) {
	user := mw.GetUser(r.Context())

	var req request.CreateContainer
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, exists := h.registry.GetByName(req.Name); exists {
		response.WriteError(w, http.StatusConflict, "container name already in use")
		return
	}

	create := lifecycle.CreateRequest{
		Name:  req.Name,
		Image: req.Image,
		Role:  req.Role,
		Env:   req.Env,
	}
	if req.Publish != nil {
		create.Published = &model.Publication{
			Domain:        req.Publish.Domain,
			HostPort:      req.Publish.HostPort,
			ContainerPort: req.Publish.ContainerPort,
		}
	}

	rec, err := h.lifecycle.Create(r.Context(), user, create)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, rec)
}

// Start transitions a container to running.
func (h *Container) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Start)
}

// Stop transitions a container to stopped.
func (h *Container) Stop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Stop)
}

// Remove deletes a container. With ?force=true a running container is
// stopped first.
func (h *Container) Remove(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("force") == "true" {
		h.transition(w, r, h.lifecycle.ForceRemove)
		return
	}
	h.transition(w, r, h.lifecycle.Remove)
}

func (h *Container) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, *model.User, string) error) {
	user := mw.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	if err := op(r.Context(), user, id); err != nil {
		writeDomainError(w, err)
		return
	}

	if rec, ok := h.registry.Get(id); ok {
		response.WriteJSON(w, http.StatusOK, rec)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "state": model.StateRemoved})
}

// Logs returns the last lines of a container's output.
func (h *Container) Logs(w http.ResponseWriter, r *http.Request) {
	user := mw.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	rec, ok := h.registry.Get(id)
	if !ok {
		response.WriteError(w, http.StatusNotFound, "container not found")
		return
	}
	if !h.authz.Allowed(user, identity.ActionLogs, rec.Role) {
		response.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}

	tail := defaultLogTail
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			response.WriteError(w, http.StatusBadRequest, "tail must be a positive integer")
			return
		}
		tail = n
	}

	lines, err := h.eng.Logs(r.Context(), id, tail)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "lines": lines})
}

// Stats returns the rolling resource sample window for a container.
func (h *Container) Stats(w http.ResponseWriter, r *http.Request) {
	user := mw.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	rec, ok := h.registry.Get(id)
	if !ok {
		response.WriteError(w, http.StatusNotFound, "container not found")
		return
	}
	if !h.authz.Allowed(user, identity.ActionStats, rec.Role) {
		response.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"samples": h.samples.Window(id),
	})
}
