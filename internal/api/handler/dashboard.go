package handler

import (
	"net/http"

	mw "github.com/jsverre/stevedore/internal/api/middleware"
	"github.com/jsverre/stevedore/internal/api/response"
	"github.com/jsverre/stevedore/internal/identity"
	"github.com/jsverre/stevedore/internal/model"
	"github.com/jsverre/stevedore/internal/registry"
)

type Dashboard struct {
	registry *registry.Registry
	samples  SampleSource
	authz    *identity.Authorizer
}

func NewDashboard(reg *registry.Registry, samples SampleSource, authz *identity.Authorizer) *Dashboard {
	return &Dashboard{registry: reg, samples: samples, authz: authz}
}

// Stats aggregates the caller's visible containers: counts per observed
// state, published site count, and summed latest CPU/memory usage.
func (h *Dashboard) Stats(w http.ResponseWriter, r *http.Request) {
	user := mw.GetUser(r.Context())

	byState := map[string]int{}
	published := 0
	totalCPU := 0.0
	var totalMem uint64

	for _, rec := range h.registry.List(registry.Filter{}) {
		if !h.authz.Allowed(user, identity.ActionView, rec.Role) {
			continue
		}
		byState[rec.ObservedState]++
		if rec.Published != nil {
			published++
		}
		if rec.ObservedState == model.StateRunning {
			if sample, ok := h.samples.Latest(rec.ID); ok {
				totalCPU += sample.CPUPercent
				totalMem += sample.MemoryBytes
			}
		}
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"containers_by_state": byState,
		"published_sites":     published,
		"total_cpu_percent":   totalCPU,
		"total_memory_bytes":  totalMem,
	})
}
