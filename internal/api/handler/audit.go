package handler

import (
	"context"
	"net/http"
	"strconv"

	mw "github.com/jsverre/stevedore/internal/api/middleware"
	"github.com/jsverre/stevedore/internal/api/response"
	"github.com/jsverre/stevedore/internal/model"
)

const defaultAuditLimit = 50

// AuditSource reads back recorded audit events.
type AuditSource interface {
	List(ctx context.Context, limit int) ([]model.AuditEvent, error)
}

type Audit struct {
	src AuditSource
}

func NewAudit(src AuditSource) *Audit {
	return &Audit{src: src}
}

// List returns the most recent audit events, newest first. Admin only.
func (h *Audit) List(w http.ResponseWriter, r *http.Request) {
	user := mw.GetUser(r.Context())
	if user == nil || user.Role != model.UserRoleAdmin {
		response.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}

	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			response.WriteError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := h.src.List(r.Context(), limit)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, events)
}
