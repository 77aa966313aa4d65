package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/jsverre/stevedore/internal/api/middleware"
	"github.com/jsverre/stevedore/internal/model"
)

type fakeAuditSource struct {
	events    []model.AuditEvent
	lastLimit int
}

func (f *fakeAuditSource) List(_ context.Context, limit int) ([]model.AuditEvent, error) {
	f.lastLimit = limit
	return f.events, nil
}

func auditRequest(user *model.User, path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	return req.WithContext(mw.WithUser(req.Context(), user))
}

func TestAuditListAdminOnly(t *testing.T) {
	h := NewAudit(&fakeAuditSource{})

	rr := httptest.NewRecorder()
	h.List(rr, auditRequest(regularUser, "/audit-events"))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	h.List(rr, auditRequest(adminUser, "/audit-events"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuditListReturnsEvents(t *testing.T) {
	src := &fakeAuditSource{events: []model.AuditEvent{
		{Actor: "admin", Action: "start", ContainerID: "c1", Result: "success"},
	}}
	h := NewAudit(src)

	rr := httptest.NewRecorder()
	h.List(rr, auditRequest(adminUser, "/audit-events?limit=5"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, src.lastLimit)

	var events []model.AuditEvent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "start", events[0].Action)
}

func TestAuditListDefaultLimit(t *testing.T) {
	src := &fakeAuditSource{}
	h := NewAudit(src)

	rr := httptest.NewRecorder()
	h.List(rr, auditRequest(adminUser, "/audit-events"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, defaultAuditLimit, src.lastLimit)
}

func TestAuditListRejectsBadLimit(t *testing.T) {
	h := NewAudit(&fakeAuditSource{})

	for _, v := range []string{"0", "-1", "1001", "many"} {
		rr := httptest.NewRecorder()
		h.List(rr, auditRequest(adminUser, "/audit-events?limit="+v))
		assert.Equal(t, http.StatusBadRequest, rr.Code, "limit=%s", v)
	}
}
