package handler

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	mw "github.com/jsverre/stevedore/internal/api/middleware"
	"github.com/jsverre/stevedore/internal/api/response"
	"github.com/jsverre/stevedore/internal/identity"
	"github.com/jsverre/stevedore/internal/model"
	"github.com/jsverre/stevedore/internal/registry"
)

// EventStream pushes registry changes and live resource samples to WebSocket
// clients.
type EventStream struct {
	sessions   mw.SessionResolver
	registry   *registry.Registry
	supervisor SampleStream
	authz      *identity.Authorizer
}

// SampleStream is the live sample feed the event stream fans out.
type SampleStream interface {
	Subscribe(buffer int) (<-chan model.ResourceSample, func())
}

func NewEventStream(sessions mw.SessionResolver, reg *registry.Registry, sup SampleStream, authz *identity.Authorizer) *EventStream {
	return &EventStream{sessions: sessions, registry: reg, supervisor: sup, authz: authz}
}

// streamMsg is one message on the event socket.
type streamMsg struct {
	Type      string                `json:"type"`
	Container *registry.Event       `json:"container,omitempty"`
	Sample    *model.ResourceSample `json:"sample,omitempty"`
}

// Connect upgrades to WebSocket and streams events until the client goes
// away. Auth is via query param since the WebSocket API does not support
// custom headers.
func (h *EventStream) Connect(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if c, err := r.Cookie(mw.SessionCookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		response.WriteError(w, http.StatusUnauthorized, "missing token")
		return
	}
	user, err := h.sessions.ResolveSession(r.Context(), token)
	if err != nil {
		response.WriteError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Origin differs from Host when proxied through a dashboard UI.
	})
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.CloseNow()

	events, cancelEvents := h.registry.Subscribe(64)
	defer cancelEvents()
	samples, cancelSamples := h.supervisor.Subscribe(256)
	defer cancelSamples()

	ctx := r.Context()
	for {
		var msg streamMsg
		select {
		case <-ctx.Done():
			ws.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !h.authz.Allowed(user, identity.ActionView, ev.Record.Role) {
				continue
			}
			msg = streamMsg{Type: "container", Container: &ev}
		case sample, ok := <-samples:
			if !ok {
				return
			}
			if rec, known := h.registry.Get(sample.ContainerID); known {
				if !h.authz.Allowed(user, identity.ActionStats, rec.Role) {
					continue
				}
			}
			msg = streamMsg{Type: "sample", Sample: &sample}
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
			return
		}
	}
}
