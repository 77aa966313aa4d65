package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jsverre/stevedore/internal/engine"
	"github.com/jsverre/stevedore/internal/model"
)

// Event kinds emitted on registry changes.
const (
	EventUpserted = "upserted"
	EventAdopted  = "adopted"
	EventRemoved  = "removed"
)

// Event notifies subscribers of a registry change.
type Event struct {
	Kind   string                `json:"kind"`
	Record model.ContainerRecord `json:"record"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Role    string
	OwnerID string
}

// Registry is the orchestrator's authoritative snapshot of known containers.
// It is the single place readers consult for container existence; all
// mutations go through Upsert, Remove, and Reconcile, which are internally
// synchronized.
type Registry struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	records map[string]model.ContainerRecord

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func New(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:  logger.With().Str("component", "registry").Logger(),
		records: make(map[string]model.ContainerRecord),
		subs:    make(map[int]chan Event),
	}
}

// Upsert stores the record and notifies subscribers.
func (r *Registry) Upsert(rec model.ContainerRecord) {
	rec.UpdatedAt = time.Now()

	r.mu.Lock()
	r.records[rec.ID] = rec
	r.mu.Unlock()

	r.notify(Event{Kind: EventUpserted, Record: rec})
}

// Get returns the record for id, if known.
func (r *Registry) Get(id string) (model.ContainerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	return rec, ok
}

// GetByName returns the record with the given display name, if known.
func (r *Registry) GetByName(name string) (model.ContainerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if rec.Name == name {
			return rec, true
		}
	}
	return model.ContainerRecord{}, false
}

// List returns all records matching the filter, unordered.
func (r *Registry) List(f Filter) []model.ContainerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ContainerRecord, 0, len(r.records))
	for _, rec := range r.records {
		if f.Role != "" && rec.Role != f.Role {
			continue
		}
		if f.OwnerID != "" && rec.OwnerID != f.OwnerID {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Remove evicts the record and notifies subscribers.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if ok {
		delete(r.records, id)
	}
	r.mu.Unlock()

	if ok {
		rec.ObservedState = model.StateRemoved
		r.notify(Event{Kind: EventRemoved, Record: rec})
	}
}

// Reconcile merges an engine snapshot into the registry: unknown engine
// containers are adopted with desired state equal to observed state, records
// absent from the engine are evicted, and observed states are refreshed.
// It returns the number of records that changed.
func (r *Registry) Reconcile(snapshot []model.EngineContainerInfo) int {
	seen := make(map[string]bool, len(snapshot))
	var events []Event
	changed := 0

	r.mu.Lock()
	for _, info := range snapshot {
		seen[info.ID] = true
		observed := engine.NormalizeState(info.State)

		rec, known := r.records[info.ID]
		if !known {
			rec = adopt(info, observed)
			r.records[rec.ID] = rec
			events = append(events, Event{Kind: EventAdopted, Record: rec})
			changed++
			continue
		}

		if rec.ObservedState != observed {
			rec.ObservedState = observed
			rec.UpdatedAt = time.Now()
			r.records[rec.ID] = rec
			events = append(events, Event{Kind: EventUpserted, Record: rec})
			changed++
		}
	}

	// Anything the engine no longer reports is gone.
	for id, rec := range r.records {
		if seen[id] {
			continue
		}
		delete(r.records, id)
		rec.ObservedState = model.StateRemoved
		events = append(events, Event{Kind: EventRemoved, Record: rec})
		changed++
	}
	r.mu.Unlock()

	for _, ev := range events {
		r.notify(ev)
	}
	return changed
}

// adopt builds a record for a container the engine knows but the registry
// does not, recovering role, owner, and publication from its labels.
func adopt(info model.EngineContainerInfo, observed string) model.ContainerRecord {
	rec := model.ContainerRecord{
		ID:            info.ID,
		Name:          info.Name,
		Image:         info.Image,
		Role:          info.Labels[engine.LabelRole],
		DesiredState:  observed,
		ObservedState: observed,
		OwnerID:       info.Labels[engine.LabelOwner],
		CreatedAt:     info.Created,
		UpdatedAt:     time.Now(),
	}
	if rec.Role == "" {
		rec.Role = model.RoleWorker
	}
	if domain := info.Labels[engine.LabelDomain]; domain != "" {
		pub := &model.Publication{Domain: domain}
		for containerPort, hostPort := range info.Ports {
			pub.ContainerPort = containerPort
			pub.HostPort = hostPort
			break
		}
		rec.Published = pub
	}
	return rec
}

// Subscribe registers a change listener with the given buffer size. When the
// buffer is full the oldest undelivered event is dropped so the registry
// never blocks on a slow subscriber. The returned cancel func must be called
// to release the subscription.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	if buffer < 1 {
		buffer = 1
	}
	id := r.nextSub
	r.nextSub++
	ch := make(chan Event, buffer)
	r.subs[id] = ch

	cancel := func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if _, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (r *Registry) notify(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for _, ch := range r.subs {
		for {
			select {
			case ch <- ev:
			default:
				// Drop the oldest undelivered event and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
