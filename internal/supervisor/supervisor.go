package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jsverre/stevedore/internal/engine"
	"github.com/jsverre/stevedore/internal/model"
	"github.com/jsverre/stevedore/internal/registry"
)

// statsPollConcurrency caps parallel engine stats calls per polling round.
const statsPollConcurrency = 8

var (
	cpuGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stevedore_container_cpu_percent",
		Help: "Last sampled CPU usage per container",
	}, []string{"container_id"})

	memGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stevedore_container_memory_bytes",
		Help: "Last sampled memory usage per container",
	}, []string{"container_id"})
)

// Supervisor polls resource usage for running containers and keeps a bounded
// rolling window of samples per container. Producers never block: slow
// subscribers lose their oldest undelivered samples, and windows are evicted
// as soon as the registry forgets a container.
type Supervisor struct {
	logger   zerolog.Logger
	eng      engine.Engine
	registry *registry.Registry
	interval time.Duration
	window   int

	mu      sync.RWMutex
	windows map[string][]model.ResourceSample

	subMu   sync.Mutex
	subs    map[int]chan model.ResourceSample
	nextSub int
}

func New(logger zerolog.Logger, eng engine.Engine, reg *registry.Registry, interval time.Duration, window int) *Supervisor {
	return &Supervisor{
		logger:   logger.With().Str("component", "supervisor").Logger(),
		eng:      eng,
		registry: reg,
		interval: interval,
		window:   window,
		windows:  make(map[string][]model.ResourceSample),
		subs:     make(map[int]chan model.ResourceSample),
	}
}

// Run polls until the context is cancelled. It also watches registry events so
// windows for removed containers are purged promptly rather than lingering
// until the next poll.
func (s *Supervisor) Run(ctx context.Context) error {
	events, cancel := s.registry.Subscribe(64)
	defer cancel()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Int("window", s.window).Msg("starting resource supervisor")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == registry.EventRemoved {
				s.purge(ev.Record)
			}
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll samples every container the registry observes as running, then sweeps
// windows the registry no longer backs. The sweep covers removal events lost
// to a full event channel, so a leaked window survives at most one interval.
func (s *Supervisor) poll(ctx context.Context) {
	records := s.registry.List(registry.Filter{})
	known := make(map[string]struct{}, len(records))
	var running []model.ContainerRecord
	for _, rec := range records {
		known[rec.ID] = struct{}{}
		if rec.ObservedState == model.StateRunning {
			running = append(running, rec)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(statsPollConcurrency)
	for _, rec := range running {
		g.Go(func() error {
			sample, err := s.eng.Stats(ctx, rec.ID)
			if err != nil {
				s.logger.Debug().Err(err).Str("container_id", rec.ID).Msg("stats poll failed")
				return nil
			}
			s.record(sample)
			cpuGauge.WithLabelValues(rec.ID).Set(sample.CPUPercent)
			memGauge.WithLabelValues(rec.ID).Set(float64(sample.MemoryBytes))
			return nil
		})
	}
	_ = g.Wait()

	var stale []string
	s.mu.Lock()
	for id := range s.windows {
		if _, ok := known[id]; !ok {
			stale = append(stale, id)
			delete(s.windows, id)
		}
	}
	s.mu.Unlock()
	for _, id := range stale {
		cpuGauge.DeleteLabelValues(id)
		memGauge.DeleteLabelValues(id)
	}
}

// record appends a sample to the container's window, evicting the oldest
// sample when the window is full, and fans it out to subscribers.
func (s *Supervisor) record(sample model.ResourceSample) {
	s.mu.Lock()
	win := append(s.windows[sample.ContainerID], sample)
	if len(win) > s.window {
		win = win[len(win)-s.window:]
	}
	s.windows[sample.ContainerID] = win
	s.mu.Unlock()

	s.notify(sample)
}

// Window returns a copy of the sample window for id, oldest first.
func (s *Supervisor) Window(id string) []model.ResourceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	win := s.windows[id]
	out := make([]model.ResourceSample, len(win))
	copy(out, win)
	return out
}

// Latest returns the most recent sample for id, if any.
func (s *Supervisor) Latest(id string) (model.ResourceSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	win := s.windows[id]
	if len(win) == 0 {
		return model.ResourceSample{}, false
	}
	return win[len(win)-1], true
}

func (s *Supervisor) purge(rec model.ContainerRecord) {
	s.mu.Lock()
	delete(s.windows, rec.ID)
	s.mu.Unlock()

	cpuGauge.DeleteLabelValues(rec.ID)
	memGauge.DeleteLabelValues(rec.ID)
}

// Subscribe registers a live sample listener. When the buffer fills the oldest
// undelivered sample is dropped so polling never blocks on a subscriber. The
// cancel func releases the subscription.
func (s *Supervisor) Subscribe(buffer int) (<-chan model.ResourceSample, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if buffer < 1 {
		buffer = 1
	}
	id := s.nextSub
	s.nextSub++
	ch := make(chan model.ResourceSample, buffer)
	s.subs[id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *Supervisor) notify(sample model.ResourceSample) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		for {
			select {
			case ch <- sample:
			default:
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
