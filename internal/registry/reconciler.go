package registry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/jsverre/stevedore/internal/engine"
)

var (
	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stevedore_reconcile_duration_seconds",
		Help:    "Duration of each reconciliation cycle",
		Buckets: prometheus.DefBuckets,
	})
	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stevedore_reconcile_total",
		Help: "Total reconciliation cycles",
	}, []string{"result"})
	driftObserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stevedore_reconcile_drift_total",
		Help: "Total registry records changed by reconciliation",
	})
)

// Reconciler periodically merges engine truth into the registry. Besides the
// fixed interval it reconciles immediately when poked, which lifecycle
// transitions do to bound staleness.
type Reconciler struct {
	logger   zerolog.Logger
	eng      engine.Engine
	registry *Registry

	interval time.Duration
	poke     chan struct{}
}

func NewReconciler(logger zerolog.Logger, eng engine.Engine, reg *Registry, interval time.Duration) *Reconciler {
	return &Reconciler{
		logger:   logger.With().Str("component", "reconciler").Logger(),
		eng:      eng,
		registry: reg,
		interval: interval,
		poke:     make(chan struct{}, 1),
	}
}

// Poke requests an immediate reconciliation. Non-blocking; coalesces with a
// pending request.
func (r *Reconciler) Poke() {
	select {
	case r.poke <- struct{}{}:
	default:
	}
}

// Reconcile performs one reconciliation cycle against the engine.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	start := time.Now()

	snapshot, err := r.eng.List(ctx)
	if err != nil {
		reconcileTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("fetch engine snapshot: %w", err)
	}

	changed := r.registry.Reconcile(snapshot)

	duration := time.Since(start).Seconds()
	reconcileDuration.Observe(duration)
	reconcileTotal.WithLabelValues("success").Inc()

	if changed > 0 {
		driftObserved.Add(float64(changed))
		r.logger.Info().
			Int("records_changed", changed).
			Float64("duration_s", duration).
			Msg("reconciliation adjusted registry")
	} else {
		r.logger.Debug().Float64("duration_s", duration).Msg("reconciliation completed, no drift")
	}

	return nil
}

// RunLoop runs the periodic reconciliation loop until ctx is cancelled.
func (r *Reconciler) RunLoop(ctx context.Context) error {
	// Small startup jitter so a restart storm does not hammer the engine.
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	r.logger.Info().
		Dur("interval", r.interval).
		Dur("jitter", jitter).
		Msg("starting reconciliation loop")

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciliation loop stopped")
			return nil
		case <-ticker.C:
		case <-r.poke:
		}
		if err := r.Reconcile(ctx); err != nil {
			r.logger.Error().Err(err).Msg("reconciliation failed")
		}
	}
}
