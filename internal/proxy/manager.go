package proxy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/jsverre/stevedore/internal/model"
	"github.com/jsverre/stevedore/internal/registry"
)

// ErrReloadFailed is returned when the proxy refused the regenerated config.
// The previous site files are restored so the proxy and the directory stay
// consistent.
var ErrReloadFailed = errors.New("proxy reload failed")

var (
	reloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stevedore_proxy_reloads_total",
		Help: "Proxy reload attempts by result",
	}, []string{"result"})

	sitesManaged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stevedore_proxy_sites",
		Help: "Number of managed proxy site files",
	})
)

// Manager keeps the proxy sites directory in sync with the registry's
// published running containers. Registry change bursts are debounced so a
// batch of transitions triggers a single reload.
type Manager struct {
	logger    zerolog.Logger
	registry  *registry.Registry
	sitesDir  string
	reloadCmd string
	debounce  time.Duration

	mu       sync.Mutex
	applied  map[string]string // file name -> content hash
	lastErr  error
	reloadFn func(ctx context.Context) error
}

func NewManager(logger zerolog.Logger, reg *registry.Registry, sitesDir, reloadCmd string, debounce time.Duration) *Manager {
	m := &Manager{
		logger:    logger.With().Str("component", "proxy").Logger(),
		registry:  reg,
		sitesDir:  sitesDir,
		reloadCmd: reloadCmd,
		debounce:  debounce,
		applied:   make(map[string]string),
	}
	m.reloadFn = m.execReload
	return m
}

// Run watches registry events and resyncs the sites directory. A change
// starts the debounce timer; further changes within the window fold into the
// same sync.
func (m *Manager) Run(ctx context.Context) error {
	if err := os.MkdirAll(m.sitesDir, 0o755); err != nil {
		return fmt.Errorf("create sites dir: %w", err)
	}

	events, cancel := m.registry.Subscribe(64)
	defer cancel()

	// Converge on startup so a restart picks up state changed while down.
	if err := m.Sync(ctx); err != nil {
		m.logger.Error().Err(err).Msg("initial proxy sync failed")
	}

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return nil
			}
			if timer == nil {
				timer = time.NewTimer(m.debounce)
				fire = timer.C
			}
		case <-fire:
			timer = nil
			fire = nil
			if err := m.Sync(ctx); err != nil {
				m.logger.Error().Err(err).Msg("proxy sync failed")
			}
		}
	}
}

// Sync regenerates site files for all published running containers, removes
// orphans, and reloads the proxy when anything changed. On reload failure the
// previous files are restored and ErrReloadFailed is returned.
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	desired := make(map[string]string)     // file name -> config
	desiredHash := make(map[string]string) // file name -> hash
	for _, rec := range m.registry.List(registry.Filter{}) {
		if rec.Published == nil || rec.ObservedState != model.StateRunning {
			continue
		}
		config, hash, err := Generate(rec)
		if err != nil {
			m.logger.Warn().Err(err).Str("container_id", rec.ID).Msg("skipping unpublishable container")
			continue
		}
		name := siteFileName(rec)
		desired[name] = config
		desiredHash[name] = hash
	}

	changed := false
	previous := make(map[string][]byte)

	for name, config := range desired {
		if m.applied[name] == desiredHash[name] {
			continue
		}
		path := filepath.Join(m.sitesDir, name)
		if old, err := os.ReadFile(path); err == nil {
			previous[name] = old
		}
		if err := writeAtomic(path, []byte(config)); err != nil {
			m.setErr(fmt.Errorf("write site %s: %w", name, err))
			return m.lastErr
		}
		changed = true
	}

	for _, name := range m.orphanSites(desired) {
		path := filepath.Join(m.sitesDir, name)
		if old, err := os.ReadFile(path); err == nil {
			previous[name] = old
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.setErr(fmt.Errorf("remove orphan site %s: %w", name, err))
			return m.lastErr
		}
		changed = true
	}

	if !changed {
		m.setErr(nil)
		return nil
	}

	if err := m.reloadFn(ctx); err != nil {
		m.rollback(desired, previous)
		reloadTotal.WithLabelValues("failure").Inc()
		m.setErr(fmt.Errorf("%w: %v", ErrReloadFailed, err))
		m.logger.Error().Err(err).Msg("proxy reload failed, previous config restored")
		return m.lastErr
	}

	m.applied = desiredHash
	sitesManaged.Set(float64(len(m.applied)))
	reloadTotal.WithLabelValues("success").Inc()
	m.setErr(nil)
	m.logger.Info().Int("sites", len(m.applied)).Msg("proxy config applied")
	return nil
}

// orphanSites lists site files that must go: everything previously applied
// but no longer desired, plus managed files found on disk that this process
// never wrote. The directory scan is what converges away sites left behind
// by an earlier run whose containers were removed while the daemon was down.
// Only files with the managed suffix are candidates; anything else in the
// directory is left alone.
func (m *Manager) orphanSites(desired map[string]string) []string {
	seen := make(map[string]struct{})
	var orphans []string

	add := func(name string) {
		if _, keep := desired[name]; keep {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		orphans = append(orphans, name)
	}

	for name := range m.applied {
		add(name)
	}
	entries, err := os.ReadDir(m.sitesDir)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn().Err(err).Msg("cannot scan sites dir for orphans")
		}
		return orphans
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), siteSuffix) {
			continue
		}
		add(entry.Name())
	}
	return orphans
}

// rollback puts the directory back the way it was before a failed reload.
func (m *Manager) rollback(desired map[string]string, previous map[string][]byte) {
	for name := range desired {
		path := filepath.Join(m.sitesDir, name)
		if old, ok := previous[name]; ok {
			if err := writeAtomic(path, old); err != nil {
				m.logger.Error().Err(err).Str("site", name).Msg("rollback write failed")
			}
			continue
		}
		if _, applied := m.applied[name]; !applied {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				m.logger.Error().Err(err).Str("site", name).Msg("rollback remove failed")
			}
		}
	}
	for name, old := range previous {
		if _, ok := desired[name]; ok {
			continue
		}
		if err := writeAtomic(filepath.Join(m.sitesDir, name), old); err != nil {
			m.logger.Error().Err(err).Str("site", name).Msg("rollback restore failed")
		}
	}
}

// LastError reports the outcome of the most recent sync.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) setErr(err error) {
	m.lastErr = err
}

func (m *Manager) execReload(ctx context.Context) error {
	parts := strings.Fields(m.reloadCmd)
	if len(parts) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// writeAtomic writes via a temp file and rename so a reader never observes a
// half-written config.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".site-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
