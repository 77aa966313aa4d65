package proxy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsverre/stevedore/internal/model"
	"github.com/jsverre/stevedore/internal/registry"
)

func publishedRecord(id, name, domain string, hostPort int) model.ContainerRecord {
	return model.ContainerRecord{
		ID:            id,
		Name:          name,
		Image:         "nginx:latest",
		Role:          model.RoleWeb,
		DesiredState:  model.StateRunning,
		ObservedState: model.StateRunning,
		Published: &model.Publication{
			Domain:        domain,
			HostPort:      hostPort,
			ContainerPort: 80,
		},
	}
}

func newTestManager(t *testing.T, reg *registry.Registry) (*Manager, *atomic.Int32) {
	t.Helper()
	mgr := NewManager(zerolog.Nop(), reg, t.TempDir(), "", 10*time.Millisecond)

	var reloads atomic.Int32
	mgr.reloadFn = func(context.Context) error {
		reloads.Add(1)
		return nil
	}
	return mgr, &reloads
}

func TestGenerateDeterministic(t *testing.T) {
	rec := publishedRecord("c1", "web-1", "example.com", 8080)

	cfg1, hash1, err := Generate(rec)
	require.NoError(t, err)
	cfg2, hash2, err := Generate(rec)
	require.NoError(t, err)

	assert.Equal(t, cfg1, cfg2)
	assert.Equal(t, hash1, hash2)

	assert.Contains(t, cfg1, "server_name example.com")
	assert.Contains(t, cfg1, "proxy_pass http://127.0.0.1:8080")
	assert.Contains(t, cfg1, "proxy_set_header X-Forwarded-For")
}

func TestGenerateHashChangesWithInput(t *testing.T) {
	_, hash1, err := Generate(publishedRecord("c1", "web-1", "example.com", 8080))
	require.NoError(t, err)
	_, hash2, err := Generate(publishedRecord("c1", "web-1", "example.org", 8080))
	require.NoError(t, err)

	assert.NotEqual(t, hash1, hash2)
}

func TestGenerateRejectsUnpublished(t *testing.T) {
	rec := publishedRecord("c1", "web-1", "example.com", 8080)
	rec.Published = nil
	_, _, err := Generate(rec)
	assert.Error(t, err)

	rec = publishedRecord("c1", "web-1", "", 8080)
	_, _, err = Generate(rec)
	assert.Error(t, err)

	rec = publishedRecord("c1", "web-1", "example.com", 0)
	_, _, err = Generate(rec)
	assert.Error(t, err)
}

func TestSyncWritesSiteFile(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	reg.Upsert(publishedRecord("c1", "web-1", "example.com", 8080))

	mgr, reloads := newTestManager(t, reg)
	require.NoError(t, mgr.Sync(context.Background()))

	data, err := os.ReadFile(filepath.Join(mgr.sitesDir, "web-1.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "server_name example.com")
	assert.Equal(t, int32(1), reloads.Load())
}

func TestSyncSkipsStoppedContainers(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	rec := publishedRecord("c1", "web-1", "example.com", 8080)
	rec.ObservedState = model.StateStopped
	reg.Upsert(rec)

	mgr, reloads := newTestManager(t, reg)
	require.NoError(t, mgr.Sync(context.Background()))

	_, err := os.Stat(filepath.Join(mgr.sitesDir, "web-1.conf"))
	assert.True(t, os.IsNotExist(err))
	assert.Zero(t, reloads.Load())
}

func TestSyncIsIdempotent(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	reg.Upsert(publishedRecord("c1", "web-1", "example.com", 8080))

	mgr, reloads := newTestManager(t, reg)
	require.NoError(t, mgr.Sync(context.Background()))
	require.NoError(t, mgr.Sync(context.Background()))

	// Unchanged config must not trigger a second reload.
	assert.Equal(t, int32(1), reloads.Load())
}

func TestSyncRemovesOrphans(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	reg.Upsert(publishedRecord("c1", "web-1", "example.com", 8080))

	mgr, reloads := newTestManager(t, reg)
	require.NoError(t, mgr.Sync(context.Background()))

	reg.Remove("c1")
	require.NoError(t, mgr.Sync(context.Background()))

	_, err := os.Stat(filepath.Join(mgr.sitesDir, "web-1.conf"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, int32(2), reloads.Load())
}

func TestSyncRemovesSitesLeftByPreviousRun(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	reg.Upsert(publishedRecord("c1", "web-1", "example.com", 8080))

	mgr, reloads := newTestManager(t, reg)

	// A site file written by an earlier run whose container is gone, plus an
	// unmanaged file that must be left alone.
	require.NoError(t, os.WriteFile(filepath.Join(mgr.sitesDir, "ghost.conf"), []byte("server {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(mgr.sitesDir, "notes.txt"), []byte("keep me"), 0o644))

	require.NoError(t, mgr.Sync(context.Background()))

	_, err := os.Stat(filepath.Join(mgr.sitesDir, "ghost.conf"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(mgr.sitesDir, "notes.txt"))
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(mgr.sitesDir, "web-1.conf"))
	assert.NoError(t, err)
	assert.Equal(t, int32(1), reloads.Load())
}

func TestSyncRemovesStaleSiteWithEmptyRegistry(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	mgr, reloads := newTestManager(t, reg)

	require.NoError(t, os.WriteFile(filepath.Join(mgr.sitesDir, "ghost.conf"), []byte("server {}\n"), 0o644))

	require.NoError(t, mgr.Sync(context.Background()))

	_, err := os.Stat(filepath.Join(mgr.sitesDir, "ghost.conf"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, int32(1), reloads.Load())
}

func TestSyncReloadFailureRestoresPreviousConfig(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	reg.Upsert(publishedRecord("c1", "web-1", "example.com", 8080))

	mgr, _ := newTestManager(t, reg)
	require.NoError(t, mgr.Sync(context.Background()))
	before, err := os.ReadFile(filepath.Join(mgr.sitesDir, "web-1.conf"))
	require.NoError(t, err)

	// Change the publication, then make the reload fail.
	reg.Upsert(publishedRecord("c1", "web-1", "example.org", 8081))
	mgr.reloadFn = func(context.Context) error { return errors.New("nginx: [emerg]") }

	err = mgr.Sync(context.Background())
	assert.ErrorIs(t, err, ErrReloadFailed)
	assert.ErrorIs(t, mgr.LastError(), ErrReloadFailed)

	after, readErr := os.ReadFile(filepath.Join(mgr.sitesDir, "web-1.conf"))
	require.NoError(t, readErr)
	assert.Equal(t, string(before), string(after))
}

func TestRunDebouncesBursts(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	mgr, reloads := newTestManager(t, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	// A burst of changes collapses into one sync and one reload.
	reg.Upsert(publishedRecord("c1", "web-1", "one.example.com", 8081))
	reg.Upsert(publishedRecord("c2", "web-2", "two.example.com", 8082))
	reg.Upsert(publishedRecord("c3", "web-3", "three.example.com", 8083))

	assert.Eventually(t, func() bool {
		return reloads.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// Stays at one; no trailing extra reloads.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), reloads.Load())

	cancel()
	<-done
}
