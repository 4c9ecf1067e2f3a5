package install

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbay/toolbay/internal/domain/ledger"
	"github.com/toolbay/toolbay/internal/domain/registry"
	"github.com/toolbay/toolbay/internal/domain/resolve"
)

// fakeSource serves manifests from memory and counts registry calls.
type fakeSource struct {
	mu        sync.Mutex
	manifests map[string]*registry.Manifest
	calls     int
}

func newFakeSource(manifests ...*registry.Manifest) *fakeSource {
	s := &fakeSource{manifests: make(map[string]*registry.Manifest)}
	for _, m := range manifests {
		s.manifests[m.ID.String()] = m
	}
	return s
}

func (s *fakeSource) FetchManifestList(_ context.Context) ([]registry.ListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil, nil
}

func (s *fakeSource) FetchPluginDetails(_ context.Context, id registry.PluginID) (*registry.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	m, ok := s.manifests[id.String()]
	if !ok {
		return nil, &registry.NotFoundError{ID: id}
	}
	clone := m.Clone()
	return &clone, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeBackend records install work and can fail or run a hook at a chosen
// plugin.
type fakeBackend struct {
	mu        sync.Mutex
	installed []string

	failDownload string
	failInstall  string
	onInstall    func(id registry.PluginID)
}

func (b *fakeBackend) Download(_ context.Context, m *registry.Manifest) ([]byte, error) {
	if m.ID.String() == b.failDownload {
		return nil, &DownloadFailedError{ID: m.ID, Err: errors.New("connection reset")}
	}
	return []byte("archive:" + m.ID.String()), nil
}

func (b *fakeBackend) Install(_ context.Context, m *registry.Manifest, data []byte) error {
	if b.onInstall != nil {
		b.onInstall(m.ID)
	}
	if m.ID.String() == b.failInstall {
		return &BackendRejectedError{ID: m.ID, Reason: "registration refused"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.installed = append(b.installed, m.ID.String())
	return nil
}

// fakeRepo records ledger saves and can fail on demand.
type fakeRepo struct {
	saves    int
	failSave bool
}

func (r *fakeRepo) Load(_ context.Context, _ string) (*ledger.Ledger, error) {
	return nil, ledger.ErrLedgerNotFound
}

func (r *fakeRepo) Save(_ context.Context, _ string, _ *ledger.Ledger) error {
	if r.failSave {
		return ledger.ErrSaveFailed
	}
	r.saves++
	return nil
}

func (r *fakeRepo) Exists(_ context.Context, _ string) bool { return false }

func manifest(id, version string, deps ...registry.DeclaredDependency) *registry.Manifest {
	return &registry.Manifest{
		ID:           registry.MustNewPluginID(id),
		Name:         id,
		Version:      registry.NewVersion(version),
		Dependencies: deps,
		SizeBytes:    100,
	}
}

func dep(id, version string) registry.DeclaredDependency {
	return registry.DeclaredDependency{
		ID:      registry.MustNewPluginID(id),
		Version: registry.NewVersion(version),
	}
}

// chainSource serves battery-analyzer -> charge-curves -> cell-db.
func chainSource() *fakeSource {
	return newFakeSource(
		manifest("battery-analyzer", "2.1.0", dep("charge-curves", "1.0.0")),
		manifest("charge-curves", "1.0.0", dep("cell-db", "3.2.0")),
		manifest("cell-db", "3.2.0"),
	)
}

func newTestExecutor(t *testing.T, source resolve.ManifestSource, be Backend, led *ledger.Ledger, opts ...ExecutorOption) *Executor {
	t.Helper()
	builder := resolve.NewGraphBuilder(source, resolve.WithInstalledView(led))
	exec, err := NewExecutor(builder, be, led, opts...)
	require.NoError(t, err)
	return exec
}

func installedStrings(ids []registry.PluginID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func TestExecutorLifecycle(t *testing.T) {
	ctx := context.Background()
	root := registry.MustNewPluginID("battery-analyzer")

	t.Run("starts idle", func(t *testing.T) {
		exec := newTestExecutor(t, chainSource(), &fakeBackend{}, ledger.NewLedger())
		assert.Equal(t, StateIdle, exec.State())
	})

	t.Run("full run installs in dependency order", func(t *testing.T) {
		be := &fakeBackend{}
		led := ledger.NewLedger()
		exec := newTestExecutor(t, chainSource(), be, led)

		var transitions []string
		exec.SetStateChangeHandler(func(from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s>%s", from, to))
		})

		result, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)
		assert.Equal(t, StateAwaitingConfirmation, exec.State())
		require.False(t, result.HasErrors())

		status, err := exec.ConfirmAndInstall(ctx)
		require.NoError(t, err)
		assert.True(t, status.Success)
		assert.Equal(t, []string{"cell-db", "charge-curves", "battery-analyzer"},
			installedStrings(status.Installed))
		assert.Equal(t, StateCompleted, exec.State())

		assert.Equal(t, []string{
			"idle>resolving",
			"resolving>awaiting_confirmation",
			"awaiting_confirmation>installing",
			"installing>completed",
		}, transitions)

		assert.Equal(t, []string{"cell-db", "charge-curves", "battery-analyzer"}, be.installed)
		assert.Equal(t, 3, led.Count())
		assert.True(t, led.Has(root))
		assert.NotEmpty(t, exec.RunID())
	})

	t.Run("already installed short-circuits before any registry call", func(t *testing.T) {
		source := chainSource()
		led := ledger.NewLedger()
		require.NoError(t, led.Add(ledger.Entry{
			Manifest:         *manifest("battery-analyzer", "2.0.0"),
			InstalledVersion: registry.NewVersion("2.0.0"),
			Enabled:          true,
		}))
		exec := newTestExecutor(t, source, &fakeBackend{}, led)

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.Error(t, err)
		assert.True(t, IsAlreadyInstalled(err))
		assert.Equal(t, StateFailed, exec.State())
		assert.Equal(t, 0, source.callCount(), "the registry must not be consulted")

		// The session recovers via reset.
		require.NoError(t, exec.Reset())
		assert.Equal(t, StateIdle, exec.State())
	})

	t.Run("resolution failure moves to failed", func(t *testing.T) {
		// The registry lists the root at 2.1.0, not the requested release.
		exec := newTestExecutor(t, chainSource(), &fakeBackend{}, ledger.NewLedger())

		_, err := exec.Resolve(ctx, root, registry.NewVersion("9.9.9"))
		require.Error(t, err)
		assert.Equal(t, StateFailed, exec.State())
		assert.Error(t, exec.LastError())
	})
}

func TestExecutorRefusesBlockedResults(t *testing.T) {
	ctx := context.Background()
	root := registry.MustNewPluginID("battery-analyzer")

	t.Run("version conflict", func(t *testing.T) {
		source := newFakeSource(
			manifest("battery-analyzer", "2.1.0", dep("charge-curves", "1.0.0"), dep("cell-db", "3.2.0")),
			manifest("charge-curves", "1.0.0", dep("thermal-model", "1.1.0")),
			manifest("cell-db", "3.2.0", dep("thermal-model", "2.0.0")),
			manifest("thermal-model", "1.1.0"),
		)
		be := &fakeBackend{}
		exec := newTestExecutor(t, source, be, ledger.NewLedger())

		result, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)
		require.True(t, result.HasErrors())

		_, err = exec.ConfirmAndInstall(ctx)
		require.Error(t, err)
		var conflictErr *ConflictError
		assert.ErrorAs(t, err, &conflictErr)
		assert.Empty(t, be.installed, "nothing may be installed through a conflict")
		assert.Equal(t, StateAwaitingConfirmation, exec.State())
	})

	t.Run("dependency cycle", func(t *testing.T) {
		source := newFakeSource(
			manifest("battery-analyzer", "2.1.0", dep("charge-curves", "1.0.0")),
			manifest("charge-curves", "1.0.0", dep("battery-analyzer", "2.1.0")),
		)
		exec := newTestExecutor(t, source, &fakeBackend{}, ledger.NewLedger())

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)

		_, err = exec.ConfirmAndInstall(ctx)
		var cycleErr *CycleError
		assert.ErrorAs(t, err, &cycleErr)
		assert.Equal(t, StateAwaitingConfirmation, exec.State())
	})

	t.Run("missing dependency", func(t *testing.T) {
		source := newFakeSource(
			manifest("battery-analyzer", "2.1.0", dep("ghost-plugin", "1.0.0")),
		)
		exec := newTestExecutor(t, source, &fakeBackend{}, ledger.NewLedger())

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)

		_, err = exec.ConfirmAndInstall(ctx)
		var missingErr *MissingDependencyError
		assert.ErrorAs(t, err, &missingErr)
		assert.ErrorIs(t, err, registry.ErrNotFound)
	})
}

func TestExecutorStepFailure(t *testing.T) {
	ctx := context.Background()
	root := registry.MustNewPluginID("battery-analyzer")

	t.Run("halts at first failing step and keeps earlier installs", func(t *testing.T) {
		be := &fakeBackend{failInstall: "charge-curves"}
		led := ledger.NewLedger()
		exec := newTestExecutor(t, chainSource(), be, led)

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)

		status, err := exec.ConfirmAndInstall(ctx)
		require.NoError(t, err, "step failures are reported in the status, not as an error")
		assert.False(t, status.Success)
		assert.Equal(t, []string{"cell-db"}, installedStrings(status.Installed))
		require.Len(t, status.Errors, 1)
		assert.Contains(t, status.Errors[0], "charge-curves")

		// cell-db was committed before the failure and stays; nothing after
		// the failing step ran.
		assert.True(t, led.Has(registry.MustNewPluginID("cell-db")))
		assert.False(t, led.Has(registry.MustNewPluginID("charge-curves")))
		assert.False(t, led.Has(root))
		assert.Equal(t, StateCompleted, exec.State())
		assert.Error(t, exec.LastError())
	})

	t.Run("download failure", func(t *testing.T) {
		be := &fakeBackend{failDownload: "cell-db"}
		led := ledger.NewLedger()
		exec := newTestExecutor(t, chainSource(), be, led)

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)

		status, err := exec.ConfirmAndInstall(ctx)
		require.NoError(t, err)
		assert.False(t, status.Success)
		assert.Empty(t, status.Installed)
		assert.Equal(t, 0, led.Count())
	})

	t.Run("ledger save failure withdraws the entry", func(t *testing.T) {
		repo := &fakeRepo{failSave: true}
		led := ledger.NewLedger()
		exec := newTestExecutor(t, chainSource(), &fakeBackend{}, led,
			WithLedgerRepository(repo, "/tmp/ledger.yaml"))

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)

		status, err := exec.ConfirmAndInstall(ctx)
		require.NoError(t, err)
		assert.False(t, status.Success)
		assert.Empty(t, status.Installed)
		assert.Equal(t, 0, led.Count(), "an entry that could not be persisted is withdrawn")
	})
}

func TestExecutorCancel(t *testing.T) {
	ctx := context.Background()
	root := registry.MustNewPluginID("battery-analyzer")

	t.Run("cancel between steps stops the run", func(t *testing.T) {
		led := ledger.NewLedger()
		be := &fakeBackend{}
		exec := newTestExecutor(t, chainSource(), be, led)

		// Cancel while the first step is in flight; the step finishes and
		// the boundary check stops the run before step two.
		be.onInstall = func(id registry.PluginID) {
			if id.String() == "cell-db" {
				require.NoError(t, exec.Cancel())
			}
		}

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)

		status, err := exec.ConfirmAndInstall(ctx)
		require.NoError(t, err)
		assert.False(t, status.Success)
		assert.Equal(t, []string{"cell-db"}, installedStrings(status.Installed))
		assert.Equal(t, []string{ErrCancelled.Error()}, status.Errors)
		assert.Equal(t, StateCancelled, exec.State())

		// The completed step stays committed.
		assert.True(t, led.Has(registry.MustNewPluginID("cell-db")))
		assert.False(t, led.Has(root))
		assert.ErrorIs(t, exec.LastError(), ErrCancelled)
	})

	t.Run("cancel during the final step reports a cancelled run", func(t *testing.T) {
		led := ledger.NewLedger()
		be := &fakeBackend{}
		exec := newTestExecutor(t, chainSource(), be, led)

		// Cancel while the last step is in flight; the step commits, but the
		// run still ends cancelled, and state and status must agree.
		be.onInstall = func(id registry.PluginID) {
			if id.String() == "battery-analyzer" {
				require.NoError(t, exec.Cancel())
			}
		}

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)

		status, err := exec.ConfirmAndInstall(ctx)
		require.NoError(t, err)
		assert.False(t, status.Success)
		assert.Equal(t, []string{"cell-db", "charge-curves", "battery-analyzer"},
			installedStrings(status.Installed))
		assert.Equal(t, []string{ErrCancelled.Error()}, status.Errors)
		assert.Equal(t, StateCancelled, exec.State())
		assert.Equal(t, 3, led.Count(), "every committed step stays in the ledger")
		assert.ErrorIs(t, exec.LastError(), ErrCancelled)
	})

	t.Run("context cancellation is honoured at step boundaries", func(t *testing.T) {
		led := ledger.NewLedger()
		runCtx, cancel := context.WithCancel(ctx)
		be := &fakeBackend{}
		be.onInstall = func(id registry.PluginID) {
			if id.String() == "cell-db" {
				cancel()
			}
		}
		exec := newTestExecutor(t, chainSource(), be, led)

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)

		status, err := exec.ConfirmAndInstall(runCtx)
		require.NoError(t, err)
		assert.False(t, status.Success)
		assert.Equal(t, []string{"cell-db"}, installedStrings(status.Installed))
		assert.Equal(t, StateCancelled, exec.State())
	})

	t.Run("cancel is only valid while installing", func(t *testing.T) {
		exec := newTestExecutor(t, chainSource(), &fakeBackend{}, ledger.NewLedger())

		err := exec.Cancel()
		require.Error(t, err)
		var stateErr *InvalidStateError
		assert.ErrorAs(t, err, &stateErr)
	})
}

func TestExecutorProgress(t *testing.T) {
	ctx := context.Background()
	root := registry.MustNewPluginID("battery-analyzer")

	t.Run("reports monotonic step counters", func(t *testing.T) {
		exec := newTestExecutor(t, chainSource(), &fakeBackend{}, ledger.NewLedger())

		var events []Progress
		exec.SetProgressHandler(func(p Progress) {
			events = append(events, p)
		})

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)
		status, err := exec.ConfirmAndInstall(ctx)
		require.NoError(t, err)
		require.True(t, status.Success)

		require.NotEmpty(t, events)
		last := 1
		for _, p := range events {
			assert.Equal(t, 3, p.Total)
			assert.GreaterOrEqual(t, p.Current, 1)
			assert.LessOrEqual(t, p.Current, p.Total)
			assert.GreaterOrEqual(t, p.Current, last, "step counter never goes backwards")
			last = p.Current
			assert.Equal(t, exec.RunID(), p.RunID)
		}

		// Each step walks pending -> downloading -> installing -> completed.
		var statuses []StepStatus
		for _, p := range events {
			if p.Current == 1 {
				statuses = append(statuses, p.Status)
			}
		}
		assert.Equal(t, []StepStatus{StatusPending, StatusDownloading, StatusInstalling, StatusCompleted}, statuses)
	})

	t.Run("failed step reports a failed event and nothing after it", func(t *testing.T) {
		be := &fakeBackend{failInstall: "charge-curves"}
		exec := newTestExecutor(t, chainSource(), be, ledger.NewLedger())

		var events []Progress
		exec.SetProgressHandler(func(p Progress) {
			events = append(events, p)
		})

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)
		_, err = exec.ConfirmAndInstall(ctx)
		require.NoError(t, err)

		lastEvent := events[len(events)-1]
		assert.Equal(t, StatusFailed, lastEvent.Status)
		assert.Equal(t, "charge-curves", lastEvent.Plugin.String())
		assert.Equal(t, 2, lastEvent.Current)
		require.Error(t, lastEvent.Err)
	})
}

func TestExecutorStateGuards(t *testing.T) {
	ctx := context.Background()
	root := registry.MustNewPluginID("battery-analyzer")

	t.Run("confirm requires a held resolution", func(t *testing.T) {
		exec := newTestExecutor(t, chainSource(), &fakeBackend{}, ledger.NewLedger())

		_, err := exec.ConfirmAndInstall(ctx)
		var stateErr *InvalidStateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, StateIdle, stateErr.State)
	})

	t.Run("resolve requires idle", func(t *testing.T) {
		exec := newTestExecutor(t, chainSource(), &fakeBackend{}, ledger.NewLedger())

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)

		_, err = exec.Resolve(ctx, root, registry.Version{})
		var stateErr *InvalidStateError
		require.ErrorAs(t, err, &stateErr)
	})

	t.Run("reset clears the session", func(t *testing.T) {
		exec := newTestExecutor(t, chainSource(), &fakeBackend{}, ledger.NewLedger())

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)
		require.NotNil(t, exec.Result())

		require.NoError(t, exec.Reset())
		assert.Equal(t, StateIdle, exec.State())
		assert.Nil(t, exec.Result())
		assert.NoError(t, exec.LastError())

		// A fresh session starts cleanly after reset.
		_, err = exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)
	})

	t.Run("reset is invalid while idle", func(t *testing.T) {
		exec := newTestExecutor(t, chainSource(), &fakeBackend{}, ledger.NewLedger())

		err := exec.Reset()
		var stateErr *InvalidStateError
		require.ErrorAs(t, err, &stateErr)
	})

	t.Run("rerun after completion reports already installed", func(t *testing.T) {
		led := ledger.NewLedger()
		exec := newTestExecutor(t, chainSource(), &fakeBackend{}, led)

		_, err := exec.Resolve(ctx, root, registry.Version{})
		require.NoError(t, err)
		status, err := exec.ConfirmAndInstall(ctx)
		require.NoError(t, err)
		require.True(t, status.Success)

		require.NoError(t, exec.Reset())
		_, err = exec.Resolve(ctx, root, registry.Version{})
		require.Error(t, err)
		assert.True(t, IsAlreadyInstalled(err))
	})
}

func TestExecutorPersistence(t *testing.T) {
	ctx := context.Background()
	root := registry.MustNewPluginID("battery-analyzer")

	repo := &fakeRepo{}
	exec := newTestExecutor(t, chainSource(), &fakeBackend{}, ledger.NewLedger(),
		WithLedgerRepository(repo, "/tmp/ledger.yaml"))

	_, err := exec.Resolve(ctx, root, registry.Version{})
	require.NoError(t, err)
	status, err := exec.ConfirmAndInstall(ctx)
	require.NoError(t, err)
	require.True(t, status.Success)

	assert.Equal(t, 3, repo.saves, "the ledger is persisted after every committed step")
}

func TestNewExecutorValidation(t *testing.T) {
	builder := resolve.NewGraphBuilder(newFakeSource())

	_, err := NewExecutor(nil, &fakeBackend{}, ledger.NewLedger())
	require.Error(t, err)

	_, err = NewExecutor(builder, nil, ledger.NewLedger())
	require.Error(t, err)

	_, err = NewExecutor(builder, &fakeBackend{}, nil)
	require.Error(t, err)
}
