// Package install drives the installation of a resolved plugin set through
// an explicit state machine, reporting incremental progress and recording
// each successful install in the ledger.
package install

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/statekit"
	"github.com/google/uuid"

	"github.com/toolbay/toolbay/internal/domain/ledger"
	"github.com/toolbay/toolbay/internal/domain/registry"
	"github.com/toolbay/toolbay/internal/domain/resolve"
	"github.com/toolbay/toolbay/internal/ports"
)

// State represents the executor's current state.
type State string

const (
	// StateIdle means no installation session is active.
	StateIdle State = "idle"
	// StateResolving means the dependency closure is being built.
	StateResolving State = "resolving"
	// StateFailed means resolution failed; the session must be reset.
	StateFailed State = "failed"
	// StateAwaitingConfirmation means a resolution result is held and the
	// caller may confirm installation.
	StateAwaitingConfirmation State = "awaiting_confirmation"
	// StateInstalling means planned steps are being executed sequentially.
	StateInstalling State = "installing"
	// StateCompleted means the run finished, successfully or not.
	StateCompleted State = "completed"
	// StateCancelled means the run was cancelled between steps.
	StateCancelled State = "cancelled"
)

// Event types for the executor state machine.
const (
	EventResolve         = "RESOLVE"
	EventResolved        = "RESOLVED"
	EventResolveFailed   = "RESOLVE_FAILED"
	EventConfirm         = "CONFIRM"
	EventInstallComplete = "INSTALL_COMPLETE"
	EventCancel          = "CANCEL"
	EventReset           = "RESET"
)

// machineContext is the statekit context type. The executor keeps its
// session data on itself, guarded by its own mutex.
type machineContext struct{}

// buildExecutorMachine constructs the installer state machine.
func buildExecutorMachine() (*statekit.Interpreter[machineContext], error) {
	machine, err := statekit.NewMachine[machineContext]("toolbay-installer").
		WithInitial(statekit.StateID(StateIdle)).
		WithContext(machineContext{}).
		State(statekit.StateID(StateIdle)).
		On(EventResolve).Target(statekit.StateID(StateResolving)).Done().
		State(statekit.StateID(StateResolving)).
		On(EventResolved).Target(statekit.StateID(StateAwaitingConfirmation)).
		On(EventResolveFailed).Target(statekit.StateID(StateFailed)).Done().
		State(statekit.StateID(StateAwaitingConfirmation)).
		On(EventConfirm).Target(statekit.StateID(StateInstalling)).
		On(EventReset).Target(statekit.StateID(StateIdle)).Done().
		State(statekit.StateID(StateInstalling)).
		On(EventInstallComplete).Target(statekit.StateID(StateCompleted)).
		On(EventCancel).Target(statekit.StateID(StateCancelled)).Done().
		State(statekit.StateID(StateFailed)).
		On(EventReset).Target(statekit.StateID(StateIdle)).Done().
		State(statekit.StateID(StateCompleted)).
		On(EventReset).Target(statekit.StateID(StateIdle)).Done().
		State(statekit.StateID(StateCancelled)).
		On(EventReset).Target(statekit.StateID(StateIdle)).Done().
		Build()
	if err != nil {
		return nil, err
	}
	return statekit.NewInterpreter(machine), nil
}

// Executor is the installation state machine. It consumes a planned install
// order strictly sequentially: exactly one plugin is in flight at a time,
// and cancellation is cooperative, checked only at step boundaries.
type Executor struct {
	builder *resolve.GraphBuilder
	backend Backend
	ledger  *ledger.Ledger

	repo       ledger.Repository
	ledgerPath string
	logger     ports.Logger

	interp *statekit.Interpreter[machineContext]

	mu            sync.Mutex
	result        *resolve.ResolutionResult
	runID         string
	lastErr       error
	onProgress    func(Progress)
	onStateChange func(from, to State)

	cancelled atomic.Bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLedgerRepository persists the ledger to path after every
// install-state change.
func WithLedgerRepository(repo ledger.Repository, path string) ExecutorOption {
	return func(e *Executor) {
		e.repo = repo
		e.ledgerPath = path
	}
}

// WithLogger sets the executor's logger.
func WithLogger(logger ports.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an Executor with explicit collaborators: the graph
// builder for resolution, the backend for per-step install work, and the
// ledger of installed plugins.
func NewExecutor(builder *resolve.GraphBuilder, backend Backend, led *ledger.Ledger, opts ...ExecutorOption) (*Executor, error) {
	if builder == nil {
		return nil, fmt.Errorf("graph builder is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if led == nil {
		return nil, fmt.Errorf("ledger is required")
	}

	interp, err := buildExecutorMachine()
	if err != nil {
		return nil, fmt.Errorf("failed to build state machine: %w", err)
	}
	interp.Start()

	e := &Executor{
		builder: builder,
		backend: backend,
		ledger:  led,
		interp:  interp,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SetProgressHandler sets the callback invoked for every progress event.
// This is the only surface a presentation layer needs during installation.
func (e *Executor) SetProgressHandler(fn func(Progress)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProgress = fn
}

// SetStateChangeHandler sets the callback invoked on every state change.
func (e *Executor) SetStateChangeHandler(fn func(from, to State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStateChange = fn
}

// State returns the executor's current state.
func (e *Executor) State() State {
	return State(e.interp.State().Value)
}

// Result returns the resolution result held by the current session.
func (e *Executor) Result() *resolve.ResolutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// LastError returns the error that moved the executor into StateFailed or
// ended the last run.
func (e *Executor) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// RunID returns the id of the current or last installation run.
func (e *Executor) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// Resolve builds the dependency closure for id and, on success, moves the
// executor to StateAwaitingConfirmation holding the result. If id is
// already in the ledger it short-circuits to StateFailed without any
// registry call.
func (e *Executor) Resolve(ctx context.Context, id registry.PluginID, version registry.Version) (*resolve.ResolutionResult, error) {
	if state := e.State(); state != StateIdle {
		return nil, &InvalidStateError{Op: "resolve", State: state}
	}
	e.send(EventResolve)

	if e.ledger.Has(id) {
		err := &AlreadyInstalledError{ID: id}
		e.setError(err)
		e.send(EventResolveFailed)
		return nil, err
	}

	result, err := e.builder.Resolve(ctx, id, version)
	if err != nil {
		e.setError(err)
		e.send(EventResolveFailed)
		return nil, err
	}

	e.mu.Lock()
	e.result = result
	e.lastErr = nil
	e.mu.Unlock()

	e.send(EventResolved)
	return result, nil
}

// ConfirmAndInstall executes the planned order one plugin at a time,
// strictly sequentially. It is valid only from StateAwaitingConfirmation
// with a result free of cycles, conflicts, and missing dependencies.
//
// Step failures do not return an error: the run ends in StateCompleted and
// the returned Status reports the failing plugin and what was installed
// before it. No automatic retry, no automatic skip, no rollback.
func (e *Executor) ConfirmAndInstall(ctx context.Context) (Status, error) {
	if state := e.State(); state != StateAwaitingConfirmation {
		return Status{}, &InvalidStateError{Op: "confirm install", State: state}
	}

	e.mu.Lock()
	result := e.result
	e.mu.Unlock()

	if len(result.Cycles) > 0 {
		return Status{}, &CycleError{Cycles: result.Cycles}
	}
	if len(result.Conflicts) > 0 {
		return Status{}, &ConflictError{Conflicts: result.Conflicts}
	}
	if len(result.Missing) > 0 {
		return Status{}, &MissingDependencyError{Missing: result.Missing}
	}

	order := result.InstallOrder
	if order == nil {
		planned, err := resolve.Plan(result)
		if err != nil {
			return Status{}, err
		}
		order = planned
	}

	e.mu.Lock()
	e.runID = uuid.New().String()
	runID := e.runID
	e.mu.Unlock()
	e.cancelled.Store(false)

	e.send(EventConfirm)

	installed := make([]registry.PluginID, 0, len(order))
	total := len(order)

	for i, id := range order {
		// Cancellation is checked only between steps.
		if e.cancelled.Load() || ctx.Err() != nil {
			if e.State() == StateInstalling {
				e.send(EventCancel)
			}
			e.setError(ErrCancelled)
			return Status{
				Success:   false,
				Installed: installed,
				Errors:    []string{ErrCancelled.Error()},
			}, nil
		}

		manifest, ok := result.Manifest(id)
		if !ok {
			return e.failStep(runID, id, i+1, total, installed,
				&BackendRejectedError{ID: id, Reason: "no manifest in resolution result"}), nil
		}

		e.emit(Progress{RunID: runID, Plugin: id, Current: i + 1, Total: total,
			Status: StatusPending, Message: "queued"})

		e.emit(Progress{RunID: runID, Plugin: id, Current: i + 1, Total: total,
			Status: StatusDownloading, Message: fmt.Sprintf("downloading %d bytes", manifest.SizeBytes)})
		data, err := e.backend.Download(ctx, manifest)
		if err != nil {
			return e.failStep(runID, id, i+1, total, installed, err), nil
		}

		e.emit(Progress{RunID: runID, Plugin: id, Current: i + 1, Total: total,
			Status: StatusInstalling, Message: "verifying and registering"})
		if err := e.backend.Install(ctx, manifest, data); err != nil {
			return e.failStep(runID, id, i+1, total, installed, err), nil
		}

		entry := ledger.Entry{
			Manifest:         manifest.Clone(),
			InstalledVersion: manifest.Version,
			InstalledAt:      time.Now(),
			Enabled:          true,
		}
		if err := e.ledger.Add(entry); err != nil {
			return e.failStep(runID, id, i+1, total, installed, err), nil
		}
		if err := e.persistLedger(ctx); err != nil {
			// Keep the durable record authoritative: an entry that could
			// not be persisted is withdrawn and the run fails.
			e.ledger.Remove(id)
			return e.failStep(runID, id, i+1, total, installed, err), nil
		}

		installed = append(installed, id)
		e.emit(Progress{RunID: runID, Plugin: id, Current: i + 1, Total: total,
			Status: StatusCompleted, Message: "installed"})
	}

	// A cancel landing during the final step leaves the machine cancelled
	// even though every step committed; the status must agree with it.
	if e.cancelled.Load() || ctx.Err() != nil {
		if e.State() == StateInstalling {
			e.send(EventCancel)
		}
		e.setError(ErrCancelled)
		return Status{
			Success:   false,
			Installed: installed,
			Errors:    []string{ErrCancelled.Error()},
		}, nil
	}

	e.send(EventInstallComplete)
	e.setError(nil)
	return Status{Success: true, Installed: installed}, nil
}

// Cancel requests cooperative cancellation of the current run. The step in
// flight finishes or fails on its own; no step beyond it is started, and
// plugins already installed remain in the ledger.
func (e *Executor) Cancel() error {
	if state := e.State(); state != StateInstalling {
		return &InvalidStateError{Op: "cancel", State: state}
	}
	e.cancelled.Store(true)
	e.send(EventCancel)
	return nil
}

// Reset returns the executor to StateIdle, discarding the in-memory
// resolution result and progress. Ledger entries are unaffected.
func (e *Executor) Reset() error {
	switch state := e.State(); state {
	case StateFailed, StateCompleted, StateCancelled, StateAwaitingConfirmation:
	default:
		return &InvalidStateError{Op: "reset", State: state}
	}

	e.mu.Lock()
	e.result = nil
	e.lastErr = nil
	e.runID = ""
	e.mu.Unlock()
	e.cancelled.Store(false)

	e.send(EventReset)
	return nil
}

// failStep reports a failed step, halts the run, and returns the terminal
// status. Steps after the failing one never execute.
func (e *Executor) failStep(runID string, id registry.PluginID, current, total int, installed []registry.PluginID, err error) Status {
	e.emit(Progress{RunID: runID, Plugin: id, Current: current, Total: total,
		Status: StatusFailed, Message: "step failed", Err: err})
	e.setError(err)
	if e.State() == StateInstalling {
		e.send(EventInstallComplete)
	}
	return Status{
		Success:   false,
		Installed: installed,
		Errors:    []string{fmt.Sprintf("%s: %v", id, err)},
	}
}

func (e *Executor) persistLedger(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	return e.repo.Save(ctx, e.ledgerPath, e.ledger)
}

func (e *Executor) setError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = err
}

// send drives the state machine and notifies the state-change handler.
func (e *Executor) send(eventType string) {
	from := e.State()
	e.interp.Send(statekit.Event{Type: statekit.EventType(eventType)})
	to := e.State()

	e.mu.Lock()
	handler := e.onStateChange
	logger := e.logger
	e.mu.Unlock()

	if handler != nil && from != to {
		handler(from, to)
	}
	if logger != nil && from != to {
		logger.Debug(context.Background(), "installer state change",
			ports.F("from", string(from)), ports.F("to", string(to)))
	}
}

func (e *Executor) emit(p Progress) {
	e.mu.Lock()
	handler := e.onProgress
	logger := e.logger
	e.mu.Unlock()

	if logger != nil {
		logger.Info(context.Background(), "install progress",
			ports.F("run", p.RunID),
			ports.F("plugin", p.Plugin.String()),
			ports.F("step", fmt.Sprintf("%d/%d", p.Current, p.Total)),
			ports.F("status", string(p.Status)))
	}
	if handler != nil {
		handler(p)
	}
}
