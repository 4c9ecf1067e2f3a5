package install

import "github.com/toolbay/toolbay/internal/domain/registry"

// StepStatus is the per-plugin phase reported during installation.
type StepStatus string

const (
	// StatusPending means the step has been reached but no work started.
	StatusPending StepStatus = "pending"
	// StatusDownloading means the package transfer is in flight.
	StatusDownloading StepStatus = "downloading"
	// StatusInstalling means the backend is verifying and registering.
	StatusInstalling StepStatus = "installing"
	// StatusCompleted means the step finished and the ledger was updated.
	StatusCompleted StepStatus = "completed"
	// StatusFailed means the step failed and no further steps will run.
	StatusFailed StepStatus = "failed"
)

// Progress is one installation progress event. Current counts from 1 to
// Total over the planned order; exactly one plugin is in flight at a time.
type Progress struct {
	RunID   string
	Plugin  registry.PluginID
	Current int
	Total   int
	Status  StepStatus
	Message string
	Err     error
}

// Status is the terminal outcome of one installation run. Installed lists
// the plugins committed to the ledger, in install order, regardless of
// whether the run as a whole succeeded.
type Status struct {
	Success   bool
	Installed []registry.PluginID
	Errors    []string
}
