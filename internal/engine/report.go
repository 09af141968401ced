package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/modregistry/regsync/internal/materialize"
	"github.com/modregistry/regsync/internal/propose"
	"github.com/modregistry/regsync/internal/registry"
	"github.com/modregistry/regsync/internal/upstream"
)

// ModuleStatus summarizes one module's outcome within a run.
type ModuleStatus string

const (
	// StatusUpToDate means no missing versions were found upstream.
	StatusUpToDate ModuleStatus = "up-to-date"
	// StatusUpdated means every missing version was registered and,
	// unless the run was dry, proposed.
	StatusUpdated ModuleStatus = "updated"
	// StatusPartiallyFailed means some versions were registered before
	// a failure stopped the module.
	StatusPartiallyFailed ModuleStatus = "partially-failed"
	// StatusFailed means the module made no progress.
	StatusFailed ModuleStatus = "failed"
	// StatusSkipped means the module was excluded before its pipeline
	// ran, e.g. because it is marked obsolete.
	StatusSkipped ModuleStatus = "skipped"
)

// FailureKind classifies a module failure for reporting.
type FailureKind string

const (
	FailureUpstreamUnavailable FailureKind = "UpstreamUnavailable"
	FailureNotFound            FailureKind = "NotFound"
	FailureIntegrity           FailureKind = "IntegrityComputationFailed"
	FailureConflict            FailureKind = "ConflictError"
	FailureProposal            FailureKind = "ProposalCreationFailed"
	FailureInternal            FailureKind = "InternalError"
)

// ClassifyFailure maps a pipeline error onto the failure taxonomy.
// The narrower classes are checked first: a conflict or proposal
// error must not be swallowed by the broader not-found bucket.
func ClassifyFailure(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, registry.ErrConflict):
		return FailureConflict
	case errors.Is(err, propose.ErrProposal):
		return FailureProposal
	case errors.Is(err, materialize.ErrIntegrity),
		errors.Is(err, materialize.ErrModuleFileMissing),
		errors.Is(err, materialize.ErrModuleFileInvalid):
		return FailureIntegrity
	case errors.Is(err, upstream.ErrNotFound),
		errors.Is(err, registry.ErrModuleNotFound),
		errors.Is(err, registry.ErrInvalidMetadata):
		return FailureNotFound
	case errors.Is(err, upstream.ErrUnavailable):
		return FailureUpstreamUnavailable
	default:
		return FailureInternal
	}
}

// ModuleReport is one module's row in the run report.
type ModuleReport struct {
	// Module is the registry module name.
	Module string
	// Status summarizes the outcome.
	Status ModuleStatus
	// SkipReason explains a skipped module.
	SkipReason string
	// NewVersions lists the versions registered by this run, oldest
	// first.
	NewVersions []string
	// Proposal describes the change proposal, when one was made.
	Proposal *propose.Result
	// Failure and Err describe what stopped the module, if anything.
	Failure FailureKind
	Err     error
}

func failedModuleReport(name string, err error) ModuleReport {
	return ModuleReport{
		Module:  name,
		Status:  StatusFailed,
		Failure: ClassifyFailure(err),
		Err:     err,
	}
}

func (m ModuleReport) detail() string {
	switch {
	case m.Err != nil:
		return fmt.Sprintf("%s: %v", m.Failure, m.Err)
	case m.SkipReason != "":
		return m.SkipReason
	}
	return ""
}

// RunReport aggregates every module processed by one run.
type RunReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	// Modules holds one row per module, sorted by name.
	Modules []ModuleReport
}

// HasFailures reports whether any module failed, fully or partially.
func (r *RunReport) HasFailures() bool {
	return r.FailureCount() > 0
}

// FailureCount returns how many modules failed, fully or partially.
func (r *RunReport) FailureCount() int {
	_, _, _, failed := r.counts()
	return failed
}

func (r *RunReport) counts() (updated, upToDate, skipped, failed int) {
	for _, m := range r.Modules {
		switch m.Status {
		case StatusUpdated:
			updated++
		case StatusUpToDate:
			upToDate++
		case StatusSkipped:
			skipped++
		case StatusFailed, StatusPartiallyFailed:
			failed++
		}
	}
	return updated, upToDate, skipped, failed
}

// Render writes the run report as a human-readable table.
func (r *RunReport) Render(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Module", "Status", "New Versions", "Proposal", "Detail")
	for _, m := range r.Modules {
		if err := table.Append([]string{
			m.Module,
			string(m.Status),
			strings.Join(m.NewVersions, ", "),
			proposalCell(m.Proposal),
			m.detail(),
		}); err != nil {
			return fmt.Errorf("failed to render report: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

func proposalCell(p *propose.Result) string {
	if p == nil {
		return ""
	}
	if p.URL != "" {
		return p.URL
	}
	return p.Branch
}

// RunningInGitHubActions reports whether the process runs inside a
// GitHub Actions job, where workflow annotations are understood.
func RunningInGitHubActions() bool {
	_, ok := os.LookupEnv("GITHUB_ACTIONS")
	return ok
}

// WriteAnnotations emits GitHub Actions workflow commands for the
// run's notable outcomes: an error annotation per failed module and a
// notice per proposal made.
func (r *RunReport) WriteAnnotations(w io.Writer) {
	for _, m := range r.Modules {
		switch {
		case m.Err != nil:
			fmt.Fprintf(w, "::error::%s: %s\n", m.Module, annotationText(m.detail()))
		case m.Proposal != nil:
			fmt.Fprintf(w, "::notice::%s: proposed %s (%s)\n",
				m.Module, strings.Join(m.NewVersions, ", "), proposalCell(m.Proposal))
		}
	}
}

// annotationText flattens a message onto one line; workflow commands
// terminate at the first newline.
func annotationText(msg string) string {
	return strings.ReplaceAll(msg, "\n", " ")
}
