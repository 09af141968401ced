package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modregistry/regsync/internal/materialize"
	"github.com/modregistry/regsync/internal/propose"
	"github.com/modregistry/regsync/internal/registry"
	"github.com/modregistry/regsync/internal/upstream"
)

func TestClassifyFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{
			name: "nil error",
			err:  nil,
			want: "",
		},
		{
			name: "conflicting version entry",
			err:  &registry.ConflictError{Module: "widget", Version: "1.1.0", Path: "source.json"},
			want: FailureConflict,
		},
		{
			name: "proposal failure",
			err:  fmt.Errorf("%w: pushing branch", propose.ErrProposal),
			want: FailureProposal,
		},
		{
			name: "digest computation failure",
			err:  fmt.Errorf("%w: widget 1.1.0: connection reset", materialize.ErrIntegrity),
			want: FailureIntegrity,
		},
		{
			name: "release without module file",
			err:  fmt.Errorf("%w: widget at tag v1.1.0", materialize.ErrModuleFileMissing),
			want: FailureIntegrity,
		},
		{
			name: "unusable module file",
			err:  fmt.Errorf("%w: no module declaration", materialize.ErrModuleFileInvalid),
			want: FailureIntegrity,
		},
		{
			name: "upstream project gone",
			err:  fmt.Errorf("%w: example/widget", upstream.ErrNotFound),
			want: FailureNotFound,
		},
		{
			name: "module not tracked",
			err:  fmt.Errorf("module ghost: %w", registry.ErrModuleNotFound),
			want: FailureNotFound,
		},
		{
			name: "unusable metadata",
			err:  fmt.Errorf("module widget: %w", registry.ErrInvalidMetadata),
			want: FailureNotFound,
		},
		{
			name: "upstream unreachable",
			err:  fmt.Errorf("%w: listing releases", upstream.ErrUnavailable),
			want: FailureUpstreamUnavailable,
		},
		{
			name: "anything else",
			err:  errors.New("disk full"),
			want: FailureInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ClassifyFailure(tt.err))
		})
	}
}

func TestRunReportHasFailures(t *testing.T) {
	t.Parallel()

	clean := &RunReport{Modules: []ModuleReport{
		{Module: "widget", Status: StatusUpdated},
		{Module: "gadget", Status: StatusUpToDate},
		{Module: "retired", Status: StatusSkipped},
	}}
	assert.False(t, clean.HasFailures())

	partial := &RunReport{Modules: []ModuleReport{
		{Module: "widget", Status: StatusPartiallyFailed},
	}}
	assert.True(t, partial.HasFailures())

	failed := &RunReport{Modules: []ModuleReport{
		{Module: "widget", Status: StatusFailed},
	}}
	assert.True(t, failed.HasFailures())
}

func TestRunReportRender(t *testing.T) {
	t.Parallel()

	report := &RunReport{Modules: []ModuleReport{
		{
			Module:      "widget",
			Status:      StatusUpdated,
			NewVersions: []string{"1.1.0", "2.0.0"},
			Proposal: &propose.Result{
				Module: "widget",
				Branch: "update-widget",
				State:  propose.StateOpen,
				Number: 42,
				URL:    "https://github.com/example/registry/pull/42",
			},
		},
		{
			Module:  "gadget",
			Status:  StatusFailed,
			Failure: FailureUpstreamUnavailable,
			Err:     fmt.Errorf("%w: listing releases", upstream.ErrUnavailable),
		},
		{
			Module:     "retired",
			Status:     StatusSkipped,
			SkipReason: "module is marked obsolete",
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, report.Render(&buf))
	out := buf.String()

	assert.Contains(t, out, "widget")
	assert.Contains(t, out, "updated")
	assert.Contains(t, out, "1.1.0, 2.0.0")
	assert.Contains(t, out, "https://github.com/example/registry/pull/42")
	assert.Contains(t, out, "UpstreamUnavailable")
	assert.Contains(t, out, "module is marked obsolete")
}

func TestRunReportWriteAnnotations(t *testing.T) {
	t.Parallel()

	report := &RunReport{Modules: []ModuleReport{
		{
			Module:      "widget",
			Status:      StatusUpdated,
			NewVersions: []string{"1.1.0"},
			Proposal: &propose.Result{
				Module: "widget",
				URL:    "https://github.com/example/registry/pull/42",
			},
		},
		{
			Module:  "gadget",
			Status:  StatusFailed,
			Failure: FailureUpstreamUnavailable,
			Err:     fmt.Errorf("%w: listing releases", upstream.ErrUnavailable),
		},
		{Module: "quiet", Status: StatusUpToDate},
	}}

	var buf bytes.Buffer
	report.WriteAnnotations(&buf)
	out := buf.String()

	assert.Contains(t, out, "::notice::widget: proposed 1.1.0 (https://github.com/example/registry/pull/42)\n")
	assert.Contains(t, out, "::error::gadget: UpstreamUnavailable: upstream unavailable: listing releases\n")
	assert.NotContains(t, out, "quiet", "up-to-date modules produce no annotation")
}

func TestRunningInGitHubActions(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "true")
	assert.True(t, RunningInGitHubActions())

	require.NoError(t, os.Unsetenv("GITHUB_ACTIONS"))
	assert.False(t, RunningInGitHubActions())
}
