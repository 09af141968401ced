// Package verify lints a registry tree for problems the pipeline would
// not notice on its own: metadata that no longer validates, listed
// versions without on-disk entries, orphan version directories and
// module files whose declarations disagree with the registry.
//
// The registry relies on semantic versioning, but build tooling only
// looks at compatibility_level to decide whether two versions are
// interchangeable. Verification therefore insists that every
// registered version declares a compatibility_level matching its major
// component.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/modregistry/regsync/internal/integrity"
	"github.com/modregistry/regsync/internal/materialize"
	"github.com/modregistry/regsync/internal/registry"
	"github.com/modregistry/regsync/internal/versions"
)

// Severity grades a finding.
type Severity string

const (
	// SeverityError findings break the registry's conventions and fail
	// verification.
	SeverityError Severity = "error"

	// SeverityWarning findings are tolerated but worth fixing.
	SeverityWarning Severity = "warning"
)

// Finding is one problem discovered in the registry tree.
type Finding struct {
	Severity Severity
	Module   string

	// Version is empty for module-level findings.
	Version string

	// Path locates the file or directory the finding refers to,
	// relative to the registry root.
	Path string

	Message string
}

// Annotation renders the finding as a GitHub Actions workflow command
// so it shows up inline on the touched file.
func (f Finding) Annotation() string {
	return fmt.Sprintf("::%s file=%s,line=1::%s", f.Severity, f.Path, f.Message)
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s: %s", strings.ToUpper(string(f.Severity)), f.Path, f.Message)
}

// HasErrors reports whether any finding is an error. Warnings alone do
// not fail verification.
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Verify checks every module of the registry tree and returns the
// findings sorted by module, then version. The returned error covers
// only the inability to scan the tree; content problems are findings.
func Verify(ctx context.Context, store registry.Store) ([]Finding, error) {
	names, err := store.ListModuleNames(ctx)
	if err != nil {
		return nil, err
	}

	var findings []Finding
	for _, name := range names {
		findings = append(findings, verifyModule(ctx, store, name)...)
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Module != findings[j].Module {
			return findings[i].Module < findings[j].Module
		}
		return findings[i].Version < findings[j].Version
	})
	return findings, nil
}

func verifyModule(ctx context.Context, store registry.Store, name string) []Finding {
	metadataPath := path.Join(registry.ModulesDirName, name, registry.MetadataFileName)

	mod, err := store.GetModule(ctx, name)
	if err != nil {
		return []Finding{{
			Severity: SeverityError,
			Module:   name,
			Path:     metadataPath,
			Message:  err.Error(),
		}}
	}

	var findings []Finding
	listed := make(map[string]struct{}, len(mod.Metadata.Versions))
	for _, version := range mod.Metadata.Versions {
		listed[version] = struct{}{}
		findings = append(findings, verifyVersion(store.Root(), name, version)...)
	}

	// A version directory nobody references is invisible to consumers;
	// it usually means a registration was reverted in metadata only.
	moduleDir := filepath.Join(store.Root(), registry.ModulesDirName, name)
	entries, err := os.ReadDir(moduleDir)
	if err != nil {
		findings = append(findings, Finding{
			Severity: SeverityError,
			Module:   name,
			Path:     path.Join(registry.ModulesDirName, name),
			Message:  fmt.Sprintf("failed to scan module directory: %v", err),
		})
		return findings
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, ok := listed[entry.Name()]; !ok {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				Module:   name,
				Version:  entry.Name(),
				Path:     path.Join(registry.ModulesDirName, name, entry.Name()),
				Message:  "version directory is not listed in metadata.json",
			})
		}
	}
	return findings
}

func verifyVersion(root, name, version string) []Finding {
	relDir := path.Join(registry.ModulesDirName, name, version)
	verDir := filepath.Join(root, registry.ModulesDirName, name, version)

	if info, err := os.Stat(verDir); err != nil || !info.IsDir() {
		return []Finding{{
			Severity: SeverityError,
			Module:   name,
			Version:  version,
			Path:     relDir,
			Message:  "listed version has no version directory",
		}}
	}

	findings := verifySourceFile(verDir, relDir, name, version)
	findings = append(findings, verifyModuleFile(verDir, relDir, name, version)...)
	return findings
}

// verifySourceFile validates source.json and the patch files it
// references.
func verifySourceFile(verDir, relDir, name, version string) []Finding {
	relPath := path.Join(relDir, registry.SourceFileName)

	data, err := os.ReadFile(filepath.Join(verDir, registry.SourceFileName))
	if err != nil {
		return []Finding{{
			Severity: SeverityError,
			Module:   name,
			Version:  version,
			Path:     relPath,
			Message:  fmt.Sprintf("missing %s", registry.SourceFileName),
		}}
	}
	if err := registry.ValidateSourceBytes(data); err != nil {
		return []Finding{{
			Severity: SeverityError,
			Module:   name,
			Version:  version,
			Path:     relPath,
			Message:  err.Error(),
		}}
	}

	var src registry.Source
	if err := json.Unmarshal(data, &src); err != nil {
		return []Finding{{
			Severity: SeverityError,
			Module:   name,
			Version:  version,
			Path:     relPath,
			Message:  fmt.Sprintf("failed to parse %s: %v", registry.SourceFileName, err),
		}}
	}

	var findings []Finding
	for patchName, want := range src.Patches {
		patchRel := path.Join(relDir, registry.PatchesDirName, patchName)
		content, err := os.ReadFile(filepath.Join(verDir, registry.PatchesDirName, patchName))
		if err != nil {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Module:   name,
				Version:  version,
				Path:     patchRel,
				Message:  fmt.Sprintf("patch listed in %s is missing", registry.SourceFileName),
			})
			continue
		}
		if !strings.HasPrefix(want, integrity.SHA256Prefix) {
			continue
		}
		if got := integrity.SHA256Bytes(content); got != want {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Module:   name,
				Version:  version,
				Path:     patchRel,
				Message:  fmt.Sprintf("patch digest %s does not match %s in %s", got, want, registry.SourceFileName),
			})
		}
	}
	return findings
}

// verifyModuleFile validates MODULE.bazel: it must parse, declare the
// registered version and carry a compatibility_level matching the major
// component. A missing compatibility_level is a warning; a mismatching
// one is an error.
func verifyModuleFile(verDir, relDir, name, version string) []Finding {
	relPath := path.Join(relDir, registry.ModuleFileName)

	content, err := os.ReadFile(filepath.Join(verDir, registry.ModuleFileName))
	if err != nil {
		return []Finding{{
			Severity: SeverityError,
			Module:   name,
			Version:  version,
			Path:     relPath,
			Message:  fmt.Sprintf("missing %s", registry.ModuleFileName),
		}}
	}

	decl, err := materialize.ParseModuleFile(content)
	if err != nil {
		return []Finding{{
			Severity: SeverityError,
			Module:   name,
			Version:  version,
			Path:     relPath,
			Message:  err.Error(),
		}}
	}

	var findings []Finding
	if decl.Version != version {
		findings = append(findings, Finding{
			Severity: SeverityError,
			Module:   name,
			Version:  version,
			Path:     relPath,
			Message:  fmt.Sprintf("%s declares version %q, registry entry is %s", registry.ModuleFileName, decl.Version, version),
		})
	}

	major, ok := versions.Major(version)
	if !ok {
		findings = append(findings, Finding{
			Severity: SeverityError,
			Module:   name,
			Version:  version,
			Path:     relPath,
			Message:  fmt.Sprintf("registered version %q is not a semantic version", version),
		})
		return findings
	}

	switch {
	case !decl.HasCompatibilityLevel:
		findings = append(findings, Finding{
			Severity: SeverityWarning,
			Module:   name,
			Version:  version,
			Path:     relPath,
			Message:  "missing compatibility_level",
		})
	case decl.CompatibilityLevel != int(major):
		findings = append(findings, Finding{
			Severity: SeverityError,
			Module:   name,
			Version:  version,
			Path:     relPath,
			Message: fmt.Sprintf("compatibility_level %d does not match major version %d (from version %s)",
				decl.CompatibilityLevel, major, version),
		})
	}
	return findings
}
