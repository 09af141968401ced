package materialize

//go:generate mockgen -destination=mocks/mock_materializer.go -package=mocks -source=materialize.go Materializer

import (
	"context"
	"errors"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/modregistry/regsync/internal/integrity"
	"github.com/modregistry/regsync/internal/logger"
	"github.com/modregistry/regsync/internal/registry"
	"github.com/modregistry/regsync/internal/upstream"
	"github.com/modregistry/regsync/internal/versions"
)

// versionPatchName is the registry-conventional name of the patch that
// stamps version and compatibility_level.
const versionPatchName = "module_dot_bazel_version.patch"

// Materializer turns one upstream release into a durable registry
// version entry.
type Materializer interface {
	// Materialize fetches the release's MODULE.bazel and archive
	// digest, assembles the version entry (stamping the module file
	// when its declaration disagrees with the release), and registers
	// it through the store. The returned entry is the registered
	// content even when an identical entry already existed.
	Materialize(ctx context.Context, mod registry.Module, rel upstream.Release) (*registry.VersionEntry, error)
}

type defaultMaterializer struct {
	upstream upstream.Client
	store    registry.Store
}

// NewDefaultMaterializer creates a Materializer backed by the given
// upstream client and registry store.
func NewDefaultMaterializer(client upstream.Client, store registry.Store) Materializer {
	return &defaultMaterializer{
		upstream: client,
		store:    store,
	}
}

func (m *defaultMaterializer) Materialize(ctx context.Context, mod registry.Module, rel upstream.Release) (*registry.VersionEntry, error) {
	moduleFile, err := m.upstream.ModuleFile(ctx, rel.Repo, rel.TagName)
	if err != nil {
		if errors.Is(err, upstream.ErrModuleFileNotFound) {
			return nil, fmt.Errorf("%w: %s at tag %s", ErrModuleFileMissing, mod.Name, rel.TagName)
		}
		return nil, fmt.Errorf("failed to fetch MODULE.bazel for %s %s: %w", mod.Name, rel.Version, err)
	}

	digest, err := m.upstream.ArchiveDigest(ctx, rel.ArchiveURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrIntegrity, mod.Name, rel.Version, err)
	}

	entry, err := buildEntry(mod.Name, rel, moduleFile, digest)
	if err != nil {
		return nil, err
	}

	if err := m.store.WriteVersionEntry(ctx, mod.Name, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// buildEntry assembles the on-disk content for one release: the module
// file (stamped when needed), the source descriptor, and the version
// patch recording the stamp.
func buildEntry(module string, rel upstream.Release, moduleFile []byte, archiveDigest string) (*registry.VersionEntry, error) {
	major, ok := versions.Major(rel.Version)
	if !ok {
		return nil, fmt.Errorf("%w: release version %q is not semantic", ErrModuleFileInvalid, rel.Version)
	}

	decl, err := ParseModuleFile(moduleFile)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", module, rel.Version, err)
	}

	stamped, changed, err := StampModuleFile(moduleFile, rel.Version, int(major))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", module, rel.Version, err)
	}

	entry := &registry.VersionEntry{
		Version:     rel.Version,
		ModuleBazel: stamped,
		Source: registry.Source{
			Integrity:   archiveDigest,
			StripPrefix: fmt.Sprintf("%s-%s", rel.Repo.Name, rel.Version),
			URL:         rel.ArchiveURL,
		},
	}

	if changed {
		logger.Infof("module %s: MODULE.bazel at %s declares version=%q compatibility_level=%d, stamping %s/%d",
			module, rel.TagName, decl.Version, decl.CompatibilityLevel, rel.Version, major)
		patch, err := versionPatch(moduleFile, stamped)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", module, rel.Version, err)
		}
		entry.Patches = map[string][]byte{versionPatchName: patch}
		entry.Source.PatchStrip = 1
		entry.Source.Patches = map[string]string{versionPatchName: integrity.SHA256Bytes(patch)}
	}

	return entry, nil
}

// versionPatch renders the stamp as a unified diff applying to the
// upstream archive with -p1.
func versionPatch(original, stamped []byte) ([]byte, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(original)),
		B:        difflib.SplitLines(string(stamped)),
		FromFile: "a/" + moduleFileName,
		ToFile:   "b/" + moduleFileName,
		Context:  3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render version patch: %w", err)
	}
	return []byte(text), nil
}
