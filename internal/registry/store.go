package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/modregistry/regsync/internal/logger"
)

const (
	// MetadataFileName is the per-module index file
	MetadataFileName = "metadata.json"

	// SourceFileName is the per-version source descriptor
	SourceFileName = "source.json"

	// ModuleFileName is the per-version build module file
	ModuleFileName = "MODULE.bazel"

	// PatchesDirName holds a version's patch files
	PatchesDirName = "patches"

	// ModulesDirName is the top-level module directory
	ModulesDirName = "modules"

	stagePrefix   = ".stage-"
	lockRetryWait = 100 * time.Millisecond
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// Store defines the operations the synchronization engine performs
// against a registry tree.
type Store interface {
	// ListModuleNames returns the names of all module directories,
	// sorted by the filesystem's directory order.
	ListModuleNames(ctx context.Context) ([]string, error)

	// ListModules loads every module, skipping (and logging) modules
	// whose metadata cannot be parsed.
	ListModules(ctx context.Context) ([]Module, error)

	// GetModule loads and validates a single module's metadata.
	// Returns ErrModuleNotFound when the module does not exist and
	// ErrInvalidMetadata when its metadata cannot be used.
	GetModule(ctx context.Context, name string) (*Module, error)

	// KnownVersions returns the registered versions of a module in
	// metadata order, newest first.
	KnownVersions(ctx context.Context, name string) ([]string, error)

	// WriteVersionEntry durably registers a version entry. Identical
	// re-registration is a no-op; differing content fails with
	// ErrConflict. The entry is never partially visible.
	WriteVersionEntry(ctx context.Context, name string, entry *VersionEntry) error

	// ModuleFiles returns the registry-relative paths and contents of
	// a module's metadata.json plus the files of the given versions.
	ModuleFiles(ctx context.Context, name string, versions []string) (map[string][]byte, error)

	// Root returns the registry tree root directory.
	Root() string
}

// fsStore implements Store on a local directory tree.
type fsStore struct {
	root string

	mu      sync.Mutex
	modLock map[string]*sync.Mutex
}

// NewFileStore opens the registry tree rooted at root. The modules/
// directory must already exist.
func NewFileStore(root string) (Store, error) {
	info, err := os.Stat(filepath.Join(root, ModulesDirName))
	if err != nil {
		return nil, fmt.Errorf("failed to open registry at %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("failed to open registry at %s: modules is not a directory", root)
	}

	return &fsStore{
		root:    root,
		modLock: make(map[string]*sync.Mutex),
	}, nil
}

func (s *fsStore) Root() string {
	return s.root
}

func (s *fsStore) modulesDir() string {
	return filepath.Join(s.root, ModulesDirName)
}

func (s *fsStore) moduleDir(name string) string {
	return filepath.Join(s.modulesDir(), name)
}

func (s *fsStore) metadataPath(name string) string {
	return filepath.Join(s.moduleDir(name), MetadataFileName)
}

func (s *fsStore) versionDir(name, version string) string {
	return filepath.Join(s.moduleDir(name), version)
}

// validateName rejects module names and versions that would escape the
// registry tree when used as path elements.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}

func (s *fsStore) ListModuleNames(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.modulesDir())
	if err != nil {
		return nil, fmt.Errorf("failed to scan modules directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (s *fsStore) ListModules(ctx context.Context) ([]Module, error) {
	names, err := s.ListModuleNames(ctx)
	if err != nil {
		return nil, err
	}

	modules := make([]Module, 0, len(names))
	for _, name := range names {
		mod, err := s.GetModule(ctx, name)
		if err != nil {
			logger.Warnf("Skipping module %s: %v", name, err)
			continue
		}
		modules = append(modules, *mod)
	}
	return modules, nil
}

func (s *fsStore) GetModule(_ context.Context, name string) (*Module, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	meta, err := s.readMetadata(name)
	if err != nil {
		return nil, err
	}
	return &Module{Name: name, Metadata: *meta}, nil
}

func (s *fsStore) KnownVersions(ctx context.Context, name string) ([]string, error) {
	mod, err := s.GetModule(ctx, name)
	if err != nil {
		return nil, err
	}
	return mod.Metadata.Versions, nil
}

func (s *fsStore) WriteVersionEntry(ctx context.Context, name string, entry *VersionEntry) error {
	if err := validateName(name); err != nil {
		return err
	}
	if entry == nil || entry.Version == "" {
		return fmt.Errorf("version entry requires a version")
	}
	if err := validateName(entry.Version); err != nil {
		return fmt.Errorf("invalid version: %w", err)
	}

	unlock, err := s.lockModule(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	// The module must already be tracked; the engine never creates
	// modules.
	meta, err := s.readMetadata(name)
	if err != nil {
		return err
	}

	s.cleanStaleStages(name)

	verDir := s.versionDir(name, entry.Version)
	if _, err := os.Stat(verDir); err == nil {
		same, diffPath, err := s.entryMatches(verDir, entry)
		if err != nil {
			return err
		}
		if !same {
			return &ConflictError{Module: name, Version: entry.Version, Path: diffPath}
		}
		// Identical content already on disk. Commit the metadata in
		// case a previous run stopped between the directory rename and
		// the metadata update.
		return s.commitVersion(name, meta, entry.Version)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat version directory: %w", err)
	}

	if err := s.stageVersionDir(name, entry, verDir); err != nil {
		return err
	}
	return s.commitVersion(name, meta, entry.Version)
}

// entryMatches compares an existing version directory against the entry
// being written. It returns the first differing file when they do not
// match.
func (s *fsStore) entryMatches(verDir string, entry *VersionEntry) (bool, string, error) {
	existingModule, err := os.ReadFile(filepath.Join(verDir, ModuleFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return false, ModuleFileName, nil
		}
		return false, "", fmt.Errorf("failed to read existing %s: %w", ModuleFileName, err)
	}
	if !bytes.Equal(existingModule, entry.ModuleBazel) {
		return false, ModuleFileName, nil
	}

	sourceData, err := os.ReadFile(filepath.Join(verDir, SourceFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return false, SourceFileName, nil
		}
		return false, "", fmt.Errorf("failed to read existing %s: %w", SourceFileName, err)
	}
	var existingSource Source
	if err := json.Unmarshal(sourceData, &existingSource); err != nil {
		return false, SourceFileName, nil
	}
	if !reflect.DeepEqual(existingSource, entry.Source) {
		return false, SourceFileName, nil
	}

	for patchName, content := range entry.Patches {
		existing, err := os.ReadFile(filepath.Join(verDir, PatchesDirName, patchName))
		if err != nil {
			if os.IsNotExist(err) {
				return false, filepath.Join(PatchesDirName, patchName), nil
			}
			return false, "", fmt.Errorf("failed to read existing patch %s: %w", patchName, err)
		}
		if !bytes.Equal(existing, content) {
			return false, filepath.Join(PatchesDirName, patchName), nil
		}
	}

	return true, "", nil
}

// stageVersionDir writes the entry under a temporary directory name and
// renames it into place. The rename makes the whole directory appear at
// once.
func (s *fsStore) stageVersionDir(name string, entry *VersionEntry, verDir string) error {
	stageDir := filepath.Join(s.moduleDir(name),
		fmt.Sprintf("%s%s-%d", stagePrefix, entry.Version, time.Now().UnixNano()))

	if err := os.MkdirAll(stageDir, 0750); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	cleanup := func() {
		_ = os.RemoveAll(stageDir)
	}

	sourceData, err := marshalRegistryJSON(entry.Source)
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to marshal source descriptor: %w", err)
	}
	if err := ValidateSourceBytes(sourceData); err != nil {
		cleanup()
		return err
	}

	if err := os.WriteFile(filepath.Join(stageDir, SourceFileName), sourceData, 0600); err != nil {
		cleanup()
		return fmt.Errorf("failed to write %s: %w", SourceFileName, err)
	}
	if err := os.WriteFile(filepath.Join(stageDir, ModuleFileName), entry.ModuleBazel, 0600); err != nil {
		cleanup()
		return fmt.Errorf("failed to write %s: %w", ModuleFileName, err)
	}

	if len(entry.Patches) > 0 {
		patchesDir := filepath.Join(stageDir, PatchesDirName)
		if err := os.MkdirAll(patchesDir, 0750); err != nil {
			cleanup()
			return fmt.Errorf("failed to create patches directory: %w", err)
		}
		for patchName, content := range entry.Patches {
			if err := validateName(patchName); err != nil {
				cleanup()
				return fmt.Errorf("invalid patch name: %w", err)
			}
			if err := os.WriteFile(filepath.Join(patchesDir, patchName), content, 0600); err != nil {
				cleanup()
				return fmt.Errorf("failed to write patch %s: %w", patchName, err)
			}
		}
	}

	if err := os.Rename(stageDir, verDir); err != nil {
		cleanup()
		return fmt.Errorf("failed to publish version directory: %w", err)
	}
	return nil
}

// commitVersion prepends the version to the module's metadata and
// rewrites metadata.json atomically. It is a no-op when the version is
// already listed.
func (s *fsStore) commitVersion(name string, meta *Metadata, version string) error {
	if meta.HasVersion(version) {
		return nil
	}

	// Prepend so the registration changes a single line of the file.
	meta.Versions = append([]string{version}, meta.Versions...)
	if meta.YankedVersions == nil {
		meta.YankedVersions = map[string]string{}
	}

	data, err := marshalRegistryJSON(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := ValidateMetadataBytes(data); err != nil {
		return err
	}

	metadataPath := s.metadataPath(name)
	tempPath := metadataPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary metadata file: %w", err)
	}
	if err := os.Rename(tempPath, metadataPath); err != nil {
		// Clean up temp file on error
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename metadata file: %w", err)
	}
	return nil
}

func (s *fsStore) ModuleFiles(_ context.Context, name string, versions []string) (map[string][]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	files := make(map[string][]byte)

	metaData, err := os.ReadFile(s.metadataPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	files[ModulesDirName+"/"+name+"/"+MetadataFileName] = metaData

	for _, version := range versions {
		if err := validateName(version); err != nil {
			return nil, fmt.Errorf("invalid version: %w", err)
		}
		verDir := s.versionDir(name, version)
		err := filepath.WalkDir(verDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(s.root, p)
			if err != nil {
				return err
			}
			files[filepath.ToSlash(rel)] = data
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to collect files for version %s: %w", version, err)
		}
	}

	return files, nil
}

// lockModule serializes same-module writes: a mutex for goroutines in
// this process and an advisory file lock for other processes.
func (s *fsStore) lockModule(ctx context.Context, name string) (func(), error) {
	s.mu.Lock()
	m, ok := s.modLock[name]
	if !ok {
		m = &sync.Mutex{}
		s.modLock[name] = m
	}
	s.mu.Unlock()

	m.Lock()

	fileLock := flock.New(s.lockPath(name))
	locked, err := fileLock.TryLockContext(ctx, lockRetryWait)
	if err != nil {
		m.Unlock()
		return nil, fmt.Errorf("failed to lock module %s: %w", name, err)
	}
	if !locked {
		m.Unlock()
		return nil, fmt.Errorf("failed to lock module %s", name)
	}

	return func() {
		_ = fileLock.Unlock()
		m.Unlock()
	}, nil
}

// lockPath keeps lock files out of the registry tree so they can never
// end up in a change proposal.
func (s *fsStore) lockPath(name string) string {
	sum := sha256.Sum256([]byte(s.root))
	return filepath.Join(os.TempDir(), fmt.Sprintf("regsync-%x-%s.lock", sum[:6], name))
}

// cleanStaleStages removes staging directories left behind by crashed
// runs. Only called while holding the module lock.
func (s *fsStore) cleanStaleStages(name string) {
	entries, err := os.ReadDir(s.moduleDir(name))
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), stagePrefix) {
			logger.Debugf("Removing stale staging directory %s", entry.Name())
			_ = os.RemoveAll(filepath.Join(s.moduleDir(name), entry.Name()))
		}
	}
}

func (s *fsStore) readMetadata(name string) (*Metadata, error) {
	data, err := os.ReadFile(s.metadataPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("module %s: %w", name, ErrModuleNotFound)
		}
		return nil, fmt.Errorf("failed to read metadata for %s: %w", name, err)
	}

	if err := ValidateMetadataBytes(data); err != nil {
		return nil, fmt.Errorf("module %s: %w", name, err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("module %s: %w: %v", name, ErrInvalidMetadata, err)
	}
	return &meta, nil
}

// marshalRegistryJSON renders registry documents the way they are
// stored on disk: four-space indentation and a trailing newline.
func marshalRegistryJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
