package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const widgetMetadata = `{
    "homepage": "https://example.com/widget",
    "repository": [
        "github:example/widget"
    ],
    "versions": [
        "1.0.0"
    ],
    "yanked_versions": {},
    "periodic-pull": true
}
`

func newTestStore(t *testing.T) (Store, string) {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ModulesDirName), 0750))

	store, err := NewFileStore(root)
	require.NoError(t, err)
	return store, root
}

func seedModule(t *testing.T, root, name, metadata string) {
	t.Helper()

	dir := filepath.Join(root, ModulesDirName, name)
	require.NoError(t, os.MkdirAll(dir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFileName), []byte(metadata), 0600))
}

func testEntry(version string) *VersionEntry {
	return &VersionEntry{
		Version: version,
		Source: Source{
			Integrity:   "sha256-47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=",
			StripPrefix: "widget-" + version,
			URL:         "https://github.com/example/widget/archive/refs/tags/v" + version + ".tar.gz",
		},
		ModuleBazel: []byte("module(\n    name = \"widget\",\n    version = \"" + version + "\",\n)\n"),
	}
}

func TestNewFileStoreRequiresModulesDir(t *testing.T) {
	t.Parallel()

	_, err := NewFileStore(t.TempDir())
	assert.Error(t, err)
}

func TestWriteVersionEntry(t *testing.T) {
	t.Parallel()

	store, root := newTestStore(t)
	seedModule(t, root, "widget", widgetMetadata)

	entry := testEntry("1.1.0")
	entry.Source.PatchStrip = 1
	entry.Source.Patches = map[string]string{
		"module_dot_bazel_version.patch": "sha256-47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=",
	}
	entry.Patches = map[string][]byte{
		"module_dot_bazel_version.patch": []byte("--- a/MODULE.bazel\n+++ b/MODULE.bazel\n"),
	}

	require.NoError(t, store.WriteVersionEntry(t.Context(), "widget", entry))

	verDir := filepath.Join(root, ModulesDirName, "widget", "1.1.0")
	moduleBazel, err := os.ReadFile(filepath.Join(verDir, ModuleFileName))
	require.NoError(t, err)
	assert.Equal(t, entry.ModuleBazel, moduleBazel)

	sourceData, err := os.ReadFile(filepath.Join(verDir, SourceFileName))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(sourceData), "\n"), "source.json should end with a newline")
	assert.Contains(t, string(sourceData), "    \"integrity\"")

	var src Source
	require.NoError(t, json.Unmarshal(sourceData, &src))
	assert.Equal(t, entry.Source, src)

	patch, err := os.ReadFile(filepath.Join(verDir, PatchesDirName, "module_dot_bazel_version.patch"))
	require.NoError(t, err)
	assert.Equal(t, entry.Patches["module_dot_bazel_version.patch"], patch)

	versions, err := store.KnownVersions(t.Context(), "widget")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0", "1.0.0"}, versions, "new version should be prepended")
}

func TestWriteVersionEntryIdempotent(t *testing.T) {
	t.Parallel()

	store, root := newTestStore(t)
	seedModule(t, root, "widget", widgetMetadata)

	entry := testEntry("1.1.0")
	require.NoError(t, store.WriteVersionEntry(t.Context(), "widget", entry))

	metadataBefore, err := os.ReadFile(filepath.Join(root, ModulesDirName, "widget", MetadataFileName))
	require.NoError(t, err)

	// Byte-identical re-registration is a no-op.
	require.NoError(t, store.WriteVersionEntry(t.Context(), "widget", testEntry("1.1.0")))

	metadataAfter, err := os.ReadFile(filepath.Join(root, ModulesDirName, "widget", MetadataFileName))
	require.NoError(t, err)
	assert.Equal(t, metadataBefore, metadataAfter)

	versions, err := store.KnownVersions(t.Context(), "widget")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0", "1.0.0"}, versions)
}

func TestWriteVersionEntryConflict(t *testing.T) {
	t.Parallel()

	store, root := newTestStore(t)
	seedModule(t, root, "widget", widgetMetadata)

	entry := testEntry("1.1.0")
	require.NoError(t, store.WriteVersionEntry(t.Context(), "widget", entry))

	differing := testEntry("1.1.0")
	differing.ModuleBazel = []byte("module(\n    name = \"widget\",\n    version = \"9.9.9\",\n)\n")

	err := store.WriteVersionEntry(t.Context(), "widget", differing)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "widget", conflict.Module)
	assert.Equal(t, "1.1.0", conflict.Version)
	assert.Equal(t, ModuleFileName, conflict.Path)

	// The original entry must be untouched.
	data, err := os.ReadFile(filepath.Join(root, ModulesDirName, "widget", "1.1.0", ModuleFileName))
	require.NoError(t, err)
	assert.Equal(t, entry.ModuleBazel, data)
}

func TestWriteVersionEntryUnknownModule(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	err := store.WriteVersionEntry(t.Context(), "ghost", testEntry("1.0.0"))
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestWriteVersionEntryRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, root := newTestStore(t)
	seedModule(t, root, "widget", widgetMetadata)

	entry := testEntry("1.1.0")
	entry.Version = "../escape"
	assert.Error(t, store.WriteVersionEntry(t.Context(), "widget", entry))

	assert.Error(t, store.WriteVersionEntry(t.Context(), "../widget", testEntry("1.1.0")))
}

func TestWriteVersionEntryCompletesInterruptedWrite(t *testing.T) {
	t.Parallel()

	store, root := newTestStore(t)
	seedModule(t, root, "widget", widgetMetadata)

	entry := testEntry("1.1.0")
	require.NoError(t, store.WriteVersionEntry(t.Context(), "widget", entry))

	// Simulate a crash between the directory rename and the metadata
	// update by restoring the old metadata.
	metadataPath := filepath.Join(root, ModulesDirName, "widget", MetadataFileName)
	require.NoError(t, os.WriteFile(metadataPath, []byte(widgetMetadata), 0600))

	require.NoError(t, store.WriteVersionEntry(t.Context(), "widget", testEntry("1.1.0")))

	versions, err := store.KnownVersions(t.Context(), "widget")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0", "1.0.0"}, versions)
}

func TestWriteVersionEntryCleansStaleStages(t *testing.T) {
	t.Parallel()

	store, root := newTestStore(t)
	seedModule(t, root, "widget", widgetMetadata)

	staleDir := filepath.Join(root, ModulesDirName, "widget", ".stage-1.1.0-12345")
	require.NoError(t, os.MkdirAll(staleDir, 0750))

	require.NoError(t, store.WriteVersionEntry(t.Context(), "widget", testEntry("1.1.0")))

	_, err := os.Stat(staleDir)
	assert.True(t, os.IsNotExist(err), "stale staging directory should be removed")
}

func TestGetModule(t *testing.T) {
	t.Parallel()

	store, root := newTestStore(t)
	seedModule(t, root, "widget", widgetMetadata)

	mod, err := store.GetModule(t.Context(), "widget")
	require.NoError(t, err)
	assert.Equal(t, "widget", mod.Name)
	assert.Equal(t, []string{"github:example/widget"}, mod.Metadata.Repository)
	assert.True(t, mod.Metadata.PeriodicPull)
	assert.False(t, mod.Metadata.Obsolete)

	_, err = store.GetModule(t.Context(), "ghost")
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestGetModuleInvalidMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		metadata string
	}{
		{name: "not_json", metadata: "not json at all"},
		{name: "schema_violation", metadata: `{"versions": "1.0.0"}`},
		{name: "missing_versions", metadata: `{"homepage": "https://example.com"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, root := newTestStore(t)
			seedModule(t, root, "widget", tt.metadata)

			_, err := store.GetModule(t.Context(), "widget")
			assert.ErrorIs(t, err, ErrInvalidMetadata)
		})
	}
}

func TestListModuleNames(t *testing.T) {
	t.Parallel()

	store, root := newTestStore(t)
	seedModule(t, root, "widget", widgetMetadata)
	seedModule(t, root, "gadget", widgetMetadata)

	// Hidden directories and stray files are not modules.
	require.NoError(t, os.MkdirAll(filepath.Join(root, ModulesDirName, ".hidden"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(root, ModulesDirName, "README.md"), []byte("x"), 0600))

	names, err := store.ListModuleNames(t.Context())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"widget", "gadget"}, names)
}

func TestListModulesSkipsInvalid(t *testing.T) {
	t.Parallel()

	store, root := newTestStore(t)
	seedModule(t, root, "widget", widgetMetadata)
	seedModule(t, root, "broken", "{")

	modules, err := store.ListModules(t.Context())
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, "widget", modules[0].Name)
}

func TestModuleFiles(t *testing.T) {
	t.Parallel()

	store, root := newTestStore(t)
	seedModule(t, root, "widget", widgetMetadata)

	entry := testEntry("1.1.0")
	entry.Source.PatchStrip = 1
	entry.Source.Patches = map[string]string{
		"module_dot_bazel_version.patch": "sha256-47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=",
	}
	entry.Patches = map[string][]byte{
		"module_dot_bazel_version.patch": []byte("--- a/MODULE.bazel\n+++ b/MODULE.bazel\n"),
	}
	require.NoError(t, store.WriteVersionEntry(t.Context(), "widget", entry))

	files, err := store.ModuleFiles(t.Context(), "widget", []string{"1.1.0"})
	require.NoError(t, err)

	wantPaths := []string{
		"modules/widget/metadata.json",
		"modules/widget/1.1.0/MODULE.bazel",
		"modules/widget/1.1.0/source.json",
		"modules/widget/1.1.0/patches/module_dot_bazel_version.patch",
	}
	gotPaths := make([]string, 0, len(files))
	for p := range files {
		gotPaths = append(gotPaths, p)
	}
	assert.ElementsMatch(t, wantPaths, gotPaths)
	assert.Equal(t, entry.ModuleBazel, files["modules/widget/1.1.0/MODULE.bazel"])
}
