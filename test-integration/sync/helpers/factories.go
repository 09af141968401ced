package helpers

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onsi/gomega"
)

// ModuleFixture describes one tracked module seeded into a registry
// tree.
type ModuleFixture struct {
	Name         string
	Repository   string   // metadata repository entry, e.g. "github:acme/widget"
	Versions     []string // registered versions, newest first
	PeriodicPull bool
	Obsolete     bool
}

// ReleaseFixture describes one published release of a fake upstream
// repository.
type ReleaseFixture struct {
	Tag         string
	PublishedAt time.Time
	Prerelease  bool
	Draft       bool
	ModuleBazel []byte
	Archive     []byte
}

// PublishedRelease builds a plain release whose MODULE.bazel already
// declares the version the tag names.
func PublishedRelease(module, version string, publishedAt time.Time) ReleaseFixture {
	return ReleaseFixture{
		Tag:         "v" + version,
		PublishedAt: publishedAt,
		ModuleBazel: ModuleBazel(module, version, MajorOf(version)),
		Archive:     Archive(module, version),
	}
}

// ModuleBazel renders a module file declaring the given name, version
// and compatibility level.
func ModuleBazel(name, version string, level int) []byte {
	return fmt.Appendf(nil, "module(\n    name = %q,\n    version = %q,\n    compatibility_level = %d,\n)\n", name, version, level)
}

// Archive returns deterministic stand-in archive bytes for a module
// version.
func Archive(module, version string) []byte {
	return fmt.Appendf(nil, "%s %s source archive\n", module, version)
}

// Digest returns the subresource integrity digest of the given bytes.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256-" + base64.StdEncoding.EncodeToString(sum[:])
}

// MajorOf parses the major component of a semantic version. Fixture
// versions are always well formed.
func MajorOf(version string) int {
	major, err := strconv.Atoi(strings.SplitN(version, ".", 2)[0])
	if err != nil {
		return 0
	}
	return major
}

// metadataDoc mirrors the registry's metadata.json wire format.
type metadataDoc struct {
	Repository     []string          `json:"repository"`
	Versions       []string          `json:"versions"`
	YankedVersions map[string]string `json:"yanked_versions"`
	PeriodicPull   bool              `json:"periodic-pull,omitempty"`
	Obsolete       bool              `json:"obsolete,omitempty"`
}

// MetadataJSON renders a module's metadata.json.
func MetadataJSON(fixture ModuleFixture) []byte {
	doc := metadataDoc{
		Repository:     []string{fixture.Repository},
		Versions:       append([]string{}, fixture.Versions...),
		YankedVersions: map[string]string{},
		PeriodicPull:   fixture.PeriodicPull,
		Obsolete:       fixture.Obsolete,
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return append(data, '\n')
}

// SourceJSON renders a version's source.json, with the integrity digest
// of the fixture archive for that version.
func SourceJSON(owner, repo, version string) []byte {
	return fmt.Appendf(nil, `{
    "integrity": %q,
    "strip_prefix": "%s-%s",
    "url": "https://github.com/%s/%s/archive/refs/tags/v%s.tar.gz"
}
`, Digest(Archive(repo, version)), repo, version, owner, repo, version)
}
