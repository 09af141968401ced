package registry

// Metadata mirrors modules/<name>/metadata.json.
type Metadata struct {
	// Homepage is the module's project page
	Homepage string `json:"homepage,omitempty"`

	// Maintainers lists the registry-side maintainers of the module
	Maintainers []Maintainer `json:"maintainers,omitempty"`

	// Repository identifies the upstream source; entries use the
	// "<host>:<org>/<repo>" form, e.g. "github:example/widget"
	Repository []string `json:"repository,omitempty"`

	// Versions lists registered versions, newest first. New versions
	// are prepended so a registration touches a single line.
	Versions []string `json:"versions"`

	// YankedVersions maps withdrawn versions to the reason they were
	// withdrawn
	YankedVersions map[string]string `json:"yanked_versions"`

	// PeriodicPull opts the module into scheduled synchronization
	PeriodicPull bool `json:"periodic-pull,omitempty"`

	// Obsolete excludes the module from synchronization entirely
	Obsolete bool `json:"obsolete,omitempty"`
}

// HasVersion reports whether version is listed in the metadata.
func (m *Metadata) HasVersion(version string) bool {
	for _, v := range m.Versions {
		if v == version {
			return true
		}
	}
	return false
}

// Maintainer identifies a module maintainer.
type Maintainer struct {
	Email  string `json:"email,omitempty"`
	GitHub string `json:"github,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Source mirrors modules/<name>/<version>/source.json. Integrity values
// use the Subresource Integrity form "sha256-<base64 digest>".
type Source struct {
	// Integrity is the SRI digest of the release archive
	Integrity string `json:"integrity"`

	// StripPrefix is the leading directory of the archive,
	// conventionally "<repo>-<version>"
	StripPrefix string `json:"strip_prefix,omitempty"`

	// URL is the release archive location
	URL string `json:"url"`

	// PatchStrip is the -p level for the patches below
	PatchStrip int `json:"patch_strip,omitempty"`

	// Patches maps patch file names under patches/ to their SRI digests
	Patches map[string]string `json:"patches,omitempty"`
}

// Module is a tracked module: its directory name under modules/ plus
// its parsed metadata.
type Module struct {
	Name     string
	Metadata Metadata
}

// VersionEntry is the materialized content of one registered version:
// everything that lands under modules/<name>/<version>/.
type VersionEntry struct {
	// Version is the normalized version string and directory name
	Version string

	// Source becomes source.json
	Source Source

	// ModuleBazel is the MODULE.bazel content checked into the registry
	ModuleBazel []byte

	// Patches maps patch file names to file contents, written under
	// patches/
	Patches map[string][]byte
}
