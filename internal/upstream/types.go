package upstream

import (
	"fmt"
	"strings"
	"time"

	"github.com/modregistry/regsync/internal/versions"
)

const repositoryPrefix = "github:"

// Repo identifies an upstream GitHub project.
type Repo struct {
	Owner string
	Name  string
}

// ParseRepository resolves a module's repository list to its upstream
// project. Registry metadata uses "github:<owner>/<name>" entries; the
// first such entry wins. A list without one is a configuration error
// and wraps ErrNotFound.
func ParseRepository(entries []string) (Repo, error) {
	for _, entry := range entries {
		if !strings.HasPrefix(entry, repositoryPrefix) {
			continue
		}
		rest := strings.TrimPrefix(entry, repositoryPrefix)
		parts := strings.Split(rest, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Repo{}, fmt.Errorf("%w: malformed repository entry %q", ErrNotFound, entry)
		}
		return Repo{Owner: parts[0], Name: parts[1]}, nil
	}
	return Repo{}, fmt.Errorf("%w: no github repository in metadata", ErrNotFound)
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// Release is one upstream-published version as reported by the releases
// listing. Immutable once observed; it is never persisted directly.
type Release struct {
	// Repo is the project the release belongs to
	Repo Repo

	// TagName is the git tag exactly as published, e.g. "v1.2.0"
	TagName string

	// Version is the normalized registry version, e.g. "1.2.0"
	Version string

	// PublishedAt is the upstream-reported publish time; zero when the
	// listing omits it
	PublishedAt time.Time

	// Prerelease and Draft mirror the upstream release flags
	Prerelease bool
	Draft      bool

	// CommitSHA is the release target commit when the listing names one
	CommitSHA string

	// ArchiveURL locates the source archive for the tag
	ArchiveURL string
}

func newRelease(repo Repo, tag string, downloadBaseURL string) Release {
	return Release{
		Repo:       repo,
		TagName:    tag,
		Version:    versions.Normalize(tag),
		ArchiveURL: fmt.Sprintf("%s/%s/%s/archive/refs/tags/%s.tar.gz", downloadBaseURL, repo.Owner, repo.Name, tag),
	}
}
