// Package reconcile decides what a sync run has to do: which modules
// take part and which upstream releases each of them is missing.
//
// The decision is pure bookkeeping over data already fetched. Network
// I/O stays in the upstream package and writes stay in the registry
// package, so reconciliation is deterministic and cheap to test.
package reconcile

import (
	"sort"

	"github.com/modregistry/regsync/internal/logger"
	"github.com/modregistry/regsync/internal/registry"
	"github.com/modregistry/regsync/internal/upstream"
	"github.com/modregistry/regsync/internal/versions"
)

// Options adjust which upstream releases a diff considers.
type Options struct {
	// IncludePrereleases admits releases flagged as prereleases
	// upstream. The default is to wait for the final release.
	IncludePrereleases bool
}

// Eligible reports whether a module takes part in a run. Obsolete
// modules never sync. Modules not opted into periodic pull sync only
// when named explicitly on the command line. The returned reason is
// empty for eligible modules.
func Eligible(mod registry.Module, explicit bool) (bool, string) {
	if mod.Metadata.Obsolete {
		return false, "module is marked obsolete"
	}
	if !explicit && !mod.Metadata.PeriodicPull {
		return false, "module is not opted into scheduled synchronization"
	}
	return true, ""
}

// Diff returns the upstream releases the registry does not know yet,
// oldest first so older versions are registered before newer ones.
// Draft releases and tags that do not normalize to a valid semantic
// version are skipped, prereleases too unless opted in. When two tags
// normalize to the same version the first one listed wins.
func Diff(module string, known []string, releases []upstream.Release, opts Options) []upstream.Release {
	knownSet := make(map[string]struct{}, len(known))
	for _, v := range known {
		knownSet[versions.Normalize(v)] = struct{}{}
	}

	var pending []upstream.Release
	seen := make(map[string]struct{})
	for _, rel := range releases {
		if rel.Draft {
			continue
		}
		if rel.Prerelease && !opts.IncludePrereleases {
			logger.Debugf("module %s: skipping prerelease %s", module, rel.TagName)
			continue
		}
		if !versions.IsValid(rel.Version) {
			logger.Warnf("module %s: tag %q is not a semantic version, skipping", module, rel.TagName)
			continue
		}
		if _, ok := knownSet[rel.Version]; ok {
			continue
		}
		if _, ok := seen[rel.Version]; ok {
			logger.Warnf("module %s: tag %q duplicates already seen version %s, skipping", module, rel.TagName, rel.Version)
			continue
		}
		seen[rel.Version] = struct{}{}
		pending = append(pending, rel)
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return versions.IsNewerVersion(pending[j].Version, pending[i].Version)
	})
	return pending
}
