// Package versions contains primitives for handling release versions:
// normalizing upstream tags into registry version strings and ordering
// version strings for reconciliation.
package versions

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Normalize canonicalizes an upstream tag into the version string used
// throughout the registry. Case differences and a conventional leading
// "v" are folded away, so "v1.2.3", "V1.2.3" and "1.2.3" all normalize
// to "1.2.3". Version equality everywhere is exact string equality of
// normalized values.
func Normalize(tag string) string {
	v := strings.ToLower(strings.TrimSpace(tag))
	return strings.TrimPrefix(v, "v")
}

// IsValid reports whether version parses as a semantic version.
func IsValid(version string) bool {
	_, err := semver.NewVersion(version)
	return err == nil
}

// Major returns the major component of a semantic version, or false
// when the version does not parse.
func Major(version string) (uint64, bool) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return 0, false
	}
	return v.Major(), true
}

// IsNewerVersion reports whether newVersion is strictly greater than oldVersion.
// It uses semantic versioning for comparison when both strings are valid semver,
// and falls back to lexicographic string comparison otherwise.
func IsNewerVersion(newVersion, oldVersion string) bool {
	newSemver, errNew := semver.NewVersion(newVersion)
	oldSemver, errOld := semver.NewVersion(oldVersion)

	if errNew != nil || errOld != nil {
		// Fallback to string comparison if semver parsing fails
		return newVersion > oldVersion
	}

	return newSemver.GreaterThan(oldSemver)
}

// SortAscending orders version strings in place, oldest first.
func SortAscending(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return IsNewerVersion(versions[j], versions[i])
	})
}
