// Package registry implements the on-disk registry store.
//
// A registry is a directory tree in the Bazel registry layout:
//
//	modules/
//	  <name>/
//	    metadata.json
//	    <version>/
//	      MODULE.bazel
//	      source.json
//	      patches/            (optional)
//
// metadata.json is the per-module index: it lists the registered
// versions (newest first) together with the upstream repository and the
// synchronization flags. A version is registered exactly when its
// directory exists and metadata.json lists it. The metadata update is
// the commit point of every write: version directories are staged under
// a temporary name and renamed into place before metadata.json is
// rewritten, so a crash mid-write never leaves a partially visible
// version.
//
// # Write Semantics
//
// Writes are idempotent. Registering a version that already exists with
// identical content is a no-op; differing content fails with
// ErrConflict and never overwrites the existing entry. A per-module
// file lock serializes writers across processes and an in-process mutex
// map serializes goroutines within one.
//
// # Validation
//
// metadata.json and source.json documents are validated against
// embedded JSON Schemas both when read and before they are written.
package registry
