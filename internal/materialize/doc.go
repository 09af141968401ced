// Package materialize builds registry version entries from upstream
// releases.
//
// Materializing a release means fetching its MODULE.bazel, digesting
// its source archive, stamping the module declaration when it
// disagrees with the release (recording the stamp as a patch the way
// Bazel registries expect), and writing the assembled entry through
// the registry store. The store's idempotent-write contract makes the
// whole step safe to repeat.
package materialize
