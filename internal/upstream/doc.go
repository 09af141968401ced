// Package upstream talks to the forge hosting the source repositories
// that registry modules track.
//
// The Client is the only place in the engine that performs network
// I/O against the forge. It lists published releases, fetches the
// MODULE.bazel file at a release tag, and computes the integrity
// digest of a release archive by streaming it. All requests share one
// retry policy: transient failures back off exponentially, rate limits
// are honored from the response headers, and missing resources fail
// immediately.
//
// Errors are classified with the package sentinels so callers can map
// them without inspecting status codes: ErrNotFound for repositories
// that do not exist, ErrModuleFileNotFound for tags without a module
// file, and ErrUnavailable for everything transient or auth-related.
package upstream
