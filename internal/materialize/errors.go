package materialize

import "errors"

var (
	// ErrModuleFileMissing means the release tag has no MODULE.bazel.
	// The version cannot be registered.
	ErrModuleFileMissing = errors.New("release has no MODULE.bazel")

	// ErrModuleFileInvalid means MODULE.bazel exists but has no usable
	// module() declaration.
	ErrModuleFileInvalid = errors.New("MODULE.bazel is not usable")

	// ErrIntegrity means the release archive digest could not be
	// computed.
	ErrIntegrity = errors.New("integrity computation failed")
)
