package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrModuleNotFound indicates the module directory or its
	// metadata.json does not exist.
	ErrModuleNotFound = errors.New("module not found")

	// ErrInvalidMetadata indicates a metadata.json that could not be
	// parsed or failed schema validation.
	ErrInvalidMetadata = errors.New("invalid module metadata")

	// ErrInvalidSource indicates a source.json that could not be parsed
	// or failed schema validation.
	ErrInvalidSource = errors.New("invalid source descriptor")

	// ErrConflict indicates an attempt to register a version that
	// already exists with different content. Existing entries are never
	// overwritten.
	ErrConflict = errors.New("conflicting version entry")
)

// ConflictError reports which file of an already-registered version
// differs from the content being written.
type ConflictError struct {
	Module  string
	Version string
	// Path is the entry-relative file that differs, e.g. "source.json"
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("module %s version %s is already registered with different content (%s)",
		e.Module, e.Version, e.Path)
}

// Is makes errors.Is(err, ErrConflict) match ConflictError values.
func (*ConflictError) Is(target error) bool {
	return target == ErrConflict
}
