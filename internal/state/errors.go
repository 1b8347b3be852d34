package state

import "fmt"

// CorruptKind distinguishes the two ways a present state file can be unusable.
type CorruptKind string

const (
	// CorruptSyntax means the file is not valid JSON.
	CorruptSyntax CorruptKind = "malformed syntax"
	// CorruptSchema means the JSON parsed but does not match the expected
	// structure or fails validation.
	CorruptSchema CorruptKind = "schema mismatch"
)

// CorruptError reports a state file that exists but cannot be loaded.
// Both kinds are fatal to the load; the caller decides whether to halt,
// reset, or continue without persisted state.
type CorruptError struct {
	Path string
	Kind CorruptKind
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("state file %s is corrupt (%s): %v", e.Path, e.Kind, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// PersistError reports an I/O failure while writing the state file:
// permissions, disk full, missing directory.
type PersistError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist state to %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
