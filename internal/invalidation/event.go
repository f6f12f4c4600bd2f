// Package invalidation implements the ordered multi-consumer fan-out bus
// ("daisy chain") that carries filesystem invalidation events from the
// watcher to every downstream consumer (the file cache and the reload
// broadcaster), each of which observes every event exactly once and in
// publication order.
package invalidation

import "github.com/google/uuid"

// Kind distinguishes the four invalidation event shapes a watcher can
// report. Created and Modified are carried as distinct kinds but are
// treated identically by every consumer in this package — a filesystem may
// report either for the same write.
type Kind int

const (
	Created Kind = iota
	Modified
	Removed
	Renamed
)

// String renders the kind for log lines and metric labels.
func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is one normalized filesystem change. For Renamed, Path holds the new
// path and OldPath holds the path being replaced; for every other kind,
// OldPath is empty.
type Event struct {
	ID      uuid.UUID
	Kind    Kind
	Path    string
	OldPath string
}

// NewEvent stamps a correlation ID onto a freshly observed change. The ID is
// never part of event equality or cache-key semantics. The only log line that
// includes it is the bus's diagnostic for an obligation dropped without
// Release; the precompiler, cache and broadcaster log lines do not.
func NewEvent(kind Kind, path string) Event {
	return Event{ID: uuid.New(), Kind: kind, Path: path}
}

// NewRenameEvent constructs a Renamed event from old to new.
func NewRenameEvent(oldPath, newPath string) Event {
	return Event{ID: uuid.New(), Kind: Renamed, Path: newPath, OldPath: oldPath}
}
