package inference

import (
	"github.com/yairfalse/keenstamp/pkg/domain"
)

// CursorMap maps a stream name to the path of its cursor value, outermost field first.
// Every entry has a non-empty path.
type CursorMap map[string][]string

// BuildCursorMap keeps the streams that declare a cursor field.
// When enabled is false the map is empty. Entries with an empty name, an empty path
// or an empty path segment are skipped; for duplicate names the first one wins.
func BuildCursorMap(streams []domain.ConfiguredStream, enabled bool) CursorMap {
	cursors := make(CursorMap)
	if !enabled {
		return cursors
	}

	for _, s := range streams {
		name := s.Stream.Name
		if name == "" || !validPath(s.CursorField) {
			continue
		}
		if _, seen := cursors[name]; seen {
			continue
		}
		cursors[name] = copyPath(s.CursorField)
	}
	return cursors
}

// Clone returns a deep copy
func (m CursorMap) Clone() CursorMap {
	out := make(CursorMap, len(m))
	for stream, path := range m {
		out[stream] = copyPath(path)
	}
	return out
}

func validPath(path []string) bool {
	if len(path) == 0 {
		return false
	}
	for _, field := range path {
		if field == "" {
			return false
		}
	}
	return true
}

func copyPath(path []string) []string {
	out := make([]string, len(path))
	copy(out, path)
	return out
}
