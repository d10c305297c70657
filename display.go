package smmdbclient

import (
	"github.com/smmdb/smmdb-client/pkg/catalog"
	"github.com/smmdb/smmdb-client/pkg/save"
)

// DisplaySlot is one save slot annotated with catalog metadata, ready
// for a view layer to render. Entry is nil for an empty slot; Meta is
// nil when the slot's course has no remote id or the id is not cached.
type DisplaySlot struct {
	Index int
	Entry *save.Entry
	Meta  *catalog.CourseMetadata
}

// Empty reports whether the slot holds nothing.
func (s DisplaySlot) Empty() bool {
	return s.Entry == nil
}
