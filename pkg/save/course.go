package save

// Course is a single level unit stored in a save container slot.
type Course struct {
	// Title is the course title as stored in the save.
	Title string

	// Description is the course description.
	Description string

	// Thumbnail holds the raw thumbnail image bytes, if any.
	Thumbnail []byte

	// SMMDBID is the remote catalog identifier embedded in the course
	// once it has been uploaded to or downloaded from the catalog.
	// Empty for purely local courses.
	SMMDBID string

	// Extra carries the raw trailing payload the codec does not
	// interpret. It is preserved byte-for-byte on re-serialization.
	Extra []byte
}

// HasRemoteID reports whether the course is linked to a remote catalog entry.
func (c *Course) HasRemoteID() bool {
	return c != nil && c.SMMDBID != ""
}

// Entry is the content of an occupied save slot. A slot that fails to parse
// individually becomes a corrupted entry rather than aborting the whole
// container load; its raw payload is kept so persisting the container
// round-trips it untouched.
type Entry struct {
	// Course is the parsed course. Nil when the entry is corrupted.
	Course *Course

	// Reason describes why the entry failed to parse. Empty for
	// healthy entries.
	Reason string

	// raw is the original slot payload, retained for corrupted entries.
	raw []byte
}

// Corrupted reports whether the entry failed to parse.
func (e *Entry) Corrupted() bool {
	return e != nil && e.Course == nil
}
