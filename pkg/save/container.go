// Package save owns the on-disk save container holding an ordered
// collection of course slots. It exposes slot-level mutation with
// validation and persists the container back to its source path as part
// of every mutating operation.
package save

import (
	"os"
	"path/filepath"

	"github.com/smmdb/smmdb-client/pkg/errors"
	"github.com/smmdb/smmdb-client/pkg/logging"
)

// DefaultCapacity is the slot count used when creating a fresh container.
const DefaultCapacity = 60

// filePermissions for written container files.
const filePermissions = 0o644

// Container is the in-memory representation of one save's ordered course
// slots. Slot count is fixed at open time; indices are stable. A nil entry
// is an empty slot.
//
// Every mutator persists the container to disk before returning. If the
// disk write fails the in-memory mutation is NOT rolled back: the caller
// must surface the I/O failure and may retry Persist, not re-apply the
// mutation.
type Container struct {
	path  string
	codec Codec
	slots []*Entry
}

// Option configures a Container.
type Option func(*Container)

// WithCodec overrides the container codec.
func WithCodec(codec Codec) Option {
	return func(c *Container) {
		c.codec = codec
	}
}

// Open parses the save container at path. A slot whose course payload
// fails to parse individually becomes a corrupted entry rather than
// aborting the whole load.
func Open(path string, opts ...Option) (*Container, error) {
	c := &Container{
		path:  path,
		codec: BinaryCodec{},
	}
	for _, opt := range opts {
		opt(c)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("open", path, err)
	}

	raw, err := c.codec.DecodeContainer(data)
	if err != nil {
		return nil, err
	}

	c.slots = make([]*Entry, len(raw))
	corrupted := 0
	for i, slot := range raw {
		if !slot.Occupied {
			continue
		}
		course, err := c.codec.DecodeCourse(slot.Payload)
		if err != nil {
			corrupted++
			c.slots[i] = &Entry{Reason: err.Error(), raw: slot.Payload}
			continue
		}
		c.slots[i] = &Entry{Course: course}
	}

	logging.Debug().
		Str("path", path).
		Int("slots", len(c.slots)).
		Int("occupied", c.Occupied()).
		Int("corrupted", corrupted).
		Msg("save container opened")

	return c, nil
}

// Create writes a fresh container with capacity empty slots and opens it.
func Create(path string, capacity int, opts ...Option) (*Container, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	c := &Container{
		path:  path,
		codec: BinaryCodec{},
		slots: make([]*Entry, capacity),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.Persist(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the backing file path.
func (c *Container) Path() string {
	return c.path
}

// Len returns the fixed slot count.
func (c *Container) Len() int {
	return len(c.slots)
}

// Occupied returns the number of non-empty slots.
func (c *Container) Occupied() int {
	n := 0
	for _, e := range c.slots {
		if e != nil {
			n++
		}
	}
	return n
}

// Slot returns the entry at index, nil for an empty slot.
func (c *Container) Slot(index int) (*Entry, error) {
	if err := c.checkIndex("read", index); err != nil {
		return nil, err
	}
	return c.slots[index], nil
}

// Slots returns a copy of the slot sequence. Entries are shared, the
// sequence itself is not.
func (c *Container) Slots() []*Entry {
	out := make([]*Entry, len(c.slots))
	copy(out, c.slots)
	return out
}

// Swap exchanges the contents of two slots and persists the container.
// Fails if the indices are equal or either is out of bounds; the container
// is left unchanged on validation failure.
func (c *Container) Swap(i, j int) error {
	if err := c.checkIndex("swap", i); err != nil {
		return err
	}
	if err := c.checkIndex("swap", j); err != nil {
		return err
	}
	if i == j {
		return errors.NewSlotError("swap", i, "cannot swap slot with itself")
	}

	c.slots[i], c.slots[j] = c.slots[j], c.slots[i]
	return c.Persist()
}

// Add places a course into an empty slot and persists the container.
// Call sites confirm emptiness first, but the operation re-validates.
func (c *Container) Add(index int, course *Course) error {
	if err := c.checkIndex("add", index); err != nil {
		return err
	}
	if course == nil {
		return errors.NewValidationError("course", nil, "course is nil")
	}
	if c.slots[index] != nil {
		return errors.NewSlotError("add", index, "slot occupied")
	}

	c.slots[index] = &Entry{Course: course}
	return c.Persist()
}

// Remove empties a slot and persists the container. Emptying an
// already-empty slot is a no-op success, keeping the operation idempotent.
// Other slots keep their indices; remove never shifts.
func (c *Container) Remove(index int) error {
	if err := c.checkIndex("remove", index); err != nil {
		return err
	}
	if c.slots[index] == nil {
		return nil
	}

	c.slots[index] = nil
	return c.Persist()
}

// Persist serializes the full container and writes it back to its source
// path. Written atomically via a temp file in the same directory.
func (c *Container) Persist() error {
	raw := make([]RawSlot, len(c.slots))
	for i, entry := range c.slots {
		if entry == nil {
			continue
		}
		if entry.Corrupted() {
			// Round-trip corrupted slots untouched.
			raw[i] = RawSlot{Occupied: true, Payload: entry.raw}
			continue
		}
		payload, err := c.codec.EncodeCourse(entry.Course)
		if err != nil {
			return err
		}
		raw[i] = RawSlot{Occupied: true, Payload: payload}
	}

	data, err := c.codec.EncodeContainer(raw)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".save_*")
	if err != nil {
		return errors.WrapIO("create", c.path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.WrapIO("write", c.path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.WrapIO("close", c.path, err)
	}
	if err := os.Chmod(tmpPath, filePermissions); err != nil {
		_ = os.Remove(tmpPath)
		return errors.WrapIO("write", c.path, err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.WrapIO("write", c.path, err)
	}

	return nil
}

// EmbeddedRemoteIDs collects the remote catalog ids of all non-empty,
// healthy slots. Used to seed a batch metadata fetch after load.
func (c *Container) EmbeddedRemoteIDs() []string {
	var ids []string
	for _, entry := range c.slots {
		if entry == nil || entry.Corrupted() {
			continue
		}
		if entry.Course.HasRemoteID() {
			ids = append(ids, entry.Course.SMMDBID)
		}
	}
	return ids
}

func (c *Container) checkIndex(op string, index int) error {
	if index < 0 || index >= len(c.slots) {
		return errors.NewSlotError(op, index, "index out of range")
	}
	return nil
}
