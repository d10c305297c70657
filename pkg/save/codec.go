package save

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/smmdb/smmdb-client/pkg/errors"
)

// RawSlot is one slot position as seen by the container codec: either
// empty, or occupied with an opaque course payload.
type RawSlot struct {
	Occupied bool
	Payload  []byte
}

// Codec encodes and decodes the on-disk slot container and the course
// payload inside each occupied slot. The container format itself is owned
// by the save-format layer; the rest of the system consumes it only
// through this contract.
type Codec interface {
	DecodeContainer(data []byte) ([]RawSlot, error)
	EncodeContainer(slots []RawSlot) ([]byte, error)
	DecodeCourse(payload []byte) (*Course, error)
	EncodeCourse(course *Course) ([]byte, error)
}

const (
	containerMagic   = "SMSV"
	containerVersion = uint16(1)

	// maxSlots bounds the slot count read from a container header so a
	// corrupt header cannot trigger a huge allocation.
	maxSlots = 180
)

// BinaryCodec is the default container codec. The layout is length-prefixed
// big-endian binary:
//
//	header:  magic "SMSV" | version u16 | slot count u16
//	slot:    flag u8 (0 empty, 1 occupied) | payload len u32 | payload
//	payload: title u16+bytes | description u16+bytes | remote id u16+bytes |
//	         thumbnail u32+bytes | extra u32+bytes
type BinaryCodec struct{}

// DecodeContainer parses a container file into raw slots.
func (BinaryCodec) DecodeContainer(data []byte) ([]RawSlot, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, 4)
	if _, err := r.Read(magic); err != nil || string(magic) != containerMagic {
		return nil, errors.NewParseError("save container", "", "bad magic", err)
	}

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, errors.NewParseError("save container", "", "truncated header", err)
	}
	if version != containerVersion {
		return nil, errors.NewParseError("save container", "", "unsupported version", nil)
	}

	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, errors.NewParseError("save container", "", "truncated header", err)
	}
	if count == 0 || count > maxSlots {
		return nil, errors.NewParseError("save container", "", "implausible slot count", nil)
	}

	slots := make([]RawSlot, count)
	for i := range slots {
		var flag uint8
		if err := binary.Read(r, binary.BigEndian, &flag); err != nil {
			return nil, errors.NewParseError("save container", "", "truncated slot table", err)
		}
		if flag == 0 {
			continue
		}

		var size uint32
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return nil, errors.NewParseError("save container", "", "truncated slot payload length", err)
		}
		if int(size) > r.Len() {
			return nil, errors.NewParseError("save container", "", "slot payload length exceeds file size", nil)
		}

		payload := make([]byte, size)
		if _, err := r.Read(payload); err != nil {
			return nil, errors.NewParseError("save container", "", "truncated slot payload", err)
		}
		slots[i] = RawSlot{Occupied: true, Payload: payload}
	}

	return slots, nil
}

// EncodeContainer serializes raw slots back into the container file format.
func (BinaryCodec) EncodeContainer(slots []RawSlot) ([]byte, error) {
	if len(slots) == 0 || len(slots) > maxSlots {
		return nil, errors.NewValidationError("slots", len(slots), "implausible slot count")
	}

	var buf bytes.Buffer
	buf.WriteString(containerMagic)
	_ = binary.Write(&buf, binary.BigEndian, containerVersion)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(slots)))

	for _, slot := range slots {
		if !slot.Occupied {
			buf.WriteByte(0)
			continue
		}
		buf.WriteByte(1)
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(slot.Payload)))
		buf.Write(slot.Payload)
	}

	return buf.Bytes(), nil
}

// DecodeCourse parses an occupied slot's payload into a Course.
func (BinaryCodec) DecodeCourse(payload []byte) (*Course, error) {
	r := bytes.NewReader(payload)

	title, err := readString16(r)
	if err != nil {
		return nil, errors.NewParseError("course", "", "truncated title", err)
	}
	description, err := readString16(r)
	if err != nil {
		return nil, errors.NewParseError("course", "", "truncated description", err)
	}
	remoteID, err := readString16(r)
	if err != nil {
		return nil, errors.NewParseError("course", "", "truncated remote id", err)
	}
	thumbnail, err := readBytes32(r)
	if err != nil {
		return nil, errors.NewParseError("course", "", "truncated thumbnail", err)
	}
	extra, err := readBytes32(r)
	if err != nil {
		return nil, errors.NewParseError("course", "", "truncated extra payload", err)
	}

	return &Course{
		Title:       title,
		Description: description,
		SMMDBID:     remoteID,
		Thumbnail:   thumbnail,
		Extra:       extra,
	}, nil
}

// EncodeCourse serializes a Course into a slot payload.
func (BinaryCodec) EncodeCourse(course *Course) ([]byte, error) {
	if course == nil {
		return nil, errors.NewValidationError("course", nil, "course is nil")
	}
	if len(course.Title) > math.MaxUint16 {
		return nil, errors.NewValidationError("title", len(course.Title), "exceeds encodable length")
	}
	if len(course.Description) > math.MaxUint16 {
		return nil, errors.NewValidationError("description", len(course.Description), "exceeds encodable length")
	}
	if len(course.SMMDBID) > math.MaxUint16 {
		return nil, errors.NewValidationError("remote id", len(course.SMMDBID), "exceeds encodable length")
	}
	if uint64(len(course.Thumbnail)) > math.MaxUint32 {
		return nil, errors.NewValidationError("thumbnail", len(course.Thumbnail), "exceeds encodable length")
	}
	if uint64(len(course.Extra)) > math.MaxUint32 {
		return nil, errors.NewValidationError("extra", len(course.Extra), "exceeds encodable length")
	}

	var buf bytes.Buffer
	writeString16(&buf, course.Title)
	writeString16(&buf, course.Description)
	writeString16(&buf, course.SMMDBID)
	writeBytes32(&buf, course.Thumbnail)
	writeBytes32(&buf, course.Extra)
	return buf.Bytes(), nil
}

func readString16(r *bytes.Reader) (string, error) {
	var size uint16
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return "", err
	}
	if int(size) > r.Len() {
		return "", errors.New("length exceeds remaining payload")
	}
	b := make([]byte, size)
	if _, err := r.Read(b); err != nil && size > 0 {
		return "", err
	}
	return string(b), nil
}

func readBytes32(r *bytes.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	if int(size) > r.Len() {
		return nil, errors.New("length exceeds remaining payload")
	}
	if size == 0 {
		return nil, nil
	}
	b := make([]byte, size)
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeString16(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func writeBytes32(buf *bytes.Buffer, b []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
}
