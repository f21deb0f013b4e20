// Package persist keeps the timezone and uptime counters in a fixed-size
// little-endian record laid out like the controller's EEPROM image.
package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic marks an initialized record.
const Magic uint32 = 0xdeadbeef

const (
	// Offset is the byte offset of the record in the image.
	Offset = 10

	// ImageSize is the size of the emulated EEPROM image.
	ImageSize = 512

	// RecordSize is the packed, little-endian size of Record.
	RecordSize = 4 + 4 + 4 + 4 + 2 + 4
)

// ErrShortRecord is returned when fewer than RecordSize bytes are decoded.
var ErrShortRecord = errors.New("persist: short record")

// Record is the persisted layout. Field order is the wire order.
type Record struct {
	Magic                uint32
	UptimeSeconds        uint32 // current session
	UptimeSecondsTotal   uint32 // across all sessions
	PreviousSecondsTotal uint32 // total at the start of this session
	Reboots              uint16
	ZoneID               uint32
}

// Defaults returns a freshly initialized record.
func Defaults(zoneID uint32) Record {
	return Record{Magic: Magic, ZoneID: zoneID}
}

// Valid reports whether the magic marker matches.
func (r Record) Valid() bool {
	return r.Magic == Magic
}

// MarshalBinary encodes the packed record.
func (r Record) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, r); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes the packed record.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return fmt.Errorf("%d bytes: %w", len(b), ErrShortRecord)
	}
	if err := binary.Read(bytes.NewReader(b[:RecordSize]), binary.LittleEndian, r); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}
