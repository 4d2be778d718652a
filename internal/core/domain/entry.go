package domain

import (
	"encoding/binary"
	"math"
)

// EntrySize is the length of a serialized OSegEntry.
const EntrySize = 10

// OSegEntry records which server owns an object and the object's radius.
// Epoch orders concurrent writes for the same object; 0 means unversioned.
type OSegEntry struct {
	Owner  ServerID `json:"owner"`
	Radius float32  `json:"radius"`
	Epoch  uint16   `json:"epoch"`
}

// NullEntry is the "unknown" entry.
var NullEntry = OSegEntry{}

// IsNull reports whether e carries no owner.
func (e OSegEntry) IsNull() bool {
	return e.Owner == NullServerID && e.Radius == 0
}

// Marshal encodes e into its 10-byte wire form:
// owner (4, big-endian), radius bits (4, big-endian), epoch (2, big-endian).
func (e OSegEntry) Marshal() [EntrySize]byte {
	var b [EntrySize]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(e.Owner))
	binary.BigEndian.PutUint32(b[4:8], math.Float32bits(e.Radius))
	binary.BigEndian.PutUint16(b[8:10], e.Epoch)
	return b
}

// UnmarshalEntry decodes a 10-byte wire form.
func UnmarshalEntry(b []byte) (OSegEntry, error) {
	if len(b) != EntrySize {
		return NullEntry, ErrProtocol.WithDetails("entry length %d, want %d", len(b), EntrySize)
	}
	return OSegEntry{
		Owner:  ServerID(binary.BigEndian.Uint32(b[0:4])),
		Radius: math.Float32frombits(binary.BigEndian.Uint32(b[4:8])),
		Epoch:  binary.BigEndian.Uint16(b[8:10]),
	}, nil
}

// NewerThan reports whether e supersedes old under last-write-wins.
// Epochs compare with 16-bit serial arithmetic; an unversioned entry never
// supersedes a versioned one, and any versioned entry supersedes an
// unversioned one. Equal epochs are not newer.
func (e OSegEntry) NewerThan(old OSegEntry) bool {
	switch {
	case old.Epoch == 0:
		return e.Epoch != 0
	case e.Epoch == 0:
		return false
	}
	return int16(e.Epoch-old.Epoch) > 0
}

// NextEpoch returns the epoch following e, skipping 0.
func NextEpoch(e uint16) uint16 {
	e++
	if e == 0 {
		e = 1
	}
	return e
}

// AcceptWrite reports whether a store holding stored should apply incoming.
// Writes are refused only when the stored entry is strictly newer, so a
// retried write with the same epoch is idempotent.
func AcceptWrite(stored, incoming OSegEntry) bool {
	return !stored.NewerThan(incoming)
}
