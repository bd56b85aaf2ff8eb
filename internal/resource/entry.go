package resource

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// EntrySize is the packed wire size of one resource entry:
	// type(4) + da(8) + pa(8) + len(4) + flags(4) + name(48).
	EntrySize = 76

	// NameLen is the fixed capacity of the null-padded entry name.
	NameLen = 48
)

// Type identifies the kind of one resource entry.
type Type uint32

const (
	TypeCarveout Type = 0
	TypeDevMem   Type = 1
	TypeDevice   Type = 2
	TypeIRQ      Type = 3
	TypeTrace    Type = 4
	TypeBootAddr Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeCarveout:
		return "carveout"
	case TypeDevMem:
		return "devmem"
	case TypeDevice:
		return "device"
	case TypeIRQ:
		return "irq"
	case TypeTrace:
		return "trace"
	case TypeBootAddr:
		return "bootaddr"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// Allocation reports whether entries of this type require the host to
// allocate a named resource and write the identifier back before boot.
func (t Type) Allocation() bool {
	switch t {
	case TypeCarveout, TypeDevMem, TypeDevice, TypeIRQ:
		return true
	default:
		return false
	}
}

// Entry is one decoded record from a resource section. For allocation
// request types, PA is zero on the wire and is filled in by the
// negotiator; Name correlates the request with the host-side resource.
type Entry struct {
	Type  Type
	DA    uint64
	PA    uint64
	Len   uint32
	Flags uint32
	Name  [NameLen]byte
}

// NameString returns the entry name up to its first NUL byte.
func (e Entry) NameString() string {
	if i := bytes.IndexByte(e.Name[:], 0); i >= 0 {
		return string(e.Name[:i])
	}
	return string(e.Name[:])
}

// NameOf builds a fixed-width entry name. Names longer than NameLen
// are truncated.
func NameOf(s string) [NameLen]byte {
	var name [NameLen]byte
	copy(name[:], s)
	return name
}

// DecodeEntries decodes a packed resource section body. The body must
// be an exact multiple of EntrySize.
func DecodeEntries(b []byte) ([]Entry, error) {
	if len(b)%EntrySize != 0 {
		return nil, fmt.Errorf("resource: section size %d is not a multiple of entry size %d", len(b), EntrySize)
	}
	entries := make([]Entry, 0, len(b)/EntrySize)
	for off := 0; off < len(b); off += EntrySize {
		entries = append(entries, decodeEntry(b[off:off+EntrySize]))
	}
	return entries, nil
}

func decodeEntry(b []byte) Entry {
	var e Entry
	e.Type = Type(binary.LittleEndian.Uint32(b[0:4]))
	e.DA = binary.LittleEndian.Uint64(b[4:12])
	e.PA = binary.LittleEndian.Uint64(b[12:20])
	e.Len = binary.LittleEndian.Uint32(b[20:24])
	e.Flags = binary.LittleEndian.Uint32(b[24:28])
	copy(e.Name[:], b[28:76])
	return e
}

// EncodeEntries is the exact inverse of DecodeEntries.
func EncodeEntries(entries []Entry) []byte {
	buf := make([]byte, 0, len(entries)*EntrySize)
	for _, e := range entries {
		buf = appendEntry(buf, e)
	}
	return buf
}

func appendEntry(buf []byte, e Entry) []byte {
	var rec [EntrySize]byte
	binary.LittleEndian.PutUint32(rec[0:4], uint32(e.Type))
	binary.LittleEndian.PutUint64(rec[4:12], e.DA)
	binary.LittleEndian.PutUint64(rec[12:20], e.PA)
	binary.LittleEndian.PutUint32(rec[20:24], e.Len)
	binary.LittleEndian.PutUint32(rec[24:28], e.Flags)
	copy(rec[28:76], e.Name[:])
	return append(buf, rec[:]...)
}
