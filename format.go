package pk2

import (
	"encoding/binary"
	"time"
)

// Sizes and field widths of the on-disk structures. All multi-byte
// integers are little-endian; the structures are tightly packed with
// no implicit padding, matching PK2Header/PK2Entry in the reference
// implementation's PK2.h.
const (
	headerSize         = 256
	headerNameSize     = 30
	headerVerifySize   = 16
	headerReservedSize = 205

	entrySize       = 128
	entryNameSize   = 81
	entriesPerBlock = 20
	blockSize       = entrySize * entriesPerBlock // 2560

	// archiveAlignment is the padding boundary Finalize rounds the
	// output file up to, required by Silkroad's GfxFileManager loader.
	archiveAlignment = 4096

	// rootOffset is the fixed absolute position of the root directory's
	// first entry block, immediately following the header.
	rootOffset = headerSize
)

// Entry type values, stored in the on-disk type byte.
const (
	TypeEmpty = 0 // unused slot
	TypeDir   = 1 // directory
	TypeFile  = 2 // file
)

// archiveName is the fixed, zero-padded identifier every PK2 header
// must carry.
var archiveName = [headerNameSize]byte{}

func init() {
	copy(archiveName[:], "JoyMax File Manager!\n")
}

// archiveVersion is the only version this package accepts or writes.
const archiveVersion uint32 = 0x01000002

// verifyPlaintext is Blowfish-encoded under the archive's key at Open
// time and Finalize time; the first 3 bytes of the result must match
// header.verify.
var verifyPlaintext = [16]byte{'J', 'o', 'y', 'm', 'a', 'x', ' ', 'P', 'a', 'k', ' ', 'F', 'i', 'l', 'e', 0}

// header is the in-memory form of the 256-byte archive header.
type header struct {
	name       [headerNameSize]byte
	version    uint32
	encryption uint8
	verify     [headerVerifySize]byte
	// reserved is intentionally not modeled; it is always written zero.
}

// marshal encodes h into a freshly allocated headerSize-byte buffer.
func (h *header) marshal() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:headerNameSize], h.name[:])
	binary.LittleEndian.PutUint32(buf[30:34], h.version)
	buf[34] = h.encryption
	copy(buf[35:51], h.verify[:])
	// buf[51:256] stays zero (reserved).
	return buf
}

// unmarshalHeader decodes a headerSize-byte buffer into a header.
func unmarshalHeader(buf []byte) header {
	var h header
	copy(h.name[:], buf[0:headerNameSize])
	h.version = binary.LittleEndian.Uint32(buf[30:34])
	h.encryption = buf[34]
	copy(h.verify[:], buf[35:51])
	return h
}

// valid reports whether h carries the expected name and version.
func (h *header) valid() bool {
	return h.name == archiveName && h.version == archiveVersion
}

// Entry describes a single directory, file, or empty slot: the
// decoded form of a 128-byte PK2Entry record. Position is the absolute
// byte offset of the file's payload (for files) or of the child
// directory's first entry block (for directories). NextChain, when
// nonzero, is the absolute offset of the next entry block belonging to
// the same directory.
type Entry struct {
	Type      uint8
	Name      string
	Position  int64
	Size      uint32
	NextChain int64

	accessTime uint64
	createTime uint64
	modifyTime uint64
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Type == TypeDir }

// IsFile reports whether the entry is a file.
func (e Entry) IsFile() bool { return e.Type == TypeFile }

// AccessTime, CreateTime and ModifyTime convert the entry's raw Win32
// FILETIME fields to time.Time. The zero FILETIME maps to the zero
// time.Time.
func (e Entry) AccessTime() time.Time { return filetimeToTime(e.accessTime) }
func (e Entry) CreateTime() time.Time { return filetimeToTime(e.createTime) }
func (e Entry) ModifyTime() time.Time { return filetimeToTime(e.modifyTime) }

// setTimes stamps all three timestamps to t, used by the builder when
// creating new entries.
func (e *Entry) setTimes(t time.Time) {
	ft := timeToFiletime(t)
	e.accessTime, e.createTime, e.modifyTime = ft, ft, ft
}

// marshalInto encodes e into buf[:entrySize].
func (e *Entry) marshalInto(buf []byte) {
	buf[0] = e.Type
	name, _ := setName(e.Name)
	copy(buf[1:1+entryNameSize], name[:])
	binary.LittleEndian.PutUint64(buf[82:90], e.accessTime)
	binary.LittleEndian.PutUint64(buf[90:98], e.createTime)
	binary.LittleEndian.PutUint64(buf[98:106], e.modifyTime)
	binary.LittleEndian.PutUint64(buf[106:114], uint64(e.Position))
	binary.LittleEndian.PutUint32(buf[114:118], e.Size)
	binary.LittleEndian.PutUint64(buf[118:126], uint64(e.NextChain))
	buf[126] = 0
	buf[127] = 0
}

// unmarshalEntry decodes a entrySize-byte buffer into an Entry.
func unmarshalEntry(buf []byte) Entry {
	var e Entry
	e.Type = buf[0]
	var raw [entryNameSize]byte
	copy(raw[:], buf[1:1+entryNameSize])
	e.Name = nameString(raw)
	e.accessTime = binary.LittleEndian.Uint64(buf[82:90])
	e.createTime = binary.LittleEndian.Uint64(buf[90:98])
	e.modifyTime = binary.LittleEndian.Uint64(buf[98:106])
	e.Position = int64(binary.LittleEndian.Uint64(buf[106:114]))
	e.Size = binary.LittleEndian.Uint32(buf[114:118])
	e.NextChain = int64(binary.LittleEndian.Uint64(buf[118:126]))
	return e
}

// paddingNonZero reports whether the two trailing padding bytes of an
// encoded entry are nonzero. Those bytes are never written by a real
// builder, so any nonzero value there is a cheap, probabilistic signal
// that the entry was mangled in transit; we check it on every decrypt
// rather than only when a caller happens to ask.
func paddingNonZero(buf []byte) bool {
	return buf[126] != 0 || buf[127] != 0
}

// nameString returns the NUL-terminated ASCII name field as a string.
func nameString(raw [entryNameSize]byte) string {
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

// setName copies s into a fixed name field, NUL-terminating and
// zero-padding the remainder. Returns false if s does not fit (81
// bytes including the terminator, i.e. length <= 80).
func setName(s string) ([entryNameSize]byte, bool) {
	var out [entryNameSize]byte
	if len(s) > entryNameSize-1 {
		return out, false
	}
	copy(out[:], s)
	return out, true
}

// asciiLower lower-cases ASCII letters only, matching the reference
// implementation's use of the C locale tolower on entry names.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}
