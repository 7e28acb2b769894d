package pk2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderMarshalRoundTrip(t *testing.T) {
	h := header{
		name:       archiveName,
		version:    archiveVersion,
		encryption: 1,
	}
	copy(h.verify[:3], []byte{0xAA, 0xBB, 0xCC})

	buf := h.marshal()
	require.Len(t, buf, headerSize)

	got := unmarshalHeader(buf)
	assert.Equal(t, h.name, got.name)
	assert.Equal(t, h.version, got.version)
	assert.Equal(t, h.encryption, got.encryption)
	assert.Equal(t, h.verify, got.verify)
	assert.True(t, got.valid())
}

func TestHeaderValidRejectsMismatch(t *testing.T) {
	h := header{name: archiveName, version: archiveVersion}
	assert.True(t, h.valid())

	bad := h
	bad.version = 0x01000001
	assert.False(t, bad.valid())

	bad2 := h
	bad2.name[0] = 'x'
	assert.False(t, bad2.valid())
}

func TestEntryMarshalRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	e := Entry{
		Type:      TypeFile,
		Name:      "quest.txt",
		Position:  123456,
		Size:      42,
		NextChain: 0,
	}
	e.setTimes(now)

	buf := make([]byte, entrySize)
	e.marshalInto(buf)

	got := unmarshalEntry(buf)
	assert.Equal(t, e.Type, got.Type)
	assert.Equal(t, e.Name, got.Name)
	assert.Equal(t, e.Position, got.Position)
	assert.Equal(t, e.Size, got.Size)
	assert.Equal(t, e.NextChain, got.NextChain)
	assert.WithinDuration(t, now, got.ModifyTime(), time.Second)
	assert.False(t, paddingNonZero(buf))
}

func TestEntryZeroTimeRoundTrips(t *testing.T) {
	var e Entry
	buf := make([]byte, entrySize)
	e.marshalInto(buf)
	got := unmarshalEntry(buf)
	assert.True(t, got.ModifyTime().IsZero())
}

func TestSetNameBoundary(t *testing.T) {
	ok80 := make([]byte, 80)
	for i := range ok80 {
		ok80[i] = 'a'
	}
	_, fits := setName(string(ok80))
	assert.True(t, fits, "an 80-byte name must fit in the 81-byte field")

	bad81 := make([]byte, 81)
	for i := range bad81 {
		bad81[i] = 'a'
	}
	_, fits = setName(string(bad81))
	assert.False(t, fits, "an 81-byte name must not fit")
}

func TestAsciiLower(t *testing.T) {
	assert.Equal(t, "data.pk2", asciiLower("DATA.PK2"))
	assert.Equal(t, "mixedcase", asciiLower("MixedCase"))
	assert.Equal(t, "", asciiLower(""))
}

func TestEntryIsDirIsFile(t *testing.T) {
	dir := Entry{Type: TypeDir}
	file := Entry{Type: TypeFile}
	empty := Entry{Type: TypeEmpty}

	assert.True(t, dir.IsDir())
	assert.False(t, dir.IsFile())
	assert.True(t, file.IsFile())
	assert.False(t, file.IsDir())
	assert.False(t, empty.IsDir())
	assert.False(t, empty.IsFile())
}
