package pk2

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildArchive(t *testing.T, name string, key []byte, setup func(b *Builder)) string {
	t.Helper()
	withTempCWD(t)

	b := NewBuilder()
	require.NoError(t, b.New(name))
	setup(b)
	require.NoError(t, b.Finalize(key))
	return name + ".pk2"
}

func TestReaderOpenRejectsBadHeader(t *testing.T) {
	withTempCWD(t)
	require.NoError(t, os.WriteFile("junk.pk2", make([]byte, 4096), 0o644))

	r := NewReader()
	err := r.Open("junk.pk2")
	require.Error(t, err)
	assert.Equal(t, KindHeaderInvalid, err.(*Error).Kind)
}

func TestReaderOpenRejectsShortFile(t *testing.T) {
	withTempCWD(t)
	require.NoError(t, os.WriteFile("short.pk2", make([]byte, 10), 0o644))

	r := NewReader()
	err := r.Open("short.pk2")
	require.Error(t, err)
	assert.Equal(t, KindHeaderInvalid, err.(*Error).Kind)
}

func TestReaderOperationsRequireOpen(t *testing.T) {
	r := NewReader()
	_, err := r.GetEntry(".", nil)
	require.Error(t, err)
	assert.Equal(t, KindState, err.(*Error).Kind)

	_, err = r.ExtractToMemory(Entry{Type: TypeFile})
	require.Error(t, err)
	assert.Equal(t, KindState, err.(*Error).Kind)
}

func TestReaderGetEntriesRequiresDirectory(t *testing.T) {
	path := buildArchive(t, "typed", nil, func(b *Builder) {
		require.NoError(t, b.AddFile(".", "x.bin", []byte("y")))
	})

	r := NewReader()
	require.NoError(t, r.Open(path))
	defer r.Close()

	file, err := r.GetEntry("x.bin", nil)
	require.NoError(t, err)

	_, err = r.GetEntries(file)
	require.Error(t, err)
	assert.Equal(t, KindTypeMismatch, err.(*Error).Kind)
}

func TestReaderExtractRequiresFile(t *testing.T) {
	path := buildArchive(t, "typed2", nil, func(b *Builder) {
		require.NoError(t, b.AddFolder(".", "dir"))
	})

	r := NewReader()
	require.NoError(t, r.Open(path))
	defer r.Close()

	dir, err := r.GetEntry("dir", nil)
	require.NoError(t, err)

	_, err = r.ExtractToMemory(dir)
	require.Error(t, err)
	assert.Equal(t, KindTypeMismatch, err.(*Error).Kind)
}

func TestReaderCaseInsensitivePathResolution(t *testing.T) {
	path := buildArchive(t, "casing", nil, func(b *Builder) {
		require.NoError(t, b.AddFile("Media/Npc", "Model.bms", []byte("mesh")))
	})

	r := NewReader()
	require.NoError(t, r.Open(path))
	defer r.Close()

	e, err := r.GetEntry(`media\npc\MODEL.BMS`, nil)
	require.NoError(t, err)
	data, err := r.ExtractToMemory(e)
	require.NoError(t, err)
	assert.Equal(t, "mesh", string(data))
}

func TestReaderForwardAndBackSlashEquivalence(t *testing.T) {
	path := buildArchive(t, "slashes", nil, func(b *Builder) {
		require.NoError(t, b.AddFile("a/b/c", "d.txt", []byte("z")))
	})

	r := NewReader()
	require.NoError(t, r.Open(path))
	defer r.Close()

	e1, err := r.GetEntry(`a/b/c/d.txt`, nil)
	require.NoError(t, err)
	e2, err := r.GetEntry(`a\b\c\d.txt`, nil)
	require.NoError(t, err)
	assert.Equal(t, e1.Position, e2.Position)
}

func TestReaderCacheHitsOnRepeatedLookup(t *testing.T) {
	path := buildArchive(t, "cached", nil, func(b *Builder) {
		require.NoError(t, b.AddFile(".", "a.txt", []byte("1")))
	})

	r := NewReader()
	require.NoError(t, r.Open(path))
	defer r.Close()

	assert.Equal(t, 0, r.CacheSize())
	_, err := r.GetEntry("a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, r.CacheSize())

	_, err = r.GetEntry("a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, r.CacheSize(), "second lookup should be a cache hit, not a new entry")

	r.ClearCache()
	assert.Equal(t, 0, r.CacheSize())
}

func TestReaderForEachEntryDoVisitsAllDirectories(t *testing.T) {
	path := buildArchive(t, "walked", nil, func(b *Builder) {
		require.NoError(t, b.AddFile("a", "1.txt", []byte("1")))
		require.NoError(t, b.AddFile("a/b", "2.txt", []byte("2")))
		require.NoError(t, b.AddFile("c", "3.txt", []byte("3")))
	})

	r := NewReader()
	require.NoError(t, r.Open(path))
	defer r.Close()

	seen := map[string]bool{}
	err := r.ForEachEntryDo(func(path string, block [entriesPerBlock]Entry) bool {
		seen[path] = true
		return true
	})
	require.NoError(t, err)

	assert.True(t, seen[""], "root must be visited")
	assert.True(t, seen["a"])
	assert.True(t, seen[`a\b`])
	assert.True(t, seen["c"])
}

func TestReaderForEachEntryDoStopsEarly(t *testing.T) {
	path := buildArchive(t, "stopwalk", nil, func(b *Builder) {
		require.NoError(t, b.AddFile("a", "1.txt", []byte("1")))
		require.NoError(t, b.AddFile("b", "2.txt", []byte("2")))
	})

	r := NewReader()
	require.NoError(t, r.Open(path))
	defer r.Close()

	count := 0
	err := r.ForEachEntryDo(func(path string, block [entriesPerBlock]Entry) bool {
		count++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReaderGetEntryNotFound(t *testing.T) {
	path := buildArchive(t, "missing", nil, func(b *Builder) {
		require.NoError(t, b.AddFile(".", "a.txt", []byte("1")))
	})

	r := NewReader()
	require.NoError(t, r.Open(path))
	defer r.Close()

	_, err := r.GetEntry("nope.txt", nil)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, err.(*Error).Kind)
}

func TestReaderGetEntryRejectsTraversalThroughFile(t *testing.T) {
	path := buildArchive(t, "traversal", nil, func(b *Builder) {
		require.NoError(t, b.AddFile(".", "a.txt", []byte("1")))
	})

	r := NewReader()
	require.NoError(t, r.Open(path))
	defer r.Close()

	_, err := r.GetEntry(`a.txt\b.txt`, nil)
	require.Error(t, err)
	assert.Equal(t, KindInvalidPath, err.(*Error).Kind)
}

func TestBuilderDuplicateFileCollidesWithExistingFolder(t *testing.T) {
	// "A" and "a" collide case-insensitively: the folder is created
	// first, then a *file* named "a" at the same level must fail with
	// duplicate even though the existing entry is itself a directory.
	withTempCWD(t)
	b := NewBuilder()
	require.NoError(t, b.New("collide"))
	require.NoError(t, b.AddFolder(".", "A"))

	err := b.AddFile(".", "a", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, KindDuplicate, err.(*Error).Kind)

	require.NoError(t, b.Discard())
}
