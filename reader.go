package pk2

import (
	"log/slog"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// ReaderOption configures a Reader at construction time.
type ReaderOption func(*Reader)

// WithLogger attaches a structured logger that receives debug records
// for archive opens, verify-byte mismatches and cache hits. A nil
// logger is treated as slog.Default().
func WithLogger(logger *slog.Logger) ReaderOption {
	return func(r *Reader) {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
	}
}

// Reader memory-maps a PK2 archive and answers read-only queries
// against it: path resolution, directory listing, breadth-first
// traversal and extraction. All public methods are serialized by a
// single mutex; the mapping itself is read-only so zero-copy slices
// returned by ExtractZeroCopy stay valid for as long as the Reader
// remains open.
type Reader struct {
	mu sync.Mutex

	file *os.File
	data mmap.MMap

	hdr   header
	codec *ecbCodec

	asciiKey []byte
	baseKey  []byte

	cache   map[string]Entry
	lastErr error

	logger *slog.Logger
}

// NewReader constructs a Reader. SetDecryptionKey may be called before
// Open to install non-default key material; Open itself may be called
// directly if the archive is unencrypted or uses the default keys.
func NewReader(opts ...ReaderOption) *Reader {
	r := &Reader{
		asciiKey: []byte("169841"),
		baseKey:  DefaultBaseKey[:],
		cache:    make(map[string]Entry),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetDecryptionKey replaces the key material used to derive the
// Blowfish key on Open. Must be called before Open; it has no effect
// on an already-open archive. A nil baseKey keeps DefaultBaseKey.
func (r *Reader) SetDecryptionKey(asciiKey, baseKey []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.asciiKey = append([]byte(nil), asciiKey...)
	if baseKey != nil {
		r.baseKey = append([]byte(nil), baseKey...)
	}
}

// Open memory-maps the archive at path as read-only, validates the
// header, and, if the archive is encrypted, verifies the configured
// key against the header's verify bytes. Callers may retry Open with a
// different SetDecryptionKey after a KindKeyInvalid failure.
func (r *Reader) Open(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "pk2.Reader.Open"

	if r.data != nil {
		return r.fail(newErr(op, KindState, nil))
	}

	f, err := os.Open(path)
	if err != nil {
		return r.fail(newErr(op, KindIO, err))
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return r.fail(newErr(op, KindIO, err))
	}

	if len(data) < headerSize {
		data.Unmap()
		f.Close()
		return r.fail(newErr(op, KindHeaderInvalid, nil))
	}

	hdr := unmarshalHeader(data[:headerSize])
	if !hdr.valid() {
		data.Unmap()
		f.Close()
		return r.fail(newErr(op, KindHeaderInvalid, nil))
	}

	r.file = f
	r.data = data
	r.hdr = hdr
	r.logger.Debug("pk2: opened archive", "path", path, "encrypted", hdr.encryption != 0, "size", len(data))

	if hdr.encryption == 0 {
		return nil
	}

	key := deriveKey(r.asciiKey, r.baseKey)
	codec, err := newECBCodec(key)
	if err != nil {
		r.closeLocked()
		return r.fail(newErr(op, KindKeyInvalid, err))
	}

	var encoded [16]byte
	if !codec.encode(verifyPlaintext[:], encoded[:]) {
		r.closeLocked()
		return r.fail(newErr(op, KindKeyInvalid, nil))
	}

	if encoded[0] != hdr.verify[0] || encoded[1] != hdr.verify[1] || encoded[2] != hdr.verify[2] {
		r.logger.Debug("pk2: verify bytes did not match configured key")
		r.closeLocked()
		return r.fail(newErr(op, KindKeyInvalid, nil))
	}

	r.codec = codec
	return nil
}

// Close drops the memory mapping and clears the path cache. It is safe
// to call Close on a Reader that was never opened.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Reader) closeLocked() error {
	var err error
	if r.data != nil {
		err = r.data.Unmap()
		r.data = nil
	}
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
		r.file = nil
	}
	r.codec = nil
	r.hdr = header{}
	r.cache = make(map[string]Entry)
	return err
}

// ClearCache discards every cached path-resolution result.
func (r *Reader) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]Entry)
}

// CacheSize returns the number of cached path-resolution results.
func (r *Reader) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// LastError returns the most recently recorded error message and
// clears it, mirroring the reference implementation's GetError.
func (r *Reader) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastErr == nil {
		return ""
	}
	msg := r.lastErr.Error()
	r.lastErr = nil
	return msg
}

func (r *Reader) fail(err *Error) error {
	r.lastErr = err
	return err
}

// readBlock copies a raw entry block (undecrypted) out of the mapping.
func (r *Reader) readBlock(pos int64) ([]byte, error) {
	if pos < rootOffset || pos+blockSize > int64(len(r.data)) {
		return nil, newErr("pk2.Reader", KindCorrupt, nil)
	}
	buf := make([]byte, blockSize)
	copy(buf, r.data[pos:pos+blockSize])
	return buf, nil
}

// decodeBlock reads and, if the archive is encrypted, decrypts every
// entry of the block at pos, checking the padding invariant on each
// one uniformly: corruption can land on any entry in the block, so
// skipping the check on some of them would only catch it by luck.
func (r *Reader) decodeBlock(pos int64) ([entriesPerBlock]Entry, error) {
	var out [entriesPerBlock]Entry

	raw, err := r.readBlock(pos)
	if err != nil {
		return out, err
	}

	for i := 0; i < entriesPerBlock; i++ {
		slot := raw[i*entrySize : (i+1)*entrySize]
		if r.codec != nil {
			r.codec.decodeInPlace(slot)
		}
		if paddingNonZero(slot) {
			return out, newErr("pk2.Reader", KindCorrupt, nil)
		}
		out[i] = unmarshalEntry(slot)
	}
	return out, nil
}

// findInChain walks the chain of blocks starting at pos, looking for a
// non-empty entry whose lower-cased name equals lowerName.
func (r *Reader) findInChain(pos int64, lowerName string) (Entry, bool, error) {
	for {
		block, err := r.decodeBlock(pos)
		if err != nil {
			return Entry{}, false, err
		}
		for i := 0; i < entriesPerBlock; i++ {
			e := block[i]
			if e.Type == TypeEmpty {
				continue
			}
			if asciiLower(e.Name) == lowerName {
				return e, true, nil
			}
		}
		if block[entriesPerBlock-1].NextChain == 0 {
			return Entry{}, false, nil
		}
		pos = block[entriesPerBlock-1].NextChain
	}
}

// GetEntry resolves pathname to an Entry, walking from parent
// (from the archive root if parent is nil or parent.Position is 0).
// Resolution is case-insensitive and accepts both '/' and '\' as
// separators. Intermediate path components must resolve to
// directories; the result is cached by its normalized path string.
func (r *Reader) GetEntry(pathname string, parent *Entry) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "pk2.Reader.GetEntry"

	if r.data == nil {
		return Entry{}, r.fail(newErr(op, KindState, nil))
	}

	normalized := asciiLower(normalizeSlashes(pathname))

	if e, ok := r.cache[normalized]; ok {
		r.logger.Debug("pk2: cache hit", "path", normalized)
		return e, nil
	}

	components := splitPathComponents(normalized)

	pos := rootOffset
	if parent != nil && parent.Position != 0 {
		pos = parent.Position
	}

	var result Entry
	for i, comp := range components {
		e, found, err := r.findInChain(pos, comp)
		if err != nil {
			return Entry{}, r.fail(err.(*Error))
		}
		if !found {
			return Entry{}, r.fail(newErr(op, KindNotFound, nil))
		}

		last := i == len(components)-1
		if !last && !e.IsDir() {
			return Entry{}, r.fail(newErr(op, KindInvalidPath, nil))
		}

		result = e
		pos = e.Position
	}

	r.cache[normalized] = result
	return result, nil
}

// GetEntries returns every non-empty entry (including the synthetic
// "." and ".." slots) in parent's chain. parent must be a directory.
func (r *Reader) GetEntries(parent Entry) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "pk2.Reader.GetEntries"

	if r.data == nil {
		return nil, r.fail(newErr(op, KindState, nil))
	}
	if !parent.IsDir() {
		return nil, r.fail(newErr(op, KindTypeMismatch, nil))
	}

	var entries []Entry
	pos := parent.Position
	for {
		block, err := r.decodeBlock(pos)
		if err != nil {
			return nil, r.fail(err.(*Error))
		}
		for i := 0; i < entriesPerBlock; i++ {
			if block[i].Type != TypeEmpty {
				entries = append(entries, block[i])
			}
		}
		next := block[entriesPerBlock-1].NextChain
		if next == 0 {
			break
		}
		pos = next
	}
	return entries, nil
}

// ForEachEntryDo performs a breadth-first traversal of every directory
// reachable from the root, calling visitor with the accumulated path
// and the decoded entry block. Chain-continuation blocks of the same
// directory share that directory's path. visitor returning false stops
// the walk early.
func (r *Reader) ForEachEntryDo(visitor func(path string, block [entriesPerBlock]Entry) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "pk2.Reader.ForEachEntryDo"

	if r.data == nil {
		return r.fail(newErr(op, KindState, nil))
	}

	type frontierItem struct {
		pos  int64
		path string
	}
	frontier := []frontierItem{{rootOffset, ""}}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]

		block, err := r.decodeBlock(cur.pos)
		if err != nil {
			return r.fail(err.(*Error))
		}

		for i := 0; i < entriesPerBlock; i++ {
			e := block[i]
			if e.Type != TypeDir || isDotOrDotDot(e.Name) {
				continue
			}
			frontier = append(frontier, frontierItem{e.Position, joinPath(cur.path, e.Name)})
		}

		if next := block[entriesPerBlock-1].NextChain; next != 0 {
			frontier = append([]frontierItem{{next, cur.path}}, frontier...)
		}

		if !visitor(cur.path, block) {
			break
		}
	}
	return nil
}

// ExtractToMemory copies a file entry's payload into a freshly
// allocated buffer.
func (r *Reader) ExtractToMemory(e Entry) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "pk2.Reader.ExtractToMemory"

	if r.data == nil {
		return nil, r.fail(newErr(op, KindState, nil))
	}
	if !e.IsFile() {
		return nil, r.fail(newErr(op, KindTypeMismatch, nil))
	}
	if e.Position < 0 || e.Position+int64(e.Size) > int64(len(r.data)) {
		return nil, r.fail(newErr(op, KindCorrupt, nil))
	}

	buf := make([]byte, e.Size)
	copy(buf, r.data[e.Position:e.Position+int64(e.Size)])
	return buf, nil
}

// ExtractZeroCopy returns a slice viewing the file entry's payload
// directly in the memory mapping. The slice is valid only until
// Close.
func (r *Reader) ExtractZeroCopy(e Entry) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "pk2.Reader.ExtractZeroCopy"

	if r.data == nil {
		return nil, r.fail(newErr(op, KindState, nil))
	}
	if !e.IsFile() {
		return nil, r.fail(newErr(op, KindTypeMismatch, nil))
	}
	if e.Position < 0 || e.Position+int64(e.Size) > int64(len(r.data)) {
		return nil, r.fail(newErr(op, KindCorrupt, nil))
	}

	return r.data[e.Position : e.Position+int64(e.Size)], nil
}
