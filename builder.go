package pk2

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// BuilderOption configures a Builder at construction time.
type BuilderOption func(*Builder)

// WithBuilderLogger attaches a structured logger that receives a debug
// record when New opens an archive and when Finalize starts. A nil
// logger is treated as slog.Default().
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
	}
}

// Builder assembles a PK2 archive from an arbitrary sequence of
// AddFolder/AddFile calls against two growing scratch streams (a
// header stream of entry blocks and a data stream of file payloads),
// then Finalize rewrites offsets, optionally encrypts every entry, and
// concatenates the streams into the distributable archive. Builder is
// not safe for concurrent use; it has a single owner at a time and
// follows the lifecycle Empty -> (New) -> Open -> (Add*) -> Open ->
// (Finalize|Discard) -> Empty.
type Builder struct {
	name string

	headerFile *os.File
	dataFile   *os.File
	headerLen  int64
	dataLen    int64

	hdr header

	lastErr error
	logger  *slog.Logger
}

// NewBuilder constructs an unopened Builder. Call New to start
// building an archive.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// LastError returns the most recently recorded error message and
// clears it, mirroring the reference implementation's GetError.
func (b *Builder) LastError() string {
	if b.lastErr == nil {
		return ""
	}
	msg := b.lastErr.Error()
	b.lastErr = nil
	return msg
}

func (b *Builder) fail(err *Error) error {
	b.lastErr = err
	return err
}

// New creates the scratch streams for a fresh archive named name (the
// ".pk2" extension is appended by Finalize, not here). New on an
// already-open Builder fails with KindState.
func (b *Builder) New(name string) error {
	const op = "pk2.Builder.New"

	if b.headerFile != nil {
		return b.fail(newErr(op, KindState, nil))
	}

	hf, err := os.CreateTemp("", "pk2-header-*")
	if err != nil {
		return b.fail(newErr(op, KindIO, err))
	}
	df, err := os.CreateTemp("", "pk2-data-*")
	if err != nil {
		hf.Close()
		os.Remove(hf.Name())
		return b.fail(newErr(op, KindIO, err))
	}

	b.headerFile = hf
	b.dataFile = df
	b.name = name
	b.hdr = header{name: archiveName, version: archiveVersion}
	b.headerLen = 0
	b.dataLen = 0

	if _, err := b.headerFile.WriteAt(b.hdr.marshal(), 0); err != nil {
		b.discard()
		return b.fail(newErr(op, KindIO, err))
	}
	b.headerLen = headerSize

	rootBuf := make([]byte, blockSize)
	root := Entry{Type: TypeDir, Name: "."}
	root.setTimes(time.Now())
	root.Position = rootOffset
	setBlockEntry(rootBuf, 0, &root)
	if _, err := b.appendHeaderBlock(rootBuf); err != nil {
		b.discard()
		return b.fail(err.(*Error))
	}

	b.logger.Debug("pk2: builder opened", "name", name)
	return nil
}

// Discard deletes the scratch files and returns the Builder to the
// Empty state. Safe to call on an already-empty Builder.
func (b *Builder) Discard() error {
	return b.discard()
}

func (b *Builder) discard() error {
	var firstErr error
	if b.headerFile != nil {
		name := b.headerFile.Name()
		if err := b.headerFile.Close(); err != nil {
			firstErr = err
		}
		os.Remove(name)
		b.headerFile = nil
	}
	if b.dataFile != nil {
		name := b.dataFile.Name()
		if err := b.dataFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		os.Remove(name)
		b.dataFile = nil
	}
	b.name = ""
	b.hdr = header{}
	b.headerLen = 0
	b.dataLen = 0
	return firstErr
}

// AddFolder adds a folder named name under path, auto-creating any
// missing intermediate directories. Adding a folder that already
// exists (case-insensitively) at that location is a no-op success.
func (b *Builder) AddFolder(path, name string) error {
	const op = "pk2.Builder.AddFolder"

	if b.headerFile == nil {
		return b.fail(newErr(op, KindState, nil))
	}
	if len(name) == 0 || len(name) > entryNameSize-1 {
		return b.fail(newErr(op, KindInvalidPath, nil))
	}

	e := Entry{Type: TypeDir, Name: name}
	e.setTimes(time.Now())
	if err := b.addEntry(path, e, nil); err != nil {
		return b.fail(err.(*Error))
	}
	return nil
}

// AddFile adds a file named name under path with the given payload,
// auto-creating any missing intermediate directories. Fails with
// KindDuplicate if an entry with that name (case-insensitively)
// already exists at that location.
func (b *Builder) AddFile(path, name string, data []byte) error {
	const op = "pk2.Builder.AddFile"

	if b.headerFile == nil {
		return b.fail(newErr(op, KindState, nil))
	}
	if len(name) == 0 || len(name) > entryNameSize-1 {
		return b.fail(newErr(op, KindInvalidPath, nil))
	}

	e := Entry{Type: TypeFile, Name: name, Size: uint32(len(data))}
	e.setTimes(time.Now())
	if err := b.addEntry(path, e, data); err != nil {
		return b.fail(err.(*Error))
	}
	return nil
}

// AddFileFromDisk reads sourceFile and adds it to the archive at
// pathname, splitting the final path component off as the entry name
// (mirroring PK2Builder::AddFile(pathname, inputname) in the
// reference implementation).
func (b *Builder) AddFileFromDisk(pathname, sourceFile string) error {
	const op = "pk2.Builder.AddFileFromDisk"

	normalized := normalizeSlashes(pathname)
	var path, name string
	if idx := strings.LastIndexByte(normalized, '\\'); idx >= 0 {
		path, name = normalized[:idx], normalized[idx+1:]
	} else {
		path, name = ".", normalized
	}

	data, err := os.ReadFile(sourceFile)
	if err != nil {
		return b.fail(newErr(op, KindIO, err))
	}
	return b.AddFile(path, name, data)
}

// opAddEntry names the internal operation errors returned by addEntry
// are attributed to, since the same routine serves both AddFolder and
// AddFile.
const opAddEntry = "pk2.Builder.addEntry"

// addEntry is the canonical algorithm behind AddFolder and AddFile: it
// walks (and auto-extends) the directory chain for path, then creates
// userEntry as the final component, writing userData to the data
// stream if userEntry is a file.
func (b *Builder) addEntry(pathname string, userEntry Entry, userData []byte) error {
	parts := tokenizeRaw(normalizeSlashes(pathname))
	parts = append(parts, userEntry.Name)
	if parts[0] == "" {
		parts[0] = "."
	}

	roots := []int64{rootOffset}
	rootOffsetCur := int64(rootOffset)

	for len(parts) > 0 {
		curOffset := roots[0]
		roots = roots[1:]

		currentPart := parts[0]
		parts = parts[1:]
		currentLower := asciiLower(currentPart)

		buf, err := b.readHeaderBlockBuf(curOffset)
		if err != nil {
			b.discard()
			return err
		}

		reseek := false
		for i := 0; i < entriesPerBlock; i++ {
			e := getBlockEntry(buf, i)
			if e.Type == TypeEmpty || asciiLower(e.Name) != currentLower {
				continue
			}

			if len(parts) == 0 {
				// Terminal component: the entry already exists.
				if userEntry.Type == TypeFile {
					return newErr(opAddEntry, KindDuplicate, nil)
				}
				return nil // Idempotent folder creation.
			}

			if e.Type != TypeDir {
				b.discard()
				return newErr(opAddEntry, KindInvalidPath, nil)
			}

			roots = append([]int64{e.Position}, roots...)
			rootOffsetCur = e.Position
			reseek = true
			break
		}
		if reseek {
			continue
		}

		if next := getBlockEntry(buf, entriesPerBlock-1).NextChain; next != 0 {
			parts = append([]string{currentPart}, parts...)
			roots = append([]int64{next}, roots...)
			continue
		}

		if currentPart == ".." {
			roots = append([]int64{curOffset}, roots...)
			continue
		}

		isTerminal := len(parts) == 0
		newRoot, err := b.createEntry(rootOffsetCur, currentPart, isTerminal, userEntry, userData)
		if err != nil {
			return err
		}
		if newRoot != nil {
			rootOffsetCur = *newRoot
			roots = append([]int64{*newRoot}, roots...)
		}
	}

	return nil
}

// createEntry finds the first empty slot in dirOffset's chain (a
// continuation block is appended whenever slot 19 of a block is
// filled, so a chain with every slot used and no next block is
// reported as KindCorrupt) and writes either the final userEntry (if isTerminal) or a
// fresh intermediate directory named currentPart into it. It returns
// the offset of a newly created child directory block so the caller
// can push it as the new search root, or nil if no directory was
// created.
func (b *Builder) createEntry(dirOffset int64, currentPart string, isTerminal bool, userEntry Entry, userData []byte) (*int64, error) {
	cur := dirOffset

	for {
		buf, err := b.readHeaderBlockBuf(cur)
		if err != nil {
			b.discard()
			return nil, err
		}

		slot := -1
		for i := 0; i < entriesPerBlock; i++ {
			if getBlockEntry(buf, i).Type == TypeEmpty {
				slot = i
				break
			}
		}
		if slot == -1 {
			next := getBlockEntry(buf, entriesPerBlock-1).NextChain
			if next == 0 {
				b.discard()
				return nil, newErr(opAddEntry, KindCorrupt, nil)
			}
			cur = next
			continue
		}

		e := Entry{}
		e.setTimes(time.Now())
		var newRoot *int64

		if isTerminal {
			e.Type = userEntry.Type
			e.Name = userEntry.Name
			e.Size = userEntry.Size

			if userEntry.Type == TypeFile {
				pos, err := b.appendData(userData)
				if err != nil {
					b.discard()
					return nil, err
				}
				e.Position = pos
			}
		} else {
			e.Type = TypeDir
			e.Name = currentPart
		}

		if e.Type == TypeDir {
			childBuf := make([]byte, blockSize)

			self := Entry{Type: TypeDir, Name: "."}
			self.setTimes(time.Now())
			parent := Entry{Type: TypeDir, Name: ".."}
			parent.setTimes(time.Now())
			parent.Position = dirOffset

			// Reserve the new block's offset explicitly (rather than via
			// appendHeaderBlock) so self.Position can reference its own
			// block before the write happens.
			offset := b.headerLen
			self.Position = offset
			setBlockEntry(childBuf, 0, &self)
			setBlockEntry(childBuf, 1, &parent)
			if _, werr := b.headerFile.WriteAt(childBuf, offset); werr != nil {
				b.discard()
				return nil, newErr(opAddEntry, KindIO, werr)
			}
			b.headerLen += blockSize

			e.Position = offset
			newRoot = &offset
		}

		if slot == entriesPerBlock-1 {
			nextOffset, err := b.appendHeaderBlock(newEmptyBlockBuf())
			if err != nil {
				b.discard()
				return nil, err
			}
			e.NextChain = nextOffset
		} else {
			e.NextChain = 0
		}

		setBlockEntry(buf, slot, &e)
		if err := b.writeHeaderBlockBuf(cur, buf); err != nil {
			b.discard()
			return nil, err
		}

		return newRoot, nil
	}
}

// Finalize rewrites every file entry's position to its final,
// merged-archive offset, optionally encrypts every entry, concatenates
// the header and data streams, pads to a 4096-byte multiple, and
// writes the result to "<name>.pk2". The scratch streams are always
// discarded, whether Finalize succeeds or fails. A nil asciiKey leaves
// the archive unencrypted.
func (b *Builder) Finalize(asciiKey []byte) error {
	const op = "pk2.Builder.Finalize"

	if b.headerFile == nil {
		return b.fail(newErr(op, KindState, nil))
	}

	fileOffset := b.headerLen

	var codec *ecbCodec
	if asciiKey != nil {
		key := deriveKey(asciiKey, DefaultBaseKey[:])
		var err error
		codec, err = newECBCodec(key)
		if err != nil {
			b.discard()
			return b.fail(newErr(op, KindIO, err))
		}

		b.hdr.encryption = 1
		var encoded [16]byte
		if !codec.encode(verifyPlaintext[:], encoded[:]) {
			b.discard()
			return b.fail(newErr(op, KindIO, nil))
		}
		b.hdr.verify = [headerVerifySize]byte{}
		copy(b.hdr.verify[:3], encoded[:3])

		if _, err := b.headerFile.WriteAt(b.hdr.marshal(), 0); err != nil {
			b.discard()
			return b.fail(newErr(op, KindIO, err))
		}
	}

	b.logger.Debug("pk2: finalizing", "encrypted", codec != nil, "fileOffset", fileOffset)

	roots := []int64{rootOffset}
	for len(roots) > 0 {
		offset := roots[0]
		roots = roots[1:]

		buf, err := b.readHeaderBlockBuf(offset)
		if err != nil {
			b.discard()
			return b.fail(err.(*Error))
		}

		for i := 0; i < entriesPerBlock; i++ {
			e := getBlockEntry(buf, i)

			switch e.Type {
			case TypeFile:
				e.Position += fileOffset
				setBlockEntry(buf, i, &e)
			case TypeDir:
				if !isDotOrDotDot(e.Name) {
					roots = append(roots, e.Position)
				}
			}

			if i == entriesPerBlock-1 && e.NextChain != 0 {
				roots = append([]int64{e.NextChain}, roots...)
			}

			if codec != nil {
				slot := buf[i*entrySize : (i+1)*entrySize]
				if !codec.encodeInPlace(slot) {
					b.discard()
					return b.fail(newErr(op, KindIO, nil))
				}
			}
		}

		if err := b.writeHeaderBlockBuf(offset, buf); err != nil {
			b.discard()
			return b.fail(err.(*Error))
		}
	}

	out, err := os.Create(b.name + ".pk2")
	if err != nil {
		b.discard()
		return b.fail(newErr(op, KindIO, err))
	}

	written, err := copyStream(out, b.headerFile)
	if err == nil {
		var n int64
		n, err = copyStream(out, b.dataFile)
		written += n
	}
	if err != nil {
		out.Close()
		os.Remove(out.Name())
		b.discard()
		return b.fail(newErr(op, KindIO, err))
	}

	if rem := written % archiveAlignment; rem != 0 {
		pad := make([]byte, archiveAlignment-rem)
		if _, err := out.Write(pad); err != nil {
			out.Close()
			os.Remove(out.Name())
			b.discard()
			return b.fail(newErr(op, KindIO, err))
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		b.discard()
		return b.fail(newErr(op, KindIO, err))
	}

	b.discard()
	return nil
}

// copyStream rewinds src and copies all of it to dst.
func copyStream(dst, src *os.File) (int64, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return io.Copy(dst, src)
}

// appendHeaderBlock writes buf (which must be blockSize bytes, or nil
// for a freshly zeroed block) at the end of the header stream and
// returns its offset.
func (b *Builder) appendHeaderBlock(buf []byte) (int64, error) {
	if buf == nil {
		buf = newEmptyBlockBuf()
	}
	offset := b.headerLen
	if _, err := b.headerFile.WriteAt(buf, offset); err != nil {
		return 0, newErr(opAddEntry, KindIO, err)
	}
	b.headerLen += blockSize
	return offset, nil
}

// readHeaderBlockBuf reads the raw (undecrypted) bytes of the block at
// pos from the header stream.
func (b *Builder) readHeaderBlockBuf(pos int64) ([]byte, error) {
	if pos < rootOffset || pos+blockSize > b.headerLen {
		return nil, newErr(opAddEntry, KindCorrupt, nil)
	}
	buf := make([]byte, blockSize)
	if _, err := b.headerFile.ReadAt(buf, pos); err != nil {
		return nil, newErr(opAddEntry, KindIO, err)
	}
	return buf, nil
}

// writeHeaderBlockBuf writes buf back to the block at pos in the
// header stream.
func (b *Builder) writeHeaderBlockBuf(pos int64, buf []byte) error {
	if _, err := b.headerFile.WriteAt(buf, pos); err != nil {
		return newErr(opAddEntry, KindIO, err)
	}
	return nil
}

// appendData writes data to the end of the data stream and returns its
// construction-time offset (relative to the data stream, not yet
// rebased to the merged archive).
func (b *Builder) appendData(data []byte) (int64, error) {
	offset := b.dataLen
	if len(data) > 0 {
		if _, err := b.dataFile.WriteAt(data, offset); err != nil {
			return 0, newErr(opAddEntry, KindIO, err)
		}
	}
	b.dataLen += int64(len(data))
	return offset, nil
}

// newEmptyBlockBuf returns a freshly zeroed block buffer: 20 empty
// (type 0) entries.
func newEmptyBlockBuf() []byte {
	return make([]byte, blockSize)
}

// getBlockEntry decodes the i-th entry out of a raw block buffer.
func getBlockEntry(buf []byte, i int) Entry {
	return unmarshalEntry(buf[i*entrySize : (i+1)*entrySize])
}

// setBlockEntry encodes e into the i-th slot of a raw block buffer.
func setBlockEntry(buf []byte, i int, e *Entry) {
	e.marshalInto(buf[i*entrySize : (i+1)*entrySize])
}

// tokenizeRaw splits s on '\' the way the reference implementation's
// TokenizeString does: consecutive separators collapse and produce no
// empty tokens, except that a wholly empty s yields a single empty
// token (later replaced with "." by addEntry), matching
// PK2Builder::AddEntry's parts.front() == "" check.
func tokenizeRaw(s string) []string {
	if s == "" {
		return []string{""}
	}
	return strings.FieldsFunc(s, func(r rune) bool { return r == '\\' })
}
