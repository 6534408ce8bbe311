package mscab

import (
	"encoding/binary"
	"io"
)

// Param names a tunable Decompressor knob (spec §6's set_param).
type Param int

const (
	// ParamSearchBufSize sets Search's scan chunk size, minimum 4.
	ParamSearchBufSize Param = iota
	// ParamFixMSZIP downgrades MSZIP data-block checksum mismatches to
	// warnings during Extract instead of aborting. MSZIP decrunch errors
	// still abort Extract.
	ParamFixMSZIP
	// ParamDecompBufSize sets the decoder's internal staging granularity,
	// minimum 4. It exists for API parity; this implementation always
	// stages a full 38912-byte block regardless of this value.
	ParamDecompBufSize
	// ParamSalvage is accepted and stored, but Open and Search do not
	// consult it: a malformed cabinet fails Open and is skipped by Search
	// whether or not it is set.
	ParamSalvage
)

const defaultSearchBufSize = 32768
const defaultDecompBufSize = 4096

// Decompressor is the entry point for reading cabinets and extracting their
// files, mirroring libmspack's mscab_decompressor but as an ordinary Go
// value instead of a function-pointer table (spec §6).
type Decompressor struct {
	sys System

	searchBufSize int
	decompBufSize int
	fixMSZIP      bool
	salvage       bool

	lastErr error

	// Lazily (re)initialised extraction state, torn down whenever the
	// target folder changes or a rewind is needed (spec §4.10).
	folder    *Folder
	block     *blockReader
	decoder   frameDecoder
	curOffset uint32
}

// frameDecoder is satisfied by each of the four per-folder decoders; each
// call returns want bytes of uncompressed output (fewer only where LZX
// finds the folder's data ending), carrying any partly decoded match over
// to the next call. want is at most 32 KiB and follows file offsets, not
// CFDATA block boundaries; the last call for a file asks for exactly the
// bytes that remain (spec §4.6's "inform the decoder of the exact remaining
// length" requirement).
type frameDecoder interface {
	decodeFrame(want int) ([]byte, error)
}

// NewDecompressor returns a Decompressor that performs all I/O through sys.
func NewDecompressor(sys System) *Decompressor {
	return &Decompressor{sys: sys, searchBufSize: defaultSearchBufSize, decompBufSize: defaultDecompBufSize}
}

// Open parses name as a single cabinet file (spec §4.7).
func (d *Decompressor) Open(name string) (*Cabinet, error) {
	f, err := d.sys.Open(name, ModeRead)
	if err != nil {
		d.lastErr = newErr(ErrOpen, "opening %s: %v", name, err)
		return nil, d.lastErr
	}
	defer f.Close()

	cab, err := parseCabinet(f, name, 0, d.sys, parseOptions{quiet: false})
	if err != nil {
		d.lastErr = err
		return nil, err
	}
	d.lastErr = nil
	return cab, nil
}

// SetParam adjusts a tunable; see the Param constants.
func (d *Decompressor) SetParam(p Param, value int) error {
	switch p {
	case ParamSearchBufSize:
		if value < 4 {
			return newErr(ErrArgs, "searchbuf-size must be at least 4, got %d", value)
		}
		d.searchBufSize = value
	case ParamFixMSZIP:
		d.fixMSZIP = value != 0
	case ParamDecompBufSize:
		if value < 4 {
			return newErr(ErrArgs, "decomp-buf-size must be at least 4, got %d", value)
		}
		d.decompBufSize = value
	case ParamSalvage:
		d.salvage = value != 0
	default:
		return newErr(ErrArgs, "unknown parameter %d", p)
	}
	return nil
}

// LastError returns the error from the most recent Open/Search call, mostly
// useful for callers porting code that checks a side-channel error field the
// way libmspack's cabd->error does.
func (d *Decompressor) LastError() error { return d.lastErr }

// Close releases any extraction state this Decompressor is holding for c's
// chain and closes the underlying cabinet file handle, if one is open.
func (d *Decompressor) Close(c *Cabinet) error {
	if d.block == nil {
		return nil
	}
	for _, cab := range chainMembers(c) {
		if cab == d.block.cab {
			return d.teardown()
		}
	}
	return nil
}

func (d *Decompressor) teardown() error {
	var err error
	if d.block != nil && d.block.cabFile != nil {
		err = d.block.cabFile.Close()
	}
	d.block = nil
	d.decoder = nil
	d.folder = nil
	d.curOffset = 0
	return err
}

// Extract decodes file's bytes into out (spec §4.10).
func (d *Decompressor) Extract(file *FileEntry, out io.Writer) error {
	if file.Folder == nil {
		return newErr(ErrDataFormat, "file %q has no folder", file.Name)
	}
	folder := file.Folder
	endBlock := (uint64(file.FolderOffset) + uint64(file.UncompressedSize)) / blockSize
	if endBlock > uint64(folder.TotalBlocks()) {
		return newErr(ErrDataFormat, "incomplete set: %q needs more data blocks than the folder declares", file.Name)
	}

	rewind := d.folder == folder && file.FolderOffset < d.curOffset
	if d.folder != folder || rewind {
		if err := d.initFolder(folder); err != nil {
			return err
		}
	}

	if file.FolderOffset > d.curOffset {
		if err := d.decodeInto(int(file.FolderOffset-d.curOffset), discard); err != nil {
			return err
		}
	}
	if err := d.decodeInto(int(file.UncompressedSize), out); err != nil {
		return err
	}
	return nil
}

func (d *Decompressor) initFolder(folder *Folder) error {
	if err := d.teardown(); err != nil {
		return err
	}
	if len(folder.Segments) == 0 {
		return newErr(ErrDataFormat, "folder has no data segments")
	}
	seg := folder.Segments[0]
	f, err := d.sys.Open(seg.Cabinet.Name, ModeRead)
	if err != nil {
		return newErr(ErrOpen, "opening %s: %v", seg.Cabinet.Name, err)
	}
	if _, err := f.Seek(seg.Cabinet.BaseOffset+int64(seg.Offset), io.SeekStart); err != nil {
		f.Close()
		return newErr(ErrSeek, "seeking to folder data: %v", err)
	}

	d.block = &blockReader{dec: d, folder: folder, cabFile: f, cab: seg.Cabinet}
	switch folder.Method() {
	case MethodNone:
		d.decoder = noneDecoder{src: d.block}
	case MethodMSZIP:
		d.decoder = newMSZIPDecoder(d.block)
	case MethodQuantum:
		d.decoder = newQuantumDecoder(newMSBBitReader(d.block), folder.WindowBits())
	case MethodLZX:
		d.decoder = newLZXDecoder(newLSBBitReader(d.block), folder.WindowBits())
	default:
		return newErr(ErrDataFormat, "folder has invalid compression method")
	}
	d.folder = folder
	d.curOffset = 0
	return nil
}

// decodeInto decodes exactly n bytes of folder output into w, one staged
// block at a time.
func (d *Decompressor) decodeInto(n int, w io.Writer) error {
	for n > 0 {
		want := n
		if want > blockSize {
			want = blockSize
		}
		chunk, err := d.decoder.decodeFrame(want)
		if err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			return newErr(ErrWrite, "writing extracted data: %v", err)
		}
		d.curOffset += uint32(len(chunk))
		n -= len(chunk)
	}
	return nil
}

// noneDecoder passes stored (uncompressed) folder data straight through.
type noneDecoder struct {
	src io.Reader
}

func (n noneDecoder) decodeFrame(want int) ([]byte, error) {
	buf := make([]byte, want)
	if _, err := io.ReadFull(n.src, buf); err != nil {
		return nil, newErr(ErrRead, "reading stored data: %v", err)
	}
	return buf, nil
}

// cfDataRaw is one 8-byte on-disk data-block header.
type cfDataRaw struct {
	Checksum uint32
	CBData   uint16
	CBUncomp uint16
}

const maxStagedBytes = 38912

// blockReader is the adapter the extraction driver interposes between a
// folder's raw CFDATA framing and the compression decoder's io.Reader
// (spec §4.10): it reads and checksums one CFDATA block at a time, crosses
// into the next segment's cabinet transparently, and (for Quantum) appends
// the single 0xFF sentinel the decoder expects at every block boundary.
type blockReader struct {
	dec    *Decompressor
	folder *Folder
	segIdx int

	blocksConsumed uint16
	cab            *Cabinet
	cabFile        File

	staged    []byte
	stagedPos int
}

func (b *blockReader) Read(p []byte) (int, error) {
	for b.stagedPos >= len(b.staged) {
		if err := b.advanceBlock(); err != nil {
			return 0, err
		}
	}
	n := copy(p, b.staged[b.stagedPos:])
	b.stagedPos += n
	return n, nil
}

func (b *blockReader) advanceBlock() error {
	b.blocksConsumed++
	if b.blocksConsumed > b.folder.TotalBlocks() {
		return newErr(ErrDataFormat, "folder data block counter exceeds declared block count")
	}

	var raw cfDataRaw
	if err := binary.Read(b.cabFile, binary.LittleEndian, &raw); err != nil {
		return newErr(ErrRead, "reading data block header: %v", err)
	}
	if b.cab.BlockReserveSize > 0 {
		if _, err := io.CopyN(io.Discard, b.cabFile, int64(b.cab.BlockReserveSize)); err != nil {
			return newErr(ErrRead, "reading block reserve: %v", err)
		}
	}

	leftover := len(b.staged) - b.stagedPos
	if leftover+int(raw.CBData) > maxStagedBytes {
		return newErr(ErrDataFormat, "data block exceeds the %d-byte staging buffer", maxStagedBytes)
	}
	payload := make([]byte, raw.CBData)
	if _, err := io.ReadFull(b.cabFile, payload); err != nil {
		return newErr(ErrRead, "reading data block payload: %v", err)
	}

	if raw.Checksum != 0 && checksumBlock(payload, raw.CBData, raw.CBUncomp) != raw.Checksum {
		if b.dec.fixMSZIP && b.folder.Method() == MethodMSZIP {
			b.dec.sys.Message(nil, "warning: checksum mismatch in data block %d, continuing (fix mode)", b.blocksConsumed)
		} else {
			return newErr(ErrChecksum, "data block %d failed checksum", b.blocksConsumed)
		}
	}

	rest := append([]byte(nil), b.staged[b.stagedPos:]...)
	b.staged = append(rest, payload...)
	b.stagedPos = 0

	if b.folder.Method() == MethodQuantum {
		b.staged = append(b.staged, 0xff)
	}

	if raw.CBUncomp == 0 {
		return b.advanceSegment()
	}
	return nil
}

func (b *blockReader) advanceSegment() error {
	b.segIdx++
	if b.segIdx >= len(b.folder.Segments) {
		return newErr(ErrDataFormat, "folder data ended before its declared block count")
	}
	if b.cabFile != nil {
		b.cabFile.Close()
	}
	seg := b.folder.Segments[b.segIdx]
	f, err := b.dec.sys.Open(seg.Cabinet.Name, ModeRead)
	if err != nil {
		return newErr(ErrOpen, "opening %s: %v", seg.Cabinet.Name, err)
	}
	if _, err := f.Seek(seg.Cabinet.BaseOffset+int64(seg.Offset), io.SeekStart); err != nil {
		f.Close()
		return newErr(ErrSeek, "seeking to folder data: %v", err)
	}
	b.cabFile = f
	b.cab = seg.Cabinet
	return b.advanceBlock()
}

// checksumBlock computes the CFDATA checksum: XOR-fold the payload as
// little-endian 32-bit words (a short trailing tail is XORed in shifted
// into place), then XOR in the (CBData, CBUncomp) pair as one more
// little-endian word pair (spec §4.10 step 4).
func checksumBlock(payload []byte, cbData, cbUncomp uint16) uint32 {
	var csum uint32
	n := len(payload)
	i := 0
	for ; i+4 <= n; i += 4 {
		csum ^= binary.LittleEndian.Uint32(payload[i : i+4])
	}
	if rem := n - i; rem > 0 {
		var tail [4]byte
		copy(tail[:rem], payload[i:])
		csum ^= binary.LittleEndian.Uint32(tail[:])
	}
	var sizes [4]byte
	binary.LittleEndian.PutUint16(sizes[0:2], cbData)
	binary.LittleEndian.PutUint16(sizes[2:4], cbUncomp)
	csum ^= binary.LittleEndian.Uint32(sizes[:])
	return csum
}
