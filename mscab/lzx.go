package mscab

// LZX is a Huffman-coded LZ77 variant with three persistent code trees and
// a three-entry repeated-offset cache (spec §4.6). Like Quantum, the
// sources this package is grounded on do not include Microsoft's lzxd.c;
// the block and tree-delta mechanics below follow the widely-documented
// LZX bitstream shape (shared across every independent LZX reimplementation
// this author has studied), reconstructed here in this package's own idiom
// rather than ported from any one of them.

const (
	lzxNumChars        = 256
	lzxLengthTreeSize  = 249
	lzxAlignedTreeSize = 8
	lzxPretreeSize     = 20
	lzxMinMatch        = 2
	lzxFrameSize       = blockSize
	lzxMaxE8Frames     = 32768
)

type lzxDecoder struct {
	br         *lsbBitReader
	windowBits int
	winSize    int
	window     []byte
	winPos     int
	totalPos   int

	r0, r1, r2 uint32

	mainLen    []int
	lengthLen  []int
	alignedLen [lzxAlignedTreeSize]int

	mainTable    *huffTable
	lengthTable  *huffTable
	alignedTable *huffTable

	posBase  []uint32
	posExtra []int
	numSlots int

	headerRead    bool
	intelFilesize uint32
	framesSeen    int

	blockType      int
	blockRemaining int

	pendingCopyDistance int
	pendingCopyRemaining int

	// frameBuf accumulates the in-progress 32 KiB output frame; it is only
	// filtered and handed to ready once it is genuinely complete, since a
	// caller's want is an arbitrary byte count (driven by file-offset
	// arithmetic, not frame boundaries) and the Intel E8 filter needs the
	// whole frame's bytes in hand before it can safely rewrite any of them.
	frameBuf []byte
	ready    []byte
	readyPos int
}

func newLZXDecoder(br *lsbBitReader, windowBits int) *lzxDecoder {
	numSlots := lzxSlotCount(windowBits)
	d := &lzxDecoder{
		br:         br,
		windowBits: windowBits,
		winSize:    1 << uint(windowBits),
		r0:         1,
		r1:         1,
		r2:         1,
		numSlots:   numSlots,
	}
	d.window = make([]byte, d.winSize)
	d.mainLen = make([]int, lzxNumChars+numSlots*8)
	d.lengthLen = make([]int, lzxLengthTreeSize)
	d.posBase, d.posExtra = positionSlots(numSlots)
	return d
}

// decodeFrame serves want bytes of already-filtered output, decoding ahead
// in genuine 32 KiB frames as needed: want is whatever the caller currently
// needs (often short of, or past, a true frame boundary), but the Intel E8
// filter must see a complete frame before any of its bytes are released, so
// decoding can run past want to finish the frame currently in progress.
func (d *lzxDecoder) decodeFrame(want int) ([]byte, error) {
	if !d.headerRead {
		bit, err := d.br.readBits(1)
		if err != nil {
			return nil, err
		}
		if bit == 1 {
			v, err := d.br.readBits(24)
			if err != nil {
				return nil, err
			}
			d.intelFilesize = v
		}
		d.headerRead = true
	}

	for len(d.ready)-d.readyPos < want {
		if err := d.decodeStep(); err != nil {
			if len(d.frameBuf) > 0 && KindOf(err) == ErrDataFormat {
				// The folder's compressed data ends exactly here: what's
				// buffered is a legitimate short final frame, not a gap.
				d.flushFrame()
				break
			}
			return nil, err
		}
		if len(d.frameBuf) >= lzxFrameSize {
			d.flushFrame()
		}
	}

	avail := len(d.ready) - d.readyPos
	n := want
	if avail < n {
		n = avail
	}
	out := d.ready[d.readyPos : d.readyPos+n]
	d.readyPos += n
	if d.readyPos == len(d.ready) {
		d.ready = nil
		d.readyPos = 0
	}
	return out, nil
}

// decodeStep advances the decode state by one unit of work — a literal
// byte, a run of stored bytes, or a pending LZ77 match — appending any
// produced bytes to frameBuf, capped so frameBuf never grows past one frame.
func (d *lzxDecoder) decodeStep() error {
	if d.pendingCopyRemaining > 0 {
		n := d.pendingCopyRemaining
		if room := lzxFrameSize - len(d.frameBuf); n > room {
			n = room
		}
		if err := d.copyMatch(&d.frameBuf, d.pendingCopyDistance, n); err != nil {
			return err
		}
		d.pendingCopyRemaining -= n
		return nil
	}
	if d.blockRemaining == 0 {
		return d.startBlock()
	}
	if d.blockType == 3 {
		n := d.blockRemaining
		if room := lzxFrameSize - len(d.frameBuf); n > room {
			n = room
		}
		for i := 0; i < n; i++ {
			b, err := d.br.readAlignedByte()
			if err != nil {
				return err
			}
			d.emit(&d.frameBuf, b)
		}
		d.blockRemaining -= n
		return nil
	}
	return d.decodeToken(&d.frameBuf)
}

// flushFrame filters (when the folder carries an Intel filesize) and moves
// the completed frameBuf into ready, the buffer decodeFrame serves from.
func (d *lzxDecoder) flushFrame() {
	if d.intelFilesize != 0 && d.framesSeen < lzxMaxE8Frames {
		frameStart := d.totalPos - len(d.frameBuf)
		applyIntelE8Filter(d.frameBuf, frameStart, d.intelFilesize)
	}
	d.framesSeen++
	d.ready = append(d.ready, d.frameBuf...)
	d.frameBuf = nil
}

func (d *lzxDecoder) startBlock() error {
	t, err := d.br.readBits(3)
	if err != nil {
		return err
	}
	d.blockType = int(t)
	hi, err := d.br.readBits(16)
	if err != nil {
		return err
	}
	lo, err := d.br.readBits(8)
	if err != nil {
		return err
	}
	d.blockRemaining = int(hi)<<8 | int(lo)
	if d.blockRemaining == 0 {
		return newErr(ErrDecrunch, "zero-length LZX block")
	}

	switch d.blockType {
	case 1:
		if err := d.refreshTrees(); err != nil {
			return err
		}
	case 2:
		for i := range d.alignedLen {
			v, err := d.br.readBits(3)
			if err != nil {
				return err
			}
			d.alignedLen[i] = int(v)
		}
		tbl, err := newHuffTable(d.alignedLen[:], 7)
		if err != nil {
			return err
		}
		d.alignedTable = tbl
		if err := d.refreshTrees(); err != nil {
			return err
		}
	case 3:
		d.br.align()
		r0, err := d.readRawUint32LE()
		if err != nil {
			return err
		}
		r1, err := d.readRawUint32LE()
		if err != nil {
			return err
		}
		r2, err := d.readRawUint32LE()
		if err != nil {
			return err
		}
		d.r0, d.r1, d.r2 = r0, r1, r2
	default:
		return newErr(ErrDecrunch, "invalid LZX block type %d", d.blockType)
	}
	return nil
}

func (d *lzxDecoder) refreshTrees() error {
	if err := lzxReadLens(d.br, d.mainLen, 0, lzxNumChars); err != nil {
		return err
	}
	if err := lzxReadLens(d.br, d.mainLen, lzxNumChars, len(d.mainLen)); err != nil {
		return err
	}
	mainTable, err := newHuffTable(d.mainLen, 10)
	if err != nil {
		return err
	}
	d.mainTable = mainTable

	if err := lzxReadLens(d.br, d.lengthLen, 0, lzxLengthTreeSize); err != nil {
		return err
	}
	lengthTable, err := newHuffTable(d.lengthLen, 8)
	if err != nil {
		return err
	}
	d.lengthTable = lengthTable
	return nil
}

// lzxReadLens decodes code lengths for lens[first:last], each position's new
// length being a delta (via a freshly transmitted 20-symbol pretree) against
// its previous length, with run-length codes 17/18 zeroing a stretch and
// code 19 applying one shared delta across a short run.
func lzxReadLens(br *lsbBitReader, lens []int, first, last int) error {
	pretreeLens := make([]int, lzxPretreeSize)
	for i := range pretreeLens {
		v, err := br.readBits(4)
		if err != nil {
			return err
		}
		pretreeLens[i] = int(v)
	}
	pretree, err := newHuffTable(pretreeLens, 6)
	if err != nil {
		return err
	}

	i := first
	for i < last {
		z, err := pretree.decodeLSB(br)
		if err != nil {
			return err
		}
		switch {
		case z == 17:
			n, err := br.readBits(4)
			if err != nil {
				return err
			}
			for run := int(n) + 4; run > 0 && i < last; run-- {
				lens[i] = 0
				i++
			}
		case z == 18:
			n, err := br.readBits(5)
			if err != nil {
				return err
			}
			for run := int(n) + 20; run > 0 && i < last; run-- {
				lens[i] = 0
				i++
			}
		case z == 19:
			n, err := br.readBits(1)
			if err != nil {
				return err
			}
			zz, err := pretree.decodeLSB(br)
			if err != nil {
				return err
			}
			for run := int(n) + 4; run > 0 && i < last; run-- {
				v := lens[i] - zz
				if v < 0 {
					v += 17
				}
				lens[i] = v
				i++
			}
		default:
			v := lens[i] - z
			if v < 0 {
				v += 17
			}
			lens[i] = v
			i++
		}
	}
	return nil
}

func (d *lzxDecoder) decodeToken(out *[]byte) error {
	sym, err := d.mainTable.decodeLSB(d.br)
	if err != nil {
		return err
	}
	if sym < lzxNumChars {
		d.emit(out, byte(sym))
		d.blockRemaining--
		return nil
	}

	s := sym - lzxNumChars
	slot := s >> 3
	lenHeader := s & 7
	length := lzxMinMatch + lenHeader
	if lenHeader == 7 {
		extra, err := d.lengthTable.decodeLSB(d.br)
		if err != nil {
			return err
		}
		length = lzxMinMatch + 7 + extra
	}

	var distance uint32
	switch slot {
	case 0:
		distance = d.r0
	case 1:
		distance = d.r1
		d.r1 = d.r0
		d.r0 = distance
	case 2:
		distance = d.r2
		d.r2 = d.r0
		d.r0 = distance
	default:
		if slot >= len(d.posBase) {
			return newErr(ErrDecrunch, "invalid LZX position slot %d", slot)
		}
		extraBits := d.posExtra[slot]
		var val uint32
		if d.blockType == 2 && extraBits >= 3 {
			if extraBits > 3 {
				raw, err := d.br.readBits(uint(extraBits - 3))
				if err != nil {
					return err
				}
				val = raw << 3
			}
			a, err := d.alignedTable.decodeLSB(d.br)
			if err != nil {
				return err
			}
			val |= uint32(a)
		} else if extraBits > 0 {
			raw, err := d.br.readBits(uint(extraBits))
			if err != nil {
				return err
			}
			val = raw
		}
		distance = d.posBase[slot] - 2 + val
		d.r2 = d.r1
		d.r1 = d.r0
		d.r0 = distance
	}

	d.blockRemaining -= length
	d.pendingCopyDistance = int(distance)
	d.pendingCopyRemaining = length
	return nil
}

func (d *lzxDecoder) readRawUint32LE() (uint32, error) {
	var b [4]byte
	for i := range b {
		v, err := d.br.readAlignedByte()
		if err != nil {
			return 0, err
		}
		b[i] = v
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (d *lzxDecoder) emit(out *[]byte, b byte) {
	*out = append(*out, b)
	d.window[d.winPos] = b
	d.winPos = (d.winPos + 1) % d.winSize
	d.totalPos++
}

func (d *lzxDecoder) copyMatch(out *[]byte, distance, length int) error {
	if distance <= 0 || distance > d.totalPos || distance > d.winSize {
		return newErr(ErrDecrunch, "LZX match distance %d out of range (have %d, window %d)", distance, d.totalPos, d.winSize)
	}
	srcPos := d.winPos - distance
	for srcPos < 0 {
		srcPos += d.winSize
	}
	for i := 0; i < length; i++ {
		b := d.window[srcPos]
		*out = append(*out, b)
		d.window[d.winPos] = b
		srcPos = (srcPos + 1) % d.winSize
		d.winPos = (d.winPos + 1) % d.winSize
		d.totalPos++
	}
	return nil
}

// applyIntelE8Filter undoes the encoder-side call-translation pass in
// place: every 0xE8 byte not within the last 10 bytes of the frame is
// assumed to be followed by a 32-bit little-endian absolute CALL target,
// which is rewritten back to the relative displacement the original
// machine code held, provided it falls within the executable's address
// range recorded in the LZX header.
func applyIntelE8Filter(frame []byte, frameStart int, filesize uint32) {
	limit := len(frame) - 10
	for i := 0; i < limit; i++ {
		if frame[i] != 0xe8 {
			continue
		}
		abs := int32(uint32(frame[i+1]) | uint32(frame[i+2])<<8 | uint32(frame[i+3])<<16 | uint32(frame[i+4])<<24)
		curpos := int32(frameStart + i)
		if abs >= -curpos && abs < int32(filesize) {
			var rel int32
			if abs >= 0 {
				rel = abs - curpos
			} else {
				rel = abs + int32(filesize)
			}
			frame[i+1] = byte(rel)
			frame[i+2] = byte(rel >> 8)
			frame[i+3] = byte(rel >> 16)
			frame[i+4] = byte(rel >> 24)
		}
	}
}
