package mscab

import "io"

// MSZIP is raw DEFLATE (RFC 1951) framed per 32 KiB block by a two-byte
// 'C','K' signature, with the LZ77 window carried over between blocks
// instead of being reset (spec §4.4). It is hand-rolled rather than backed
// by compress/flate or klauspost/compress/flate: CAB needs block-granular
// history preservation and recoverable per-block failures for fix mode,
// neither of which those packages' Reader APIs expose.

var clOrder = [19]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

var lengthBase = [29]int{3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31, 35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258}
var lengthExtra = [29]int{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0}
var distBase = [30]int{1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193, 257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577}
var distExtra = [30]int{0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13}

var fixedLitTable *huffTable
var fixedDistTable *huffTable

func init() {
	litLens := make([]int, 288)
	for i := 0; i < 144; i++ {
		litLens[i] = 8
	}
	for i := 144; i < 256; i++ {
		litLens[i] = 9
	}
	for i := 256; i < 280; i++ {
		litLens[i] = 7
	}
	for i := 280; i < 288; i++ {
		litLens[i] = 8
	}
	var err error
	fixedLitTable, err = newHuffTable(litLens, 9)
	if err != nil {
		panic("mscab: bad fixed literal table: " + err.Error())
	}
	distLens := make([]int, 32)
	for i := range distLens {
		distLens[i] = 5
	}
	fixedDistTable, err = newHuffTable(distLens, 6)
	if err != nil {
		panic("mscab: bad fixed distance table: " + err.Error())
	}
}

// mszipBlock tracks a single in-progress DEFLATE sub-block (stored, fixed,
// or dynamic huffman) so decodeFrame can resume it across calls whenever the
// caller's requested byte count doesn't land on a sub-block boundary.
type mszipBlock struct {
	stored    bool
	final     bool // BFINAL: once this sub-block finishes, the CK stream is done
	remaining int  // stored: bytes left to copy
	lit, dist *huffTable

	// A match cut short by want is finished on the next call.
	pendingDist, pendingLen int
}

// mszipDecoder maintains the 32 KiB sliding window, the bit reader, and any
// in-progress sub-block across successive decodeFrame calls. A 'CK'
// signature is only read, and a fresh bit reader only created, when truly
// starting a new CFDATA block's deflate stream (d.br == nil); decodeFrame's
// want parameter is an arbitrary byte count driven by file-offset
// arithmetic, not a sub-block boundary, so mid-block state must survive
// between calls rather than being discarded.
type mszipDecoder struct {
	src    io.Reader
	window []byte
	br     *lsbBitReader
	block  *mszipBlock
}

func newMSZIPDecoder(src io.Reader) *mszipDecoder {
	return &mszipDecoder{src: src}
}

func (d *mszipDecoder) decodeFrame(want int) ([]byte, error) {
	out := make([]byte, 0, want)
	for len(out) < want {
		if d.br == nil {
			var sig [2]byte
			if _, err := io.ReadFull(d.src, sig[:]); err != nil {
				return nil, newErr(ErrRead, "reading MSZIP block signature: %v", err)
			}
			if sig[0] != 'C' || sig[1] != 'K' {
				return nil, newErr(ErrDecrunch, "bad MSZIP block signature %q", sig[:])
			}
			d.br = newLSBBitReader(d.src)
		}
		if d.block == nil {
			blk, err := d.startBlock(d.br)
			if err != nil {
				return nil, err
			}
			d.block = blk
		}
		done, err := d.resumeBlock(d.br, d.block, &out, want)
		if err != nil {
			return nil, err
		}
		if done {
			final := d.block.final
			d.block = nil
			if final {
				d.br = nil
			}
		}
	}

	d.window = append(d.window, out...)
	if len(d.window) > blockSize {
		d.window = d.window[len(d.window)-blockSize:]
	}
	return out, nil
}

// startBlock reads a new DEFLATE sub-block header (and, for a dynamic
// block, its Huffman tables) and returns the resumable state for it.
func (d *mszipDecoder) startBlock(br *lsbBitReader) (*mszipBlock, error) {
	last, err := br.readBits(1)
	if err != nil {
		return nil, err
	}
	typ, err := br.readBits(2)
	if err != nil {
		return nil, err
	}
	switch typ {
	case 0:
		br.align()
		lenLo, err := br.readAlignedByte()
		if err != nil {
			return nil, newErr(ErrRead, "stored block length: %v", err)
		}
		lenHi, err := br.readAlignedByte()
		if err != nil {
			return nil, newErr(ErrRead, "stored block length: %v", err)
		}
		nlenLo, err := br.readAlignedByte()
		if err != nil {
			return nil, newErr(ErrRead, "stored block nlength: %v", err)
		}
		nlenHi, err := br.readAlignedByte()
		if err != nil {
			return nil, newErr(ErrRead, "stored block nlength: %v", err)
		}
		n := int(lenLo) | int(lenHi)<<8
		nn := int(nlenLo) | int(nlenHi)<<8
		if n != (^nn & 0xffff) {
			return nil, newErr(ErrDecrunch, "stored block length/complement mismatch")
		}
		return &mszipBlock{stored: true, final: last == 1, remaining: n}, nil
	case 1:
		return &mszipBlock{final: last == 1, lit: fixedLitTable, dist: fixedDistTable}, nil
	case 2:
		lit, dist, err := d.readDynamicTables(br)
		if err != nil {
			return nil, err
		}
		return &mszipBlock{final: last == 1, lit: lit, dist: dist}, nil
	default:
		return nil, newErr(ErrDecrunch, "invalid DEFLATE block type 3")
	}
}

// resumeBlock advances a sub-block's decode by as much as want allows,
// returning done = true once the sub-block (stored copy, or huffman
// end-of-block symbol) is fully consumed.
func (d *mszipDecoder) resumeBlock(br *lsbBitReader, blk *mszipBlock, out *[]byte, want int) (bool, error) {
	if blk.stored {
		for blk.remaining > 0 && len(*out) < want {
			b, err := br.readAlignedByte()
			if err != nil {
				return false, newErr(ErrRead, "stored block data: %v", err)
			}
			*out = append(*out, b)
			blk.remaining--
		}
		return blk.remaining == 0, nil
	}
	return d.huffBlock(br, blk, out, want)
}

func (d *mszipDecoder) huffBlock(br *lsbBitReader, blk *mszipBlock, out *[]byte, want int) (bool, error) {
	for {
		if blk.pendingLen > 0 {
			n := blk.pendingLen
			if room := want - len(*out); n > room {
				n = room
			}
			if err := copyMatch(d.window, out, blk.pendingDist, n); err != nil {
				return false, err
			}
			blk.pendingLen -= n
		}
		if len(*out) >= want {
			return false, nil
		}
		sym, err := blk.lit.decodeLSB(br)
		if err != nil {
			return false, err
		}
		if sym < 256 {
			*out = append(*out, byte(sym))
			if len(*out) >= want {
				return false, nil
			}
			continue
		}
		if sym == 256 {
			return true, nil
		}
		li := sym - 257
		if li >= len(lengthBase) {
			return false, newErr(ErrDecrunch, "invalid length code %d", sym)
		}
		length := lengthBase[li]
		if lengthExtra[li] > 0 {
			extra, err := br.readBits(uint(lengthExtra[li]))
			if err != nil {
				return false, err
			}
			length += int(extra)
		}
		dsym, err := blk.dist.decodeLSB(br)
		if err != nil {
			return false, err
		}
		if dsym >= len(distBase) {
			return false, newErr(ErrDecrunch, "invalid distance code %d", dsym)
		}
		distance := distBase[dsym]
		if distExtra[dsym] > 0 {
			extra, err := br.readBits(uint(distExtra[dsym]))
			if err != nil {
				return false, err
			}
			distance += int(extra)
		}
		blk.pendingDist, blk.pendingLen = distance, length
	}
}

func (d *mszipDecoder) readDynamicTables(br *lsbBitReader) (*huffTable, *huffTable, error) {
	hlit, err := br.readBits(5)
	if err != nil {
		return nil, nil, err
	}
	hdist, err := br.readBits(5)
	if err != nil {
		return nil, nil, err
	}
	hclen, err := br.readBits(4)
	if err != nil {
		return nil, nil, err
	}
	nlit := int(hlit) + 257
	ndist := int(hdist) + 1
	nclen := int(hclen) + 4

	clLens := make([]int, 19)
	for i := 0; i < nclen; i++ {
		v, err := br.readBits(3)
		if err != nil {
			return nil, nil, err
		}
		clLens[clOrder[i]] = int(v)
	}
	clTable, err := newHuffTable(clLens, 7)
	if err != nil {
		return nil, nil, err
	}

	allLens := make([]int, nlit+ndist)
	for i := 0; i < len(allLens); {
		sym, err := clTable.decodeLSB(br)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case sym < 16:
			allLens[i] = sym
			i++
		case sym == 16:
			if i == 0 {
				return nil, nil, newErr(ErrDecrunch, "repeat code with no previous length")
			}
			rep, err := br.readBits(2)
			if err != nil {
				return nil, nil, err
			}
			prev := allLens[i-1]
			for n := int(rep) + 3; n > 0 && i < len(allLens); n-- {
				allLens[i] = prev
				i++
			}
		case sym == 17:
			rep, err := br.readBits(3)
			if err != nil {
				return nil, nil, err
			}
			for n := int(rep) + 3; n > 0 && i < len(allLens); n-- {
				allLens[i] = 0
				i++
			}
		case sym == 18:
			rep, err := br.readBits(7)
			if err != nil {
				return nil, nil, err
			}
			for n := int(rep) + 11; n > 0 && i < len(allLens); n-- {
				allLens[i] = 0
				i++
			}
		default:
			return nil, nil, newErr(ErrDecrunch, "invalid code-length symbol %d", sym)
		}
	}

	litTable, err := newHuffTable(allLens[:nlit], 9)
	if err != nil {
		return nil, nil, err
	}
	distTable, err := newHuffTable(allLens[nlit:], 6)
	if err != nil {
		return nil, nil, err
	}
	return litTable, distTable, nil
}

// copyMatch resolves an LZ77 back-reference that may reach into the
// carried-over window, the bytes already produced by this frame, or both.
// It copies byte by byte because overlapping matches (distance < length)
// are common and must see their own just-emitted output.
func copyMatch(window []byte, out *[]byte, distance, length int) error {
	total := len(window) + len(*out)
	if distance <= 0 || distance > total {
		return newErr(ErrDecrunch, "match distance %d exceeds available history (%d)", distance, total)
	}
	pos := total - distance
	for i := 0; i < length; i++ {
		var b byte
		if pos+i < len(window) {
			b = window[pos+i]
		} else {
			b = (*out)[pos+i-len(window)]
		}
		*out = append(*out, b)
	}
	return nil
}
