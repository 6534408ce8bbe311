package mscab

import (
	"bytes"
	"encoding/binary"
	"io"
)

const scanChunkSize = blockSize

// Search scans a possibly non-cabinet container for embedded cabinets (spec
// §4.8), returning every cabinet it could successfully parse, linked head to
// tail in the order found. Unlike Open, Search tolerates garbage before,
// between and after cabinets — installers routinely prepend a stub
// executable to a cabinet payload.
func (d *Decompressor) Search(name string) ([]*Cabinet, error) {
	f, err := d.sys.Open(name, ModeRead)
	if err != nil {
		d.lastErr = newErr(ErrOpen, "opening %s: %v", name, err)
		return nil, d.lastErr
	}
	defer f.Close()

	length, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		d.lastErr = newErr(ErrSeek, "seeking to end of %s: %v", name, err)
		return nil, d.lastErr
	}

	if err := warnIfInstallShield(f, d.sys); err != nil {
		d.lastErr = err
		return nil, err
	}

	var found []*Cabinet
	var falsePositives int
	buf := make([]byte, d.searchBufSize)

	for c := int64(0); c+4 <= length; {
		if _, err := f.Seek(c, io.SeekStart); err != nil {
			d.lastErr = newErr(ErrSeek, "seeking while scanning %s: %v", name, err)
			return nil, d.lastErr
		}
		n, rerr := io.ReadFull(f, buf[:min64(int64(len(buf)), length-c)])
		if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
			d.lastErr = newErr(ErrRead, "reading while scanning %s: %v", name, rerr)
			return nil, d.lastErr
		}
		chunk := buf[:n]

		idx := bytes.Index(chunk, []byte(cabSignature))
		if idx < 0 {
			// Step back 3 bytes so a signature straddling this chunk
			// boundary and the next one is not missed.
			if n > 3 {
				c += int64(n) - 3
			} else {
				c += int64(n)
			}
			continue
		}
		candidate := c + int64(idx)

		hdr, ok := readScanHeader(f, candidate, length)
		if !ok {
			c = candidate + 4
			falsePositives++
			continue
		}

		cab, err := parseCabinet(f, name, candidate, d.sys, parseOptions{quiet: true})
		if err != nil {
			c = candidate + 4
			falsePositives++
			continue
		}
		if len(found) > 0 {
			linkFound(found[len(found)-1], cab)
		}
		found = append(found, cab)
		c = candidate + int64(hdr.cablen)
	}

	if falsePositives > 8 {
		d.sys.Message(nil, "%s: %d candidate cabinet signatures did not parse", name, falsePositives)
	}
	d.lastErr = nil
	return found, nil
}

type scanHeader struct {
	cablen  uint32
	foffset uint32
}

// readScanHeader reads the total-length and first-file-offset fields at a
// candidate MSCF offset and reports whether they describe a region that
// plausibly fits inside the container (spec §4.8's acceptance test).
func readScanHeader(r io.ReadSeeker, candidate, containerLen int64) (scanHeader, bool) {
	if _, err := r.Seek(candidate, io.SeekStart); err != nil {
		return scanHeader{}, false
	}
	var raw [20]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return scanHeader{}, false
	}
	if !bytes.Equal(raw[0:4], []byte(cabSignature)) {
		return scanHeader{}, false
	}
	h := scanHeader{
		cablen:  binary.LittleEndian.Uint32(raw[8:12]),
		foffset: binary.LittleEndian.Uint32(raw[16:20]),
	}
	if h.foffset >= h.cablen {
		return scanHeader{}, false
	}
	limit := containerLen + 32
	if candidate+int64(h.foffset) > limit || candidate+int64(h.cablen) > limit {
		return scanHeader{}, false
	}
	return h, true
}

// linkFound splices a newly scanned cabinet onto the tail of the chain found
// so far; this is a plain forward link (not the full merge semantics of
// §4.9) since scanned cabinets found at arbitrary offsets are not
// necessarily continuations of one another's folders.
func linkFound(prev, next *Cabinet) {
	prev.Next = next
	next.Prev = prev
}

func warnIfInstallShield(r io.ReadSeeker, sys System) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return newErr(ErrSeek, "seeking to start: %v", err)
	}
	var sig [4]byte
	n, _ := io.ReadFull(r, sig[:])
	if n == 4 && bytes.Equal(sig[:], []byte("ISc(")) {
		sys.Message(nil, "container begins with an InstallShield stub; embedded cabinets will still be searched for")
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
