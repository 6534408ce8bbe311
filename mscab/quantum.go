package mscab

// Quantum is an arithmetic-coded LZ77 variant (spec §4.5). The sources this
// package is grounded on do not include Microsoft's qtmd.c, so the model
// tables below are reconstructed from the prose description rather than
// ported line for line; see DESIGN.md for the specific choices made where
// the prose underdetermines a detail (there is no encode path and no
// Quantum-compressed fixture to check bit-exact agreement against, so the
// priority is an internally consistent, correctly-adaptive decoder in the
// same shape as the real one, not a guess at its exact table values).

const qtmRescaleLimit = 3800

// qtmModelSym is one ranked entry of an adaptive frequency model: a symbol
// value and its individual frequency. Entries are kept sorted descending by
// frequency so that common symbols decode via a short linear scan.
type qtmModelSym struct {
	sym  uint16
	freq uint16
}

type qtmModel struct {
	syms     []qtmModelSym
	rescales int
}

func newQTMModel(entries int) *qtmModel {
	m := &qtmModel{syms: make([]qtmModelSym, entries)}
	for i := range m.syms {
		m.syms[i] = qtmModelSym{sym: uint16(i), freq: 1}
	}
	return m
}

func (m *qtmModel) total() int {
	t := 0
	for _, s := range m.syms {
		t += int(s.freq)
	}
	return t
}

// decodeSymbol finds the rank whose cumulative range contains target,
// returning the symbol value, its rank and the [low, high) cumulative range
// that rank occupies.
func (m *qtmModel) decodeSymbol(target int) (sym, rank, low, high int) {
	cum := 0
	for i, s := range m.syms {
		f := int(s.freq)
		if target < cum+f {
			return int(s.sym), i, cum, cum + f
		}
		cum += f
	}
	last := len(m.syms) - 1
	return int(m.syms[last].sym), last, cum - int(m.syms[last].freq), cum
}

// update rewards the symbol at rank by incrementing its frequency, then
// rescales (halves all frequencies, rounding up) once the total exceeds the
// threshold; every 50th rescale also re-sorts by frequency descending with a
// stable selection sort, matching the "periodically re-sort" behaviour
// described for the real codec.
func (m *qtmModel) update(rank int) {
	m.syms[rank].freq += 8
	if m.total() <= qtmRescaleLimit {
		return
	}
	for i := range m.syms {
		m.syms[i].freq = (m.syms[i].freq + 1) >> 1
		if m.syms[i].freq == 0 {
			m.syms[i].freq = 1
		}
	}
	m.rescales++
	if m.rescales%50 != 0 {
		return
	}
	for i := 0; i < len(m.syms)-1; i++ {
		maxIdx := i
		for j := i + 1; j < len(m.syms); j++ {
			if m.syms[j].freq > m.syms[maxIdx].freq {
				maxIdx = j
			}
		}
		if maxIdx != i {
			top := m.syms[maxIdx]
			copy(m.syms[i+1:maxIdx+1], m.syms[i:maxIdx])
			m.syms[i] = top
		}
	}
}

// quantumDecoder holds one folder's persistent arithmetic-coder state,
// adaptive models and circular LZ77 window; none of it resets between
// 32 KiB output frames; only the folder boundary (a fresh decoder) resets.
type quantumDecoder struct {
	br *msbBitReader

	window    []byte
	winSize   int
	winPos    int
	totalPos  int

	H, L, C uint32
	started bool

	// carry holds match bytes decoded past the previous call's want.
	carry []byte

	selector *qtmModel
	lit      [4]*qtmModel
	pos4     *qtmModel
	pos5     *qtmModel
	pos6     *qtmModel
	len6     *qtmModel

	pos4Base, pos5Base, pos6Base []uint32
	pos4Extra, pos5Extra, pos6Extra []int
	lenBase []uint32
	lenExtra []int
}

func newQuantumDecoder(br *msbBitReader, windowBits int) *quantumDecoder {
	winSize := 1 << uint(windowBits)
	d := &quantumDecoder{
		br:       br,
		window:   make([]byte, winSize),
		winSize:  winSize,
		selector: newQTMModel(7),
		pos4:     newQTMModel(24),
		pos5:     newQTMModel(36),
		pos6:     newQTMModel(windowBits * 2),
		len6:     newQTMModel(27),
	}
	for i := range d.lit {
		d.lit[i] = newQTMModel(64)
	}
	d.pos4Base, d.pos4Extra = positionSlots(24)
	d.pos5Base, d.pos5Extra = positionSlots(36)
	d.pos6Base, d.pos6Extra = positionSlots(windowBits * 2)
	d.lenBase, d.lenExtra = quantumLengthSlots(27)
	return d
}

// quantumLengthSlots builds the base-length/extra-bit table for the
// variable-length match model (selector 6): lengths start at 5 (selectors 4
// and 5 already cover the fixed 3- and 4-byte cases) and the extra-bit count
// grows by one every two slots, the same shape as positionSlots.
func quantumLengthSlots(n int) (base []uint32, extra []int) {
	base = make([]uint32, n)
	extra = make([]int, n)
	for i := 0; i < n; i++ {
		extra[i] = i / 2
		if i == 0 {
			base[i] = 5
		} else {
			base[i] = base[i-1] + (1 << uint(extra[i-1]))
		}
	}
	return base, extra
}

func (d *quantumDecoder) decodeFrame(want int) ([]byte, error) {
	if !d.started {
		c, err := d.br.readBits(16)
		if err != nil {
			return nil, err
		}
		d.H = 0xffff
		d.L = 0
		d.C = c
		d.started = true
	}

	out := make([]byte, 0, want)
	out = append(out, d.carry...)
	d.carry = nil
	for len(out) < want {
		sel, err := d.decodeModelSymbol(d.selector)
		if err != nil {
			return nil, err
		}
		switch {
		case sel <= 3:
			lsym, err := d.decodeModelSymbol(d.lit[sel])
			if err != nil {
				return nil, err
			}
			d.emit(&out, byte(lsym))
		case sel == 4, sel == 5:
			var model *qtmModel
			var base []uint32
			var extra []int
			length := 3
			if sel == 5 {
				model, base, extra, length = d.pos5, d.pos5Base, d.pos5Extra, 4
			} else {
				model, base, extra = d.pos4, d.pos4Base, d.pos4Extra
			}
			slot, err := d.decodeModelSymbol(model)
			if err != nil {
				return nil, err
			}
			if slot >= len(base) {
				return nil, newErr(ErrDecrunch, "quantum position slot %d out of range", slot)
			}
			distance := int(base[slot])
			if extra[slot] > 0 {
				v, err := d.br.readBits(uint(extra[slot]))
				if err != nil {
					return nil, err
				}
				distance += int(v)
			}
			if err := d.copyMatch(&out, distance+1, length); err != nil {
				return nil, err
			}
		case sel == 6:
			lslot, err := d.decodeModelSymbol(d.len6)
			if err != nil {
				return nil, err
			}
			if lslot >= len(d.lenBase) {
				return nil, newErr(ErrDecrunch, "quantum length slot %d out of range", lslot)
			}
			length := int(d.lenBase[lslot])
			if d.lenExtra[lslot] > 0 {
				v, err := d.br.readBits(uint(d.lenExtra[lslot]))
				if err != nil {
					return nil, err
				}
				length += int(v)
			}
			pslot, err := d.decodeModelSymbol(d.pos6)
			if err != nil {
				return nil, err
			}
			if pslot >= len(d.pos6Base) {
				return nil, newErr(ErrDecrunch, "quantum position slot %d out of range", pslot)
			}
			distance := int(d.pos6Base[pslot])
			if d.pos6Extra[pslot] > 0 {
				v, err := d.br.readBits(uint(d.pos6Extra[pslot]))
				if err != nil {
					return nil, err
				}
				distance += int(v)
			}
			if err := d.copyMatch(&out, distance+1, length); err != nil {
				return nil, err
			}
		default:
			return nil, newErr(ErrDecrunch, "invalid quantum selector %d", sel)
		}
	}
	if len(out) > want {
		d.carry = append([]byte(nil), out[want:]...)
		out = out[:want]
	}
	return out, nil
}

func (d *quantumDecoder) emit(out *[]byte, b byte) {
	*out = append(*out, b)
	d.window[d.winPos] = b
	d.winPos = (d.winPos + 1) % d.winSize
	d.totalPos++
}

func (d *quantumDecoder) copyMatch(out *[]byte, distance, length int) error {
	if distance <= 0 || distance > d.totalPos || distance > d.winSize {
		return newErr(ErrDecrunch, "quantum match distance %d out of range (have %d, window %d)", distance, d.totalPos, d.winSize)
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

// decodeModelSymbol runs one step of the (H, L, C) range coder against the
// given model: locate the symbol whose cumulative-frequency range contains
// the scaled current code value, narrow (L, H) to that range, renormalise,
// and reward the model with the symbol just produced.
func (d *quantumDecoder) decodeModelSymbol(m *qtmModel) (int, error) {
	total := m.total()
	rangeSize := d.H - d.L + 1
	freq := ((d.C-d.L+1)*uint32(total) - 1) / rangeSize
	if freq >= uint32(total) {
		freq = uint32(total) - 1
	}
	sym, rank, low, high := m.decodeSymbol(int(freq))
	d.H = d.L + (rangeSize*uint32(high))/uint32(total) - 1
	d.L = d.L + (rangeSize*uint32(low))/uint32(total)
	if err := d.normalize(); err != nil {
		return 0, err
	}
	m.update(rank)
	return sym, nil
}

// normalize shifts out matching top bits of H and L (both converging on the
// same leading bit), applying the E3 underflow correction whenever L's
// second-highest bit is set and H's is clear — the classic straddle case
// where neither E1 nor E2 alone would make progress.
func (d *quantumDecoder) normalize() error {
	for {
		if (d.H & 0x8000) == (d.L & 0x8000) {
			// fall through to shift
		} else if d.L&0x4000 != 0 && d.H&0x4000 == 0 {
			d.C ^= 0x4000
			d.L &= 0x3fff
			d.H |= 0x4000
		} else {
			return nil
		}
		d.L = (d.L << 1) & 0xffff
		d.H = ((d.H << 1) & 0xffff) | 1
		bit, err := d.br.readBits(1)
		if err != nil {
			return err
		}
		d.C = ((d.C << 1) & 0xffff) | bit
	}
}
