package mscab

import (
	"bytes"
	"testing"
)

func TestLSBBitReaderReadBits(t *testing.T) {
	// 0b10110010 0b00001111, read low-to-high.
	src := bytes.NewReader([]byte{0xb2, 0x0f})
	br := newLSBBitReader(src)

	v, err := br.readBits(4)
	if err != nil {
		t.Fatalf("readBits(4): %v", err)
	}
	if v != 0x2 {
		t.Fatalf("first nibble = %#x, want 0x2", v)
	}
	v, err = br.readBits(4)
	if err != nil {
		t.Fatalf("readBits(4): %v", err)
	}
	if v != 0xb {
		t.Fatalf("second nibble = %#x, want 0xb", v)
	}
	v, err = br.readBits(8)
	if err != nil {
		t.Fatalf("readBits(8): %v", err)
	}
	if v != 0x0f {
		t.Fatalf("third byte = %#x, want 0x0f", v)
	}
}

func TestLSBBitReaderPeekConsume(t *testing.T) {
	br := newLSBBitReader(bytes.NewReader([]byte{0xff, 0x00}))
	if err := br.ensure(9); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if p := br.peek(9); p != 0x0ff {
		t.Fatalf("peek(9) = %#x, want 0x0ff", p)
	}
	br.consume(8)
	if p := br.peek(1); p != 0 {
		t.Fatalf("peek(1) after consuming all set bits = %#x, want 0", p)
	}
}

func TestLSBBitReaderAlignAndReadAlignedByte(t *testing.T) {
	br := newLSBBitReader(bytes.NewReader([]byte{0xab, 0xcd}))
	if _, err := br.readBits(3); err != nil {
		t.Fatalf("readBits(3): %v", err)
	}
	br.align()
	b, err := br.readAlignedByte()
	if err != nil {
		t.Fatalf("readAlignedByte: %v", err)
	}
	if b != 0xcd {
		t.Fatalf("aligned byte = %#x, want 0xcd", b)
	}
}

func TestLSBBitReaderZeroPadTolerance(t *testing.T) {
	br := newLSBBitReader(bytes.NewReader(nil))
	if _, err := br.readBits(8); err != nil {
		t.Fatalf("reading padded zero bits should succeed: %v", err)
	}
}

func TestLSBBitReaderExhaustedPastPadLimit(t *testing.T) {
	br := newLSBBitReader(bytes.NewReader(nil))
	var err error
	for i := 0; i < maxZeroPadBits/8+2 && err == nil; i++ {
		_, err = br.readBits(8)
	}
	if err == nil {
		t.Fatalf("expected an error once zero-pad tolerance is exceeded")
	}
}

func TestMSBBitReaderReadBits(t *testing.T) {
	// 0b10110010 0b00001111, read high-to-low.
	src := bytes.NewReader([]byte{0xb2, 0x0f})
	br := newMSBBitReader(src)

	v, err := br.readBits(4)
	if err != nil {
		t.Fatalf("readBits(4): %v", err)
	}
	if v != 0xb {
		t.Fatalf("first nibble = %#x, want 0xb", v)
	}
	v, err = br.readBits(4)
	if err != nil {
		t.Fatalf("readBits(4): %v", err)
	}
	if v != 0x2 {
		t.Fatalf("second nibble = %#x, want 0x2", v)
	}
	v, err = br.readBits(8)
	if err != nil {
		t.Fatalf("readBits(8): %v", err)
	}
	if v != 0x0f {
		t.Fatalf("third byte = %#x, want 0x0f", v)
	}
}

func TestReverseBits(t *testing.T) {
	cases := []struct {
		v, n, want uint32
	}{
		{0b1, 1, 0b1},
		{0b10, 2, 0b01},
		{0b001, 3, 0b100},
		{0b1011, 4, 0b1101},
		{0, 5, 0},
	}
	for _, c := range cases {
		if got := reverseBits(c.v, int(c.n)); got != c.want {
			t.Errorf("reverseBits(%#b, %d) = %#b, want %#b", c.v, c.n, got, c.want)
		}
	}
}
