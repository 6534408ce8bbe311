package mscab

import (
	"bytes"
	"testing"
)

// buildMSZIPStoredBlock constructs one CK-framed MSZIP block containing a
// single final stored (uncompressed) DEFLATE sub-block carrying data.
func buildMSZIPStoredBlock(data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("CK")
	// BFINAL=1, BTYPE=00 (stored), then pad to a byte boundary: all of
	// that fits in the low bits of one zero-padded byte.
	buf.WriteByte(0x01)
	n := len(data)
	nn := ^uint16(n) & 0xffff
	buf.WriteByte(byte(n))
	buf.WriteByte(byte(n >> 8))
	buf.WriteByte(byte(nn))
	buf.WriteByte(byte(nn >> 8))
	buf.Write(data)
	return buf.Bytes()
}

func TestMSZIPStoredBlockRoundTrip(t *testing.T) {
	payload := []byte("HI")
	raw := buildMSZIPStoredBlock(payload)
	dec := newMSZIPDecoder(bytes.NewReader(raw))
	out, err := dec.decodeFrame(len(payload))
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("decoded %q, want %q", out, payload)
	}
}

func TestMSZIPBadSignature(t *testing.T) {
	dec := newMSZIPDecoder(bytes.NewReader([]byte("XX\x01\x02\x00\xfd\xffHI")))
	if _, err := dec.decodeFrame(2); err == nil {
		t.Fatalf("expected a bad-signature error")
	}
}

func TestMSZIPStoredBlockLengthMismatch(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("CK")
	buf.WriteByte(0x01)
	buf.WriteByte(2)
	buf.WriteByte(0)
	// Wrong complement on purpose.
	buf.WriteByte(0)
	buf.WriteByte(0)
	buf.Write([]byte("HI"))
	dec := newMSZIPDecoder(bytes.NewReader(buf.Bytes()))
	if _, err := dec.decodeFrame(2); err == nil {
		t.Fatalf("expected a length/complement mismatch error")
	}
}

func TestMSZIPWindowCarriesAcrossFrames(t *testing.T) {
	first := buildMSZIPStoredBlock([]byte("abcdefgh"))
	raw := append(append([]byte{}, first...), buildMSZIPStoredBlock([]byte("ijkl"))...)
	dec := newMSZIPDecoder(bytes.NewReader(raw))

	out1, err := dec.decodeFrame(8)
	if err != nil {
		t.Fatalf("first decodeFrame: %v", err)
	}
	if string(out1) != "abcdefgh" {
		t.Fatalf("first frame = %q, want %q", out1, "abcdefgh")
	}
	if !bytes.Equal(dec.window, []byte("abcdefgh")) {
		t.Fatalf("window after first frame = %q, want %q", dec.window, "abcdefgh")
	}

	out2, err := dec.decodeFrame(4)
	if err != nil {
		t.Fatalf("second decodeFrame: %v", err)
	}
	if string(out2) != "ijkl" {
		t.Fatalf("second frame = %q, want %q", out2, "ijkl")
	}
}

func TestCopyMatchAcrossWindowAndOutput(t *testing.T) {
	window := []byte("abcdef")
	out := []byte("XY")
	if err := copyMatch(window, &out, 8, 3); err != nil {
		t.Fatalf("copyMatch: %v", err)
	}
	// distance 8 from a total of 8 (6 window + 2 out) bytes means the
	// match starts at the very beginning of window.
	if string(out) != "XYabc" {
		t.Fatalf("out = %q, want %q", out, "XYabc")
	}
}

func TestCopyMatchOverlapsOwnOutput(t *testing.T) {
	var window []byte
	out := []byte("a")
	// distance 1, length 4 from a single byte "a" must repeat it.
	if err := copyMatch(window, &out, 1, 4); err != nil {
		t.Fatalf("copyMatch: %v", err)
	}
	if string(out) != "aaaaa" {
		t.Fatalf("out = %q, want %q", out, "aaaaa")
	}
}

func TestCopyMatchDistanceTooLarge(t *testing.T) {
	out := []byte("ab")
	if err := copyMatch(nil, &out, 5, 1); err == nil {
		t.Fatalf("expected an out-of-range distance error")
	}
}
