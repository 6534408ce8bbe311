package mscab

import (
	"bytes"
	"testing"
)

func TestSearchFindsEmbeddedCabinet(t *testing.T) {
	cab := buildStoredCabinet(1, 0, false, false, "", "", []fixtureFile{
		{name: "payload.txt", data: []byte("needle in a haystack")},
	})
	container := append(bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 2048), cab...)
	container = append(container, bytes.Repeat([]byte{0x00}, 100)...)

	sys := NewMemorySystem(map[string][]byte{"container.bin": container}, nil)
	dec := NewDecompressor(sys)
	found, err := dec.Search("container.bin")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("found %d cabinets, want 1", len(found))
	}
	if len(found[0].Files) != 1 || found[0].Files[0].Name != "payload.txt" {
		t.Fatalf("unexpected cabinet contents: %+v", found[0].Files)
	}
}

func TestSearchHandlesSignatureAcrossChunkBoundary(t *testing.T) {
	cab := buildStoredCabinet(1, 0, false, false, "", "", []fixtureFile{
		{name: "f", data: []byte("x")},
	})
	// Place the cabinet so its MSCF signature straddles a scanChunkSize
	// boundary.
	prefixLen := scanChunkSize - 2
	container := append(bytes.Repeat([]byte{0x00}, prefixLen), cab...)

	sys := NewMemorySystem(map[string][]byte{"c.bin": container}, nil)
	dec := NewDecompressor(sys)
	found, err := dec.Search("c.bin")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("found %d cabinets, want 1", len(found))
	}
}

func TestSearchNoCabinetsFound(t *testing.T) {
	sys := NewMemorySystem(map[string][]byte{"empty.bin": bytes.Repeat([]byte{0xaa}, 4096)}, nil)
	dec := NewDecompressor(sys)
	found, err := dec.Search("empty.bin")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("found %d cabinets, want 0", len(found))
	}
}

func TestReadScanHeaderRejectsOutOfRangeOffsets(t *testing.T) {
	cab := buildStoredCabinet(1, 0, false, false, "", "", []fixtureFile{{name: "f", data: []byte("x")}})
	r := bytes.NewReader(cab)
	if _, ok := readScanHeader(r, 0, int64(len(cab))); !ok {
		t.Fatalf("expected a valid scan header for a well-formed cabinet")
	}
	if _, ok := readScanHeader(r, 0, 4); ok {
		t.Fatalf("expected rejection when the container is too small to hold the claimed cabinet")
	}
}

func TestWarnIfInstallShieldDetectsStub(t *testing.T) {
	var msgs bytes.Buffer
	sys := NewMemorySystem(nil, &msgs)
	r := bytes.NewReader(append([]byte("ISc("), bytes.Repeat([]byte{0}, 16)...))
	if err := warnIfInstallShield(r, sys); err != nil {
		t.Fatalf("warnIfInstallShield: %v", err)
	}
	if msgs.Len() == 0 {
		t.Fatalf("expected a warning for an InstallShield stub")
	}
}
