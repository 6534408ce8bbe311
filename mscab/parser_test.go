package mscab

import (
	"bytes"
	"testing"
)

func TestParseCabinetBasic(t *testing.T) {
	raw := buildStoredCabinet(42, 0, false, false, "", "", []fixtureFile{
		{name: "hello.txt", data: []byte("hello world")},
		{name: "sub\\a.bin", data: []byte{1, 2, 3, 4}},
	})
	sys := NewMemorySystem(nil, nil)
	cab, err := parseCabinet(bytes.NewReader(raw), "test.cab", 0, sys, parseOptions{})
	if err != nil {
		t.Fatalf("parseCabinet: %v", err)
	}
	if cab.SetID != 42 {
		t.Errorf("SetID = %d, want 42", cab.SetID)
	}
	if len(cab.Folders) != 1 {
		t.Fatalf("len(Folders) = %d, want 1", len(cab.Folders))
	}
	if cab.Folders[0].Method() != MethodNone {
		t.Errorf("folder method = %v, want none", cab.Folders[0].Method())
	}
	if len(cab.Files) != 2 {
		t.Fatalf("len(Files) = %d, want 2", len(cab.Files))
	}
	if cab.Files[0].Name != "hello.txt" || cab.Files[0].UncompressedSize != 11 {
		t.Errorf("file 0 = %+v", cab.Files[0])
	}
	if cab.Files[1].Name != "sub\\a.bin" || cab.Files[1].FolderOffset != 11 {
		t.Errorf("file 1 = %+v", cab.Files[1])
	}
	for _, fe := range cab.Files {
		if fe.Folder != cab.Folders[0] {
			t.Errorf("file %q not bound to the cabinet's single folder", fe.Name)
		}
	}
}

func TestParseCabinetBadSignature(t *testing.T) {
	raw := buildStoredCabinet(1, 0, false, false, "", "", []fixtureFile{{name: "a", data: []byte{1}}})
	raw[0] = 'X'
	sys := NewMemorySystem(nil, nil)
	if _, err := parseCabinet(bytes.NewReader(raw), "bad.cab", 0, sys, parseOptions{}); err == nil {
		t.Fatalf("expected a signature error")
	} else if KindOf(err) != ErrSignature {
		t.Errorf("KindOf(err) = %v, want ErrSignature", KindOf(err))
	}
}

func TestParseCabinetPrevNextNames(t *testing.T) {
	raw := buildStoredCabinet(1, 1, true, true, "prev.cab", "next.cab", []fixtureFile{
		{name: "f", data: []byte("x")},
	})
	sys := NewMemorySystem(nil, nil)
	cab, err := parseCabinet(bytes.NewReader(raw), "mid.cab", 0, sys, parseOptions{})
	if err != nil {
		t.Fatalf("parseCabinet: %v", err)
	}
	if cab.PrevName != "prev.cab" || cab.NextName != "next.cab" {
		t.Errorf("PrevName/NextName = %q/%q", cab.PrevName, cab.NextName)
	}
}

func TestParseCabinetVersionWarning(t *testing.T) {
	raw := buildStoredCabinet(1, 0, false, false, "", "", []fixtureFile{{name: "f", data: []byte("x")}})
	// Bump the version fields (offset 24/25: minor, major) past the
	// supported 1.3 baseline.
	raw[24] = 9 // minor
	raw[25] = 2 // major

	var buf bytes.Buffer
	sys := NewMemorySystem(nil, &buf)
	if _, err := parseCabinet(bytes.NewReader(raw), "newer.cab", 0, sys, parseOptions{}); err != nil {
		t.Fatalf("parseCabinet: %v", err)
	}
	if buf.Len() == 0 {
		t.Errorf("expected a version warning to be emitted")
	}
}

func TestParseCabinetQuietSuppressesVersionWarning(t *testing.T) {
	raw := buildStoredCabinet(1, 0, false, false, "", "", []fixtureFile{{name: "f", data: []byte("x")}})
	raw[24] = 9
	raw[25] = 2

	var buf bytes.Buffer
	sys := NewMemorySystem(nil, &buf)
	if _, err := parseCabinet(bytes.NewReader(raw), "newer.cab", 0, sys, parseOptions{quiet: true}); err != nil {
		t.Fatalf("parseCabinet: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("quiet mode should suppress the version warning, got %q", buf.String())
	}
}

func TestReadNulStringUnterminatedFails(t *testing.T) {
	raw := bytes.Repeat([]byte{'a'}, 300)
	if _, err := readNulString(bytes.NewReader(raw), 255); err == nil {
		t.Fatalf("expected an error for an unterminated string")
	}
}

func TestReadNulStringExact(t *testing.T) {
	s, err := readNulString(bytes.NewReader([]byte("abc\x00trailing")), 255)
	if err != nil {
		t.Fatalf("readNulString: %v", err)
	}
	if s != "abc" {
		t.Fatalf("got %q, want %q", s, "abc")
	}
}
