package mscab

import "time"

// CompressionMethod is the low 4 bits of a folder's on-disk compression-type
// word (spec §6).
type CompressionMethod int

const (
	MethodNone CompressionMethod = iota
	MethodMSZIP
	MethodQuantum
	MethodLZX
)

func (m CompressionMethod) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodMSZIP:
		return "MSZIP"
	case MethodQuantum:
		return "Quantum"
	case MethodLZX:
		return "LZX"
	default:
		return "invalid"
	}
}

const (
	compressMask       uint16 = 0x000f
	compressWindowMask uint16 = 0x1f00
	compressWindowShift       = 8
)

// Method extracts the compression method from a folder's raw TypeCompress
// word.
func (c uint16Compress) Method() CompressionMethod { return CompressionMethod(uint16(c) & compressMask) }

// uint16Compress is the raw on-disk CompressType word, kept as a distinct
// type so Method()/WindowBits() read as named accessors rather than bit
// twiddling scattered through the parser and the driver.
type uint16Compress uint16

// WindowBits returns the window exponent for Quantum/LZX folders (bits 8-12
// of the compress-type word); it is meaningless for MethodNone/MethodMSZIP.
func (c uint16Compress) WindowBits() int { return int((uint16(c) & compressWindowMask) >> compressWindowShift) }

// Sentinel folder-index values a CFFILE record may carry in place of a real
// folder index (spec §4.7/§6).
const (
	folderContinuedFromPrev uint16 = 0xfffd
	folderContinuedToNext   uint16 = 0xfffe
	folderContinuedBoth     uint16 = 0xffff
)

// Attribute bits, low byte of CFFILE.Attribs (spec §3/§6).
const (
	AttribReadOnly = 1 << iota
	AttribHidden
	AttribSystem
	_
	_
	AttribArchive
	AttribExec
	AttribNameIsUTF8
)

const blockSize = 32768

// Segment is one contiguous run of data blocks a folder draws from: the
// cabinet that owns them, the absolute byte offset of the first CFDATA
// record, and how many blocks this segment contributes. A freshly parsed
// folder has exactly one segment; linking a split folder appends segments
// (spec §3 "Folder").
type Segment struct {
	Cabinet   *Cabinet
	Offset    uint32
	NumBlocks uint16
}

// Folder is a single compressed stream, possibly spanning more than one
// cabinet in a set.
type Folder struct {
	CompressType uint16
	Segments     []Segment

	// mergePrev/mergeNext are merge anchors (spec §3/§9): the first file
	// entry in this folder that continues from the previous cabinet, and
	// the first that continues into the next, respectively. Populated by
	// the parser from the folderContinued* sentinels, consumed and cleared
	// by the linker.
	mergePrev *FileEntry
	mergeNext *FileEntry
}

// TotalBlocks returns the folder's overall data-block count, the sum across
// every segment after linking; this is what the extraction driver checks a
// file's end offset against, not any single segment's count.
func (f *Folder) TotalBlocks() uint16 {
	var total uint16
	for _, s := range f.Segments {
		total += s.NumBlocks
	}
	return total
}

// Method returns the folder's compression method.
func (f *Folder) Method() CompressionMethod { return uint16Compress(f.CompressType).Method() }

// WindowBits returns the folder's window exponent (Quantum/LZX only).
func (f *Folder) WindowBits() int { return uint16Compress(f.CompressType).WindowBits() }

// FileEntry is one file record inside a cabinet. It is named FileEntry
// rather than File to avoid colliding with the System/File I/O interfaces.
type FileEntry struct {
	Name             string
	UncompressedSize uint32
	FolderOffset     uint32
	Folder           *Folder
	Date             uint16
	Time             uint16
	Attribs          uint16

	// rawFolderIndex and the continuation sentinels are only meaningful
	// between parsing and linking; once Folder is resolved they are no
	// longer consulted.
	rawFolderIndex uint16
}

// continuesFromPrev reports whether this file record was parsed with the
// "continued from previous cabinet" sentinel folder index.
func (fe *FileEntry) continuesFromPrev() bool {
	return fe.rawFolderIndex == folderContinuedFromPrev || fe.rawFolderIndex == folderContinuedBoth
}

// continuesToNext reports whether this file record was parsed with the
// "continued into next cabinet" sentinel folder index.
func (fe *FileEntry) continuesToNext() bool {
	return fe.rawFolderIndex == folderContinuedToNext || fe.rawFolderIndex == folderContinuedBoth
}

// ModTime decodes the packed DOS date/time fields into a time.Time in UTC,
// the same packing cabextract and go-cabfile use.
func (fe *FileEntry) ModTime() time.Time {
	year := int(fe.Date>>9) + 1980
	month := time.Month((fe.Date >> 5) & 0xf)
	day := int(fe.Date & 0x1f)
	hour := int(fe.Time >> 11)
	minute := int((fe.Time >> 5) & 0x3f)
	second := int(fe.Time&0x1f) * 2
	if month < time.January {
		month = time.January
	}
	if day < 1 {
		day = 1
	}
	return time.Date(year, month, day, hour, minute, second, 0, time.UTC)
}

// IsUTF8Name reports whether Name was stored as UTF-8 rather than MS-DOS OEM.
func (fe *FileEntry) IsUTF8Name() bool { return fe.Attribs&AttribNameIsUTF8 != 0 }

// Cabinet is one parsed cabinet file, optionally linked into a chain of
// neighbours sharing folders and files across file boundaries (spec §3).
type Cabinet struct {
	Name       string
	BaseOffset int64
	Length     uint32

	SetID    uint16
	SetIndex uint16

	HasPrev       bool
	HasNext       bool
	HasReserve    bool
	HeaderReserve []byte

	FolderReserveSize uint8
	BlockReserveSize  uint8

	PrevName, PrevDisk string
	NextName, NextDisk string

	Folders []*Folder
	Files   []*FileEntry

	Prev, Next *Cabinet

	VersionMajor uint8
	VersionMinor uint8

	sys System
}

// Version returns the on-disk format version as a semver.Version, so callers
// can compare it with ordinary operators (e.g. against the 1.3 baseline this
// package supports) the same way go-cabfile's lvfscab package compares LVFS
// release versions.
func (c *Cabinet) Version() Version {
	return Version{Major: uint64(c.VersionMajor), Minor: uint64(c.VersionMinor)}
}
