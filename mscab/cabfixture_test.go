package mscab

import (
	"bytes"
	"encoding/binary"
)

// fixtureFile is one file to embed in a synthesized test cabinet.
type fixtureFile struct {
	name string
	data []byte
}

// buildStoredCabinet synthesizes a single, self-contained cabinet (no
// reserve fields, one folder, method none) containing the given files back
// to back in a single data block — byte-exact and trivial to construct,
// which is why the stored method is what the parser/linker/scanner/driver
// tests exercise rather than any of the compressed methods.
func buildStoredCabinet(setID, setIndex uint16, hasPrev, hasNext bool, prevName, nextName string, files []fixtureFile) []byte {
	const headerSize = 36
	const folderRecSize = 8
	const fileRecSize = 16

	var payload []byte
	fileOffsets := make([]uint32, len(files))
	for i, f := range files {
		fileOffsets[i] = uint32(len(payload))
		payload = append(payload, f.data...)
	}

	offFiles := uint32(headerSize + folderRecSize)
	var prevBytes, nextBytes []byte
	if hasPrev {
		prevBytes = append(append([]byte(prevName), 0), append([]byte(prevName), 0)...)
	}
	if hasNext {
		nextBytes = append(append([]byte(nextName), 0), append([]byte(nextName), 0)...)
	}
	offFiles += uint32(len(prevBytes) + len(nextBytes))

	fileRecsSize := 0
	for _, f := range files {
		fileRecsSize += fileRecSize + len(f.name) + 1
	}
	dataStart := offFiles + uint32(fileRecsSize)
	totalLen := dataStart + 8 + uint32(len(payload))

	var buf bytes.Buffer
	buf.WriteString(cabSignature)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved1
	binary.Write(&buf, binary.LittleEndian, totalLen)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved2
	binary.Write(&buf, binary.LittleEndian, offFiles)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved3
	buf.WriteByte(3)                                   // version minor
	buf.WriteByte(1)                                   // version major
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // CFolders
	binary.Write(&buf, binary.LittleEndian, uint16(len(files)))

	var flags uint16
	if hasPrev {
		flags |= hdrPrevCabinet
	}
	if hasNext {
		flags |= hdrNextCabinet
	}
	binary.Write(&buf, binary.LittleEndian, flags)
	binary.Write(&buf, binary.LittleEndian, setID)
	binary.Write(&buf, binary.LittleEndian, setIndex)

	if hasPrev {
		buf.Write(prevBytes)
	}
	if hasNext {
		buf.Write(nextBytes)
	}

	// Folder record.
	binary.Write(&buf, binary.LittleEndian, dataStart)
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // one data block
	binary.Write(&buf, binary.LittleEndian, uint16(MethodNone))

	// File records.
	for i, f := range files {
		binary.Write(&buf, binary.LittleEndian, uint32(len(f.data)))
		binary.Write(&buf, binary.LittleEndian, fileOffsets[i])
		binary.Write(&buf, binary.LittleEndian, uint16(0)) // folder 0
		binary.Write(&buf, binary.LittleEndian, uint16(0)) // date
		binary.Write(&buf, binary.LittleEndian, uint16(0)) // time
		binary.Write(&buf, binary.LittleEndian, uint16(0)) // attribs
		buf.WriteString(f.name)
		buf.WriteByte(0)
	}

	// Data block.
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // checksum 0 skips verification
	binary.Write(&buf, binary.LittleEndian, uint16(len(payload)))
	binary.Write(&buf, binary.LittleEndian, uint16(len(payload)))
	buf.Write(payload)

	return buf.Bytes()
}
