// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mscab

import (
	"bytes"
	"encoding/binary"
	"io"
)

const cabSignature = "MSCF"

// cfHeader is the 36-byte fixed cabinet header (spec §4.7).
type cfHeader struct {
	Signature    [4]byte
	Reserved1    uint32
	CBCabinet    uint32
	Reserved2    uint32
	COffFiles    uint32
	Reserved3    uint32
	VersionMinor uint8
	VersionMajor uint8
	CFolders     uint16
	CFiles       uint16
	Flags        uint16
	SetID        uint16
	ICabinet     uint16
}

const (
	hdrPrevCabinet uint16 = 1 << iota
	hdrNextCabinet
	hdrReservePresent
)

// cfHeaderReserve follows cfHeader when hdrReservePresent is set.
type cfHeaderReserve struct {
	CBCFHeader uint16
	CBCFFolder uint8
	CBCFData   uint8
}

// cfFolderRaw is one 8-byte on-disk folder record.
type cfFolderRaw struct {
	COffCabStart uint32
	CCFData      uint16
	TypeCompress uint16
}

// cfFileRaw is one 16-byte on-disk file record, followed by a NUL-terminated
// name.
type cfFileRaw struct {
	CBFile          uint32
	UOffFolderStart uint32
	IFolder         uint16
	Date            uint16
	Time            uint16
	Attribs         uint16
}

// parseOptions controls parser strictness. The scanner (§4.8) parses
// candidate offsets in quiet mode so that false-positive signatures do not
// each produce a warning.
type parseOptions struct {
	quiet bool
}

// parseCabinet reads one cabinet starting at baseOffset in r and returns the
// fully populated in-memory Cabinet, with folder merge anchors set from any
// continuation sentinels but not yet resolved across cabinets — that is the
// linker's job (§4.9).
func parseCabinet(r io.ReadSeeker, name string, baseOffset int64, sys System, opts parseOptions) (*Cabinet, error) {
	if _, err := r.Seek(baseOffset, io.SeekStart); err != nil {
		return nil, newErr(ErrSeek, "seeking to cabinet start: %v", err)
	}

	var hdr cfHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, newErr(ErrRead, "reading cabinet header: %v", err)
	}
	if !bytes.Equal(hdr.Signature[:], []byte(cabSignature)) {
		return nil, newErr(ErrSignature, "not a cabinet file")
	}

	cab := &Cabinet{
		Name:         name,
		BaseOffset:   baseOffset,
		Length:       hdr.CBCabinet,
		SetID:        hdr.SetID,
		SetIndex:     hdr.ICabinet,
		HasPrev:      hdr.Flags&hdrPrevCabinet != 0,
		HasNext:      hdr.Flags&hdrNextCabinet != 0,
		HasReserve:   hdr.Flags&hdrReservePresent != 0,
		VersionMajor: hdr.VersionMajor,
		VersionMinor: hdr.VersionMinor,
		sys:          sys,
	}

	if !opts.quiet && cab.Version().GT(supportedVersion) {
		sys.Message(nil, "%s: warning: cabinet format version %d.%d is newer than the %d.%d baseline this package understands",
			name, hdr.VersionMajor, hdr.VersionMinor, supportedVersion.Major, supportedVersion.Minor)
	}

	if cab.HasReserve {
		var res cfHeaderReserve
		if err := binary.Read(r, binary.LittleEndian, &res); err != nil {
			return nil, newErr(ErrRead, "reading header reserve sizes: %v", err)
		}
		cab.FolderReserveSize = res.CBCFFolder
		cab.BlockReserveSize = res.CBCFData
		if res.CBCFHeader > 0 {
			buf := make([]byte, res.CBCFHeader)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, newErr(ErrRead, "reading header-reserved data: %v", err)
			}
			cab.HeaderReserve = buf
		}
	}

	if cab.HasPrev {
		var err error
		if cab.PrevName, cab.PrevDisk, err = readCabString(r); err != nil {
			return nil, newErr(ErrRead, "reading previous-cabinet name: %v", err)
		}
	}
	if cab.HasNext {
		var err error
		if cab.NextName, cab.NextDisk, err = readCabString(r); err != nil {
			return nil, newErr(ErrRead, "reading next-cabinet name: %v", err)
		}
	}

	if hdr.CFolders == 0 {
		return nil, newErr(ErrDataFormat, "cabinet declares zero folders")
	}
	if hdr.CFiles == 0 {
		return nil, newErr(ErrDataFormat, "cabinet declares zero files")
	}

	folders := make([]*Folder, hdr.CFolders)
	for i := range folders {
		var raw cfFolderRaw
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, newErr(ErrRead, "reading folder %d: %v", i, err)
		}
		if cab.FolderReserveSize > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(cab.FolderReserveSize)); err != nil {
				return nil, newErr(ErrRead, "reading folder %d reserve: %v", i, err)
			}
		}
		folders[i] = &Folder{
			CompressType: raw.TypeCompress,
			Segments:     []Segment{{Cabinet: cab, Offset: raw.COffCabStart, NumBlocks: raw.CCFData}},
		}
	}
	cab.Folders = folders

	if _, err := r.Seek(baseOffset+int64(hdr.COffFiles), io.SeekStart); err != nil {
		return nil, newErr(ErrSeek, "seeking to file records: %v", err)
	}

	files := make([]*FileEntry, hdr.CFiles)
	for i := range files {
		var raw cfFileRaw
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, newErr(ErrRead, "reading file %d: %v", i, err)
		}
		nm, err := readNulString(r, 255)
		if err != nil {
			return nil, newErr(ErrRead, "reading file %d name: %v", i, err)
		}
		fe := &FileEntry{
			Name:             nm,
			UncompressedSize: raw.CBFile,
			FolderOffset:     raw.UOffFolderStart,
			Date:             raw.Date,
			Time:             raw.Time,
			Attribs:          raw.Attribs,
			rawFolderIndex:   raw.IFolder,
		}
		switch raw.IFolder {
		case folderContinuedFromPrev, folderContinuedToNext, folderContinuedBoth:
			if raw.IFolder != folderContinuedToNext {
				fe.Folder = folders[0]
				if folders[0].mergePrev == nil {
					folders[0].mergePrev = fe
				}
			}
			if raw.IFolder != folderContinuedFromPrev {
				last := folders[len(folders)-1]
				fe.Folder = last
				if last.mergeNext == nil {
					last.mergeNext = fe
				}
			}
		default:
			if int(raw.IFolder) >= len(folders) {
				return nil, newErr(ErrDataFormat, "file %d references out-of-range folder %d", i, raw.IFolder)
			}
			fe.Folder = folders[raw.IFolder]
		}
		files[i] = fe
	}
	cab.Files = files
	return cab, nil
}

// readNulString reads a NUL-terminated string directly off r, failing if it
// is not terminated within maxLen+1 bytes (spec §4.7: bounded at 255, error
// if unterminated in 256 bytes).
func readNulString(r io.Reader, maxLen int) (string, error) {
	buf := make([]byte, 0, 16)
	var b [1]byte
	for len(buf) <= maxLen {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
	return "", newErr(ErrDataFormat, "string exceeds %d bytes without a terminator", maxLen+1)
}

// readCabString reads the two NUL-terminated strings (cabinet name, disk
// name) that follow the header whenever the has-prev or has-next flag is
// set.
func readCabString(r io.Reader) (cabName, diskName string, err error) {
	if cabName, err = readNulString(r, 255); err != nil {
		return "", "", err
	}
	if diskName, err = readNulString(r, 255); err != nil {
		return "", "", err
	}
	return cabName, diskName, nil
}
