package mscab

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
)

// OpenMode selects the access mode a System.Open call should use, mirroring
// libmspack's MSPACK_SYS_OPEN_* constants.
type OpenMode int

const (
	ModeRead OpenMode = iota
	ModeWrite
	ModeUpdate
	ModeAppend
)

// System is the capability interface a Decompressor uses for all I/O. It
// replaces libmspack's function-pointer mspack_system: named backends (the
// OS filesystem, an in-memory map) implement Open, and diagnostic output
// goes through Message instead of stdio so library warnings never assume a
// process-wide logger.
type System interface {
	// Open opens name in the given mode. Read mode must fail if the name
	// does not exist; write/update/append modes may create it.
	Open(name string, mode OpenMode) (File, error)
	// Message reports a non-fatal diagnostic associated with f (which may
	// be nil). The default backends write it to an io.Writer supplied at
	// construction; callers that don't care can pass a System built with a
	// nil writer, which discards messages.
	Message(f File, format string, args ...interface{})
}

// File is the handle returned by System.Open. It is intentionally the union
// of io.Reader/Writer/Seeker/Closer rather than a custom read/write/seek/tell
// quartet: every concrete backend below already satisfies it natively.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// ErrNotSeekable is returned by Seek on write-only sink files (stdout, MD5
// digest) that have no concept of position.
var ErrNotSeekable = errors.New("mscab: file is not seekable")

// osSystem is the default System backend, reading and writing real files on
// disk. A zero value is ready to use; msgw is where Message output goes
// (nil discards it).
type osSystem struct {
	msgw io.Writer
}

// NewOSSystem returns a System backed by the real filesystem. Diagnostic
// messages are written to msgw if non-nil.
func NewOSSystem(msgw io.Writer) System {
	return &osSystem{msgw: msgw}
}

func (s *osSystem) Open(name string, mode OpenMode) (File, error) {
	var flag int
	switch mode {
	case ModeRead:
		flag = os.O_RDONLY
	case ModeWrite:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case ModeUpdate:
		flag = os.O_RDWR
	case ModeAppend:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	default:
		return nil, fmt.Errorf("unknown open mode %d", mode)
	}
	f, err := os.OpenFile(name, flag, 0644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *osSystem) Message(f File, format string, args ...interface{}) {
	if s.msgw == nil {
		return
	}
	fmt.Fprintf(s.msgw, format+"\n", args...)
}

// MemorySystem is a System backed by an in-memory name->bytes map, used by
// tests and by callers who already have cabinet bytes loaded. Names written
// via ModeWrite/ModeUpdate/ModeAppend are captured back into the map on
// Close so round-tripping through Open(ModeRead) observes the written bytes.
type MemorySystem struct {
	files map[string][]byte
	msgw  io.Writer
}

// NewMemorySystem returns a System whose Open resolves against the given
// name->content map. The map is not copied; callers may mutate it between
// calls.
func NewMemorySystem(files map[string][]byte, msgw io.Writer) *MemorySystem {
	if files == nil {
		files = make(map[string][]byte)
	}
	return &MemorySystem{files: files, msgw: msgw}
}

func (s *MemorySystem) Open(name string, mode OpenMode) (File, error) {
	switch mode {
	case ModeRead:
		b, ok := s.files[name]
		if !ok {
			return nil, fmt.Errorf("no such file %q", name)
		}
		return &memFile{buf: bytes.NewReader(append([]byte(nil), b...))}, nil
	case ModeWrite:
		return &memFile{sys: s, name: name, write: true}, nil
	case ModeUpdate:
		b := append([]byte(nil), s.files[name]...)
		return &memFile{sys: s, name: name, write: true, buf: bytes.NewReader(b), data: b}, nil
	case ModeAppend:
		b := append([]byte(nil), s.files[name]...)
		mf := &memFile{sys: s, name: name, write: true, data: b}
		mf.pos = int64(len(b))
		return mf, nil
	default:
		return nil, fmt.Errorf("unknown open mode %d", mode)
	}
}

func (s *MemorySystem) Message(f File, format string, args ...interface{}) {
	if s.msgw == nil {
		return
	}
	fmt.Fprintf(s.msgw, format+"\n", args...)
}

// memFile is the File implementation for MemorySystem. It supports the same
// read/write/seek semantics as a real file, entirely over a byte slice.
type memFile struct {
	sys   *MemorySystem
	name  string
	write bool
	buf   *bytes.Reader
	data  []byte
	pos   int64
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.buf == nil {
		return 0, io.EOF
	}
	return f.buf.Read(p)
}

func (f *memFile) Write(p []byte) (int, error) {
	if !f.write {
		return 0, fmt.Errorf("mscab: file %q not opened for writing", f.name)
	}
	if int64(len(f.data)) < f.pos {
		f.data = append(f.data, make([]byte, f.pos-int64(len(f.data)))...)
	}
	end := f.pos + int64(len(p))
	if int64(len(f.data)) < end {
		f.data = append(f.data, make([]byte, end-int64(len(f.data)))...)
	}
	copy(f.data[f.pos:end], p)
	f.pos = end
	if f.sys != nil {
		f.sys.files[f.name] = f.data
	}
	return len(p), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	if f.buf != nil {
		return f.buf.Seek(offset, whence)
	}
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = int64(len(f.data))
	default:
		return 0, fmt.Errorf("unknown whence %d", whence)
	}
	f.pos = base + offset
	return f.pos, nil
}

func (f *memFile) Close() error {
	if f.sys != nil && f.write {
		f.sys.files[f.name] = f.data
	}
	return nil
}

// stdoutFile is a write-only, non-seekable sink wrapping an io.Writer, used
// by the CLI's "write to stdout" sentinel target.
type stdoutFile struct {
	w io.Writer
}

// NewStdoutFile wraps w (typically os.Stdout) as a write-only File.
func NewStdoutFile(w io.Writer) File { return &stdoutFile{w: w} }

func (s *stdoutFile) Read([]byte) (int, error)  { return 0, fmt.Errorf("mscab: stdout sink is write-only") }
func (s *stdoutFile) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stdoutFile) Seek(int64, int) (int64, error) { return 0, ErrNotSeekable }
func (s *stdoutFile) Close() error { return nil }

// digestFile is a write-only, non-seekable sink that feeds an MD5 context
// instead of storing bytes, backing the CLI's --test mode.
type digestFile struct {
	h interface {
		io.Writer
		Sum([]byte) []byte
	}
}

// NewDigestFile returns a File whose Write calls feed an MD5 hash. Sum
// returns the running digest.
func NewDigestFile() interface {
	File
	Sum() [16]byte
} {
	return &digestFile{h: md5.New()}
}

func (d *digestFile) Read([]byte) (int, error) { return 0, fmt.Errorf("mscab: digest sink is write-only") }
func (d *digestFile) Write(p []byte) (int, error) { return d.h.Write(p) }
func (d *digestFile) Seek(int64, int) (int64, error) { return 0, ErrNotSeekable }
func (d *digestFile) Close() error { return nil }
func (d *digestFile) Sum() [16]byte {
	var out [16]byte
	copy(out[:], d.h.Sum(nil))
	return out
}

// nullFile discards everything written to it; the extraction driver uses it
// to skip forward within a folder without allocating output.
type nullFile struct{}

func (nullFile) Read([]byte) (int, error)         { return 0, io.EOF }
func (nullFile) Write(p []byte) (int, error)      { return len(p), nil }
func (nullFile) Seek(int64, int) (int64, error)   { return 0, ErrNotSeekable }
func (nullFile) Close() error                     { return nil }

var discard File = nullFile{}
