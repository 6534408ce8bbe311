package main

import (
	"archive/tar"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Target is where extracted file content goes, mirroring the teacher's
// TargetI: Create opens the next entry, subsequent Write calls fill it, and
// Close flushes everything. Extracted cabinet files are visited one at a
// time so this single-current-entry shape (rather than a full io/fs-style
// tree) is all the driver needs.
type Target interface {
	Create(path string, size int64, modTime time.Time) error
	Write(b []byte) (int, error)
	Close() error
}

// directoryTarget writes extracted files onto the real filesystem, creating
// parent directories as needed.
type directoryTarget struct {
	rootDir  string
	currFile *os.File
}

func newDirectoryTarget(rootDir string) *directoryTarget {
	return &directoryTarget{rootDir: rootDir}
}

func (d *directoryTarget) Create(path string, size int64, modTime time.Time) error {
	if d.currFile != nil {
		d.currFile.Close()
	}
	targetPath := filepath.Join(d.rootDir, filepath.FromSlash(path))
	f, err := os.Create(targetPath)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
			return err
		}
		f, err = os.Create(targetPath)
		if err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	d.currFile = f
	return os.Chtimes(targetPath, modTime, modTime)
}

func (d *directoryTarget) Write(b []byte) (int, error) {
	return d.currFile.Write(b)
}

func (d *directoryTarget) Close() error {
	if d.currFile != nil {
		return d.currFile.Close()
	}
	return nil
}

// archiveTarget writes extracted files into a zstd-compressed tar stream,
// the CLI's --out-tar mode.
type archiveTarget struct {
	outFile *os.File
	outComp *zstd.Encoder
	out     *tar.Writer
}

func newArchiveTarget(name string) (*archiveTarget, error) {
	outFile, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	outComp, err := zstd.NewWriter(outFile)
	if err != nil {
		outFile.Close()
		return nil, err
	}
	return &archiveTarget{
		outFile: outFile,
		outComp: outComp,
		out:     tar.NewWriter(outComp),
	}, nil
}

func (a *archiveTarget) Create(path string, size int64, modTime time.Time) error {
	return a.out.WriteHeader(&tar.Header{
		Name:    path,
		ModTime: modTime,
		Size:    size,
		Mode:    0644,
	})
}

func (a *archiveTarget) Write(b []byte) (int, error) {
	return a.out.Write(b)
}

func (a *archiveTarget) Close() error {
	if err := a.out.Close(); err != nil {
		return err
	}
	if err := a.outComp.Close(); err != nil {
		return err
	}
	return a.outFile.Close()
}
