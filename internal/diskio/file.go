// Package diskio opens slide files with close-on-exec semantics and
// offers positioned reads, mirroring the byte-reader layer of the
// original C implementation (openslide-file.c) in idiomatic Go.
package diskio

import (
	"io"
	"os"

	"github.com/cocosip/go-wsi/internal/core"
)

// File is a positioned reader over one underlying OS file. ReadAt and
// ReadExact do not move the file's cursor and may be called from many
// goroutines at once, which is how the vendors' tile sources read;
// Seek and the other cursor-based methods share one cursor and are not
// safe for concurrent use, so callers wanting independent cursors over
// one path take them from a HandleCache instead.
type File struct {
	f    *os.File
	path string
}

// Open opens path for reading. Go's os package sets close-on-exec on
// every file descriptor it opens, so no explicit flag is needed here —
// the equivalent of _openslide_fopen's FOPEN_CLOEXEC_FLAG dance is
// handled once, centrally, by the runtime.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, core.IOError(err, "Couldn't open %s", path)
	}
	return &File{f: f, path: path}, nil
}

// ReadAt implements io.ReaderAt, mirroring _openslide_fread: it may
// return fewer bytes than requested on EOF, with err set accordingly,
// and only wraps a core.Error for genuine I/O failures.
func (file *File) ReadAt(buf []byte, off int64) (int, error) {
	n, err := file.f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return n, core.IOError(err, "I/O error reading file %s", file.path)
	}
	return n, err
}

// ReadExact reads exactly len(buf) bytes at offset off, failing with a
// core.Error of kind KindFailed ("Short read") if fewer bytes are
// available, mirroring _openslide_fread_exact.
func (file *File) ReadExact(buf []byte, off int64) error {
	n, err := file.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return err
	}
	if n < len(buf) {
		return core.Failed("Short read of file %s: %d < %d", file.path, n, len(buf))
	}
	return nil
}

// Seek repositions the file's cursor, mirroring _openslide_fseek.
func (file *File) Seek(offset int64, whence int) error {
	if _, err := file.f.Seek(offset, whence); err != nil {
		return core.IOError(err, "Couldn't seek file %s", file.path)
	}
	return nil
}

// Tell reports the current cursor position, mirroring _openslide_ftell.
func (file *File) Tell() (int64, error) {
	pos, err := file.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1, core.IOError(err, "Couldn't get offset of %s", file.path)
	}
	return pos, nil
}

// Size reports the file's total byte length without disturbing the
// current cursor position, mirroring _openslide_fsize's
// save/seek-end/tell/restore dance.
func (file *File) Size() (int64, error) {
	orig, err := file.Tell()
	if err != nil {
		return -1, core.Prefix(err, "Couldn't get size")
	}
	size, err := file.f.Seek(0, io.SeekEnd)
	if err != nil {
		return -1, core.Prefix(core.IOError(err, "Couldn't seek file %s", file.path), "Couldn't get size")
	}
	if err := file.Seek(orig, io.SeekStart); err != nil {
		return -1, core.Prefix(err, "Couldn't get size")
	}
	return size, nil
}

// Close releases the underlying OS file handle.
func (file *File) Close() error {
	return file.f.Close()
}

// Path returns the path this file was opened from.
func (file *File) Path() string {
	return file.path
}

// Exists reports whether path names an existing file, mirroring
// _openslide_fexists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
