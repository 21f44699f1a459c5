// Package mmapfile presents the current on-disk bytes of a growing,
// possibly-rotating log file as a read-only contiguous slice, with a line
// iterator and change detection. Platform-specific mapping realizations
// live in mmapfile_unix.go and mmapfile_windows.go; this file holds the
// shared contract and the line scanner that both realizations use.
package mmapfile

import (
	"bytes"
	"errors"
	"fmt"
)

// ChangeKind describes what remap_if_changed observed.
type ChangeKind int

const (
	// NoChange means the file is unchanged since the last check.
	NoChange ChangeKind = iota
	// Grew means the file grew in place; the handle and identity are unchanged.
	Grew
	// Rotated means the file's identity changed or it shrank below the
	// previously observed cursor; callers must treat this as a new file.
	Rotated
)

// Line is one complete, newline-terminated record produced by FindLines.
type Line struct {
	Content          []byte
	StartOffset      int64
	EndOffsetExclNL  int64 // end offset, exclusive, including the terminating newline
}

var (
	// ErrFileMissing is returned when the underlying path no longer exists.
	ErrFileMissing = errors.New("mmapfile: file missing")
	// ErrPermissionDenied is returned when the file cannot be opened for reading.
	ErrPermissionDenied = errors.New("mmapfile: permission denied")
	// ErrMapFailed is returned when the OS mapping call itself fails.
	ErrMapFailed = errors.New("mmapfile: map failed")
)

// File is a read-only mapped view of a single path. The zero value is not
// usable; construct with Open.
type File struct {
	path       string
	size       int64
	generation int
	data       []byte
	impl       *platformFile
}

// Open opens path for shared read and maps it. The file is opened with
// sharing flags that permit concurrent readers, writers, and deletion by the
// writer, since the producer on the other end of the pipe keeps the file
// open for append while this process reads it.
func Open(path string) (*File, error) {
	impl, size, err := platformOpen(path)
	if err != nil {
		return nil, err
	}
	f := &File{path: path, impl: impl, size: size, generation: 0}
	if size > 0 {
		data, err := impl.mapRange(size)
		if err != nil {
			impl.close()
			return nil, fmt.Errorf("%w: %v", ErrMapFailed, err)
		}
		f.data = data
	}
	return f, nil
}

// Path returns the path this handle was opened with.
func (f *File) Path() string { return f.path }

// Size returns the current mapped size.
func (f *File) Size() int64 { return f.size }

// Generation returns the remap counter, incremented each time the mapping
// is extended and reset to 0 when the file is reopened after rotation or
// truncation.
func (f *File) Generation() int { return f.generation }

// Identity returns the platform identity pair recorded at open/reopen time:
// (device, inode) on Unix, (volume serial, file index) on Windows.
// Suitable for storing in source_files.device_id/inode to detect rotation
// independently of this process's own bookkeeping.
func (f *File) Identity() (deviceID, inode int64) {
	return f.impl.identityPair()
}

// Bytes returns the current mapped slice. Valid until the next
// RemapIfChanged that reports a change, or until Close.
func (f *File) Bytes() []byte { return f.data }

// RemapIfChanged stats the file and reacts to growth, rotation, or
// truncation. It returns the kind of change observed (NoChange if none).
func (f *File) RemapIfChanged() (ChangeKind, error) {
	identityChanged, newSize, err := f.impl.statChanged()
	if err != nil {
		return NoChange, err
	}

	if identityChanged {
		if err := f.reopen(); err != nil {
			return NoChange, err
		}
		return Rotated, nil
	}

	if newSize < f.size {
		// Same identity but shrank: truncation in place.
		if err := f.reopen(); err != nil {
			return NoChange, err
		}
		return Rotated, nil
	}

	if newSize > f.size {
		data, err := f.impl.mapRange(newSize)
		if err != nil {
			return NoChange, fmt.Errorf("%w: %v", ErrMapFailed, err)
		}
		f.data = data
		f.size = newSize
		f.generation++
		return Grew, nil
	}

	return NoChange, nil
}

// reopen closes the current mapping and handle and opens a fresh one at the
// same path, resetting the generation counter. Used when rotation or
// truncation is detected.
func (f *File) reopen() error {
	f.impl.close()
	impl, size, err := platformOpen(f.path)
	if err != nil {
		return err
	}
	f.impl = impl
	f.size = size
	f.generation = 0
	f.data = nil
	if size > 0 {
		data, err := impl.mapRange(size)
		if err != nil {
			impl.close()
			return fmt.Errorf("%w: %v", ErrMapFailed, err)
		}
		f.data = data
	}
	return nil
}

// Close releases OS resources. Idempotent.
func (f *File) Close() error {
	if f.impl == nil {
		return nil
	}
	err := f.impl.close()
	f.impl = nil
	f.data = nil
	return err
}

// FindLines returns a lazy, finite, single-pass iterator over complete
// newline-terminated lines in [start, end) of the current mapping. A single
// optional trailing CR before the LF is stripped. A partial trailing line
// with no terminating LF is never emitted.
func (f *File) FindLines(start, end int64) func(yield func(Line) bool) {
	return func(yield func(Line) bool) {
		if start < 0 {
			start = 0
		}
		if end > int64(len(f.data)) {
			end = int64(len(f.data))
		}
		data := f.data
		pos := start
		for pos < end {
			rel := bytes.IndexByte(data[pos:end], '\n')
			if rel < 0 {
				return // partial trailing line, not emitted
			}
			lineEnd := pos + int64(rel) + 1 // exclusive, including LF
			contentEnd := pos + int64(rel)
			if contentEnd > pos && data[contentEnd-1] == '\r' {
				contentEnd--
			}
			line := Line{
				Content:         data[pos:contentEnd],
				StartOffset:     pos,
				EndOffsetExclNL: lineEnd,
			}
			if !yield(line) {
				return
			}
			pos = lineEnd
		}
	}
}
