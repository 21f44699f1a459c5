//go:build linux || darwin

package mmapfile

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// platformFile holds the open handle and current mapping for Unix
// platforms, identified by (device, inode) so rotation under the same path
// is detectable even across unlink+recreate.
type platformFile struct {
	fd      *os.File
	dev     uint64
	ino     uint64
	mapped  []byte
}

func platformOpen(path string) (*platformFile, int64, error) {
	fd, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrFileMissing
		}
		if errors.Is(err, os.ErrPermission) {
			return nil, 0, ErrPermissionDenied
		}
		return nil, 0, fmt.Errorf("mmapfile: open: %w", err)
	}

	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, 0, fmt.Errorf("mmapfile: stat: %w", err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		fd.Close()
		return nil, 0, fmt.Errorf("mmapfile: unsupported stat type")
	}

	pf := &platformFile{
		fd:  fd,
		dev: uint64(st.Dev),
		ino: uint64(st.Ino),
	}
	return pf, info.Size(), nil
}

// mapRange replaces the current mapping with one covering [0, size). Growth
// on Unix requires a fresh mmap call since syscall.Mmap doesn't support
// resizing an existing mapping; the file handle itself is untouched.
func (pf *platformFile) mapRange(size int64) ([]byte, error) {
	if pf.mapped != nil {
		syscall.Munmap(pf.mapped)
		pf.mapped = nil
	}
	if size == 0 {
		return nil, nil
	}
	data, err := syscall.Mmap(int(pf.fd.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	pf.mapped = data
	return data, nil
}

// statChanged reports whether the file's (device, inode) identity differs
// from what was recorded at open/reopen time, plus the file's current size.
func (pf *platformFile) statChanged() (identityChanged bool, size int64, err error) {
	var st syscall.Stat_t
	if err := syscall.Stat(pf.fd.Name(), &st); err != nil {
		if errors.Is(err, syscall.ENOENT) {
			return false, 0, ErrFileMissing
		}
		return false, 0, fmt.Errorf("mmapfile: stat: %w", err)
	}
	changed := uint64(st.Dev) != pf.dev || uint64(st.Ino) != pf.ino
	return changed, st.Size, nil
}

// identityPair returns the (device, inode) pair recorded at open/reopen time.
func (pf *platformFile) identityPair() (int64, int64) {
	return int64(pf.dev), int64(pf.ino)
}

func (pf *platformFile) close() error {
	if pf.mapped != nil {
		syscall.Munmap(pf.mapped)
		pf.mapped = nil
	}
	if pf.fd != nil {
		err := pf.fd.Close()
		pf.fd = nil
		return err
	}
	return nil
}
