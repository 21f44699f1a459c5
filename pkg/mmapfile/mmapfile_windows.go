//go:build windows

package mmapfile

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// platformFile holds the open handle and current mapping for Windows,
// identified by (volume serial number, file index) so rotation under the
// same path is detectable even across unlink+recreate.
type platformFile struct {
	handle     windows.Handle
	mapping    windows.Handle
	view       uintptr
	mappedSize int64
	volSerial  uint32
	idxHigh    uint32
	idxLow     uint32
}

func platformOpen(path string) (*platformFile, int64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, 0, fmt.Errorf("mmapfile: path conversion: %w", err)
	}

	// FILE_SHARE_READ|WRITE|DELETE so a concurrently writing or rotating
	// producer is never blocked by our open handle.
	handle, err := windows.CreateFile(
		p,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) || errors.Is(err, windows.ERROR_PATH_NOT_FOUND) {
			return nil, 0, ErrFileMissing
		}
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return nil, 0, ErrPermissionDenied
		}
		return nil, 0, fmt.Errorf("mmapfile: CreateFile: %w", err)
	}

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(handle, &info); err != nil {
		windows.CloseHandle(handle)
		return nil, 0, fmt.Errorf("mmapfile: GetFileInformationByHandle: %w", err)
	}

	pf := &platformFile{
		handle:    handle,
		volSerial: info.VolumeSerialNumber,
		idxHigh:   info.FileIndexHigh,
		idxLow:    info.FileIndexLow,
	}
	size := int64(info.FileSizeHigh)<<32 | int64(info.FileSizeLow)
	return pf, size, nil
}

func (pf *platformFile) unmapLocked() {
	if pf.view != 0 {
		windows.UnmapViewOfFile(pf.view)
		pf.view = 0
	}
	if pf.mapping != 0 {
		windows.CloseHandle(pf.mapping)
		pf.mapping = 0
	}
}

// mapRange replaces the current mapping with one covering [0, size).
func (pf *platformFile) mapRange(size int64) ([]byte, error) {
	pf.unmapLocked()
	if size == 0 {
		return nil, nil
	}

	sizeHigh := uint32(size >> 32)
	sizeLow := uint32(size & 0xffffffff)
	mapping, err := windows.CreateFileMapping(pf.handle, nil, windows.PAGE_READONLY, sizeHigh, sizeLow, nil)
	if err != nil {
		return nil, err
	}

	addr, err := windows.MapViewOfFile(mapping, windows.FILE_MAP_READ, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(mapping)
		return nil, err
	}

	pf.mapping = mapping
	pf.view = addr
	pf.mappedSize = size

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	return data, nil
}

// statChanged reports whether the file's (volume serial, file index)
// identity differs from what was recorded at open/reopen time, plus the
// file's current size.
func (pf *platformFile) statChanged() (identityChanged bool, size int64, err error) {
	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(pf.handle, &info); err != nil {
		return false, 0, fmt.Errorf("mmapfile: GetFileInformationByHandle: %w", err)
	}
	changed := info.VolumeSerialNumber != pf.volSerial ||
		info.FileIndexHigh != pf.idxHigh ||
		info.FileIndexLow != pf.idxLow
	sz := int64(info.FileSizeHigh)<<32 | int64(info.FileSizeLow)
	return changed, sz, nil
}

// identityPair packs (VolumeSerialNumber, FileIndexHigh/Low) into two
// int64s matching the cross-platform (device_id, inode) storage shape.
func (pf *platformFile) identityPair() (int64, int64) {
	return int64(pf.volSerial), int64(pf.idxHigh)<<32 | int64(pf.idxLow)
}

func (pf *platformFile) close() error {
	pf.unmapLocked()
	if pf.handle != 0 {
		err := windows.CloseHandle(pf.handle)
		pf.handle = 0
		return err
	}
	return nil
}

// os is referenced here only so its import is used; the windows
// realization never opens *os.File directly.
var _ = os.ErrNotExist
