// Package blockindex implements the on-disk sidecar that records byte
// offsets at every Nth line of a log file, giving O(1) line-number to
// byte-offset lookup without re-scanning the file from the start.
package blockindex

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/zerosumquant/claude-extractor-core/pkg/fileutil"
	"github.com/zerosumquant/claude-extractor-core/pkg/mmapfile"
)

const (
	magic         = "BIX1"
	version       = 1
	headerSize    = 64
	defaultBlock  = 256
	sidecarSuffix = ".bix"
)

// Index is the in-memory representation of a block index sidecar.
type Index struct {
	BlockSize  uint16
	TotalLines uint64
	LastByte   uint64
	Checksum   uint32
	offsets    []uint64 // offsets[k] = start byte of line (k+1)*BlockSize
}

// SidecarPath returns the sidecar path for a given source log path.
func SidecarPath(sourcePath string) string {
	return sourcePath + sidecarSuffix
}

// LoadOrEmpty loads the sidecar at path. If it is missing or its header
// fails validation, an empty index is returned instead of an error.
func LoadOrEmpty(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return Empty(), nil
	}
	idx, ok := parse(data)
	if !ok {
		return Empty(), nil
	}
	return idx, nil
}

// Empty returns a fresh index with the default block size and no lines
// indexed, matching the state load_or_empty returns for a missing or
// corrupt sidecar.
func Empty() *Index {
	return &Index{BlockSize: defaultBlock}
}

func parse(data []byte) (*Index, bool) {
	if len(data) < headerSize {
		return nil, false
	}
	if string(data[0:4]) != magic {
		return nil, false
	}
	if data[4] != version {
		return nil, false
	}
	blockSize := binary.LittleEndian.Uint16(data[5:7])
	if blockSize == 0 {
		return nil, false
	}
	totalLines := binary.LittleEndian.Uint64(data[8:16])
	lastByte := binary.LittleEndian.Uint64(data[16:24])
	checksum := binary.LittleEndian.Uint32(data[24:28])

	body := data[headerSize:]
	wantEntries := int(totalLines / uint64(blockSize))
	if len(body) < wantEntries*8 {
		return nil, false
	}

	offsets := make([]uint64, wantEntries)
	for i := 0; i < wantEntries; i++ {
		offsets[i] = binary.LittleEndian.Uint64(body[i*8 : i*8+8])
	}

	return &Index{
		BlockSize:  blockSize,
		TotalLines: totalLines,
		LastByte:   lastByte,
		Checksum:   checksum,
		offsets:    offsets,
	}, true
}

func (idx *Index) encode() []byte {
	numEntries := len(idx.offsets)
	buf := make([]byte, headerSize+numEntries*8)
	copy(buf[0:4], magic)
	buf[4] = version
	binary.LittleEndian.PutUint16(buf[5:7], idx.BlockSize)
	// buf[7] reserved, zero
	binary.LittleEndian.PutUint64(buf[8:16], idx.TotalLines)
	binary.LittleEndian.PutUint64(buf[16:24], idx.LastByte)
	binary.LittleEndian.PutUint32(buf[24:28], idx.Checksum)
	// buf[28:64] reserved, zero
	for i, off := range idx.offsets {
		binary.LittleEndian.PutUint64(buf[headerSize+i*8:headerSize+i*8+8], off)
	}
	return buf
}

// PersistAtomic writes the index to a temporary file beside path, flushes,
// and renames it over path.
func (idx *Index) PersistAtomic(path string) error {
	return fileutil.WriteAtomic(path, idx.encode(), 0o644)
}

// AppendIncremental scans mf for complete lines starting at idx.LastByte,
// extends the running checksum, advances TotalLines/LastByte, and records a
// new offset entry every BlockSize lines. If any new lines were processed,
// it persists the sidecar to path.
func (idx *Index) AppendIncremental(mf *mmapfile.File, path string) error {
	if idx.BlockSize == 0 {
		idx.BlockSize = defaultBlock
	}
	start := int64(idx.LastByte)
	end := mf.Size()
	if start >= end {
		return nil
	}

	processed := false
	data := mf.Bytes()
	for line := range mf.FindLines(start, end) {
		processed = true
		idx.Checksum = crc32.Update(idx.Checksum, crc32.IEEETable, data[line.StartOffset:line.EndOffsetExclNL])
		idx.TotalLines++
		idx.LastByte = uint64(line.EndOffsetExclNL)
		if idx.TotalLines%uint64(idx.BlockSize) == 0 {
			idx.offsets = append(idx.offsets, uint64(line.EndOffsetExclNL))
		}
	}

	if !processed {
		return nil
	}
	return idx.PersistAtomic(path)
}

// LineOffset returns the stored block offset for the block containing
// line_no, if available. line_no == 0 always returns (0, true).
func (idx *Index) LineOffset(lineNo uint64) (uint64, bool) {
	if lineNo == 0 {
		return 0, true
	}
	blockIdx := int(lineNo / uint64(idx.BlockSize))
	if blockIdx == 0 {
		return 0, true
	}
	if blockIdx-1 >= len(idx.offsets) {
		return 0, false
	}
	return idx.offsets[blockIdx-1], true
}
