// Package scan enumerates candidate log files under a root directory,
// satisfying the filesystem scan contract: absolute paths of files ending
// in ".jsonl", sorted by modification time descending.
package scan

import (
	"os"
	"path/filepath"
	"sort"
)

type fileWithTime struct {
	path  string
	mtime int64
}

// Files walks root and returns absolute paths of every file ending in
// ".jsonl" under it, sorted by modification time descending (most recent
// first). A missing root yields an empty slice, not an error.
func Files(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var found []fileWithTime
	err = filepath.Walk(abs, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".jsonl" {
			return nil
		}
		found = append(found, fileWithTime{path: path, mtime: info.ModTime().UnixNano()})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].mtime > found[j].mtime
	})

	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths, nil
}
