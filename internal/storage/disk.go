package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// sqliteSidecars are the files SQLite keeps next to a database in WAL mode.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// Usage is the on-disk footprint of the stores.
type Usage struct {
	Total      int64            `json:"total"`
	Components map[string]int64 `json:"components"`
}

// MeasureUsage sums the size of each named path. A path may be a file, in which case its
// SQLite sidecars are counted with it, or a directory, which is walked. Empty and missing
// paths count as zero.
func MeasureUsage(components map[string]string) (*Usage, error) {
	u := &Usage{Components: make(map[string]int64, len(components))}
	for name, p := range components {
		if p == "" {
			continue
		}
		n, err := pathSize(p)
		if err != nil {
			return nil, err
		}
		u.Components[name] = n
		u.Total += n
	}
	return u, nil
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		total := info.Size()
		for _, suffix := range sqliteSidecars {
			if side, err := os.Stat(p + suffix); err == nil {
				total += side.Size()
			}
		}
		return total, nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
		}
		return nil
	})
	return total, err
}
