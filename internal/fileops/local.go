package fileops

import (
	"io"
	"io/fs"
	"os"
)

// Local is the Backend over the gateway process's own filesystem.
type Local struct{}

func (Local) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (Local) ReadDir(path string) ([]fs.FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	infos := make([]fs.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// Entry vanished between readdir and stat; skip it rather
			// than failing the whole listing.
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (Local) ReadFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit))
}

func (Local) WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}

func (Local) MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func (Local) Remove(path string) error {
	return os.Remove(path)
}

func (Local) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (Local) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}
