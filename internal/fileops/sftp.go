package fileops

import (
	"io"
	"io/fs"

	"github.com/pkg/sftp"
)

// SFTP is the Backend over a remote file-transfer channel.
type SFTP struct {
	Client *sftp.Client
}

func (s SFTP) Stat(path string) (fs.FileInfo, error) {
	return s.Client.Stat(path)
}

func (s SFTP) ReadDir(path string) ([]fs.FileInfo, error) {
	return s.Client.ReadDir(path)
}

func (s SFTP) ReadFile(path string, limit int64) ([]byte, error) {
	f, err := s.Client.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit))
}

func (s SFTP) WriteFile(path string, data []byte) error {
	f, err := s.Client.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s SFTP) MkdirAll(path string) error {
	return s.Client.MkdirAll(path)
}

func (s SFTP) Remove(path string) error {
	return s.Client.Remove(path)
}

func (s SFTP) RemoveAll(path string) error {
	return s.Client.RemoveAll(path)
}

func (s SFTP) Rename(oldPath, newPath string) error {
	return s.Client.Rename(oldPath, newPath)
}
