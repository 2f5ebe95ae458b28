// Package fileops performs file-system browsing and editing operations
// against either the local filesystem or a remote SFTP channel, producing
// correlated response frames for the session protocol.
package fileops

import (
	"errors"
	"io/fs"
)

// MaxReadSize is the largest file read() will return. Bigger files fail
// with ErrTooLarge and never return partial content.
const MaxReadSize = 5 * 1024 * 1024

// ErrTooLarge is the fixed oversize error for read().
var ErrTooLarge = errors.New("file too large to open (limit 5 MiB)")

// Backend is the primitive set the router needs. The local filesystem
// and the SFTP channel both satisfy it; the router never sees which one
// it is talking to.
type Backend interface {
	Stat(path string) (fs.FileInfo, error)
	ReadDir(path string) ([]fs.FileInfo, error)
	ReadFile(path string, limit int64) ([]byte, error)
	WriteFile(path string, data []byte) error
	MkdirAll(path string) error
	Remove(path string) error
	RemoveAll(path string) error
	Rename(oldPath, newPath string) error
}
