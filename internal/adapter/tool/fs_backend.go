package tool

import (
	"io/fs"
	"os"
	"path/filepath"
)

// FilesystemBackend is the file I/O the file tools need.
type FilesystemBackend interface {
	ReadFile(path string) ([]byte, error)
	// WriteFile creates missing parent directories and replaces the file
	// atomically.
	WriteFile(path string, data []byte, perm os.FileMode) error
	ReadDir(path string) ([]os.DirEntry, error)
	Stat(path string) (os.FileInfo, error)
	// FS is a read-only view rooted at dir for walking and globbing.
	FS(dir string) fs.FS
	Name() string
}

// LocalFilesystemBackend is FilesystemBackend on the local disk.
type LocalFilesystemBackend struct{}

// NewLocalFilesystemBackend creates a local filesystem backend.
func NewLocalFilesystemBackend() *LocalFilesystemBackend {
	return &LocalFilesystemBackend{}
}

func (*LocalFilesystemBackend) Name() string                                { return "local" }
func (*LocalFilesystemBackend) ReadFile(path string) ([]byte, error)       { return os.ReadFile(path) }
func (*LocalFilesystemBackend) ReadDir(path string) ([]os.DirEntry, error) { return os.ReadDir(path) }
func (*LocalFilesystemBackend) Stat(path string) (os.FileInfo, error)      { return os.Stat(path) }
func (*LocalFilesystemBackend) FS(dir string) fs.FS                         { return os.DirFS(dir) }

// WriteFile writes to a temporary sibling and renames it over path, so a
// failed write never leaves a half-written file. An existing file keeps
// its permission bits.
func (*LocalFilesystemBackend) WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
