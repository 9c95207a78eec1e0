package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileBackend stores each blob as a file under a root directory. Writes go
// to a temp file that is then atomically renamed over the target.
type FileBackend struct {
	root string
}

// NewFileBackend creates root if needed.
func NewFileBackend(root string) (*FileBackend, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, classify("create root", root, err)
	}
	return &FileBackend{root: root}, nil
}

func (f *FileBackend) Size(name string) (int64, error) {
	path, err := f.resolve(name)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, classify("size", name, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("size %q: %w: is a directory", name, ErrIO)
	}
	return info.Size(), nil
}

func (f *FileBackend) Read(name string, maxLen int) ([]byte, error) {
	path, err := f.resolve(name)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, classify("read", name, err)
	}
	defer file.Close()

	var r io.Reader = file
	if maxLen >= 0 {
		r = io.LimitReader(file, int64(maxLen))
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classify("read", name, err)
	}
	return data, nil
}

func (f *FileBackend) Write(name string, data []byte) error {
	path, err := f.resolve(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return classify("write", name, err)
	}

	// Each write gets its own temp file so concurrent writers and blobs
	// with a similar name never collide.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return classify("create temp file", name, err)
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return classify("write temp file", name, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return classify("atomic rename", name, err)
	}
	return nil
}

func (f *FileBackend) Remove(name string) error {
	path, err := f.resolve(name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		return classify("remove", name, err)
	}
	return nil
}

// resolve rejects names that would escape the root directory.
func (f *FileBackend) resolve(name string) (string, error) {
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("name %q: %w: outside storage root", name, ErrPermissionDenied)
	}
	return filepath.Join(f.root, name), nil
}
