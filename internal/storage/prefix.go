package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CleanName normalises a blob name and rejects names that climb out of the
// namespace they are resolved in. Reserved-name checks must run on the
// cleaned form.
func CleanName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty name: %w", ErrPermissionDenied)
	}
	clean := path.Clean(name)
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("name %q: %w: outside namespace", name, ErrPermissionDenied)
	}
	return clean, nil
}

// PrefixBackend confines every name to a sub-namespace of inner, so callers
// holding it cannot reach blobs written by other owners of inner.
type PrefixBackend struct {
	inner  Backend
	prefix string
}

func NewPrefixBackend(inner Backend, prefix string) *PrefixBackend {
	return &PrefixBackend{inner: inner, prefix: strings.TrimSuffix(prefix, "/") + "/"}
}

func (p *PrefixBackend) Size(name string) (int64, error) {
	full, err := p.resolve(name)
	if err != nil {
		return 0, err
	}
	return p.inner.Size(full)
}

func (p *PrefixBackend) Read(name string, maxLen int) ([]byte, error) {
	full, err := p.resolve(name)
	if err != nil {
		return nil, err
	}
	return p.inner.Read(full, maxLen)
}

func (p *PrefixBackend) Write(name string, data []byte) error {
	full, err := p.resolve(name)
	if err != nil {
		return err
	}
	return p.inner.Write(full, data)
}

func (p *PrefixBackend) Remove(name string) error {
	full, err := p.resolve(name)
	if err != nil {
		return err
	}
	return p.inner.Remove(full)
}

func (p *PrefixBackend) resolve(name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	return p.prefix + clean, nil
}
