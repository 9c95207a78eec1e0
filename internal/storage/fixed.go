package storage

// FixedBackend models a device without a filesystem: every name resolves to
// the same physical location of the inner backend, so the literal identifier
// is ignored and a write to any name replaces the single stored blob.
type FixedBackend struct {
	inner    Backend
	location string
}

func NewFixedBackend(inner Backend, location string) *FixedBackend {
	return &FixedBackend{inner: inner, location: location}
}

func (f *FixedBackend) Size(string) (int64, error) {
	return f.inner.Size(f.location)
}

func (f *FixedBackend) Read(_ string, maxLen int) ([]byte, error) {
	return f.inner.Read(f.location, maxLen)
}

func (f *FixedBackend) Write(_ string, data []byte) error {
	return f.inner.Write(f.location, data)
}

func (f *FixedBackend) Remove(string) error {
	return f.inner.Remove(f.location)
}
