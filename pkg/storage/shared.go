package storage

// SharedStorage is a cheaply clonable, read-only handle onto an inner
// storage. Cloning copies only the pointer, never the underlying resource;
// writes are always forbidden through a Shared handle, even if the inner
// storage is writable, to avoid aliasing surprises.
type SharedStorage struct {
	inner ReadableStorage
}

// NewShared wraps inner for sharing across readers.
func NewShared(inner ReadableStorage) *SharedStorage {
	return &SharedStorage{inner: inner}
}

// Clone returns a new handle onto the same underlying storage.
func (s *SharedStorage) Clone() *SharedStorage { return &SharedStorage{inner: s.inner} }

func (s *SharedStorage) Size() uint64 { return s.inner.Size() }

func (s *SharedStorage) ReadAt(offset uint64, buf []byte) error {
	return s.inner.ReadAt(offset, buf)
}
