package storage

// SliceStorage exposes [offset, offset+size) of an inner storage as a
// zero-based storage of its own. Writes cannot resize it.
type SliceStorage struct {
	inner  ReadableStorage
	offset uint64
	size   uint64
}

// NewSlice validates offset+size <= inner.Size() at construction time.
func NewSlice(inner ReadableStorage, offset, size uint64) (*SliceStorage, error) {
	end := offset + size
	if end < offset || end > inner.Size() {
		return nil, ErrOutOfBounds
	}
	return &SliceStorage{inner: inner, offset: offset, size: size}, nil
}

func (s *SliceStorage) Size() uint64 { return s.size }

func (s *SliceStorage) ReadAt(offset uint64, buf []byte) error {
	if err := checkRange(offset, len(buf), s.size); err != nil {
		return err
	}
	return s.inner.ReadAt(s.offset+offset, buf)
}

func (s *SliceStorage) WriteAt(offset uint64, buf []byte) error {
	w, ok := s.inner.(Storage)
	if !ok {
		return ErrReadonly
	}
	if err := checkRange(offset, len(buf), s.size); err != nil {
		return err
	}
	return w.WriteAt(s.offset+offset, buf)
}

func (s *SliceStorage) Flush() error {
	if w, ok := s.inner.(Storage); ok {
		return w.Flush()
	}
	return nil
}

func (s *SliceStorage) SetSize(uint64) error { return ErrFixedSize }
