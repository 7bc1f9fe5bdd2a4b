package storage

// ConcatStorage presents an ordered list of storages as a single contiguous
// one. A read spanning several parts issues at most one read per part.
type ConcatStorage struct {
	parts  []ReadableStorage
	starts []uint64 // starts[i] is the logical offset of parts[i]
	size   uint64
}

// NewConcat builds a ConcatStorage over parts, in order.
func NewConcat(parts []ReadableStorage) *ConcatStorage {
	c := &ConcatStorage{parts: parts, starts: make([]uint64, len(parts))}
	var off uint64
	for i, p := range parts {
		c.starts[i] = off
		off += p.Size()
	}
	c.size = off
	return c
}

func (c *ConcatStorage) Size() uint64 { return c.size }

// partFor returns the index of the part containing the given logical offset.
// Callers must ensure offset < c.size.
func (c *ConcatStorage) partFor(offset uint64) int {
	lo, hi := 0, len(c.parts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.starts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

func (c *ConcatStorage) ReadAt(offset uint64, buf []byte) error {
	if err := checkRange(offset, len(buf), c.size); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}

	i := c.partFor(offset)
	remaining := buf
	pos := offset
	for len(remaining) > 0 {
		part := c.parts[i]
		partOffset := pos - c.starts[i]
		available := part.Size() - partOffset
		n := uint64(len(remaining))
		if n > available {
			n = available
		}
		if err := part.ReadAt(partOffset, remaining[:n]); err != nil {
			return err
		}
		remaining = remaining[n:]
		pos += n
		i++
	}
	return nil
}
