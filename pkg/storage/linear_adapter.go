package storage

// LinearAdapter is the inverse of BlockAdapter: it services arbitrary
// byte-range reads over a block storage with at most one head read and one
// tail read. The full blocks in between take one bulk read when the inner
// storage is a *BlockAdapter, and one ReadBlock call per block otherwise.
type LinearAdapter struct {
	inner ReadableBlockStorage
}

// NewLinearAdapter wraps a block storage for unaligned byte-range reads.
func NewLinearAdapter(inner ReadableBlockStorage) *LinearAdapter {
	return &LinearAdapter{inner: inner}
}

func (l *LinearAdapter) Size() uint64 { return l.inner.Size() }

func (l *LinearAdapter) ReadAt(offset uint64, buf []byte) error {
	if err := checkRange(offset, len(buf), l.inner.Size()); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}

	bs := l.inner.BlockSize()
	firstBlock := offset / bs
	lastByte := offset + uint64(len(buf)) - 1
	lastBlock := lastByte / bs

	dst := buf

	// Head: partial first block.
	headOffsetInBlock := offset % bs
	if headOffsetInBlock != 0 || firstBlock == lastBlock {
		n := l.inner.NthBlockSize(firstBlock)
		blockBuf := make([]byte, n)
		if err := l.inner.ReadBlock(firstBlock, blockBuf); err != nil {
			return err
		}
		take := uint64(len(dst))
		if take > n-headOffsetInBlock {
			take = n - headOffsetInBlock
		}
		copy(dst[:take], blockBuf[headOffsetInBlock:])
		dst = dst[take:]
		firstBlock++
	}
	if len(dst) == 0 {
		return nil
	}

	// Middle: full blocks, one bulk read.
	fullBlocks := uint64(len(dst)) / bs
	if fullBlocks > 0 {
		if ba, ok := l.inner.(*BlockAdapter); ok {
			if err := ba.ReadBlocks(firstBlock, fullBlocks, dst[:fullBlocks*bs]); err != nil {
				return err
			}
		} else {
			for i := uint64(0); i < fullBlocks; i++ {
				if err := l.inner.ReadBlock(firstBlock+i, dst[i*bs:(i+1)*bs]); err != nil {
					return err
				}
			}
		}
		dst = dst[fullBlocks*bs:]
		firstBlock += fullBlocks
	}
	if len(dst) == 0 {
		return nil
	}

	// Tail: partial last block.
	n := l.inner.NthBlockSize(firstBlock)
	blockBuf := make([]byte, n)
	if err := l.inner.ReadBlock(firstBlock, blockBuf); err != nil {
		return err
	}
	copy(dst, blockBuf[:len(dst)])
	return nil
}
