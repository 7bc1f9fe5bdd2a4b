package storage

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialBytes(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}

func TestVecStorageReadWrite(t *testing.T) {
	v := NewVec(sequentialBytes(16))

	buf := make([]byte, 4)
	require.NoError(t, v.ReadAt(4, buf))
	assert.Equal(t, []byte{4, 5, 6, 7}, buf)

	require.NoError(t, v.WriteAt(0, []byte{0xff, 0xff}))
	require.NoError(t, v.ReadAt(0, buf[:2]))
	assert.Equal(t, []byte{0xff, 0xff}, buf[:2])

	assert.ErrorIs(t, v.ReadAt(15, buf), ErrOutOfBounds)
}

func TestVecStorageSetSize(t *testing.T) {
	v := NewVecSize(4)
	require.NoError(t, v.SetSize(8))
	assert.Equal(t, uint64(8), v.Size())

	require.NoError(t, v.SetSize(2))
	assert.Equal(t, uint64(2), v.Size())
}

func TestSliceStorage(t *testing.T) {
	inner := NewVec(sequentialBytes(32))

	s, err := NewSlice(inner, 8, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), s.Size())

	buf := make([]byte, 4)
	require.NoError(t, s.ReadAt(0, buf))
	assert.Equal(t, []byte{8, 9, 10, 11}, buf)

	_, err = NewSlice(inner, 30, 8)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	assert.ErrorIs(t, s.SetSize(4), ErrFixedSize)
}

func TestConcatStorageSplitsReadsAtBoundaries(t *testing.T) {
	a := NewVec([]byte{0, 1, 2, 3})
	b := NewVec([]byte{4, 5, 6, 7, 8})
	c := NewConcat([]ReadableStorage{a, b})

	assert.Equal(t, uint64(9), c.Size())

	buf := make([]byte, 4)
	require.NoError(t, c.ReadAt(2, buf))
	assert.Equal(t, []byte{2, 3, 4, 5}, buf)

	whole := make([]byte, 9)
	require.NoError(t, c.ReadAt(0, whole))
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8}, whole)

	assert.ErrorIs(t, c.ReadAt(7, make([]byte, 3)), ErrOutOfBounds)
}

func TestBlockAdapterLastBlockShort(t *testing.T) {
	inner := NewVec(sequentialBytes(10))
	ba := NewBlockAdapter(inner, 4)

	assert.Equal(t, uint64(3), ba.BlockCount())
	assert.Equal(t, uint64(4), ba.NthBlockSize(0))
	assert.Equal(t, uint64(2), ba.NthBlockSize(2))

	buf := make([]byte, 2)
	require.NoError(t, ba.ReadBlock(2, buf))
	assert.Equal(t, []byte{8, 9}, buf)

	assert.ErrorIs(t, ba.ReadBlock(0, make([]byte, 3)), ErrUnalignedAccess)
}

func TestBlockAdapterReadBlocksSpansOneUnderlyingRead(t *testing.T) {
	inner := NewVec(sequentialBytes(16))
	ba := NewBlockAdapter(inner, 4)

	buf := make([]byte, 8)
	require.NoError(t, ba.ReadBlocks(1, 2, buf))
	assert.Equal(t, sequentialBytes(16)[4:12], buf)
}

// linearAdapterEquivalence checks that LinearAdapter(BlockAdapter(S)) reads
// equal S's own reads byte-for-byte at every offset/length, per spec §8.
func TestLinearAdapterMatchesUnderlyingStorage(t *testing.T) {
	data := sequentialBytes(37)
	inner := NewVec(append([]byte(nil), data...))
	ba := NewBlockAdapter(inner, 8)
	la := NewLinearAdapter(ba)

	assert.Equal(t, inner.Size(), la.Size())

	for off := 0; off < len(data); off++ {
		for length := 1; off+length <= len(data); length++ {
			want := make([]byte, length)
			require.NoError(t, inner.ReadAt(uint64(off), want))

			got := make([]byte, length)
			require.NoError(t, la.ReadAt(uint64(off), got))

			require.Equalf(t, want, got, "offset=%d length=%d", off, length)
		}
	}
}

func TestSharedStorageCloneSharesState(t *testing.T) {
	inner := NewVec(sequentialBytes(8))
	s := NewShared(inner)
	clone := s.Clone()

	buf := make([]byte, 4)
	require.NoError(t, clone.ReadAt(0, buf))
	assert.Equal(t, sequentialBytes(8)[:4], buf)
}

func TestFileStorageReadWriteGrow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	f, err := NewFileStorage(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.SetSize(8))
	require.NoError(t, f.WriteAt(0, sequentialBytes(8)))

	buf := make([]byte, 8)
	require.NoError(t, f.ReadAt(0, buf))
	assert.Equal(t, sequentialBytes(8), buf)

	require.NoError(t, f.Flush())

	ro, err := NewReadOnlyFileStorage(path)
	require.NoError(t, err)
	defer ro.Close()

	require.NoError(t, ro.ReadAt(0, buf))
	assert.Equal(t, sequentialBytes(8), buf)
	assert.ErrorIs(t, ro.ReadAt(4, make([]byte, 8)), ErrOutOfBounds)
}

func TestIOReaderSequentialRead(t *testing.T) {
	s := NewVec(sequentialBytes(10))
	r := NewIOReader(s)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, sequentialBytes(10), got)
}

func TestBlockCacheHitsAvoidUnderlyingRead(t *testing.T) {
	inner := &countingBlockStorage{ReadableBlockStorage: NewBlockAdapter(NewVec(sequentialBytes(16)), 4)}
	cache, err := NewBlockCache(inner, 4, time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	buf := make([]byte, 4)
	require.NoError(t, cache.ReadBlock(0, buf))
	assert.Equal(t, []byte{0, 1, 2, 3}, buf)
	assert.Equal(t, 1, inner.reads)
	cache.cache.Wait()

	require.NoError(t, cache.ReadBlock(0, buf))
	assert.Equal(t, []byte{0, 1, 2, 3}, buf)
	assert.Equal(t, 1, inner.reads, "cache hit must not re-read the underlying block")
}

type countingBlockStorage struct {
	ReadableBlockStorage
	reads int
}

func (c *countingBlockStorage) ReadBlock(index uint64, buf []byte) error {
	c.reads++
	return c.ReadableBlockStorage.ReadBlock(index, buf)
}
