package ncz

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxfs/hac-go/pkg/storage"
)

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write(data)
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

func appendSectionTable(buf []byte, sections []Section) []byte {
	buf = append(buf, sectionMagic...)
	count := make([]byte, 8)
	binary.LittleEndian.PutUint64(count, uint64(len(sections)))
	buf = append(buf, count...)
	for _, s := range sections {
		var entry [sectionHeaderEntrySize]byte
		binary.LittleEndian.PutUint64(entry[0:], s.Offset)
		binary.LittleEndian.PutUint64(entry[8:], s.Size)
		binary.LittleEndian.PutUint64(entry[16:], s.CryptoType)
		copy(entry[32:48], s.Key[:])
		copy(entry[48:64], s.Counter[:])
		buf = append(buf, entry[:]...)
	}
	return buf
}

func plainBytes(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i * 5)
	}
	return buf
}

func TestNewParsesStreamingBody(t *testing.T) {
	plain := plainBytes(1024)
	compressed := compress(t, plain)

	file := make([]byte, HeaderSize)
	file = appendSectionTable(file, []Section{{Offset: HeaderSize, Size: uint64(len(plain))}})
	file = append(file, compressed...)

	body, sections, err := New(storage.NewVec(file))
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, uint64(len(plain)), sections[0].Size)

	assert.Equal(t, HeaderSize+uint64(len(plain)), body.Size())

	got := make([]byte, len(plain))
	require.NoError(t, body.ReadAt(HeaderSize, got))
	assert.Equal(t, plain, got)
}

func TestBodyHeaderRegionIsInaccessible(t *testing.T) {
	plain := plainBytes(16)
	compressed := compress(t, plain)

	file := make([]byte, HeaderSize)
	file = appendSectionTable(file, []Section{{Offset: HeaderSize, Size: uint64(len(plain))}})
	file = append(file, compressed...)

	body, _, err := New(storage.NewVec(file))
	require.NoError(t, err)

	err = body.ReadAt(0x100, make([]byte, 4))
	var inaccessible *storage.InaccessibleError
	require.ErrorAs(t, err, &inaccessible)
	assert.Equal(t, uint64(0x100), inaccessible.Offset)
}

func TestNewRejectsMissingSectionMagic(t *testing.T) {
	file := make([]byte, HeaderSize+32)
	_, _, err := New(storage.NewVec(file))
	var headerErr *ErrHeaderParsing
	assert.ErrorAs(t, err, &headerErr)
}

func TestNewParsesBlockTableBody(t *testing.T) {
	blockExp := uint8(14)
	blockSize := 1 << blockExp
	plain := plainBytes(blockSize*2 + 50)

	b0 := compress(t, plain[:blockSize])
	b1 := compress(t, plain[blockSize:blockSize*2])
	b2 := compress(t, plain[blockSize*2:])

	var blockHeader []byte
	blockHeader = append(blockHeader, blockMagic...)
	blockHeader = append(blockHeader, 2, 0, blockExp, 0) // version, type, exponent, pad
	nBlocks := make([]byte, 4)
	binary.LittleEndian.PutUint32(nBlocks, 3)
	blockHeader = append(blockHeader, nBlocks...)
	totalDecompressed := make([]byte, 8)
	binary.LittleEndian.PutUint64(totalDecompressed, uint64(len(plain)))
	blockHeader = append(blockHeader, totalDecompressed...)
	for _, b := range [][]byte{b0, b1, b2} {
		sz := make([]byte, 4)
		binary.LittleEndian.PutUint32(sz, uint32(len(b)))
		blockHeader = append(blockHeader, sz...)
	}

	file := make([]byte, HeaderSize)
	file = appendSectionTable(file, []Section{{Offset: HeaderSize, Size: uint64(len(plain))}})
	file = append(file, blockHeader...)
	file = append(file, b0...)
	file = append(file, b1...)
	file = append(file, b2...)

	body, _, err := New(storage.NewVec(file))
	require.NoError(t, err)

	got := make([]byte, len(plain))
	require.NoError(t, body.ReadAt(HeaderSize, got))
	assert.Equal(t, plain, got)
}
