package romfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxfs/hac-go/pkg/storage"
)

const noIDu32 = uint32(0xFFFFFFFF) // -1 as int32, the dictionary's "none" marker

func putU32(buf []byte, off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }
func putU64(buf []byte, off int, v uint64) { binary.LittleEndian.PutUint64(buf[off:], v) }

// buildDirEntry lays out one dirEntry record: parent, nextSibling,
// childDirectory, childFile, hashChainNext, then the name bytes.
func buildDirEntry(parent, nextSibling, childDir, childFile, hashNext uint32, name string) []byte {
	buf := make([]byte, dirEntryHeaderSize+len(name))
	putU32(buf, 0, parent)
	putU32(buf, 4, nextSibling)
	putU32(buf, 8, childDir)
	putU32(buf, 12, childFile)
	putU32(buf, 16, hashNext)
	putU32(buf, 20, uint32(len(name)))
	copy(buf[dirEntryHeaderSize:], name)
	return buf
}

// buildFileEntry lays out one romFileEntry record: parent, nextSibling,
// data offset, data size, hash-chain next, then the name bytes.
func buildFileEntry(parent, nextSibling uint32, dataOffset, dataSize uint64, hashNext uint32, name string) []byte {
	buf := make([]byte, fileEntryHeaderSize+len(name))
	putU32(buf, 0, parent)
	putU32(buf, 4, nextSibling)
	putU64(buf, 8, dataOffset)
	putU64(buf, 16, dataSize)
	putU32(buf, 24, hashNext)
	putU32(buf, 28, uint32(len(name)))
	copy(buf[fileEntryHeaderSize:], name)
	return buf
}

// buildRomFS assembles a minimal two-level RomFS: a root directory holding
// "hello.txt" and a subdirectory "sub" holding "inner.bin". Both hash
// dictionaries use a single bucket, so every lookup for this fixture walks
// its (short) collision chain rather than depending on the real hash
// function, which keeps the fixture independent of the format's exact hash
// constants.
func buildRomFS(t *testing.T) (full []byte, helloContent, innerContent []byte) {
	t.Helper()

	helloContent = []byte("hello world")
	innerContent = []byte("nested data")

	rootEntry := buildDirEntry(0, noIDu32, 24 /*sub offset*/, 0 /*hello offset*/, 24 /*chain next*/, "")
	subEntry := buildDirEntry(0, noIDu32, noIDu32, 41 /*inner offset*/, noIDu32, "sub")
	require.Equal(t, 24, len(rootEntry))
	dirMeta := append(append([]byte{}, rootEntry...), subEntry...)

	helloEntry := buildFileEntry(0, noIDu32, 0, uint64(len(helloContent)), 41 /*inner offset*/, "hello.txt")
	innerEntry := buildFileEntry(24 /*sub dir offset*/, noIDu32, uint64(len(helloContent)), uint64(len(innerContent)), noIDu32, "inner.bin")
	require.Equal(t, 41, len(helloEntry))
	fileMeta := append(append([]byte{}, helloEntry...), innerEntry...)

	dirHash := make([]byte, 4)
	putU32(dirHash, 0, 0) // bucket 0 -> root entry offset 0

	fileHash := make([]byte, 4)
	putU32(fileHash, 0, 0) // bucket 0 -> hello entry offset 0

	header := make([]byte, headerSize)
	cursor := uint64(headerSize)

	dirHashOff := cursor
	cursor += uint64(len(dirHash))
	dirMetaOff := cursor
	cursor += uint64(len(dirMeta))
	fileHashOff := cursor
	cursor += uint64(len(fileHash))
	fileMetaOff := cursor
	cursor += uint64(len(fileMeta))
	dataOff := cursor

	putU64(header, 0x08, dirHashOff)
	putU64(header, 0x10, uint64(len(dirHash)))
	putU64(header, 0x18, dirMetaOff)
	putU64(header, 0x20, uint64(len(dirMeta)))
	putU64(header, 0x28, fileHashOff)
	putU64(header, 0x30, uint64(len(fileHash)))
	putU64(header, 0x38, fileMetaOff)
	putU64(header, 0x40, uint64(len(fileMeta)))
	putU64(header, 0x48, dataOff)

	full = append([]byte{}, header...)
	full = append(full, dirHash...)
	full = append(full, dirMeta...)
	full = append(full, fileHash...)
	full = append(full, fileMeta...)
	full = append(full, helloContent...)
	full = append(full, innerContent...)

	return full, helloContent, innerContent
}

func TestRomFSRootListsFileAndSubdirectory(t *testing.T) {
	full, helloContent, _ := buildRomFS(t)

	fs, err := New(storage.NewVec(full))
	require.NoError(t, err)

	root := fs.Root()
	entries := root.Entries()
	require.Len(t, entries, 2)

	var sawDir, sawFile bool
	for _, e := range entries {
		if e.Dir != nil {
			assert.Equal(t, "sub", e.Dir.Name())
			sawDir = true
		}
		if e.File != nil {
			assert.Equal(t, "hello.txt", e.File.Name())
			assert.Equal(t, uint64(len(helloContent)), e.File.Size())
			sawFile = true
		}
	}
	assert.True(t, sawDir)
	assert.True(t, sawFile)
}

func TestRomFSOpenFileByPath(t *testing.T) {
	full, helloContent, innerContent := buildRomFS(t)

	fs, err := New(storage.NewVec(full))
	require.NoError(t, err)

	f, ok := fs.OpenFile("hello.txt")
	require.True(t, ok)
	body, err := f.Open()
	require.NoError(t, err)
	buf := make([]byte, body.Size())
	require.NoError(t, body.ReadAt(0, buf))
	assert.Equal(t, helloContent, buf)

	inner, ok := fs.OpenFile("sub/inner.bin")
	require.True(t, ok)
	innerBody, err := inner.Open()
	require.NoError(t, err)
	innerBuf := make([]byte, innerBody.Size())
	require.NoError(t, innerBody.ReadAt(0, innerBuf))
	assert.Equal(t, innerContent, innerBuf)

	_, ok = fs.OpenFile("does/not/exist")
	assert.False(t, ok)
}

func TestRomFSOpenSubdirectory(t *testing.T) {
	full, _, _ := buildRomFS(t)

	fs, err := New(storage.NewVec(full))
	require.NoError(t, err)

	sub, ok := fs.OpenDirectory("sub")
	require.True(t, ok)
	assert.Equal(t, "sub", sub.Name())

	entries := sub.Entries()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].File)
	assert.Equal(t, "inner.bin", entries[0].File.Name())
}
