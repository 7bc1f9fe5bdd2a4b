// Package pfs0 parses PFS0 (PartitionFs) containers: a flat, string-table
// addressed archive of files with no subdirectories, used for NCA Data
// sections and as the outer container of an NSP.
package pfs0

import (
	"encoding/binary"
	"fmt"

	"github.com/nxfs/hac-go/pkg/storage"
	"github.com/nxfs/hac-go/pkg/vfs"
)

const (
	headerSize   = 0x10
	entrySize    = 0x18
	magicPfs0    = "PFS0"
)

// ErrBadMagic is returned when the leading 4 bytes are not "PFS0".
type ErrBadMagic struct{ Got [4]byte }

func (e *ErrBadMagic) Error() string { return fmt.Sprintf("pfs0: bad magic %q", e.Got[:]) }

type entry struct {
	dataOffset uint64
	dataSize   uint64
	nameOffset uint32
}

// FileSystem is a parsed, read-only PFS0 partition. It satisfies
// vfs.FileSystem with a single flat directory: PFS0 has no path hierarchy.
type FileSystem struct {
	inner   storage.ReadableStorage
	bodyOff uint64
	entries []entry
	names   []string
}

// New parses src's PFS0 header and string table. File bodies are opened
// lazily, as slices of src, when requested.
func New(src storage.ReadableStorage) (*FileSystem, error) {
	header := make([]byte, headerSize)
	if err := src.ReadAt(0, header); err != nil {
		return nil, err
	}
	if string(header[0:4]) != magicPfs0 {
		return nil, &ErrBadMagic{Got: [4]byte(header[0:4])}
	}
	numFiles := binary.LittleEndian.Uint32(header[4:])
	stringTableSize := binary.LittleEndian.Uint32(header[8:])

	entryTableOff := uint64(headerSize)
	entryTableSize := uint64(numFiles) * entrySize
	entriesBuf := make([]byte, entryTableSize)
	if err := src.ReadAt(entryTableOff, entriesBuf); err != nil {
		return nil, err
	}

	stringTableOff := entryTableOff + entryTableSize
	stringTable := make([]byte, stringTableSize)
	if err := src.ReadAt(stringTableOff, stringTable); err != nil {
		return nil, err
	}

	bodyOff := stringTableOff + uint64(stringTableSize)

	fs := &FileSystem{inner: src, bodyOff: bodyOff}
	fs.entries = make([]entry, numFiles)
	fs.names = make([]string, numFiles)
	for i := range fs.entries {
		off := i * entrySize
		e := entry{
			dataOffset: binary.LittleEndian.Uint64(entriesBuf[off:]),
			dataSize:   binary.LittleEndian.Uint64(entriesBuf[off+8:]),
			nameOffset: binary.LittleEndian.Uint32(entriesBuf[off+16:]),
		}
		name, err := readCString(stringTable, e.nameOffset)
		if err != nil {
			return nil, err
		}
		fs.entries[i] = e
		fs.names[i] = name
	}

	return fs, nil
}

func readCString(table []byte, offset uint32) (string, error) {
	if uint64(offset) > uint64(len(table)) {
		return "", fmt.Errorf("pfs0: name offset %#x out of bounds", offset)
	}
	end := offset
	for end < uint32(len(table)) && table[end] != 0 {
		end++
	}
	return string(table[offset:end]), nil
}

// NumFiles returns the number of files in the partition.
func (fs *FileSystem) NumFiles() int { return len(fs.entries) }

func (fs *FileSystem) fileAt(i int) *file {
	e := fs.entries[i]
	return &file{fs: fs, name: fs.names[i], offset: fs.bodyOff + e.dataOffset, size: e.dataSize}
}

func (fs *FileSystem) Root() vfs.Directory { return &directory{fs: fs} }

func (fs *FileSystem) OpenFile(path string) (vfs.File, bool) {
	for i, name := range fs.names {
		if name == path {
			return fs.fileAt(i), true
		}
	}
	return nil, false
}

func (fs *FileSystem) OpenDirectory(path string) (vfs.Directory, bool) {
	if path == "" {
		return fs.Root(), true
	}
	return nil, false
}

type directory struct{ fs *FileSystem }

func (d *directory) Name() string { return "" }

func (d *directory) Entries() []vfs.Entry {
	entries := make([]vfs.Entry, d.fs.NumFiles())
	for i := range entries {
		entries[i] = vfs.Entry{File: d.fs.fileAt(i)}
	}
	return entries
}

type file struct {
	fs     *FileSystem
	name   string
	offset uint64
	size   uint64
}

func (f *file) Name() string { return f.name }
func (f *file) Size() uint64 { return f.size }

func (f *file) Open() (storage.ReadableStorage, error) {
	return storage.NewSlice(f.fs.inner, f.offset, f.size)
}
