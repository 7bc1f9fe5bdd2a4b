// Package romfs parses RomFS containers: the hash-table-indexed directory
// format used for an NCA's Data section filesystem. Directories and files
// are each stored in a separate chained hash dictionary (a bucket
// array of 4-byte offsets plus a flat entry blob), linked into a tree by
// parent/sibling offsets rather than by path.
package romfs

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/nxfs/hac-go/pkg/storage"
	"github.com/nxfs/hac-go/pkg/vfs"
)

const headerSize = 0x50

// romID is an offset into a dictionary's entry blob, or noID ("none").
type romID int32

const noID romID = -1

func (id romID) isSome() bool { return id != noID }

type findPosition struct {
	nextDirectory romID
	nextFile      romID
}

type fileInfo struct {
	offset uint64
	size   uint64
}

type header struct {
	dirHashTableOffset, dirHashTableSize     uint64
	dirMetaTableOffset, dirMetaTableSize     uint64
	fileHashTableOffset, fileHashTableSize   uint64
	fileMetaTableOffset, fileMetaTableSize   uint64
	dataOffset                               uint64
}

func parseHeader(buf []byte) (*header, error) {
	if len(buf) != headerSize {
		return nil, fmt.Errorf("romfs: header must be %#x bytes, got %#x", headerSize, len(buf))
	}
	// buf[0:8] is header_size; it is not read or checked. Only the
	// 64-bit-field layout is parsed; a pre-release 32-bit RomFS is not detected.
	h := &header{
		dirHashTableOffset:  binary.LittleEndian.Uint64(buf[0x08:]),
		dirHashTableSize:    binary.LittleEndian.Uint64(buf[0x10:]),
		dirMetaTableOffset:  binary.LittleEndian.Uint64(buf[0x18:]),
		dirMetaTableSize:    binary.LittleEndian.Uint64(buf[0x20:]),
		fileHashTableOffset: binary.LittleEndian.Uint64(buf[0x28:]),
		fileHashTableSize:   binary.LittleEndian.Uint64(buf[0x30:]),
		fileMetaTableOffset: binary.LittleEndian.Uint64(buf[0x38:]),
		fileMetaTableSize:   binary.LittleEndian.Uint64(buf[0x40:]),
		dataOffset:          binary.LittleEndian.Uint64(buf[0x48:]),
	}
	return h, nil
}

// entryKey identifies one dictionary entry: its name plus the directory it
// lives in.
type entryKey struct {
	name   string
	parent romID
}

// hash reproduces RomFS's entry-lookup hash: FNV-flavored but bespoke to
// this format, seeded with the parent id.
func (k entryKey) hash() uint32 {
	h := uint32(123456789) ^ uint32(k.parent)
	for i := 0; i < len(k.name); i++ {
		c := uint32(k.name[i])
		h = c ^ ((h << 27) | (h >> 5))
	}
	return h
}

// dirDictionary and fileDictionary are chained hash tables: buckets hold the
// id of the first entry whose hash maps there, and each entry's next field
// links the following entry of the same bucket.
type dirDictionary struct {
	buckets []romID
	entries []byte
}

type fileDictionary struct {
	buckets []romID
	entries []byte
}

func parseBuckets(buf []byte) []romID {
	n := len(buf) / 4
	buckets := make([]romID, n)
	for i := range buckets {
		buckets[i] = romID(int32(binary.LittleEndian.Uint32(buf[i*4:])))
	}
	return buckets
}

// dirEntryHeaderSize is parent(4) + next_sibling(4) + next_directory(4) +
// next_file(4) + next(4) + key_length(4).
const dirEntryHeaderSize = 24

type dirEntry struct {
	parent      romID
	nextSibling romID
	position    findPosition
	next        romID
	keyLength   uint32
}

func (d *dirDictionary) entryAt(id romID) (string, dirEntry) {
	buf := d.entries[id:]
	e := dirEntry{
		parent:      romID(int32(binary.LittleEndian.Uint32(buf[0:]))),
		nextSibling: romID(int32(binary.LittleEndian.Uint32(buf[4:]))),
		position: findPosition{
			nextDirectory: romID(int32(binary.LittleEndian.Uint32(buf[8:]))),
			nextFile:      romID(int32(binary.LittleEndian.Uint32(buf[12:]))),
		},
		next:      romID(int32(binary.LittleEndian.Uint32(buf[16:]))),
		keyLength: binary.LittleEndian.Uint32(buf[20:]),
	}
	name := string(buf[dirEntryHeaderSize : dirEntryHeaderSize+int(e.keyLength)])
	return name, e
}

func (d *dirDictionary) offsetFromKey(key entryKey) (string, romID, bool) {
	if len(d.buckets) == 0 {
		return "", noID, false
	}
	index := int(key.hash()) % len(d.buckets)
	id := d.buckets[index]
	for id.isSome() {
		name, e := d.entryAt(id)
		if e.parent == key.parent && name == key.name {
			return name, id, true
		}
		id = e.next
	}
	return "", noID, false
}

func (d *dirDictionary) byID(id romID) (string, dirEntry) { return d.entryAt(id) }

// fileEntryHeaderSize is parent(4) + next_sibling(4) + offset(8) + size(8) +
// next(4) + key_length(4).
const fileEntryHeaderSize = 32

type romFileEntry struct {
	parent      romID
	nextSibling romID
	info        fileInfo
	next        romID
	keyLength   uint32
}

func (f *fileDictionary) entryAt(id romID) (string, romFileEntry) {
	buf := f.entries[id:]
	e := romFileEntry{
		parent:      romID(int32(binary.LittleEndian.Uint32(buf[0:]))),
		nextSibling: romID(int32(binary.LittleEndian.Uint32(buf[4:]))),
		info: fileInfo{
			offset: binary.LittleEndian.Uint64(buf[8:]),
			size:   binary.LittleEndian.Uint64(buf[16:]),
		},
		next:      romID(int32(binary.LittleEndian.Uint32(buf[24:]))),
		keyLength: binary.LittleEndian.Uint32(buf[28:]),
	}
	name := string(buf[fileEntryHeaderSize : fileEntryHeaderSize+int(e.keyLength)])
	return name, e
}

func (f *fileDictionary) offsetFromKey(key entryKey) (string, romID, bool) {
	if len(f.buckets) == 0 {
		return "", noID, false
	}
	index := int(key.hash()) % len(f.buckets)
	id := f.buckets[index]
	for id.isSome() {
		name, e := f.entryAt(id)
		if e.parent == key.parent && name == key.name {
			return name, id, true
		}
		id = e.next
	}
	return "", noID, false
}

func (f *fileDictionary) byID(id romID) (string, romFileEntry) { return f.entryAt(id) }

// tables is the pair of dictionaries, plus path-to-id resolution.
type tables struct {
	files fileDictionary
	dirs  dirDictionary
}

// findDirectory resolves path (a "/"-joined sequence of directory names, or
// "" for the root) to its dictionary id, descending one hash lookup per
// component. The root is always located first via its self-referential
// entry (name "", parent 0), matching how the format stores it.
func (t *tables) findDirectory(path string) (romID, bool) {
	_, id, ok := t.dirs.offsetFromKey(entryKey{name: "", parent: 0})
	if !ok {
		return noID, false
	}
	if path == "" {
		return id, true
	}
	for _, part := range strings.Split(path, "/") {
		_, next, ok := t.dirs.offsetFromKey(entryKey{name: part, parent: id})
		if !ok {
			return noID, false
		}
		id = next
	}
	return id, true
}

// splitPath separates path's final component (the entry name) from the
// directory path leading to it.
func splitPath(path string) (dir, name string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

func (t *tables) getFile(path string) (string, fileInfo, bool) {
	dir, name := splitPath(path)
	parent, ok := t.findDirectory(dir)
	if !ok {
		return "", fileInfo{}, false
	}
	foundName, id, ok := t.files.offsetFromKey(entryKey{name: name, parent: parent})
	if !ok {
		return "", fileInfo{}, false
	}
	_, e := t.files.byID(id)
	return foundName, e.info, true
}

func (t *tables) getDirectory(path string) (string, findPosition, bool) {
	id, ok := t.findDirectory(path)
	if !ok {
		return "", findPosition{}, false
	}
	name, e := t.dirs.byID(id)
	return name, e.position, true
}

func (t *tables) nextFile(pos *findPosition) (string, fileInfo, bool) {
	if !pos.nextFile.isSome() {
		return "", fileInfo{}, false
	}
	name, e := t.files.byID(pos.nextFile)
	pos.nextFile = e.nextSibling
	return name, e.info, true
}

func (t *tables) nextDirectory(pos *findPosition) (string, findPosition, bool) {
	if !pos.nextDirectory.isSome() {
		return "", findPosition{}, false
	}
	name, e := t.dirs.byID(pos.nextDirectory)
	pos.nextDirectory = e.nextSibling
	return name, e.position, true
}

// FileSystem is a parsed, read-only RomFS filesystem, satisfying
// vfs.FileSystem.
type FileSystem struct {
	storage    storage.ReadableStorage
	table      tables
	dataOffset uint64
}

func readSlice(src storage.ReadableStorage, offset, size uint64) ([]byte, error) {
	buf := make([]byte, size)
	if err := src.ReadAt(offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// New parses src's header and both hash dictionaries.
func New(src storage.ReadableStorage) (*FileSystem, error) {
	headerBuf, err := readSlice(src, 0, headerSize)
	if err != nil {
		return nil, err
	}
	h, err := parseHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	dirHash, err := readSlice(src, h.dirHashTableOffset, h.dirHashTableSize)
	if err != nil {
		return nil, err
	}
	dirMeta, err := readSlice(src, h.dirMetaTableOffset, h.dirMetaTableSize)
	if err != nil {
		return nil, err
	}
	fileHash, err := readSlice(src, h.fileHashTableOffset, h.fileHashTableSize)
	if err != nil {
		return nil, err
	}
	fileMeta, err := readSlice(src, h.fileMetaTableOffset, h.fileMetaTableSize)
	if err != nil {
		return nil, err
	}

	fs := &FileSystem{
		storage: src,
		table: tables{
			dirs:  dirDictionary{buckets: parseBuckets(dirHash), entries: dirMeta},
			files: fileDictionary{buckets: parseBuckets(fileHash), entries: fileMeta},
		},
		dataOffset: h.dataOffset,
	}
	return fs, nil
}

func (fs *FileSystem) Root() vfs.Directory {
	name, position, ok := fs.table.getDirectory("")
	if !ok {
		name, position = "", findPosition{}
	}
	return &directory{fs: fs, name: name, position: position}
}

func (fs *FileSystem) OpenDirectory(path string) (vfs.Directory, bool) {
	name, position, ok := fs.table.getDirectory(strings.Trim(path, "/"))
	if !ok {
		return nil, false
	}
	return &directory{fs: fs, name: name, position: position}, true
}

func (fs *FileSystem) OpenFile(path string) (vfs.File, bool) {
	name, info, ok := fs.table.getFile(strings.Trim(path, "/"))
	if !ok {
		return nil, false
	}
	return &file{fs: fs, name: name, info: info}, true
}

type directory struct {
	fs       *FileSystem
	name     string
	position findPosition
}

func (d *directory) Name() string { return d.name }

func (d *directory) Entries() []vfs.Entry {
	var entries []vfs.Entry
	pos := d.position
	for {
		name, childPos, ok := d.fs.table.nextDirectory(&pos)
		if !ok {
			break
		}
		entries = append(entries, vfs.Entry{Dir: &directory{fs: d.fs, name: name, position: childPos}})
	}
	for {
		name, info, ok := d.fs.table.nextFile(&pos)
		if !ok {
			break
		}
		entries = append(entries, vfs.Entry{File: &file{fs: d.fs, name: name, info: info}})
	}
	return entries
}

type file struct {
	fs   *FileSystem
	name string
	info fileInfo
}

func (f *file) Name() string { return f.name }
func (f *file) Size() uint64 { return f.info.size }

func (f *file) Open() (storage.ReadableStorage, error) {
	return storage.NewSlice(f.fs.storage, f.info.offset+f.fs.dataOffset, f.info.size)
}
