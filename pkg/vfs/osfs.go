package vfs

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nxfs/hac-go/pkg/storage"
)

// OSFileSystem roots a FileSystem at a real directory on disk, lazily
// opening a ReadOnlyFileStorage per file on Open. This is the typical input
// collaborator: a loose directory of .nca/.nsp/.cnmt files, or a mounted SD
// card's Nintendo/Contents tree.
type OSFileSystem struct {
	root string
}

// NewOSFileSystem roots a FileSystem at root, which must be an existing
// directory.
func NewOSFileSystem(root string) (*OSFileSystem, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &os.PathError{Op: "open", Path: root, Err: os.ErrInvalid}
	}
	return &OSFileSystem{root: root}, nil
}

func (fs *OSFileSystem) Root() Directory {
	return &osDirectory{fs: fs, name: "", relPath: ""}
}

func splitClean(path string) string {
	return strings.Trim(filepath.ToSlash(path), "/")
}

func (fs *OSFileSystem) OpenDirectory(path string) (Directory, bool) {
	rel := splitClean(path)
	info, err := os.Stat(filepath.Join(fs.root, rel))
	if err != nil || !info.IsDir() {
		return nil, false
	}
	return &osDirectory{fs: fs, name: filepath.Base(rel), relPath: rel}, true
}

func (fs *OSFileSystem) OpenFile(path string) (File, bool) {
	rel := splitClean(path)
	info, err := os.Stat(filepath.Join(fs.root, rel))
	if err != nil || info.IsDir() {
		return nil, false
	}
	return &osFile{fs: fs, name: filepath.Base(rel), relPath: rel, size: uint64(info.Size())}, true
}

type osDirectory struct {
	fs      *OSFileSystem
	name    string
	relPath string
}

func (d *osDirectory) Name() string { return d.name }

func (d *osDirectory) Entries() []Entry {
	dirents, err := os.ReadDir(filepath.Join(d.fs.root, d.relPath))
	if err != nil {
		return nil
	}
	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		childRel := de.Name()
		if d.relPath != "" {
			childRel = d.relPath + "/" + de.Name()
		}
		if de.IsDir() {
			entries = append(entries, Entry{Dir: &osDirectory{fs: d.fs, name: de.Name(), relPath: childRel}})
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{File: &osFile{fs: d.fs, name: de.Name(), relPath: childRel, size: uint64(info.Size())}})
	}
	return entries
}

type osFile struct {
	fs      *OSFileSystem
	name    string
	relPath string
	size    uint64
}

func (f *osFile) Name() string { return f.name }
func (f *osFile) Size() uint64 { return f.size }

func (f *osFile) Open() (storage.ReadableStorage, error) {
	return storage.NewReadOnlyFileStorage(filepath.Join(f.fs.root, f.relPath))
}
