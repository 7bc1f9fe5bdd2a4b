// Package vfs defines the read-only filesystem contract shared by every
// input and content filesystem in this module (PFS0, RomFS, a plain OS
// directory tree, or a ticket/NCA-bearing merge of several): a tree of
// named files and directories whose files expose a storage.ReadableStorage.
package vfs

import "github.com/nxfs/hac-go/pkg/storage"

// File is a leaf in a filesystem tree.
type File interface {
	Name() string
	Size() uint64
	Open() (storage.ReadableStorage, error)
}

// Entry is one child of a Directory: exactly one of File or Dir is set.
type Entry struct {
	File File
	Dir  Directory
}

// Directory is an interior node in a filesystem tree.
type Directory interface {
	Name() string
	Entries() []Entry
}

// FileSystem is a full tree, addressable both by traversal from Root and by
// absolute slash-separated path.
type FileSystem interface {
	Root() Directory
	OpenDirectory(path string) (Directory, bool)
	OpenFile(path string) (File, bool)
}

// WalkFiles calls fn for every file reachable from dir, recursively, with
// its path relative to dir (no leading slash).
func WalkFiles(dir Directory, fn func(path string, file File)) {
	walk(dir, "", fn)
}

func walk(dir Directory, prefix string, fn func(path string, file File)) {
	for _, e := range dir.Entries() {
		switch {
		case e.File != nil:
			fn(joinPath(prefix, e.File.Name()), e.File)
		case e.Dir != nil:
			walk(e.Dir, joinPath(prefix, e.Dir.Name()), fn)
		}
	}
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
