package vfs

// MergeFileSystem overlays several filesystems into one: a path resolves
// against the first filesystem that has it, and directory listings union
// every filesystem's children (first-come-first-served on name clashes,
// subdirectories merged recursively). This is the input-side union used to
// treat a ROM dump split across several loose directories or containers as
// a single source of NCAs and tickets.
type MergeFileSystem struct {
	filesystems []FileSystem
}

// NewMergeFileSystem overlays filesystems in priority order: entries from
// an earlier filesystem shadow same-named entries from a later one.
func NewMergeFileSystem(filesystems []FileSystem) *MergeFileSystem {
	return &MergeFileSystem{filesystems: filesystems}
}

func (m *MergeFileSystem) Root() Directory {
	dirs := make([]Directory, len(m.filesystems))
	for i, fs := range m.filesystems {
		dirs[i] = fs.Root()
	}
	return &mergeDirectory{name: "", dirs: dirs}
}

func (m *MergeFileSystem) OpenDirectory(path string) (Directory, bool) {
	var dirs []Directory
	for _, fs := range m.filesystems {
		if d, ok := fs.OpenDirectory(path); ok {
			dirs = append(dirs, d)
		}
	}
	if len(dirs) == 0 {
		return nil, false
	}
	return &mergeDirectory{name: dirs[0].Name(), dirs: dirs}, true
}

func (m *MergeFileSystem) OpenFile(path string) (File, bool) {
	for _, fs := range m.filesystems {
		if f, ok := fs.OpenFile(path); ok {
			return f, true
		}
	}
	return nil, false
}

type mergeDirectory struct {
	name string
	dirs []Directory
}

func (d *mergeDirectory) Name() string { return d.name }

func (d *mergeDirectory) Entries() []Entry {
	// First filesystem in the list wins on a name clash; subdirectories of
	// the same name are merged recursively across every filesystem that has
	// one, preserving first-seen order for both files and directories.
	fileOrder := make([]string, 0)
	files := make(map[string]File)
	dirOrder := make([]string, 0)
	dirChildren := make(map[string][]Directory)

	for _, d := range d.dirs {
		for _, e := range d.Entries() {
			switch {
			case e.File != nil:
				name := e.File.Name()
				if _, ok := files[name]; !ok {
					files[name] = e.File
					fileOrder = append(fileOrder, name)
				}
			case e.Dir != nil:
				name := e.Dir.Name()
				if _, ok := dirChildren[name]; !ok {
					dirOrder = append(dirOrder, name)
				}
				dirChildren[name] = append(dirChildren[name], e.Dir)
			}
		}
	}

	entries := make([]Entry, 0, len(dirOrder)+len(fileOrder))
	for _, name := range dirOrder {
		entries = append(entries, Entry{Dir: &mergeDirectory{name: name, dirs: dirChildren[name]}})
	}
	for _, name := range fileOrder {
		entries = append(entries, Entry{File: files[name]})
	}
	return entries
}
