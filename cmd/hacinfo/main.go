// Command hacinfo walks one or more directories or PFS0 containers (such as
// .nsp files), imports whatever tickets it finds, parses every NCA, and prints the
// resulting application/patch/add-on model: a read-only inspector, not a
// repackaging tool.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/nxfs/hac-go/pkg/aggregator"
	"github.com/nxfs/hac-go/pkg/ids"
	"github.com/nxfs/hac-go/pkg/integrity"
	"github.com/nxfs/hac-go/pkg/keys"
	"github.com/nxfs/hac-go/pkg/pfs0"
	"github.com/nxfs/hac-go/pkg/storage"
	"github.com/nxfs/hac-go/pkg/vfs"
)

func main() {
	keysPath := flag.String("k", "", "path to prod.keys (default: $XDG_CONFIG_HOME/switch/prod.keys or ~/.config/switch/prod.keys, then ~/.switch/prod.keys)")
	titleKeysPath := flag.String("t", "", "path to title.keys")
	levelFlag := flag.String("level", "ignore", "integrity check level: none, ignore, full")
	flag.Parse()

	level, err := parseCheckLevel(*levelFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Println("Usage: hacinfo [options] <directory-or-file>...")
		flag.PrintDefaults()
		return
	}

	keySet := keys.New()
	if *keysPath != "" {
		if err := keySet.LoadKeysFile(*keysPath); err != nil {
			fmt.Fprintf(os.Stderr, "loading keys: %v\n", err)
			os.Exit(1)
		}
		if *titleKeysPath != "" {
			if err := keySet.LoadTitleKeysFile(*titleKeysPath); err != nil {
				fmt.Fprintf(os.Stderr, "loading title keys: %v\n", err)
				os.Exit(1)
			}
		}
		if err := keySet.DeriveKeys(); err != nil {
			fmt.Fprintf(os.Stderr, "deriving keys: %v\n", err)
			os.Exit(1)
		}
	} else if err := keySet.LoadSystem(); err != nil {
		fmt.Printf("warning: could not load keys: %v\n", err)
		fmt.Println("encrypted titles will fail to parse; pass -k to point at a prod.keys file")
	}

	fsys, err := openInputs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := aggregator.NewSlogLogger(nil)
	set, err := aggregator.Build(fsys, keySet, level, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aggregating content: %v\n", err)
		os.Exit(1)
	}

	printSet(set)
}

func parseCheckLevel(s string) (integrity.CheckLevel, error) {
	switch s {
	case "none":
		return integrity.CheckLevelNone, nil
	case "ignore":
		return integrity.CheckLevelIgnoreOnInvalid, nil
	case "full":
		return integrity.CheckLevelFull, nil
	default:
		return 0, fmt.Errorf("unknown -level %q: want none, ignore or full", s)
	}
}

// openInputs turns each argument into a filesystem (a real directory, or a
// single PFS0 container such as an .nsp) and unions them, earlier arguments
// shadowing later ones on a name clash.
func openInputs(args []string) (vfs.FileSystem, error) {
	filesystems := make([]vfs.FileSystem, 0, len(args))
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			fsys, err := vfs.NewOSFileSystem(arg)
			if err != nil {
				return nil, err
			}
			filesystems = append(filesystems, fsys)
			continue
		}
		store, err := storage.NewReadOnlyFileStorage(arg)
		if err != nil {
			return nil, err
		}
		fsys, err := pfs0.New(store)
		if err != nil {
			return nil, fmt.Errorf("%s: not a directory or PFS0 container: %w", arg, err)
		}
		filesystems = append(filesystems, fsys)
	}
	if len(filesystems) == 1 {
		return filesystems[0], nil
	}
	return vfs.NewMergeFileSystem(filesystems), nil
}

func printSet(set *aggregator.Set) {
	fmt.Printf("%d NCA(s), %d application(s)\n\n", len(set.Ncas), len(set.Applications))

	for _, app := range sortedApplications(set.Applications) {
		base := app.Versions[app.BaseVersion]
		title := "?"
		if base != nil {
			for _, program := range base.Programs {
				if program.Control == nil {
					continue
				}
				if t, ok := program.Control.AnyTitle(); ok {
					title = t.Name
					break
				}
			}
		}

		fmt.Printf("application %s %q (patch id %s)\n", app.ID, title, app.PatchID)
		for _, version := range sortedVersions(app.Versions) {
			fmt.Printf("  %s version %s: %d program(s)\n", version.Kind, version.Version, len(version.Programs))
			for _, program := range sortedPrograms(version.Programs) {
				fmt.Printf("    program %s content %s", program.ID, program.ContentID)
				if program.BaseContentID != nil {
					fmt.Printf(" (base %s)", *program.BaseContentID)
				}
				fmt.Println()
			}
		}
		for _, addon := range sortedAddons(app.Addons) {
			fmt.Printf("  add-on %s version %s content %s\n", addon.ID, addon.Version, addon.ContentID)
		}
		fmt.Println()
	}
}

func sortedApplications(m map[ids.ApplicationID]*aggregator.Application) []*aggregator.Application {
	out := make([]*aggregator.Application, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedVersions(m map[ids.Version]*aggregator.ApplicationVersion) []*aggregator.ApplicationVersion {
	out := make([]*aggregator.ApplicationVersion, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func sortedPrograms(m map[ids.ProgramID]*aggregator.Program) []*aggregator.Program {
	out := make([]*aggregator.Program, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedAddons(m map[ids.DataID]*aggregator.Addon) []*aggregator.Addon {
	out := make([]*aggregator.Addon, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
