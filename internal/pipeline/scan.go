package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Target is one file an ingest run will visit.
type Target struct {
	Path string
	// Skip marks unsupported files found while walking a directory.
	Skip bool
}

// Scan expands paths into targets. Files named directly are always
// targets, so unsupported or missing ones fail loudly at load time.
// Directories contribute their supported files; hidden entries are ignored.
func Scan(paths []string, recursive bool, supported func(string) bool) ([]Target, error) {
	var out []Target
	seen := make(map[string]bool)
	add := func(t Target) {
		if !seen[t.Path] {
			seen[t.Path] = true
			out = append(out, t)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			add(Target{Path: p})
			continue
		}

		var found []Target
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != p && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if path != p && !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			found = append(found, Target{Path: path, Skip: !supported(path)})
			return nil
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
		for _, t := range found {
			add(t)
		}
	}
	return out, nil
}
