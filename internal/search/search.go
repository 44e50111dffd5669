// Package search implements the library searcher (C3): resolving a logical
// library name to a concrete archive path by probing ordered search
// directories.
package search

import (
	"os"
	"path/filepath"

	"github.com/arklink/arklink/internal/diag"
)

// Searcher holds the ordered list of directories to probe.
type Searcher struct {
	Paths []string
}

func New(paths []string) *Searcher {
	return &Searcher{Paths: paths}
}

// Find locates a library by logical name, first match wins (§4.2):
//  1. for each search path P: P/<name>.lib, then P/lib<name>.a, then P/<name>
//  2. finally <name>.lib relative to the process working directory
func (s *Searcher) Find(name string) (string, error) {
	for _, p := range s.Paths {
		candidates := []string{
			filepath.Join(p, name+".lib"),
			filepath.Join(p, "lib"+name+".a"),
			filepath.Join(p, name),
		}
		for _, c := range candidates {
			if exists(c) {
				return c, nil
			}
		}
	}
	fallback := name + ".lib"
	if exists(fallback) {
		return fallback, nil
	}
	return "", diag.Newf(diag.IO, "library %q not found", name)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
