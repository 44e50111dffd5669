// Package link implements the top-level orchestration (§5): loading inputs,
// running the resolver, dispatching to the target format's Backend, and
// writing the output atomically.
//
// Backend dispatch replaces src/core/job.c's arklink_run_backends/
// ark_backend_query runtime vtable lookup (DESIGN NOTES §9) with a
// compile-time registry: each internal/format/* package registers itself
// from an init() function, and cmd/arklink blank-imports both so the
// registry is populated before Link runs — the same self-registration
// pattern database/sql drivers use, not a dynamic plugin system.
package link

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arklink/arklink/internal/coffobj"
	"github.com/arklink/arklink/internal/diag"
	"github.com/arklink/arklink/internal/job"
	"github.com/arklink/arklink/internal/obj"
	"github.com/arklink/arklink/internal/resolve"
	"github.com/arklink/arklink/internal/rofmt"
	"github.com/arklink/arklink/internal/search"
)

// Backend emits a resolved Plan as a complete executable image for one
// target format.
type Backend interface {
	Emit(ctx *job.Context, plan *resolve.Plan) ([]byte, error)
}

var backends = make(map[job.Target]Backend)

// Register adds a Backend for a target. Called from each format package's
// init(); panics on a duplicate registration, since that can only mean two
// backend packages were blank-imported for the same target.
func Register(t job.Target, b Backend) {
	if _, exists := backends[t]; exists {
		panic(fmt.Sprintf("link: backend already registered for target %v", t))
	}
	backends[t] = b
}

// Link runs one full link job end to end (§5): validate, load, resolve,
// emit, write.
func Link(cfg *job.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	backend, ok := backends[cfg.Target]
	if !ok {
		return diag.Newf(diag.Unsupported, "no backend registered for target %v (forgot a blank import?)", cfg.Target)
	}

	ctx := job.NewContext(cfg)
	defer ctx.Destroy()

	searcher := search.New(cfg.LibraryPaths)

	primary := make([]*obj.TU, 0, len(cfg.Inputs))
	for _, in := range cfg.Inputs {
		tu, err := loadInput(ctx, in)
		if err != nil {
			return err
		}
		primary = append(primary, tu)
	}

	resolver := resolve.New(ctx, searcher, readArchiveFile)
	plan, err := resolver.Resolve(primary)
	if err != nil {
		return err
	}

	image, err := backend.Emit(ctx, plan)
	if err != nil {
		return err
	}

	return writeAtomic(cfg.OutputPath, image)
}

func loadInput(ctx *job.Context, in job.Input) (*obj.TU, error) {
	data := in.Bytes
	path := in.Name
	if len(data) == 0 && in.Path != "" {
		path = in.Path
		raw, err := os.ReadFile(in.Path)
		if err != nil {
			return nil, diag.Wrap(diag.IO, in.Path, "reading input", err)
		}
		data = raw
	}
	if len(data) == 0 {
		return nil, diag.Newf(diag.InvalidArgument, "input %q has no bytes", in.Name)
	}

	switch classify(data) {
	case kindRO:
		return rofmt.Load(ctx, path, data)
	case kindCOFF:
		return coffobj.Load(ctx, path, data)
	case kindArchive:
		return nil, diag.Newf(diag.InvalidArgument, "%s: looks like a library archive; pass it via LibraryPaths/LibraryNames instead of Inputs", path)
	default:
		return nil, diag.Newf(diag.BadFormat, "%s: unrecognized object format", path)
	}
}

type inputKind int

const (
	kindUnknown inputKind = iota
	kindRO
	kindCOFF
	kindArchive
)

func classify(data []byte) inputKind {
	if len(data) >= 8 && string(data[:8]) == "!<arch>\n" {
		return kindArchive
	}
	if len(data) >= 4 && data[0] == 0x4F && data[1] == 0x45 && data[2] == 0x23 && data[3] == 0x45 {
		return kindRO
	}
	if len(data) >= 2 {
		machine := uint16(data[0]) | uint16(data[1])<<8
		switch machine {
		case 0x8664, 0x014c, 0x0200, 0xaa64:
			return kindCOFF
		}
	}
	return kindUnknown
}

func readArchiveFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// writeAtomic writes data to a temp file in the output directory, then
// renames it into place, so a failed or interrupted write never leaves a
// corrupt file at OutputPath (§C.4).
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".arklink-*.tmp")
	if err != nil {
		return diag.Wrap(diag.IO, path, "creating temporary output file", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return diag.Wrap(diag.IO, path, "writing output", err)
	}
	if err := tmp.Chmod(0o755); err != nil {
		return diag.Wrap(diag.IO, path, "setting output permissions", err)
	}
	if err := tmp.Close(); err != nil {
		return diag.Wrap(diag.IO, path, "closing temporary output file", err)
	}
	cleanup = false // rename below takes ownership; nothing left to clean up

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return diag.Wrap(diag.IO, path, "renaming output into place", err)
	}
	return nil
}
