package resolve

import (
	"fmt"

	"github.com/arklink/arklink/internal/archive"
	"github.com/arklink/arklink/internal/diag"
	"github.com/arklink/arklink/internal/job"
	"github.com/arklink/arklink/internal/obj"
	"github.com/arklink/arklink/internal/search"
)

// ArchiveSource reads a library archive's bytes given the path the Searcher
// resolved. Exposed as a seam so tests can supply in-memory archives without
// touching the filesystem.
type ArchiveSource func(path string) ([]byte, error)

// Resolver runs the §4.5 algorithm over an initial TU list plus the job's
// configured libraries.
type Resolver struct {
	ctx      *job.Context
	searcher *search.Searcher
	readFile ArchiveSource

	plan          *Plan
	tuSectionBase []int
	archives      map[string]*archive.Archive
	pulled        map[string]bool
}

func New(ctx *job.Context, searcher *search.Searcher, readFile ArchiveSource) *Resolver {
	return &Resolver{
		ctx:      ctx,
		searcher: searcher,
		readFile: readFile,
		archives: make(map[string]*archive.Archive),
		pulled:   make(map[string]bool),
	}
}

// Resolve runs §4.5 steps 1-6 over the given primary TUs, in order.
func (r *Resolver) Resolve(primary []*obj.TU) (*Plan, error) {
	r.plan = &Plan{byName: make(map[string]*MergedSymbol)}

	for _, tu := range primary {
		r.appendTU(tu)
	}
	for i := range r.plan.TUs {
		if err := r.mergeSymbols(i); err != nil {
			return nil, err
		}
	}

	if err := r.pullArchives(); err != nil {
		return nil, err
	}

	if err := r.classifyImports(); err != nil {
		return nil, err
	}

	r.buildRelocations()

	r.resolveEntry()
	r.collectExports()

	return r.plan, nil
}

// appendTU adds a TU to the plan and records its sections, returning its
// plan-level TU index.
func (r *Resolver) appendTU(tu *obj.TU) int {
	tuIdx := len(r.plan.TUs)
	r.plan.TUs = append(r.plan.TUs, tu)
	base := len(r.plan.Sections)
	r.tuSectionBase = append(r.tuSectionBase, base)
	for i, sec := range tu.Sections {
		r.plan.Sections = append(r.plan.Sections, PlanSection{
			TUIndex:     tuIdx,
			SectionInTU: i + 1,
			Section:     sec,
		})
	}
	return tuIdx
}

func (r *Resolver) globalSection(tuIdx, localSecIdx int) int {
	if localSecIdx <= 0 {
		return 0
	}
	return r.tuSectionBase[tuIdx] + localSecIdx
}

// mergeSymbols runs §4.5 step 1 over one TU's Global/Weak symbols.
func (r *Resolver) mergeSymbols(tuIdx int) error {
	tu := r.plan.TUs[tuIdx]
	for symIdx, sym := range tu.Symbols {
		if sym.Binding == obj.Local {
			continue
		}
		existing := r.plan.byName[sym.Name]

		if sym.Defined() {
			loc := Location{Kind: DefinedLocation, PlanSection: r.globalSection(tuIdx, sym.SectionIndex), Offset: sym.Value}
			if existing == nil {
				ms := &MergedSymbol{Name: sym.Name, Binding: sym.Binding, Location: loc, SourceTU: tuIdx, SourceSym: symIdx}
				r.plan.byName[sym.Name] = ms
				r.plan.Symbols = append(r.plan.Symbols, ms)
				continue
			}
			if sym.Binding == obj.Global {
				if existing.Binding == obj.Global && existing.Location.Kind == DefinedLocation {
					return r.multipleDefinitionError(existing, tuIdx, sym)
				}
				existing.Binding = obj.Global
				existing.Location = loc
				existing.SourceTU = tuIdx
				existing.SourceSym = symIdx
			} else { // Weak definition
				if existing.Location.Kind != DefinedLocation {
					existing.Binding = obj.Weak
					existing.Location = loc
					existing.SourceTU = tuIdx
					existing.SourceSym = symIdx
				}
				// else: a definition already exists (Global or an earlier Weak) and wins.
			}
			continue
		}

		// Undefined reference (pending Global) or a Weak declaration with no body.
		if existing == nil {
			ms := &MergedSymbol{
				Name:      sym.Name,
				Binding:   sym.Binding,
				Location:  Location{Kind: NoLocation},
				SourceTU:  tuIdx,
				SourceSym: symIdx,
			}
			r.plan.byName[sym.Name] = ms
			r.plan.Symbols = append(r.plan.Symbols, ms)
		}
		// else: resolves to whatever's already in the table.
	}
	return nil
}

func (r *Resolver) multipleDefinitionError(existing *MergedSymbol, newTUIdx int, newSym *obj.Symbol) error {
	oldTU := r.plan.TUs[existing.SourceTU]
	newTU := r.plan.TUs[newTUIdx]
	return diag.Newf(diag.MultipleDefinition, "symbol %q defined in both %s and %s", existing.Name, oldTU.Path, newTU.Path)
}

// undefinedGlobals returns every Global name with no definition yet,
// regardless of whether it's pre-declared as an import in configuration.
func (r *Resolver) undefinedGlobals() map[string]bool {
	out := make(map[string]bool)
	for name, ms := range r.plan.byName {
		if ms.Binding == obj.Global && ms.Location.Kind == NoLocation {
			out[name] = true
		}
	}
	return out
}

// pendingGlobals returns the set of Global names with no definition yet,
// excluding names pre-declared as imports in configuration (§4.5 step 2):
// archive pulling should never be triggered just to satisfy a symbol that's
// going to be classified as an import anyway.
func (r *Resolver) pendingGlobals() map[string]bool {
	cfg := r.ctx.Config()
	preImport := make(map[string]bool, len(cfg.Imports))
	for _, im := range cfg.Imports {
		preImport[im.Symbol] = true
	}
	out := r.undefinedGlobals()
	for name := range preImport {
		delete(out, name)
	}
	return out
}

// pullArchives runs §4.5 step 2: the fixed-point archive-pulling loop.
func (r *Resolver) pullArchives() error {
	cfg := r.ctx.Config()
	if len(cfg.LibraryNames) == 0 {
		return nil
	}
	for {
		u := r.pendingGlobals()
		if len(u) == 0 {
			return nil
		}
		progress := false
		for _, libName := range cfg.LibraryNames {
			arc, err := r.getArchive(libName)
			if err != nil {
				return err
			}
			for i := 0; i < arc.Count(); i++ {
				key := fmt.Sprintf("%s#%d", libName, i)
				if r.pulled[key] {
					continue
				}
				tu, err := arc.Extract(r.ctx, i)
				if err != nil {
					return err
				}
				if !tuDefinesAny(tu, u) {
					// Leave unpulled: this member may define a symbol that
					// only becomes wanted in a later fixed-point iteration
					// (a transitive dependency pulled in by this round),
					// and it must stay eligible for that rescan.
					continue
				}
				r.pulled[key] = true
				tuIdx := r.appendTU(tu)
				if err := r.mergeSymbols(tuIdx); err != nil {
					return err
				}
				progress = true
			}
		}
		if !progress {
			return nil
		}
	}
}

func tuDefinesAny(tu *obj.TU, wanted map[string]bool) bool {
	for _, sym := range tu.Symbols {
		if sym.Binding == obj.Global && sym.Defined() && wanted[sym.Name] {
			return true
		}
	}
	return false
}

func (r *Resolver) getArchive(libName string) (*archive.Archive, error) {
	if arc, ok := r.archives[libName]; ok {
		return arc, nil
	}
	path, err := r.searcher.Find(libName)
	if err != nil {
		return nil, err
	}
	data, err := r.readFile(path)
	if err != nil {
		return nil, diag.Wrap(diag.IO, path, "reading library archive", err)
	}
	arc, err := archive.Parse(path, data)
	if err != nil {
		return nil, err
	}
	r.archives[libName] = arc
	return arc, nil
}

// classifyImports runs §4.5 step 3 over whatever remains pending after
// archive pulling.
func (r *Resolver) classifyImports() error {
	cfg := r.ctx.Config()
	configIndex := make(map[string]int, len(cfg.Imports))
	for i, im := range cfg.Imports {
		configIndex[im.Symbol] = i
	}

	u := r.undefinedGlobals()
	if len(u) == 0 {
		return nil
	}

	var unresolved diag.List
	unresolved.Kind = diag.UnresolvedSymbol

	for name := range u {
		idx, ok := configIndex[name]
		if !ok {
			unresolved.Add(diag.New(diag.UnresolvedSymbol, name))
			continue
		}
		im := cfg.Imports[idx]
		slot := idx
		if im.Slot != nil {
			slot = int(*im.Slot)
		}
		ms := r.plan.byName[name]
		ms.Location = Location{Kind: ImportLocation, ImportSlot: slot}
		r.plan.Imports = append(r.plan.Imports, ImportBinding{Module: im.Module, Symbol: im.Symbol, Slot: slot})
	}

	if !unresolved.Empty() {
		return &unresolved
	}
	return nil
}

func (r *Resolver) resolveEntry() {
	cfg := r.ctx.Config()
	if cfg.EntryPoint != "" {
		if ms, ok := r.plan.byName[cfg.EntryPoint]; ok && ms.Location.Kind == DefinedLocation {
			r.plan.Entry = EntryPoint{Found: true, PlanSection: ms.Location.PlanSection, Offset: ms.Location.Offset}
			return
		}
		r.ctx.Warnf("configured entry point %q not found or not defined", cfg.EntryPoint)
	}
	for _, name := range []string{"main", "_start", "WinMain", "wmain"} {
		if ms, ok := r.plan.byName[name]; ok && ms.Location.Kind == DefinedLocation {
			r.plan.Entry = EntryPoint{Found: true, PlanSection: ms.Location.PlanSection, Offset: ms.Location.Offset}
			return
		}
	}
	if len(r.plan.TUs) > 0 {
		first := r.plan.TUs[0]
		if first.HasEntry {
			r.plan.Entry = EntryPoint{
				Found:       true,
				PlanSection: r.globalSection(0, 1), // TEXT is always section 1 for RO-loaded TUs
				Offset:      first.EntryOffset,
				Origin:      first.Path,
			}
			return
		}
	}
	r.ctx.Warnf("no entry point resolved; the resulting executable may be non-runnable")
}

func (r *Resolver) collectExports() {
	cfg := r.ctx.Config()
	ordinal := 1
	for _, name := range cfg.Exports {
		ms, ok := r.plan.byName[name]
		if !ok || ms.Location.Kind != DefinedLocation {
			r.ctx.Warnf("configured export %q not found", name)
			continue
		}
		r.plan.Exports = append(r.plan.Exports, ExportBinding{
			Name:        name,
			PlanSection: ms.Location.PlanSection,
			Offset:      ms.Location.Offset,
			Ordinal:     ordinal,
		})
		ordinal++
	}
}
