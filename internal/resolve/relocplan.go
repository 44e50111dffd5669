package resolve

import "github.com/arklink/arklink/internal/obj"

// buildRelocations runs §4.5 step 4: every TU-local relocation is rewritten
// into a PlanRelocation addressing plan-level sections, with its target
// resolved through the merged symbol table (C6a).
//
// By the time this runs, classifyImports has already turned every pending
// Global into either a DefinedLocation or an ImportLocation, or failed the
// resolve. A target can still be NoLocation here when it is a Weak or Local
// reference with no definition (classifyImports only examines Global names)
// or the symbol index is out of range; such targets are left as NoLocation,
// and reloc.Apply fails with UnresolvedSymbol when it reaches them.
func (r *Resolver) buildRelocations() {
	for tuIdx, tu := range r.plan.TUs {
		for _, rel := range tu.Relocations {
			target := r.relocationTarget(tuIdx, tu, rel)
			r.plan.Relocations = append(r.plan.Relocations, PlanRelocation{
				PatchSection: r.globalSection(tuIdx, rel.SectionIndex),
				PatchOffset:  rel.Offset,
				Type:         rel.Type,
				Addend:       rel.Addend,
				Target:       target,
				SymbolName:   r.symbolName(tu, rel.SymbolIndex),
			})
		}
	}
}

func (r *Resolver) symbolName(tu *obj.TU, symIdx int) string {
	if symIdx < 0 || symIdx >= len(tu.Symbols) {
		return ""
	}
	return tu.Symbols[symIdx].Name
}

func (r *Resolver) relocationTarget(tuIdx int, tu *obj.TU, rel *obj.Relocation) Location {
	if rel.SymbolIndex < 0 || rel.SymbolIndex >= len(tu.Symbols) {
		return Location{Kind: NoLocation}
	}
	sym := tu.Symbols[rel.SymbolIndex]
	if sym.Binding == obj.Local {
		if !sym.Defined() {
			return Location{Kind: NoLocation}
		}
		return Location{Kind: DefinedLocation, PlanSection: r.globalSection(tuIdx, sym.SectionIndex), Offset: sym.Value}
	}
	ms, ok := r.plan.byName[sym.Name]
	if !ok {
		return Location{Kind: NoLocation}
	}
	return ms.Location
}
