// Package resolve implements the symbol resolver (C5) and the relocation
// planner (C6a): merging symbols across translation units and archive
// members, classifying globals as defined/imported/unresolved, and rewriting
// per-TU relocation records into plan-level records.
package resolve

import (
	"github.com/arklink/arklink/internal/obj"
)

// LocationKind tags where a merged symbol (or a relocation target) ultimately
// lives. This replaces the original implementation's overloaded
// Weak-binding-plus-import_id encoding (DESIGN NOTES §9) with an explicit
// tagged variant.
type LocationKind int

const (
	NoLocation LocationKind = iota
	DefinedLocation
	ImportLocation
)

// Location is where a resolved symbol or relocation target sits: either a
// byte offset into one of the plan's flattened output sections, or an import
// slot whose address the loader fills in at load time.
type Location struct {
	Kind        LocationKind
	PlanSection int // 1-based index into Plan.Sections; valid when Kind == DefinedLocation
	Offset      uint64
	ImportSlot  int // valid when Kind == ImportLocation
}

// MergedSymbol is one entry in the resolver's cross-TU symbol table.
type MergedSymbol struct {
	Name     string
	Binding  obj.Binding // Global or Weak; Local symbols never enter this table
	Location Location
	// SourceTU/SourceSym record which TU and local symbol index this entry's
	// current definition came from, for diagnostics (MultipleDefinition).
	SourceTU  int
	SourceSym int
}

// PlanSection is one flattened, globally-ordered section contributed by some
// TU in the plan. Index 0 is reserved (unused); PlanSection entries are
// addressed 1-based to mirror the RO format's section-index discipline.
type PlanSection struct {
	TUIndex      int
	SectionInTU  int // 1-based into that TU's Sections
	Section      *obj.Section
}

// ImportBinding is one resolved import: a (module, symbol) pair assigned a
// stable ordinal within the link.
type ImportBinding struct {
	Module string
	Symbol string
	Slot   int
}

// ExportBinding is one resolved export.
type ExportBinding struct {
	Name        string
	PlanSection int
	Offset      uint64
	Ordinal     int
}

// EntryPoint is the resolved program entry, if any.
type EntryPoint struct {
	Found       bool
	PlanSection int
	Offset      uint64
	Origin      string // TU path the entry_offset fallback came from, when applicable
}

// PlanRelocation is one relocation rewritten to reference plan-level indices
// (C6a). PatchSection/PatchOffset identify where to write; Target identifies
// what to write there; Type/Addend carry the original arithmetic inputs.
type PlanRelocation struct {
	PatchSection int // 1-based PlanSection owning the patch site
	PatchOffset  uint64
	Type         obj.RelocType
	Addend       int16
	Target       Location
	SymbolName   string // for diagnostics
}

// Plan is the resolver's output and the emitters' input (§3 "Resolution Plan").
type Plan struct {
	TUs         []*obj.TU
	Sections    []PlanSection // PlanSection index 0 is unused; Sections[i-1] is PlanSection index i
	Symbols     []*MergedSymbol
	byName      map[string]*MergedSymbol
	Imports     []ImportBinding
	Exports     []ExportBinding
	Entry       EntryPoint
	Relocations []PlanRelocation
}

// SectionByIndex returns the 1-based-addressed PlanSection.
func (p *Plan) SectionByIndex(i int) *PlanSection {
	if i <= 0 || i > len(p.Sections) {
		return nil
	}
	return &p.Sections[i-1]
}
