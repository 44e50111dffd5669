// Package reloc implements the relocation arithmetic engine (C6b): patching
// each resolved relocation site with the computed bytes, shared by both the
// PE and ELF emitters. Patches are applied in place to the owning
// resolve.PlanSection's underlying obj.Section.Data, the same "patch the
// in-memory section buffer before the final write" approach
// tinyrange-rtg/std/compiler/pe64.go uses for its RIP-relative IAT fixups.
package reloc

import (
	"github.com/arklink/arklink/internal/diag"
	"github.com/arklink/arklink/internal/obj"
	"github.com/arklink/arklink/internal/resolve"
)

// Layout answers the addressing questions the arithmetic needs: where a plan
// section lands in the final image, and where an import's IAT slot lands.
// Concrete implementations live in internal/format/pe and internal/format/elf,
// since only the emitter knows the final section order and base address.
type Layout interface {
	// SectionVA returns the virtual address of the start of the given
	// 1-based PlanSection index.
	SectionVA(planSection int) uint64
	// ImportVA returns the virtual address of the IAT slot for the given
	// import slot number.
	ImportVA(slot int) uint64
	// ImageBase returns the image's load base, so SECREL32 arithmetic can
	// recover a section's RVA from SectionVA's absolute address.
	ImageBase() uint64
}

// Result carries everything the PE emitter needs beyond the patched bytes:
// the site addresses that require a base-relocation table entry (§4.6,
// ABS64 only).
type Result struct {
	BaseRelocSites []uint64 // VAs of patched ABS64 sites, in relocation order, deduplicated
}

// Apply patches every relocation in the plan, writing computed bytes directly
// into each target PlanSection's Section.Data. warn receives a formatted
// message for relocations that are skipped rather than fatal, per §4.6's
// "violating relocations are skipped with a warning, not fatal" policy.
func Apply(plan *resolve.Plan, layout Layout, warn func(format string, args ...any)) (*Result, error) {
	res := &Result{}
	seen := make(map[uint64]bool)

	for _, rel := range plan.Relocations {
		ps := plan.SectionByIndex(rel.PatchSection)
		if ps == nil || ps.Section == nil {
			return nil, diag.Newf(diag.BackendFailure, "relocation patch site references unknown section %d", rel.PatchSection)
		}
		sec := ps.Section
		if sec.Kind == obj.BSS {
			return nil, diag.Newf(diag.BackendFailure, "relocation targets a BSS section (%s), which carries no file bytes", sec.Name)
		}

		width := widthOf(rel.Type)
		if rel.PatchOffset+uint64(width) > uint64(len(sec.Data)) {
			warn("relocation at %s+%#x exceeds section length %d; skipping", sec.Name, rel.PatchOffset, len(sec.Data))
			continue
		}

		siteVA := layout.SectionVA(rel.PatchSection) + rel.PatchOffset
		targetVA, err := targetVA(rel.Target, layout)
		if err != nil {
			return nil, diag.Newf(diag.UnresolvedSymbol, "relocation for %q has no resolved target", rel.SymbolName)
		}

		switch rel.Type {
		case obj.ABS64:
			value := targetVA + uint64(rel.Addend)
			putU64(sec.Data[rel.PatchOffset:], value)
			if !seen[siteVA] {
				seen[siteVA] = true
				res.BaseRelocSites = append(res.BaseRelocSites, siteVA)
			}

		case obj.PC32, obj.GOTPC32:
			// RIP-relative: the CPU reads the displacement as the 4 bytes
			// immediately preceding the next instruction byte, so the base
			// for the subtraction is the end of the patched field. §4.6
			// allows this to silently overflow the 32-bit field.
			rip := siteVA + uint64(width)
			disp := int64(targetVA) + int64(rel.Addend) - int64(rip)
			putU32(sec.Data[rel.PatchOffset:], uint32(int32(disp)))

		case obj.SECREL32:
			// Section-relative in name only: §4.6 still wants the target
			// section's RVA folded in, not a bare offset within it.
			if rel.Target.Kind != resolve.DefinedLocation {
				return nil, diag.Newf(diag.BackendFailure, "SECREL32 relocation for %q has no section-relative target", rel.SymbolName)
			}
			sectionRVA := layout.SectionVA(rel.Target.PlanSection) - layout.ImageBase()
			value := uint32(int64(sectionRVA) + int64(rel.Target.Offset) + int64(rel.Addend))
			putU32(sec.Data[rel.PatchOffset:], value)

		default:
			return nil, diag.Newf(diag.BackendFailure, "unknown relocation type %v", rel.Type)
		}
	}

	return res, nil
}

func widthOf(t obj.RelocType) int {
	if t == obj.ABS64 {
		return 8
	}
	return 4
}

func targetVA(loc resolve.Location, layout Layout) (uint64, error) {
	switch loc.Kind {
	case resolve.DefinedLocation:
		return layout.SectionVA(loc.PlanSection) + loc.Offset, nil
	case resolve.ImportLocation:
		return layout.ImportVA(loc.ImportSlot), nil
	default:
		return 0, diag.New(diag.UnresolvedSymbol, "relocation target has no location")
	}
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
