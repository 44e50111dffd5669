package elf

import "github.com/arklink/arklink/internal/resolve"

// buildShstrtab builds the per-section part of the section-header string
// table: a leading NUL, then one entry per emitted PT_LOAD section. Emit
// appends the three bookkeeping names (.symtab, .strtab, .shstrtab) after
// these entries, the layout shstrtabNameOff computes against. Mirrors
// elf_x64.go's fixed
// "\x00.text\x00.rodata\x00.data\x00.symtab\x00.strtab\x00.shstrtab\x00"
// construction, generalized to an arbitrary section-name list.
func buildShstrtab(sections []outSection) ([]byte, []uint32) {
	tab := []byte{0}
	offs := make([]uint32, len(sections))
	for i, s := range sections {
		offs[i] = uint32(len(tab))
		tab = append(tab, []byte(s.name)...)
		tab = append(tab, 0)
	}
	return tab, offs
}

func shstrtabNameOff(name string, sections []outSection) uint32 {
	// Reserved bookkeeping names are appended right after the section names
	// by the caller building the final shstrtab; offsets are computed here
	// against that same layout so both sides agree without a shared map.
	off := 1
	for _, s := range sections {
		off += len(s.name) + 1
	}
	reserved := []string{".symtab", ".strtab", ".shstrtab"}
	for _, r := range reserved {
		if r == name {
			return uint32(off)
		}
		off += len(r) + 1
	}
	return 0
}

// symEntry is one row destined for .symtab.
type symEntry struct {
	nameOff uint32
	value   uint64
	size    uint64
	shndx   uint16
	global  bool
}

// buildSymtab emits one global STT_OBJECT symbol per export plus, when an
// entry point was resolved, one named "_start" for it (no STT_FUNC entries
// are written), matching elf_x64.go's
// st_info/st_shndx/st_value/st_size field packing but driven by the plan's
// exports instead of a fixed function list.
func buildSymtab(plan *resolve.Plan, lay *layout) ([]byte, []byte) {
	strtab := []byte{0}
	var entries []symEntry

	addName := func(name string) uint32 {
		off := uint32(len(strtab))
		strtab = append(strtab, []byte(name)...)
		strtab = append(strtab, 0)
		return off
	}

	if plan.Entry.Found {
		outIdx := lay.planToOut[plan.Entry.PlanSection]
		entries = append(entries, symEntry{
			nameOff: addName("_start"),
			value:   lay.sections[outIdx].vaddr + plan.Entry.Offset,
			shndx:   uint16(outIdx + 1),
			global:  true,
		})
	}

	for _, exp := range plan.Exports {
		outIdx := lay.planToOut[exp.PlanSection]
		entries = append(entries, symEntry{
			nameOff: addName(exp.Name),
			value:   lay.sections[outIdx].vaddr + exp.Offset,
			shndx:   uint16(outIdx + 1),
			global:  true,
		})
	}

	symtab := make([]byte, (1+len(entries))*symSize)
	for i, e := range entries {
		off := (i + 1) * symSize
		putU32(symtab[off:], e.nameOff)
		info := byte(0x02) // STT_OBJECT
		if e.global {
			info |= 0x10 // STB_GLOBAL << 4
		}
		symtab[off+4] = info
		symtab[off+5] = 0
		putU16(symtab[off+6:], e.shndx)
		putU64(symtab[off+8:], e.value)
		putU64(symtab[off+16:], e.size)
	}
	return symtab, strtab
}
