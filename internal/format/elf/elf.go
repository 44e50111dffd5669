// Package elf implements the ELF64 emitter (C8): Ehdr, one PT_LOAD segment
// per resolver PlanSection (the spec's "arbitrary resolver-ordered section
// list" generalization — the teacher's single fixed PT_LOAD covering a
// hardcoded text/rodata/data triple doesn't generalize past one TU), plus
// .symtab/.strtab/.shstrtab.
//
// Grounded on tinyrange-rtg/std/compiler/elf_x64.go's buildELF64: header
// field layout, symbol-table entry shape, and section-header-string-table
// construction.
package elf

import (
	"github.com/arklink/arklink/internal/diag"
	"github.com/arklink/arklink/internal/job"
	"github.com/arklink/arklink/internal/obj"
	"github.com/arklink/arklink/internal/reloc"
	"github.com/arklink/arklink/internal/resolve"
)

const (
	defaultBaseAddr = 0x400000
	pageAlign       = 0x1000

	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
	symSize  = 24
)

type outSection struct {
	name    string
	kind    obj.SectionKind
	flags   obj.SectionFlags
	vaddr   uint64
	offset  uint64
	size    uint64 // file size; 0 for BSS
	memSize uint64
	data    []byte
}

type layout struct {
	sections  []outSection
	planToOut []int
	baseAddr  uint64
}

func (l *layout) SectionVA(planSection int) uint64 {
	return l.sections[l.planToOut[planSection]].vaddr
}

func (l *layout) ImportVA(slot int) uint64 { return 0 } // ELF backend never declares imports

func (l *layout) ImageBase() uint64 { return l.baseAddr }

var _ reloc.Layout = (*layout)(nil)

// Emit builds a complete ELF64 executable image from a resolved Plan.
func Emit(ctx *job.Context, plan *resolve.Plan) ([]byte, error) {
	cfg := ctx.Config()
	if len(cfg.Imports) > 0 {
		return nil, diag.New(diag.Unsupported, "the ELF backend does not support imported symbols; only static executables are implemented")
	}

	baseAddr := cfg.ImageBase
	if baseAddr == 0 {
		baseAddr = defaultBaseAddr
	}

	lay := &layout{baseAddr: baseAddr, planToOut: make([]int, len(plan.Sections)+1)}

	// One PT_PHDR (loads the program header table itself) plus one PT_LOAD
	// per allocatable section (§4.8 step 3).
	phnum := 1 + len(plan.Sections)
	headerTotal := uint64(ehdrSize) + uint64(phnum)*phdrSize
	offset := alignUp64(headerTotal, 16)

	for i := range plan.Sections {
		ps := &plan.Sections[i]
		sec := ps.Section
		align := uint64(sec.Alignment)
		if align == 0 {
			align = 1
		}
		offset = alignUp64(offset, align)
		out := outSection{
			name:  sec.Name,
			kind:  sec.Kind,
			flags: sec.Flags,
			vaddr: baseAddr + offset,
		}
		if sec.Kind == obj.BSS {
			out.memSize = uint64(sec.MemSize)
		} else {
			out.data = append([]byte(nil), sec.Data...)
			out.size = uint64(len(out.data))
			out.memSize = out.size
			out.offset = offset
			offset += out.size
		}
		lay.sections = append(lay.sections, out)
		lay.planToOut[i+1] = len(lay.sections) - 1
	}
	loadedEnd := offset

	if _, err := reloc.Apply(plan, lay, ctx.Warnf); err != nil {
		return nil, err
	}

	symtab, strtab := buildSymtab(plan, lay)
	shstrtab, shNames := buildShstrtab(lay.sections)
	for _, name := range []string{".symtab", ".strtab", ".shstrtab"} {
		shstrtab = append(shstrtab, name...)
		shstrtab = append(shstrtab, 0)
	}

	symtabOff := loadedEnd
	strtabOff := symtabOff + uint64(len(symtab))
	shstrtabOff := strtabOff + uint64(len(strtab))
	shdrOff := shstrtabOff + uint64(len(shstrtab))

	shdrCount := 1 + len(lay.sections) + 3 // NULL + sections + symtab/strtab/shstrtab
	totalSize := shdrOff + uint64(shdrCount)*shdrSize

	buf := make([]byte, totalSize)

	entryAddr := uint64(0)
	if plan.Entry.Found {
		entryAddr = lay.sections[lay.planToOut[plan.Entry.PlanSection]].vaddr + plan.Entry.Offset
	} else {
		ctx.Warnf("ELF image has no resolved entry point; e_entry will be 0")
	}

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	buf[7] = 0 // ELFOSABI_NONE
	putU16(buf[16:], 2)                    // ET_EXEC
	putU16(buf[18:], 62)                   // EM_X86_64
	putU32(buf[20:], 1)                    // EV_CURRENT
	putU64(buf[24:], entryAddr)
	putU64(buf[32:], uint64(ehdrSize))     // e_phoff
	putU64(buf[40:], shdrOff)              // e_shoff
	putU32(buf[48:], 0)                    // e_flags
	putU16(buf[52:], uint16(ehdrSize))
	putU16(buf[54:], uint16(phdrSize))
	putU16(buf[56:], uint16(phnum))
	putU16(buf[58:], uint16(shdrSize))
	putU16(buf[60:], uint16(shdrCount))
	putU16(buf[62:], uint16(1+len(lay.sections)+2)) // e_shstrndx

	phdrTableSize := uint64(phnum) * phdrSize
	phdrEntry := buf[ehdrSize:]
	putU32(phdrEntry[0:], 6) // PT_PHDR
	putU32(phdrEntry[4:], 4) // R
	putU64(phdrEntry[8:], uint64(ehdrSize))
	putU64(phdrEntry[16:], baseAddr+uint64(ehdrSize))
	putU64(phdrEntry[24:], baseAddr+uint64(ehdrSize))
	putU64(phdrEntry[32:], phdrTableSize)
	putU64(phdrEntry[40:], phdrTableSize)
	putU64(phdrEntry[48:], 8)

	for i, s := range lay.sections {
		phdr := buf[ehdrSize+(i+1)*phdrSize:]
		putU32(phdr[0:], 1) // PT_LOAD
		putU32(phdr[4:], phdrFlags(s))
		putU64(phdr[8:], s.offset)
		putU64(phdr[16:], s.vaddr)
		putU64(phdr[24:], s.vaddr)
		putU64(phdr[32:], s.size)
		putU64(phdr[40:], s.memSize)
		putU64(phdr[48:], pageAlign)
	}

	for _, s := range lay.sections {
		if s.kind != obj.BSS {
			copy(buf[s.offset:], s.data)
		}
	}
	copy(buf[symtabOff:], symtab)
	copy(buf[strtabOff:], strtab)
	copy(buf[shstrtabOff:], shstrtab)

	shdr := buf[shdrOff:]
	// Section 0 is SHT_NULL, left zeroed.
	for i, s := range lay.sections {
		e := shdr[(1+i)*shdrSize:]
		putU32(e[0:], shNames[i])
		putU32(e[4:], 1) // SHT_PROGBITS
		if s.kind == obj.BSS {
			putU32(e[4:], 8) // SHT_NOBITS
		}
		putU64(e[8:], shFlags(s))
		putU64(e[16:], s.vaddr)
		putU64(e[24:], s.offset)
		putU64(e[32:], s.memSize)
		putU64(e[48:], 1)
	}

	symtabIdx := 1 + len(lay.sections)
	strtabIdx := symtabIdx + 1
	shstrtabIdx := strtabIdx + 1

	e := shdr[symtabIdx*shdrSize:]
	putU32(e[0:], shstrtabNameOff(".symtab", lay.sections))
	putU32(e[4:], 2) // SHT_SYMTAB
	putU64(e[24:], symtabOff)
	putU64(e[32:], uint64(len(symtab)))
	putU32(e[40:], uint32(strtabIdx))
	putU32(e[44:], 1)
	putU64(e[48:], 8)
	putU64(e[56:], symSize)

	e = shdr[strtabIdx*shdrSize:]
	putU32(e[0:], shstrtabNameOff(".strtab", lay.sections))
	putU32(e[4:], 3) // SHT_STRTAB
	putU64(e[24:], strtabOff)
	putU64(e[32:], uint64(len(strtab)))
	putU64(e[48:], 1)

	e = shdr[shstrtabIdx*shdrSize:]
	putU32(e[0:], shstrtabNameOff(".shstrtab", lay.sections))
	putU32(e[4:], 3) // SHT_STRTAB
	putU64(e[24:], shstrtabOff)
	putU64(e[32:], uint64(len(shstrtab)))
	putU64(e[48:], 1)

	return buf, nil
}

func phdrFlags(s outSection) uint32 {
	var f uint32
	if s.flags.Has(obj.Read) {
		f |= 4
	}
	if s.flags.Has(obj.Write) {
		f |= 2
	}
	if s.flags.Has(obj.Execute) {
		f |= 1
	}
	return f
}

func shFlags(s outSection) uint64 {
	var f uint64 = 2 // SHF_ALLOC
	if s.flags.Has(obj.Write) {
		f |= 1
	}
	if s.flags.Has(obj.Execute) {
		f |= 4
	}
	return f
}

func alignUp64(v, align uint64) uint64 { return (v + align - 1) &^ (align - 1) }
