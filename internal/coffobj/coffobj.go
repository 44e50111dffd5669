// Package coffobj reads plain COFF object files (the member format used by
// Windows import/static libraries, distinct from this repo's own RO format)
// far enough to build an obj.TU: section table, symbol table, and
// relocations. It does not implement a full COFF/PE reader — only the
// subset the resolver and relocation engine need.
package coffobj

import (
	"github.com/arklink/arklink/internal/diag"
	"github.com/arklink/arklink/internal/job"
	"github.com/arklink/arklink/internal/obj"
)

const (
	fileHeaderSize = 20
	sectionHdrSize = 40
	symbolSize     = 18

	scnCntCode      = 0x00000020
	scnCntInitData  = 0x00000040
	scnCntUninitData = 0x00000080
	scnMemExecute   = 0x20000000
	scnMemRead      = 0x40000000
	scnMemWrite     = 0x80000000

	classExternal     = 2
	classStatic       = 3
	classWeakExternal = 105

	relAmd64Addr64  = 0x0001
	relAmd64Addr32  = 0x0002
	relAmd64Addr32NB = 0x0003
	relAmd64Rel32   = 0x0004
	relAmd64Secrel  = 0x000B
)

func u16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func u32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func i16(b []byte) int16 { return int16(u16(b)) }

// Load parses a COFF object's section, symbol, and relocation tables into a TU.
func Load(ctx *job.Context, path string, data []byte) (*obj.TU, error) {
	if len(data) < fileHeaderSize {
		return nil, diag.Wrap(diag.BadFormat, path, "truncated COFF file header", nil)
	}
	numSections := int(u16(data[2:4]))
	symTabOff := int(u32(data[8:12]))
	numSymbols := int(u32(data[12:16]))

	sectionsOff := fileHeaderSize + int(u16(data[16:18])) // skip optional header, if any
	if sectionsOff+numSections*sectionHdrSize > len(data) {
		return nil, diag.Wrap(diag.BadFormat, path, "truncated COFF section headers", nil)
	}

	symTabSize := numSymbols * symbolSize
	symTabEnd := symTabOff + symTabSize
	if numSymbols > 0 && symTabEnd > len(data) {
		return nil, diag.Wrap(diag.BadFormat, path, "truncated COFF symbol table", nil)
	}
	var strtab []byte
	if symTabEnd+4 <= len(data) {
		strtabLen := int(u32(data[symTabEnd : symTabEnd+4]))
		if symTabEnd+strtabLen <= len(data) {
			strtab = data[symTabEnd : symTabEnd+strtabLen]
		}
	}

	tu := &obj.TU{Path: path, Origin: data}

	for i := 0; i < numSections; i++ {
		off := sectionsOff + i*sectionHdrSize
		d := data[off : off+sectionHdrSize]
		name := coffSectionName(d[0:8], strtab)
		rawSize := u32(d[16:20])
		rawPtr := u32(d[20:24])
		relocPtr := u32(d[24:28])
		numRelocs := int(u16(d[32:34]))
		characteristics := u32(d[36:40])

		kind, flags := classifySection(characteristics)
		sec := obj.NewSection(ctx.InternString(name), kind, flags)
		sec.Alignment = 1

		if kind == obj.BSS {
			sec.MemSize = rawSize
		} else {
			if uint64(rawPtr)+uint64(rawSize) > uint64(len(data)) {
				return nil, diag.Newf(diag.BadFormat, "%s: section %q raw data exceeds input length", path, name)
			}
			sec.Data = ctx.Arena().CopyBytes(data[rawPtr : rawPtr+rawSize])
			sec.MemSize = rawSize
		}
		tu.Sections = append(tu.Sections, sec)

		if numRelocs == 0 {
			continue
		}
		relocEnd := int(relocPtr) + numRelocs*10
		if relocEnd > len(data) {
			return nil, diag.Newf(diag.BadFormat, "%s: relocations for section %q exceed input length", path, name)
		}
		for j := 0; j < numRelocs; j++ {
			ro := int(relocPtr) + j*10
			rd := data[ro : ro+10]
			vaddr := u32(rd[0:4])
			symIdx := u32(rd[4:8])
			typ := u16(rd[8:10])
			rtype, ok := mapRelocType(typ)
			if !ok {
				ctx.Warnf("%s: section %q: unsupported COFF relocation type %#x, treating as PC32", path, name, typ)
				rtype = obj.PC32
			}
			tu.Relocations = append(tu.Relocations, &obj.Relocation{
				SectionIndex: i + 1,
				Offset:       uint64(vaddr),
				Type:         rtype,
				SymbolIndex:  int(symIdx), // re-indexed below once symbols are loaded
				Addend:       0,
			})
		}
	}

	symIndexRemap := make(map[int]int) // COFF symbol-table index -> our Symbols index (0-based)
	i := 0
	for i < numSymbols {
		off := symTabOff + i*symbolSize
		d := data[off : off+symbolSize]
		name := coffSymbolName(d[0:8], strtab)
		value := u32(d[8:12])
		sectionNumber := i16(d[12:14])
		storageClass := d[16]
		numAux := int(d[17])

		binding := obj.Local
		switch storageClass {
		case classExternal:
			binding = obj.Global
		case classWeakExternal:
			binding = obj.Weak
		case classStatic:
			binding = obj.Local
		}

		sectionIndex := 0
		if sectionNumber > 0 {
			sectionIndex = int(sectionNumber)
		}

		sym := &obj.Symbol{
			Name:         ctx.InternString(name),
			Value:        uint64(value),
			SectionIndex: sectionIndex,
			Binding:      binding,
			Type:         obj.NoType,
		}
		tu.Symbols = append(tu.Symbols, sym)
		symIndexRemap[i] = len(tu.Symbols) - 1
		i += 1 + numAux
	}

	for _, r := range tu.Relocations {
		if remapped, ok := symIndexRemap[r.SymbolIndex]; ok {
			r.SymbolIndex = remapped
		}
	}

	return tu, nil
}

func classifySection(characteristics uint32) (obj.SectionKind, obj.SectionFlags) {
	var flags obj.SectionFlags
	if characteristics&scnMemRead != 0 {
		flags |= obj.Read
	}
	if characteristics&scnMemWrite != 0 {
		flags |= obj.Write
	}
	if characteristics&scnMemExecute != 0 {
		flags |= obj.Execute
	}
	switch {
	case characteristics&scnCntUninitData != 0:
		return obj.BSS, flags | obj.Read | obj.Write
	case characteristics&scnCntCode != 0:
		return obj.Code, flags | obj.Read | obj.Execute
	case characteristics&scnCntInitData != 0:
		if flags.Has(obj.Write) {
			return obj.Data, flags
		}
		return obj.RODATA, flags | obj.Read
	default:
		return obj.Data, flags
	}
}

func mapRelocType(t uint16) (obj.RelocType, bool) {
	switch t {
	case relAmd64Addr64:
		return obj.ABS64, true
	case relAmd64Rel32:
		return obj.PC32, true
	case relAmd64Secrel:
		return obj.SECREL32, true
	case relAmd64Addr32NB:
		return obj.GOTPC32, true
	default:
		return 0, false
	}
}

func coffSectionName(raw []byte, strtab []byte) string {
	if raw[0] == '/' {
		// "/<decimal offset into string table>"
		n := 0
		off := 0
		for i := 1; i < 8 && raw[i] != 0; i++ {
			off = off*10 + int(raw[i]-'0')
			n++
		}
		if n > 0 {
			return cstr(strtab, off)
		}
	}
	return trimZero(raw)
}

func coffSymbolName(raw []byte, strtab []byte) string {
	if u32(raw[0:4]) == 0 {
		off := int(u32(raw[4:8]))
		return cstr(strtab, off)
	}
	return trimZero(raw)
}

func trimZero(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func cstr(strtab []byte, off int) string {
	if off < 0 || off >= len(strtab) {
		return ""
	}
	n := off
	for n < len(strtab) && strtab[n] != 0 {
		n++
	}
	return string(strtab[off:n])
}
