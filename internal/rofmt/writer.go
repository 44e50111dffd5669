package rofmt

import (
	"github.com/arklink/arklink/internal/diag"
	"github.com/arklink/arklink/internal/obj"
)

// Write serializes a TU back into RO bytes. It exists to support the
// round-trip identity property (§8.1) and as test tooling for building RO
// fixtures; it is not exercised by the production link path, which builds
// TUs in memory via internal/obj directly or loads them via Load.
//
// Write assumes tu.Sections holds exactly SecCount entries in the canonical
// TEXT/DATA/RODATA/BSS order, which is what Load always produces.
func Write(tu *obj.TU) ([]byte, error) {
	if len(tu.Sections) != SecCount {
		return nil, diag.Newf(diag.InvalidArgument, "rofmt.Write: expected %d sections, got %d", SecCount, len(tu.Sections))
	}

	// String table: offset 0 is the empty string; any symbol name too long to
	// fit in the fixed 24-byte field gets an entry here.
	strtab := []byte{0}
	strOffsets := map[string]int{"": 0}

	addString := func(s string) {
		if _, ok := strOffsets[s]; ok {
			return
		}
		strOffsets[s] = len(strtab)
		strtab = append(strtab, []byte(s)...)
		strtab = append(strtab, 0)
	}
	for _, sym := range tu.Symbols {
		if len(sym.Name) > SymbolNameFieldSz-1 {
			addString(sym.Name)
		}
	}

	symTabOff := FileHeaderSize + SecCount*SectionDescSize
	symTabSize := len(tu.Symbols) * SymbolRecordSize
	relocTabOff := symTabOff + symTabSize

	relocOffsets := make([]int, SecCount)
	relocCounts := make([]int, SecCount)
	cursor := relocTabOff
	for i := 0; i < SecCount; i++ {
		relocs := tu.RelocationsFor(i + 1)
		relocCounts[i] = len(relocs)
		if len(relocs) == 0 {
			relocOffsets[i] = 0
			continue
		}
		relocOffsets[i] = cursor
		cursor += len(relocs) * RelocRecordSize
	}

	dataOffsets := make([]int, SecCount)
	dataSizes := make([]int, SecCount)
	for i := 0; i < SecCount; i++ {
		sec := tu.Sections[i]
		if sec.Kind == obj.BSS {
			continue
		}
		dataOffsets[i] = cursor
		dataSizes[i] = len(sec.Data)
		cursor += len(sec.Data)
	}

	strtabOff := cursor
	totalSize := strtabOff + len(strtab)

	out := make([]byte, totalSize)

	putU32(out[0:4], Magic)
	putU16(out[4:6], Version)
	putU16(out[6:8], 0) // flags: reserved
	putU16(out[8:10], ArchAMD64)
	putU16(out[10:12], 0) // reserved
	putU32(out[12:16], SecCount)
	putU32(out[16:20], uint32(len(tu.Symbols)))
	putU64(out[20:28], uint64(len(strtab)))
	putU64(out[28:36], tu.EntryOffset)

	for i := 0; i < SecCount; i++ {
		sec := tu.Sections[i]
		off := FileHeaderSize + i*SectionDescSize
		d := out[off : off+SectionDescSize]
		putFixedName(d[0:8], sec.Name)
		d[8] = alignLog2(sec.Alignment)
		d[9] = wireSectionFlags(sec)
		putU32(d[12:16], uint32(dataOffsets[i]))
		putU32(d[16:20], uint32(dataSizes[i]))
		putU32(d[20:24], sec.MemSize)
		putU32(d[24:28], uint32(relocCounts[i]))
		putU32(d[28:32], uint32(relocOffsets[i]))
	}

	for i, sym := range tu.Symbols {
		off := symTabOff + i*SymbolRecordSize
		d := out[off : off+SymbolRecordSize]
		nameField := d[0:SymbolNameFieldSz]
		if len(sym.Name) <= SymbolNameFieldSz-1 {
			putFixedName(nameField, sym.Name)
		} else {
			nameField[0] = '#'
			copy(nameField[1:9], fnv1a32Hex([]byte(sym.Name)))
			for i := 9; i < SymbolNameFieldSz; i++ {
				nameField[i] = 0
			}
		}
		rest := d[SymbolNameFieldSz:]
		putU64(rest[0:8], sym.Value)
		putU32(rest[8:12], uint32(sym.SectionIndex))
		rest[12] = byte(sym.Type)
		rest[13] = byte(sym.Binding)
		rest[14], rest[15] = 0, 0
	}

	for i := 0; i < SecCount; i++ {
		relocs := tu.RelocationsFor(i + 1)
		for j, r := range relocs {
			off := relocOffsets[i] + j*RelocRecordSize
			d := out[off : off+RelocRecordSize]
			putU64(d[0:8], r.Offset)
			putU32(d[8:12], uint32(r.SymbolIndex))
			putU16(d[12:14], uint16(r.Type))
			putI16(d[14:16], r.Addend)
		}
	}

	for i := 0; i < SecCount; i++ {
		sec := tu.Sections[i]
		if sec.Kind == obj.BSS {
			continue
		}
		copy(out[dataOffsets[i]:], sec.Data)
	}

	copy(out[strtabOff:], strtab)

	return out, nil
}

func alignLog2(alignment uint32) byte {
	if alignment <= 1 {
		return 0
	}
	var log2 byte
	for v := alignment; v > 1; v >>= 1 {
		log2++
	}
	return log2
}

func wireSectionFlags(sec *obj.Section) byte {
	var f byte
	if sec.Flags.Has(obj.Read) {
		f |= secFlagRead
	}
	if sec.Flags.Has(obj.Write) {
		f |= secFlagWrite
	}
	if sec.Flags.Has(obj.Execute) {
		f |= secFlagExec
	}
	if sec.Kind == obj.BSS {
		f |= secFlagBSS
	}
	return f
}
