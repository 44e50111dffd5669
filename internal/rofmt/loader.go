package rofmt

import (
	"github.com/arklink/arklink/internal/diag"
	"github.com/arklink/arklink/internal/job"
	"github.com/arklink/arklink/internal/obj"
)

// Load parses one RO byte blob into a Translation Unit (C1). path is the
// origin label attached to the TU and to any diagnostics. The blob is
// retained for the TU's lifetime (symbol names may be copied from its string
// table via the context's interner, which also outlives the TU).
func Load(ctx *job.Context, path string, data []byte) (*obj.TU, error) {
	if len(data) < FileHeaderSize {
		return nil, diag.Wrap(diag.BadFormat, path, "truncated file header", nil)
	}

	magic := getU32(data[0:4])
	if magic != Magic {
		return nil, diag.Newf(diag.BadFormat, "%s: bad magic %#x", path, magic)
	}
	version := getU16(data[4:6])
	if version != Version {
		return nil, diag.Newf(diag.BadFormat, "%s: unsupported version %d", path, version)
	}
	arch := getU16(data[8:10])
	if arch != ArchAMD64 && arch != ArchARM64 {
		return nil, diag.Newf(diag.BadFormat, "%s: unsupported arch %#x", path, arch)
	}
	secCount := getU32(data[12:16])
	if secCount != SecCount {
		return nil, diag.Newf(diag.BadFormat, "%s: unexpected section count %d", path, secCount)
	}
	symCount := getU32(data[16:20])
	strtabSize := getU64(data[20:28])
	entryPoint := getU64(data[28:36])

	secDescOff := FileHeaderSize
	secDescEnd := secDescOff + SecCount*SectionDescSize
	if secDescEnd > len(data) {
		return nil, diag.Wrap(diag.BadFormat, path, "truncated section descriptors", nil)
	}

	symTabOff := secDescEnd
	symTabSize := int(symCount) * SymbolRecordSize
	symTabEnd := symTabOff + symTabSize
	if symTabEnd > len(data) {
		return nil, diag.Wrap(diag.BadFormat, path, "truncated symbol table", nil)
	}

	if strtabSize > uint64(len(data)) {
		return nil, diag.Wrap(diag.BadFormat, path, "string table size exceeds file size", nil)
	}
	strtabOff := len(data) - int(strtabSize)
	if strtabOff < symTabEnd {
		return nil, diag.Wrap(diag.BadFormat, path, "string table overlaps symbol table", nil)
	}
	strtab := data[strtabOff:]

	tu := &obj.TU{
		Path:        path,
		EntryOffset: entryPoint,
		HasEntry:    entryPoint != 0,
		Origin:      data,
	}

	type secHeader struct {
		alignLog2  byte
		flags      byte
		fileOffset uint32
		fileSize   uint32
		memSize    uint32
		relocCount uint32
		relocOff   uint32
	}
	headers := make([]secHeader, SecCount)
	kinds := [SecCount]obj.SectionKind{obj.Code, obj.Data, obj.RODATA, obj.BSS}

	for i := 0; i < SecCount; i++ {
		off := secDescOff + i*SectionDescSize
		d := data[off : off+SectionDescSize]
		name := nameFromFixed(d[0:8])
		if name == "" {
			name = secNames[i]
		}
		h := secHeader{
			alignLog2:  d[8],
			flags:      d[9],
			fileOffset: getU32(d[12:16]),
			fileSize:   getU32(d[16:20]),
			memSize:    getU32(d[20:24]),
			relocCount: getU32(d[24:28]),
			relocOff:   getU32(d[28:32]),
		}
		headers[i] = h

		kind := kinds[i]
		flags := sectionFlagsFromWire(h.flags, kind)
		sec := obj.NewSection(ctx.InternString(name), kind, flags)
		sec.Alignment = 1 << h.alignLog2

		if kind != obj.BSS {
			end := uint64(h.fileOffset) + uint64(h.fileSize)
			if end > uint64(len(data)) {
				return nil, diag.Newf(diag.BadFormat, "%s: section %q file range exceeds input length", path, name)
			}
			sec.Data = ctx.Arena().CopyBytes(data[h.fileOffset : h.fileOffset+h.fileSize])
			sec.MemSize = h.fileSize
		} else {
			sec.MemSize = h.memSize
		}
		tu.Sections = append(tu.Sections, sec)
	}

	// Symbol table.
	for i := uint32(0); i < symCount; i++ {
		off := symTabOff + int(i)*SymbolRecordSize
		d := data[off : off+SymbolRecordSize]
		nameField := d[0:SymbolNameFieldSz]
		name, err := resolveSymbolName(nameField, strtab)
		if err != nil {
			return nil, diag.Wrap(diag.BadFormat, path, "bad symbol name", err)
		}
		rest := d[SymbolNameFieldSz:]
		sym := &obj.Symbol{
			Name:         ctx.InternString(name),
			Value:        getU64(rest[0:8]),
			SectionIndex: int(getU32(rest[8:12])),
			Type:         obj.SymType(rest[12]),
			Binding:      obj.Binding(rest[13]),
		}
		tu.Symbols = append(tu.Symbols, sym)
	}

	// Per-section relocation tables.
	for i := 0; i < SecCount; i++ {
		h := headers[i]
		if h.relocCount == 0 {
			continue
		}
		relocSize := int(h.relocCount) * RelocRecordSize
		end := uint64(h.relocOff) + uint64(relocSize)
		if end > uint64(len(data)) {
			return nil, diag.Newf(diag.BadFormat, "%s: relocation table for section %d exceeds input length", path, i)
		}
		for j := uint32(0); j < h.relocCount; j++ {
			off := int(h.relocOff) + int(j)*RelocRecordSize
			d := data[off : off+RelocRecordSize]
			r := &obj.Relocation{
				SectionIndex: i + 1, // 1-based
				Offset:       getU64(d[0:8]),
				SymbolIndex:  int(getU32(d[8:12])),
				Type:         obj.RelocType(getU16(d[12:14])),
				Addend:       getI16(d[14:16]),
			}
			tu.Relocations = append(tu.Relocations, r)
		}
	}

	return tu, nil
}

func sectionFlagsFromWire(flags byte, kind obj.SectionKind) obj.SectionFlags {
	var f obj.SectionFlags
	if flags&secFlagRead != 0 {
		f |= obj.Read
	}
	if flags&secFlagWrite != 0 {
		f |= obj.Write
	}
	if flags&secFlagExec != 0 {
		f |= obj.Execute
	}
	if f == 0 {
		// Fall back to the §3 invariants when the producer left flags unset.
		switch kind {
		case obj.Code:
			f = obj.Read | obj.Execute
		case obj.Data, obj.BSS, obj.TLS:
			f = obj.Read | obj.Write
		case obj.RODATA:
			f = obj.Read
		}
	}
	return f
}

// resolveSymbolName decodes a 24-byte symbol-name field: either a literal
// NUL-terminated name, or, when it doesn't fit, a "#" + 8 hex digit FNV-1a32
// hash of the full name that must be searched for in the string table.
func resolveSymbolName(field []byte, strtab []byte) (string, error) {
	if !isHashMarker(field) {
		return nameFromFixed(field), nil
	}
	want := string(field[1:9])
	i := 0
	for i < len(strtab) {
		j := i
		for j < len(strtab) && strtab[j] != 0 {
			j++
		}
		entry := strtab[i:j]
		if fnv1a32Hex(entry) == want {
			return string(entry), nil
		}
		i = j + 1
	}
	return "", diag.Newf(diag.BadFormat, "no string table entry matches hash %q", want)
}

func isHashMarker(field []byte) bool {
	if field[0] != '#' {
		return false
	}
	for i := 1; i < 9; i++ {
		c := field[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

const fnvOffset32 = 2166136261
const fnvPrime32 = 16777619

func fnv1a32(data []byte) uint32 {
	h := uint32(fnvOffset32)
	for _, b := range data {
		h ^= uint32(b)
		h *= fnvPrime32
	}
	return h
}

const hexDigits = "0123456789abcdef"

func fnv1a32Hex(data []byte) string {
	h := fnv1a32(data)
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = hexDigits[h&0xF]
		h >>= 4
	}
	return string(buf)
}
