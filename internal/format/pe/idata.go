package pe

import "github.com/arklink/arklink/internal/resolve"

// buildIData lays out the .idata section for an arbitrary number of import
// modules, generalizing tinyrange-rtg/std/compiler/pe64.go's buildIData64
// (which only ever emitted one kernel32.dll Import Directory Table entry)
// to one IDT entry per distinct module.
//
// Layout, in order:
//
//	IDT:  (numModules+1) * 20 bytes, null-terminated
//	ILT:  per module, (numSymbols+1) * 8 bytes, null-terminated
//	IAT:  per module, identical shape to that module's ILT
//	HNT:  per module, one Hint/Name entry per symbol
//	Name: per module, the DLL name string
//
// idataRVA is the RVA .idata will land at once placed in the image; every
// cross-reference baked into the section's own bytes (IDT pointers, ILT/IAT
// thunks) must be expressed as an absolute RVA, not an offset from the start
// of .idata, or the loader dereferences garbage addresses. This mirrors
// pe64.go's fixupIData64, which adds the section's RVA to those same fields
// in a dedicated pass after the content is laid out.
//
// Returns the built content (with IDT/ILT/IAT cross-references already fixed
// up to image RVAs), a map from import Slot to the byte offset of that
// import's IAT entry within the content (still .idata-relative; callers add
// idataRVA themselves when computing the IAT's final VA), the offset of the
// Import Directory Table (always 0), and the offset+size of the combined IAT
// block (for the IAT data directory entry).
func buildIData(plan *resolve.Plan, idataRVA int) (content []byte, iatOffsets map[int]int, idtOff, idtSize, iatBlockOff, iatBlockSize int, err error) {
	if len(plan.Imports) == 0 {
		return nil, nil, 0, 0, 0, 0, nil
	}

	type module struct {
		name    string
		members []resolve.ImportBinding
	}
	var modules []module
	index := make(map[string]int)
	for _, im := range plan.Imports {
		i, ok := index[im.Module]
		if !ok {
			i = len(modules)
			index[im.Module] = i
			modules = append(modules, module{name: im.Module})
		}
		modules[i].members = append(modules[i].members, im)
	}

	idtSize = (len(modules) + 1) * 20
	iltOffsets := make([]int, len(modules))
	iatOffsetsByModule := make([]int, len(modules))
	off := idtSize
	for i, m := range modules {
		iltOffsets[i] = off
		off += (len(m.members) + 1) * 8
	}
	for i, m := range modules {
		iatOffsetsByModule[i] = off
		off += (len(m.members) + 1) * 8
	}
	iatBlockEnd := off

	hntOffsets := make([][]int, len(modules))
	for i, m := range modules {
		hntOffsets[i] = make([]int, len(m.members))
		for j, sym := range m.members {
			hntOffsets[i][j] = off
			off += 2 + len(sym.Symbol) + 1
			if off%2 != 0 {
				off++
			}
		}
	}

	dllNameOffsets := make([]int, len(modules))
	for i, m := range modules {
		dllNameOffsets[i] = off
		off += len(m.name) + 1
	}

	content = make([]byte, off)
	for i, m := range modules {
		idtEntry := content[i*20:]
		putU32(idtEntry[0:], uint32(idataRVA+iltOffsets[i]))
		putU32(idtEntry[4:], 0)
		putU32(idtEntry[8:], 0)
		putU32(idtEntry[12:], uint32(idataRVA+dllNameOffsets[i]))
		putU32(idtEntry[16:], uint32(idataRVA+iatOffsetsByModule[i]))

		for j := range m.members {
			putU64(content[iltOffsets[i]+j*8:], uint64(idataRVA+hntOffsets[i][j]))
			putU64(content[iatOffsetsByModule[i]+j*8:], uint64(idataRVA+hntOffsets[i][j]))
		}

		for j, sym := range m.members {
			h := hntOffsets[i][j]
			content[h], content[h+1] = 0, 0 // Hint = 0
			copy(content[h+2:], sym.Symbol)
		}

		copy(content[dllNameOffsets[i]:], m.name)
	}

	iatOffsets = make(map[int]int)
	for i, m := range modules {
		for j, sym := range m.members {
			iatOffsets[sym.Slot] = iatOffsetsByModule[i] + j*8
		}
	}

	return content, iatOffsets, 0, idtSize, iatOffsetsByModule[0], iatBlockEnd - iatOffsetsByModule[0], nil
}
