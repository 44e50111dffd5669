// Package pe implements the PE32+ (PE/COFF) emitter (C7): DOS/NT headers,
// one output section per resolver PlanSection (no same-kind merging — a PE
// image tolerates any number of sections with any characteristics), the
// .idata import table, and the .reloc base-relocation table for ABS64 sites.
//
// Grounded on tinyrange-rtg/std/compiler/pe64.go's buildPE64/buildIData64/
// fixupIData64/buildBaseRelocations, generalized from that file's single
// fixed text/rdata/data/idata layout (one CodeGen, one DLL) to an arbitrary
// resolver-ordered section list and an arbitrary set of import modules.
package pe

import (
	"github.com/arklink/arklink/internal/job"
	"github.com/arklink/arklink/internal/obj"
	"github.com/arklink/arklink/internal/reloc"
	"github.com/arklink/arklink/internal/resolve"
)

const (
	fileAlignment      = 0x200
	sectionAlignment   = 0x1000
	defaultImageBase   = 0x140000000
	defaultStackReserve = 0x100000
	defaultStackCommit  = 0x1000
	defaultHeapReserve  = 0x100000
	defaultHeapCommit   = 0x1000

	dosHeaderSize      = 64
	dosStubSize        = 64
	peSignatureSize    = 4
	coffHeaderSize     = 20
	optionalHeaderSize = 240
	sectionHeaderSize  = 40
)

var dosStub = []byte{
	0x0e, 0x1f, 0xba, 0x0e, 0x00, 0xb4, 0x09, 0xcd,
	0x21, 0xb8, 0x01, 0x4c, 0xcd, 0x21, 0x54, 0x68,
	0x69, 0x73, 0x20, 0x70, 0x72, 0x6f, 0x67, 0x72,
	0x61, 0x6d, 0x20, 0x63, 0x61, 0x6e, 0x6e, 0x6f,
	0x74, 0x20, 0x62, 0x65, 0x20, 0x72, 0x75, 0x6e,
	0x20, 0x69, 0x6e, 0x20, 0x44, 0x4f, 0x53, 0x20,
	0x6d, 0x6f, 0x64, 0x65, 0x2e, 0x0d, 0x0d, 0x0a,
	0x24, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// outSection is one emitted PE section, one per resolver PlanSection.
type outSection struct {
	name            string
	kind            obj.SectionKind
	flags           obj.SectionFlags
	rva             int
	rawSize         int // aligned file size; 0 for BSS
	fileOff         int
	virtualSize     int
	data            []byte // nil for BSS
}

type layout struct {
	sections  []outSection
	planToOut []int // 1-based PlanSection index -> index into sections
	imageBase uint64
	importVA  map[int]uint64
}

func (l *layout) SectionVA(planSection int) uint64 {
	idx := l.planToOut[planSection]
	return l.imageBase + uint64(l.sections[idx].rva)
}

func (l *layout) ImportVA(slot int) uint64 {
	return l.importVA[slot]
}

func (l *layout) ImageBase() uint64 { return l.imageBase }

var _ reloc.Layout = (*layout)(nil)

// Emit builds a complete PE32+ executable image from a resolved Plan.
func Emit(ctx *job.Context, plan *resolve.Plan) ([]byte, error) {
	cfg := ctx.Config()
	imageBase := cfg.ImageBase
	if imageBase == 0 {
		imageBase = defaultImageBase
	}

	lay := &layout{imageBase: imageBase, planToOut: make([]int, len(plan.Sections)+1)}

	rva := sectionAlignment
	for i := range plan.Sections {
		ps := &plan.Sections[i]
		sec := ps.Section
		out := outSection{name: sec.Name, kind: sec.Kind, flags: sec.Flags, rva: rva}
		if sec.Kind == obj.BSS {
			out.virtualSize = int(sec.MemSize)
		} else {
			out.data = append([]byte(nil), sec.Data...)
			out.virtualSize = len(out.data)
			out.rawSize = alignUp(len(out.data), fileAlignment)
		}
		lay.sections = append(lay.sections, out)
		lay.planToOut[i+1] = len(lay.sections) - 1
		rva += alignUp(maxInt(out.virtualSize, 1), sectionAlignment)
	}

	idataRVA := rva
	idataContent, iatOffsets, importDirOff, importDirSize, iatBlockOff, iatBlockSize, err := buildIData(plan, idataRVA)
	if err != nil {
		return nil, err
	}
	idataIdx := -1
	if len(idataContent) > 0 {
		idataIdx = len(lay.sections)
		lay.sections = append(lay.sections, outSection{
			name: ".idata", kind: obj.Data, flags: obj.Read | obj.Write,
			rva: idataRVA, data: idataContent,
			virtualSize: len(idataContent), rawSize: alignUp(len(idataContent), fileAlignment),
		})
		rva += alignUp(len(idataContent), sectionAlignment)
	}

	lay.importVA = make(map[int]uint64, len(iatOffsets))
	for slot, off := range iatOffsets {
		lay.importVA[slot] = imageBase + uint64(idataRVA) + uint64(off)
	}

	result, err := reloc.Apply(plan, lay, ctx.Warnf)
	if err != nil {
		return nil, err
	}

	var relocContent []byte
	relocRVA := rva
	relocIdx := -1
	if len(result.BaseRelocSites) > 0 {
		relocOffsets := make([]int, len(result.BaseRelocSites))
		for i, va := range result.BaseRelocSites {
			relocOffsets[i] = int(va - imageBase)
		}
		relocContent = buildBaseRelocations(relocOffsets)
		relocIdx = len(lay.sections)
		lay.sections = append(lay.sections, outSection{
			name: ".reloc", kind: obj.RODATA, flags: obj.Read,
			rva: relocRVA, data: relocContent,
			virtualSize: len(relocContent), rawSize: alignUp(len(relocContent), fileAlignment),
		})
		rva += alignUp(len(relocContent), sectionAlignment)
	}

	imageSize := rva
	numSections := len(lay.sections)
	headersRaw := dosHeaderSize + dosStubSize + peSignatureSize + coffHeaderSize + optionalHeaderSize + numSections*sectionHeaderSize
	headersAligned := alignUp(headersRaw, fileAlignment)

	fileOff := headersAligned
	for i := range lay.sections {
		s := &lay.sections[i]
		if s.kind == obj.BSS {
			continue
		}
		s.fileOff = fileOff
		fileOff += s.rawSize
	}
	totalFileSize := fileOff

	buf := make([]byte, totalFileSize)
	buf[0], buf[1] = 'M', 'Z'
	putU32(buf[0x3C:], 0x80)
	copy(buf[0x40:], dosStub)
	buf[0x80], buf[0x81] = 'P', 'E'

	coff := buf[0x84:]
	putU16(coff[0:], 0x8664)
	putU16(coff[2:], uint16(numSections))
	putU32(coff[4:], 0)
	putU32(coff[8:], 0)
	putU32(coff[12:], 0)
	putU16(coff[16:], uint16(optionalHeaderSize))
	putU16(coff[18:], 0x0022) // EXECUTABLE_IMAGE | LARGE_ADDRESS_AWARE

	opt := buf[0x98:]
	putU16(opt[0:], 0x020B) // PE32+
	sizeOfCode, sizeOfInitData, sizeOfUninitData := 0, 0, 0
	for _, s := range lay.sections {
		switch {
		case s.kind == obj.Code:
			sizeOfCode += s.rawSize
		case s.kind == obj.BSS:
			sizeOfUninitData += s.virtualSize
		default:
			sizeOfInitData += s.rawSize
		}
	}
	putU32(opt[4:], uint32(sizeOfCode))
	putU32(opt[8:], uint32(sizeOfInitData))
	putU32(opt[12:], uint32(sizeOfUninitData))

	entryRVA := 0
	if plan.Entry.Found {
		entryRVA = lay.sections[lay.planToOut[plan.Entry.PlanSection]].rva + int(plan.Entry.Offset)
	}
	putU32(opt[16:], uint32(entryRVA))
	putU32(opt[20:], uint32(firstCodeRVA(lay.sections)))
	putU64(opt[24:], imageBase)
	putU32(opt[32:], sectionAlignment)
	putU32(opt[36:], fileAlignment)
	putU16(opt[40:], 6)
	putU16(opt[48:], 6)
	putU32(opt[56:], uint32(imageSize))
	putU32(opt[60:], uint32(headersAligned))
	putU16(opt[68:], subsystemValue(cfg.Subsystem))
	dllCharacteristics := uint16(0x0100) // NX_COMPAT
	if len(result.BaseRelocSites) > 0 {
		dllCharacteristics |= 0x0040 // DYNAMIC_BASE, only meaningful with a .reloc table present
	}
	putU16(opt[70:], dllCharacteristics)
	stackReserve, stackCommit := uint64(defaultStackReserve), uint64(defaultStackCommit)
	if cfg.StackSize != 0 {
		stackReserve = cfg.StackSize
	}
	putU64(opt[72:], stackReserve)
	putU64(opt[80:], stackCommit)
	putU64(opt[88:], defaultHeapReserve)
	putU64(opt[96:], defaultHeapCommit)
	putU32(opt[104:], 0)
	putU32(opt[108:], 16)

	if idataIdx >= 0 {
		putU32(opt[112+1*8:], uint32(idataRVA+importDirOff))
		putU32(opt[112+1*8+4:], uint32(importDirSize))
		putU32(opt[112+12*8:], uint32(idataRVA+iatBlockOff))
		putU32(opt[112+12*8+4:], uint32(iatBlockSize))
	}
	if relocIdx >= 0 {
		putU32(opt[112+5*8:], uint32(relocRVA))
		putU32(opt[112+5*8+4:], uint32(len(relocContent)))
	}

	sectBase := 0x188
	for i, s := range lay.sections {
		writeSectionHeader(buf[sectBase+i*sectionHeaderSize:], s)
	}
	for _, s := range lay.sections {
		if s.kind != obj.BSS {
			copy(buf[s.fileOff:], s.data)
		}
	}

	return buf, nil
}

func firstCodeRVA(sections []outSection) int {
	for _, s := range sections {
		if s.kind == obj.Code {
			return s.rva
		}
	}
	if len(sections) > 0 {
		return sections[0].rva
	}
	return sectionAlignment
}

func subsystemValue(s job.Subsystem) uint16 {
	if s == job.SubsystemWindows {
		return 2
	}
	return 3
}

func characteristicsFor(s outSection) uint32 {
	var c uint32
	switch {
	case s.kind == obj.Code:
		c = 0x00000020 | 0x20000000 | 0x40000000 // CNT_CODE | MEM_EXECUTE | MEM_READ
	case s.kind == obj.BSS:
		c = 0x00000080 | 0x40000000 | 0x80000000 // CNT_UNINITIALIZED_DATA | MEM_READ | MEM_WRITE
	default:
		c = 0x00000040 | 0x40000000 // CNT_INITIALIZED_DATA | MEM_READ
		if s.flags.Has(obj.Write) {
			c |= 0x80000000
		}
	}
	return c
}

func writeSectionHeader(buf []byte, s outSection) {
	name := s.name
	for i := 0; i < 8; i++ {
		if i < len(name) {
			buf[i] = name[i]
		} else {
			buf[i] = 0
		}
	}
	putU32(buf[8:], uint32(s.virtualSize))
	putU32(buf[12:], uint32(s.rva))
	putU32(buf[16:], uint32(s.rawSize))
	putU32(buf[20:], uint32(s.fileOff))
	putU32(buf[24:], 0)
	putU32(buf[28:], 0)
	putU16(buf[32:], 0)
	putU16(buf[34:], 0)
	putU32(buf[36:], characteristicsFor(s))
}

func alignUp(v, align int) int { return (v + align - 1) &^ (align - 1) }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
