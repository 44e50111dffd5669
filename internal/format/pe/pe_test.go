package pe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arklink/arklink/internal/job"
	"github.com/arklink/arklink/internal/obj"
	"github.com/arklink/arklink/internal/resolve"
)

func newCtx(cfg *job.Config) *job.Context {
	if cfg.Inputs == nil {
		cfg.Inputs = []job.Input{{Name: "t"}}
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = "out.exe"
	}
	return job.NewContext(cfg)
}

// onePlan builds a one-TU, one-section Plan whose text section carries code
// bytes and whose entry point sits at offset 0, enough to drive Emit without
// involving the resolver itself.
func onePlan(code []byte, entry bool) *resolve.Plan {
	sec := &obj.Section{Name: ".text", Kind: obj.Code, Flags: obj.Read | obj.Execute, Data: code}
	p := &resolve.Plan{
		Sections: []resolve.PlanSection{{TUIndex: 0, SectionInTU: 1, Section: sec}},
	}
	if entry {
		p.Entry = resolve.EntryPoint{Found: true, PlanSection: 1, Offset: 0}
	}
	return p
}

func TestEmitProducesValidDOSAndPESignatures(t *testing.T) {
	ctx := newCtx(&job.Config{Target: job.TargetPE})
	buf, err := Emit(ctx, onePlan([]byte{0xC3}, true))
	require.NoError(t, err)

	assert.Equal(t, byte('M'), buf[0])
	assert.Equal(t, byte('Z'), buf[1])

	peOff := int(buf[0x3C]) | int(buf[0x3D])<<8 | int(buf[0x3E])<<16 | int(buf[0x3F])<<24
	assert.Equal(t, 0x80, peOff)
	assert.Equal(t, byte('P'), buf[peOff])
	assert.Equal(t, byte('E'), buf[peOff+1])
}

func TestEmitWritesOneSectionPerPlanSection(t *testing.T) {
	ctx := newCtx(&job.Config{Target: job.TargetPE})
	buf, err := Emit(ctx, onePlan([]byte{0x90, 0x90, 0xC3}, true))
	require.NoError(t, err)

	coff := buf[0x84:]
	numSections := int(coff[2]) | int(coff[3])<<8
	assert.Equal(t, 1, numSections)
}

func TestEmitComputesEntryPointRVA(t *testing.T) {
	ctx := newCtx(&job.Config{Target: job.TargetPE})
	buf, err := Emit(ctx, onePlan([]byte{0xC3}, true))
	require.NoError(t, err)

	opt := buf[0x98:]
	entryRVA := uint32(opt[16]) | uint32(opt[17])<<8 | uint32(opt[18])<<16 | uint32(opt[19])<<24
	assert.Equal(t, uint32(sectionAlignment), entryRVA, "first section starts at one sectionAlignment past the header")
}

func TestEmitSkipsDataDirectoryWhenNoImports(t *testing.T) {
	ctx := newCtx(&job.Config{Target: job.TargetPE})
	buf, err := Emit(ctx, onePlan([]byte{0xC3}, true))
	require.NoError(t, err)

	opt := buf[0x98:]
	importDirRVA := uint32(opt[112+8]) | uint32(opt[112+9])<<8
	assert.Zero(t, importDirRVA)
}

func TestEmitBuildsIDataAndImportDirectoryForDeclaredImports(t *testing.T) {
	sec := &obj.Section{Name: ".text", Kind: obj.Code, Flags: obj.Read | obj.Execute, Data: []byte{0xC3}}
	plan := &resolve.Plan{
		Sections: []resolve.PlanSection{{TUIndex: 0, SectionInTU: 1, Section: sec}},
		Imports:  []resolve.ImportBinding{{Module: "kernel32.dll", Symbol: "ExitProcess", Slot: 0}},
		Entry:    resolve.EntryPoint{Found: true, PlanSection: 1, Offset: 0},
	}
	ctx := newCtx(&job.Config{Target: job.TargetPE})
	buf, err := Emit(ctx, plan)
	require.NoError(t, err)

	coff := buf[0x84:]
	numSections := int(coff[2]) | int(coff[3])<<8
	assert.Equal(t, 2, numSections, "text plus .idata")

	opt := buf[0x98:]
	importDirSize := uint32(opt[112+8+4]) | uint32(opt[112+8+5])<<8
	assert.NotZero(t, importDirSize)
}

func TestBuildIDataPointersAreImageRVAsNotSectionOffsets(t *testing.T) {
	sec := &obj.Section{Name: ".text", Kind: obj.Code, Flags: obj.Read | obj.Execute, Data: []byte{0xC3}}
	plan := &resolve.Plan{
		Sections: []resolve.PlanSection{{TUIndex: 0, SectionInTU: 1, Section: sec}},
		Imports:  []resolve.ImportBinding{{Module: "kernel32.dll", Symbol: "ExitProcess", Slot: 0}},
		Entry:    resolve.EntryPoint{Found: true, PlanSection: 1, Offset: 0},
	}
	const idataRVA = 0x3000
	content, iatOffsets, _, _, _, _, err := buildIData(plan, idataRVA)
	require.NoError(t, err)

	// The IDT's first entry: OriginalFirstThunk (ILT) at content[0:4] must
	// already carry idataRVA, not a bare section-relative offset a loader
	// would misread as a tiny RVA.
	iltRVA := uint32(content[0]) | uint32(content[1])<<8 | uint32(content[2])<<16 | uint32(content[3])<<24
	assert.GreaterOrEqual(t, iltRVA, uint32(idataRVA))

	nameRVA := uint32(content[12]) | uint32(content[13])<<8 | uint32(content[14])<<16 | uint32(content[15])<<24
	assert.GreaterOrEqual(t, nameRVA, uint32(idataRVA))

	iatRVA := uint32(content[16]) | uint32(content[17])<<8 | uint32(content[18])<<16 | uint32(content[19])<<24
	assert.GreaterOrEqual(t, iatRVA, uint32(idataRVA))

	// The ILT/IAT thunk itself points at the Hint/Name entry; that pointer
	// must also be an image RVA.
	thunkOff, ok := iatOffsets[0]
	require.True(t, ok)
	thunkRVA := uint64(content[thunkOff]) | uint64(content[thunkOff+1])<<8
	assert.GreaterOrEqual(t, thunkRVA, uint64(idataRVA))
}

func TestBuildBaseRelocationsGroupsByPage(t *testing.T) {
	out := buildBaseRelocations([]int{0x1004, 0x1008, 0x2010})
	require.NotEmpty(t, out)

	firstPageRVA := uint32(out[0]) | uint32(out[1])<<8 | uint32(out[2])<<16 | uint32(out[3])<<24
	assert.Equal(t, uint32(0x1000), firstPageRVA)
}

func TestBuildBaseRelocationsEmptyInput(t *testing.T) {
	assert.Nil(t, buildBaseRelocations(nil))
}

func TestSubsystemValue(t *testing.T) {
	assert.Equal(t, uint16(3), subsystemValue(job.SubsystemConsole))
	assert.Equal(t, uint16(2), subsystemValue(job.SubsystemWindows))
}
