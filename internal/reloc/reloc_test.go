package reloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arklink/arklink/internal/obj"
	"github.com/arklink/arklink/internal/resolve"
)

// fakeLayout places each PlanSection at sectionVA[i] and each import slot at
// importVA[slot], the way a real emitter's layout would after deciding final
// addresses — but without needing a whole PE or ELF image to test the
// arithmetic in isolation.
type fakeLayout struct {
	sectionVA map[int]uint64
	importVA  map[int]uint64
	imageBase uint64
}

func (l fakeLayout) SectionVA(planSection int) uint64 { return l.sectionVA[planSection] }
func (l fakeLayout) ImportVA(slot int) uint64         { return l.importVA[slot] }
func (l fakeLayout) ImageBase() uint64                { return l.imageBase }

func noWarn(format string, args ...any) {}

func planWithSection(data []byte) *resolve.Plan {
	sec := &obj.Section{Name: ".text", Kind: obj.Code, Flags: obj.Read | obj.Execute, Data: data}
	return exportedPlan(sec)
}

// exportedPlan builds a minimal *resolve.Plan carrying one PlanSection, using
// only resolve's exported fields (the private byName index is irrelevant to
// Apply, which only ever reads Sections/Relocations).
func exportedPlan(sec *obj.Section) *resolve.Plan {
	return &resolve.Plan{
		Sections: []resolve.PlanSection{{TUIndex: 0, SectionInTU: 1, Section: sec}},
	}
}

func TestApplyABS64WritesAbsoluteVAAndCollectsBaseReloc(t *testing.T) {
	patch := make([]byte, 16)
	plan := planWithSection(patch)
	plan.Relocations = append(plan.Relocations, resolve.PlanRelocation{
		PatchSection: 1,
		PatchOffset:  0,
		Type:         obj.ABS64,
		Target:       resolve.Location{Kind: resolve.DefinedLocation, PlanSection: 1, Offset: 0x10},
	})

	layout := fakeLayout{sectionVA: map[int]uint64{1: 0x140001000}}
	res, err := Apply(plan, layout, noWarn)
	require.NoError(t, err)

	got := getU64(plan.Sections[0].Section.Data[0:8])
	assert.Equal(t, uint64(0x140001010), got)
	require.Len(t, res.BaseRelocSites, 1)
	assert.Equal(t, uint64(0x140001000), res.BaseRelocSites[0])
}

func TestApplyPC32ComputesRIPRelativeDisplacement(t *testing.T) {
	patch := make([]byte, 16)
	plan := planWithSection(patch)
	// call at offset 0, disp32 field at offset 1 (5-byte call instruction).
	plan.Relocations = append(plan.Relocations, resolve.PlanRelocation{
		PatchSection: 1,
		PatchOffset:  1,
		Type:         obj.PC32,
		Target:       resolve.Location{Kind: resolve.DefinedLocation, PlanSection: 1, Offset: 0},
	})

	layout := fakeLayout{sectionVA: map[int]uint64{1: 0x1000}}
	_, err := Apply(plan, layout, noWarn)
	require.NoError(t, err)

	disp := int32(getU32(plan.Sections[0].Section.Data[1:5]))
	// site = 0x1000+1, rip = site+4 = 0x1005, target = 0x1000 -> disp = -5
	assert.EqualValues(t, -5, disp)
}

func TestApplyPC32AllowsDisplacementOverflow(t *testing.T) {
	patch := make([]byte, 16)
	plan := planWithSection(patch)
	plan.Relocations = append(plan.Relocations, resolve.PlanRelocation{
		PatchSection: 1,
		PatchOffset:  1,
		Type:         obj.PC32,
		Target:       resolve.Location{Kind: resolve.DefinedLocation, PlanSection: 1, Offset: 0xFFFFFFFF00000000},
	})

	layout := fakeLayout{sectionVA: map[int]uint64{1: 0x1000}}
	_, err := Apply(plan, layout, noWarn)
	require.NoError(t, err, "§4.6 allows PC32/GOTPC32 to silently overflow the 32-bit field rather than fail the link")
}

func TestApplySECREL32AddsTargetSectionRVA(t *testing.T) {
	patch := make([]byte, 8)
	plan := planWithSection(patch)
	plan.Relocations = append(plan.Relocations, resolve.PlanRelocation{
		PatchSection: 1,
		PatchOffset:  0,
		Type:         obj.SECREL32,
		Target:       resolve.Location{Kind: resolve.DefinedLocation, PlanSection: 1, Offset: 0x20},
	})

	layout := fakeLayout{sectionVA: map[int]uint64{1: 0x140002000}, imageBase: 0x140000000}
	_, err := Apply(plan, layout, noWarn)
	require.NoError(t, err)

	got := getU32(plan.Sections[0].Section.Data[0:4])
	// sectionRVA = 0x140002000 - 0x140000000 = 0x2000; value = 0x2000 + 0x20.
	assert.EqualValues(t, 0x2020, got)
}

func TestApplyImportLocationUsesImportVA(t *testing.T) {
	patch := make([]byte, 8)
	plan := planWithSection(patch)
	plan.Relocations = append(plan.Relocations, resolve.PlanRelocation{
		PatchSection: 1,
		PatchOffset:  0,
		Type:         obj.ABS64,
		Target:       resolve.Location{Kind: resolve.ImportLocation, ImportSlot: 3},
	})

	layout := fakeLayout{
		sectionVA: map[int]uint64{1: 0x1000},
		importVA:  map[int]uint64{3: 0x2000},
	}
	_, err := Apply(plan, layout, noWarn)
	require.NoError(t, err)

	got := getU64(plan.Sections[0].Section.Data[0:8])
	assert.EqualValues(t, 0x2000, got)
}

func TestApplyRejectsBSSTarget(t *testing.T) {
	sec := &obj.Section{Name: ".bss", Kind: obj.BSS, MemSize: 16}
	plan := exportedPlan(sec)
	plan.Relocations = append(plan.Relocations, resolve.PlanRelocation{
		PatchSection: 1,
		Type:         obj.ABS64,
		Target:       resolve.Location{Kind: resolve.DefinedLocation, PlanSection: 1},
	})

	_, err := Apply(plan, fakeLayout{sectionVA: map[int]uint64{1: 0}}, noWarn)
	require.Error(t, err)
}

func TestApplyRejectsUnresolvedTarget(t *testing.T) {
	patch := make([]byte, 8)
	plan := planWithSection(patch)
	plan.Relocations = append(plan.Relocations, resolve.PlanRelocation{
		PatchSection: 1,
		Type:         obj.ABS64,
		Target:       resolve.Location{Kind: resolve.NoLocation},
		SymbolName:   "never_resolved",
	})

	_, err := Apply(plan, fakeLayout{sectionVA: map[int]uint64{1: 0}}, noWarn)
	require.Error(t, err)
}

func TestApplySkipsOutOfBoundsPatchWithWarningInsteadOfFailing(t *testing.T) {
	patch := make([]byte, 4)
	plan := planWithSection(patch)
	plan.Relocations = append(plan.Relocations, resolve.PlanRelocation{
		PatchSection: 1,
		PatchOffset:  2, // 2+8 (ABS64 width) exceeds the 4-byte section
		Type:         obj.ABS64,
		Target:       resolve.Location{Kind: resolve.DefinedLocation, PlanSection: 1},
	})

	var warned bool
	warn := func(format string, args ...any) { warned = true }

	_, err := Apply(plan, fakeLayout{sectionVA: map[int]uint64{1: 0}}, warn)
	require.NoError(t, err, "an out-of-bounds relocation is skipped with a warning, not fatal")
	assert.True(t, warned)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
