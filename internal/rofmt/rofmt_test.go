package rofmt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arklink/arklink/internal/job"
	"github.com/arklink/arklink/internal/obj"
)

func newTestContext() *job.Context {
	return job.NewContext(&job.Config{
		OutputPath: "out",
		Inputs:     []job.Input{{Name: "in"}},
	})
}

// buildFixtureTU constructs a hand-built TU in the canonical TEXT/DATA/
// RODATA/BSS section order rofmt.Write requires, with one symbol whose name
// is long enough to force the string-table path and one short enough to fit
// the fixed 24-byte field.
func buildFixtureTU() *obj.TU {
	text := obj.NewSection(".text", obj.Code, obj.Read|obj.Execute)
	text.Append([]byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3}) // mov eax, 42; ret
	data := obj.NewSection(".data", obj.Data, obj.Read|obj.Write)
	data.Append([]byte{0x01, 0x02, 0x03, 0x04})
	rodata := obj.NewSection(".rodata", obj.RODATA, obj.Read)
	rodata.Append([]byte("hi\x00"))
	bss := obj.NewSection(".bss", obj.BSS, obj.Read|obj.Write)
	bss.Resize(32)

	return &obj.TU{
		Path:        "fixture.o",
		EntryOffset: 0,
		Sections:    []*obj.Section{text, data, rodata, bss},
		Symbols: []*obj.Symbol{
			{Name: "main", SectionIndex: 1, Value: 0, Binding: obj.Global, Type: obj.Func},
			{Name: "this_symbol_name_is_definitely_longer_than_24_bytes", SectionIndex: 2, Value: 0, Binding: obj.Weak, Type: obj.Object},
			{Name: "printf", SectionIndex: 0, Binding: obj.Global}, // undefined reference
		},
		Relocations: []*obj.Relocation{
			{SectionIndex: 1, Offset: 1, Type: obj.ABS64, SymbolIndex: 1, Addend: 0},
			{SectionIndex: 1, Offset: 2, Type: obj.PC32, SymbolIndex: 2, Addend: -4},
		},
	}
}

func TestRoundTripIdentity(t *testing.T) {
	tu := buildFixtureTU()

	wire, err := Write(tu)
	require.NoError(t, err)

	ctx := newTestContext()
	loaded, err := Load(ctx, "fixture.o", wire)
	require.NoError(t, err)

	require.Len(t, loaded.Sections, SecCount)
	for i, sec := range tu.Sections {
		got := loaded.Sections[i]
		require.Equal(t, sec.Name, got.Name)
		require.Equal(t, sec.Kind, got.Kind)
		require.Equal(t, sec.Size(), got.Size())
		if sec.Kind != obj.BSS {
			require.Equal(t, sec.Data, got.Data)
		}
	}

	require.Len(t, loaded.Symbols, len(tu.Symbols))
	for i, sym := range tu.Symbols {
		got := loaded.Symbols[i]
		require.Equal(t, sym.Name, got.Name)
		require.Equal(t, sym.Binding, got.Binding)
		require.Equal(t, sym.SectionIndex, got.SectionIndex)
		require.Equal(t, sym.Value, got.Value)
	}

	require.Len(t, loaded.Relocations, len(tu.Relocations))
	for i, rel := range tu.Relocations {
		got := loaded.Relocations[i]
		require.Equal(t, rel.SectionIndex, got.SectionIndex)
		require.Equal(t, rel.Offset, got.Offset)
		require.Equal(t, rel.Type, got.Type)
		require.Equal(t, rel.SymbolIndex, got.SymbolIndex)
		require.Equal(t, rel.Addend, got.Addend)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	ctx := newTestContext()
	bad := make([]byte, FileHeaderSize)
	_, err := Load(ctx, "bad.o", bad)
	require.Error(t, err)
}

func TestLoadRejectsTruncatedHeader(t *testing.T) {
	ctx := newTestContext()
	_, err := Load(ctx, "short.o", []byte{0x4F, 0x45})
	require.Error(t, err)
}
