// Package obj defines the in-memory data model shared by every loader,
// resolver, and emitter: Translation Units, Sections, Symbols, Relocations.
// It holds no I/O and no format-specific knowledge.
package obj

// SectionKind classifies a section's role, independent of target format.
type SectionKind int

const (
	Code SectionKind = iota
	Data
	RODATA
	BSS
	TLS
)

func (k SectionKind) String() string {
	switch k {
	case Code:
		return "code"
	case Data:
		return "data"
	case RODATA:
		return "rodata"
	case BSS:
		return "bss"
	case TLS:
		return "tls"
	default:
		return "unknown"
	}
}

// SectionFlags is a subset of {Read, Write, Execute}.
type SectionFlags uint8

const (
	Read SectionFlags = 1 << iota
	Write
	Execute
)

func (f SectionFlags) Has(bit SectionFlags) bool { return f&bit != 0 }

// Section is one loadable chunk of bytes (or, for BSS, just a size) owned by
// a TU. alignment is always a power of two; the zero value means 1.
type Section struct {
	Name      string
	Kind      SectionKind
	Flags     SectionFlags
	Alignment uint32
	Data      []byte // nil for BSS
	MemSize   uint32 // authoritative size for BSS; for non-BSS, len(Data) unless grown via Resize
}

// NewSection allocates a section with the default alignment of 1.
func NewSection(name string, kind SectionKind, flags SectionFlags) *Section {
	return &Section{Name: name, Kind: kind, Flags: flags, Alignment: 1}
}

// Size returns the logical size of the section: the backing buffer length for
// everything but BSS, and MemSize for BSS (which never carries file bytes).
func (s *Section) Size() int {
	if s.Kind == BSS {
		return int(s.MemSize)
	}
	return len(s.Data)
}

// Append grows a non-BSS section by copying src onto the end of Data. This is
// the incremental construction path used when building TUs by hand (tests,
// and any producer that streams section contents instead of handing over a
// fully-formed buffer up front).
func (s *Section) Append(src []byte) {
	if s.Kind == BSS {
		s.MemSize += uint32(len(src))
		return
	}
	s.Data = append(s.Data, src...)
	if uint32(len(s.Data)) > s.MemSize {
		s.MemSize = uint32(len(s.Data))
	}
}

// Resize grows or truncates the section to exactly n bytes, zero-filling any
// newly added bytes. For BSS it only ever changes MemSize.
func (s *Section) Resize(n int) {
	if s.Kind == BSS {
		s.MemSize = uint32(n)
		return
	}
	if n <= len(s.Data) {
		s.Data = s.Data[:n]
	} else {
		grown := make([]byte, n)
		copy(grown, s.Data)
		s.Data = grown
	}
	s.MemSize = uint32(n)
}

// Binding classifies cross-TU visibility.
type Binding int

const (
	Local Binding = iota
	Global
	Weak
)

func (b Binding) String() string {
	switch b {
	case Local:
		return "local"
	case Global:
		return "global"
	case Weak:
		return "weak"
	default:
		return "unknown"
	}
}

// Visibility further restricts a Global/Weak symbol's external reach. The
// core does not act on it: neither loader sets it, the resolver ignores it,
// and no emitter writes it.
type Visibility int

const (
	Default Visibility = iota
	Hidden
)

// SymType is informational metadata about what a symbol denotes.
type SymType int

const (
	NoType SymType = iota
	Func
	Object
)

// Symbol is one entry in a TU's symbol table. SectionIndex is 1-based into
// the owning TU's Sections; 0 means undefined/external.
type Symbol struct {
	Name         string
	SectionIndex int // 1-based; 0 = undefined
	Value        uint64
	Size         uint64
	Binding      Binding
	Visibility   Visibility
	Type         SymType
}

// Defined reports whether this symbol has a concrete definition in its TU.
func (s *Symbol) Defined() bool { return s.SectionIndex != 0 }

// RelocType enumerates the relocation arithmetic kinds from §4.6.
type RelocType uint16

const (
	ABS64 RelocType = iota
	PC32
	GOTPC32
	SECREL32
)

func (t RelocType) String() string {
	switch t {
	case ABS64:
		return "ABS64"
	case PC32:
		return "PC32"
	case GOTPC32:
		return "GOTPC32"
	case SECREL32:
		return "SECREL32"
	default:
		return "UNKNOWN"
	}
}

// NeedsBaseReloc reports whether a relocation of this type requires a PE
// base-relocation table entry (§4.6).
func (t RelocType) NeedsBaseReloc() bool { return t == ABS64 }

// Relocation is one patch site: section_index + offset identify where,
// symbol_index + type + addend identify what to write.
type Relocation struct {
	SectionIndex int // 1-based, owning section within the TU
	Offset       uint64
	Type         RelocType
	SymbolIndex  int // index into the owning TU's Symbols
	Addend       int16
}

// TU is one loaded relocatable object: the in-memory form of one RO file (or
// one extracted archive member).
type TU struct {
	Path         string // origin label for diagnostics
	Sections     []*Section
	Symbols      []*Symbol
	Relocations  []*Relocation // flat; each carries its own SectionIndex
	EntryOffset  uint64
	HasEntry     bool
	Origin       []byte // retained input bytes; symbol names referencing this TU's strtab may point in here
}

// RelocationsFor returns the relocations owned by the given 1-based section
// index, in file order.
func (t *TU) RelocationsFor(sectionIndex int) []*Relocation {
	var out []*Relocation
	for _, r := range t.Relocations {
		if r.SectionIndex == sectionIndex {
			out = append(out, r)
		}
	}
	return out
}

// Section returns the 1-based-indexed section, or nil if idx is 0 or out of range.
func (t *TU) Section(idx int) *Section {
	if idx <= 0 || idx > len(t.Sections) {
		return nil
	}
	return t.Sections[idx-1]
}
