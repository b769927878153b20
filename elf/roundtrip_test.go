package elf

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func minimalElf(class FileClass) *Elf {
	return &Elf{
		Class: class, Endian: ELFDATA2LSB, Version: 1,
		OSABI: ELFOSABI_NONE, Type: ET_REL, Machine: EM_X86_64,
	}
}

// S1: a header plus the section-name table (no other sections) renders and
// re-parses back to the same shape, and re-rendering the parsed result is
// byte-identical.
func TestRoundtrip_S1_HeaderAndNameTableOnly(t *testing.T) {
	e := minimalElf(ELFCLASS64)
	e.Regions = []DataRegion{ElfHeaderPlaceholder, SectionHeadersPlaceholder, SectionNameTablePlaceholder}

	first, err := Render(e)
	require.NoError(t, err)

	parsed, err := Parse(first.Bytes)
	require.NoError(t, err)
	require.Equal(t, e.Class, parsed.Class)
	require.Equal(t, e.Type, parsed.Type)
	require.Equal(t, e.Machine, parsed.Machine)
	require.Len(t, SectionList(parsed.Regions), 1)

	second, err := Render(parsed)
	require.NoError(t, err)
	if diff := cmp.Diff(first.Bytes, second.Bytes); diff != "" {
		t.Errorf("re-render produced different bytes (-first +second):\n%s", diff)
	}
}

// S2: removing a section from the parsed tree and re-rendering drops its
// bytes and name from the output, and shrinks the section count by one.
func TestRoundtrip_S2_RemoveSection(t *testing.T) {
	e := minimalElf(ELFCLASS64)
	text := &Section{Name: ".text", Type: SHT_PROGBITS, Flags: SHF_ALLOC | SHF_EXECINSTR, AddrAlign: 4, Data: []byte{0x90, 0x90, 0x90, 0x90}}
	data := &Section{Name: ".data", Type: SHT_PROGBITS, Flags: SHF_ALLOC | SHF_WRITE, AddrAlign: 4, Data: []byte{1, 2, 3, 4}}
	e.Regions = []DataRegion{ElfHeaderPlaceholder, text, data, SectionHeadersPlaceholder, SectionNameTablePlaceholder}

	rendered, err := Render(e)
	require.NoError(t, err)
	parsed, err := Parse(rendered.Bytes)
	require.NoError(t, err)
	require.Len(t, SectionList(parsed.Regions), 2)

	parsed.Regions = RemoveSectionByName(parsed.Regions, ".data")
	require.Nil(t, FindSectionByName(parsed.Regions, ".data"))

	stripped, err := Render(parsed)
	require.NoError(t, err)
	require.NotContains(t, string(stripped.Bytes), ".data\x00")

	reparsed, err := Parse(stripped.Bytes)
	require.NoError(t, err)
	list := SectionList(reparsed.Regions)
	require.Len(t, list, 2)
	require.Equal(t, ".text", list[0].Name)
	require.Equal(t, []byte{0x90, 0x90, 0x90, 0x90}, list[0].Data)
}

// S4: a section nested in a PT_LOAD segment lands at the segment's own
// alignment, and the rendered program header reports the actual occupied
// range, not a caller-supplied guess.
func TestRoundtrip_S4_SegmentAlignment(t *testing.T) {
	e := minimalElf(ELFCLASS64)
	e.Type = ET_EXEC

	rodata := &Section{Name: ".rodata", Type: SHT_PROGBITS, Flags: SHF_ALLOC, AddrAlign: 8, Data: []byte("ABCDEFG")}
	seg := &Segment{Type: PT_LOAD, Flags: PF_R, Align: 8, MemSize: 7, Regions: []DataRegion{rodata}}

	// Pad with raw bytes so the segment begins at file offset 128, matching
	// its own 8-byte alignment, so no extra padding is inserted inside it.
	headerAndPhdr := uint64(ehdrSize(ELFCLASS64) + phdrSize(ELFCLASS64))
	pad := &RawRegion{Data: make([]byte, 128-headerAndPhdr)}

	e.Regions = []DataRegion{ElfHeaderPlaceholder, SegmentHeadersPlaceholder, pad, seg, SectionHeadersPlaceholder, SectionNameTablePlaceholder}

	result, err := Render(e)
	require.NoError(t, err)
	require.Len(t, result.RenderedSegments, 1)
	require.Equal(t, uint64(128), result.RenderedSegments[0].Offset)
	require.Equal(t, uint64(7), result.RenderedSegments[0].FileSize)
	require.Equal(t, []byte("ABCDEFG"), result.RenderedSegments[0].Bytes)

	parsed, err := Parse(result.Bytes)
	require.NoError(t, err)
	var found bool
	var walk func([]DataRegion)
	walk = func(rs []DataRegion) {
		for _, r := range rs {
			if s, ok := r.(*Segment); ok {
				found = true
				require.Equal(t, uint64(7), s.MemSize)
				walk(s.Regions)
			}
		}
	}
	walk(parsed.Regions)
	require.True(t, found)
}

// Universal property: PT_PHDR and PT_INTERP segments always sort first in
// the rendered program-header table regardless of tree order.
func TestRoundtrip_PreLoadSegmentsSortFirst(t *testing.T) {
	e := minimalElf(ELFCLASS64)
	loadSeg := &Segment{Type: PT_LOAD, Flags: PF_R, Align: 1}
	phdrSeg := &Segment{Type: PT_PHDR, Flags: PF_R, Align: 1}
	interpSeg := &Segment{Type: PT_INTERP, Flags: PF_R, Align: 1, Regions: []DataRegion{&RawRegion{Data: []byte("/lib\x00")}}}

	e.Regions = []DataRegion{ElfHeaderPlaceholder, SegmentHeadersPlaceholder, loadSeg, phdrSeg, interpSeg, SectionHeadersPlaceholder, SectionNameTablePlaceholder}

	result, err := Render(e)
	require.NoError(t, err)
	require.Len(t, result.RenderedSegments, 3)
	require.True(t, result.RenderedSegments[0].Segment.Type.IsPreLoad())
	require.True(t, result.RenderedSegments[1].Segment.Type.IsPreLoad())
	require.False(t, result.RenderedSegments[2].Segment.Type.IsPreLoad())
}

// Universal property: a 32-bit round trip through Render/Parse preserves
// section content and names, exercising the narrower wire structs.
func TestRoundtrip_32Bit(t *testing.T) {
	e := minimalElf(ELFCLASS32)
	e.Machine = EM_386
	text := &Section{Name: ".text", Type: SHT_PROGBITS, Flags: SHF_ALLOC | SHF_EXECINSTR, AddrAlign: 4, Data: []byte{0xc3}}
	e.Regions = []DataRegion{ElfHeaderPlaceholder, text, SectionHeadersPlaceholder, SectionNameTablePlaceholder}

	rendered, err := Render(e)
	require.NoError(t, err)
	parsed, err := Parse(rendered.Bytes)
	require.NoError(t, err)
	require.Equal(t, ELFCLASS32, parsed.Class)
	list := SectionList(parsed.Regions)
	require.Len(t, list, 2)
	require.Equal(t, []byte{0xc3}, list[0].Data)
}

func TestRoundtrip_BigEndian(t *testing.T) {
	e := minimalElf(ELFCLASS64)
	e.Endian = ELFDATA2MSB
	e.Regions = []DataRegion{ElfHeaderPlaceholder, SectionHeadersPlaceholder, SectionNameTablePlaceholder}

	rendered, err := Render(e)
	require.NoError(t, err)
	parsed, err := Parse(rendered.Bytes)
	require.NoError(t, err)
	require.Equal(t, ELFDATA2MSB, parsed.Endian)
}
