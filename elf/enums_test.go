package elf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Universal property: unknown enum values never get silently coerced to a
// known one; String always falls through to a numeric rendering that still
// names the underlying value.
func TestEnums_UnknownValuesRoundTripNumerically(t *testing.T) {
	require.Contains(t, ObjectType(0x1234).String(), "1234")
	require.Contains(t, MachineType(9999).String(), "9999")
	require.Contains(t, OSABI(200).String(), "200")
	require.Contains(t, SectionType(9001).String(), "9001")
	require.Contains(t, SegmentType(9001).String(), "9001")
	require.Contains(t, SymbolType(9).String(), "9")
	require.Contains(t, FileClass(9).String(), "9")
	require.Contains(t, FileEndian(9).String(), "9")
}

func TestSymbolBinding_IsKnownBinding(t *testing.T) {
	require.True(t, STB_LOCAL.IsKnownBinding())
	require.True(t, STB_GLOBAL.IsKnownBinding())
	require.True(t, STB_WEAK.IsKnownBinding())
	require.False(t, SymbolBinding(3).IsKnownBinding())
	require.False(t, SymbolBinding(255).IsKnownBinding())
}

func TestSectionFlags_Has(t *testing.T) {
	f := SHF_ALLOC | SHF_EXECINSTR
	require.True(t, f.Has(SHF_ALLOC))
	require.True(t, f.Has(SHF_EXECINSTR))
	require.False(t, f.Has(SHF_WRITE))
}

func TestSegmentType_IsPreLoad(t *testing.T) {
	require.True(t, PT_PHDR.IsPreLoad())
	require.True(t, PT_INTERP.IsPreLoad())
	require.False(t, PT_LOAD.IsPreLoad())
	require.False(t, PT_DYNAMIC.IsPreLoad())
}

func TestSectionIndex_ReservedRanges(t *testing.T) {
	require.True(t, NewSectionIndex(SHN_UNDEF).IsUndef())
	require.True(t, NewSectionIndex(SHN_ABS).IsAbs())
	require.True(t, NewSectionIndex(SHN_COMMON).IsCommon())
	require.True(t, NewSectionIndex(SHN_LORESERVE).IsReserved())
	require.False(t, NewSectionIndex(5).IsReserved())
	require.Equal(t, "UNDEF", NewSectionIndex(SHN_UNDEF).String(EM_X86_64, ELFOSABI_LINUX))
}

func TestSectionIndex_ProcessorAliases(t *testing.T) {
	lcommon := NewSectionIndex(0xff02)
	require.Equal(t, "LCOMMON", lcommon.String(EM_X86_64, ELFOSABI_LINUX))
	// Same raw value, different machine: no alias, falls back to LOPROC+offset.
	require.NotEqual(t, "LCOMMON", lcommon.String(EM_ARM, ELFOSABI_LINUX))

	scommon := NewSectionIndex(0xff03)
	require.Equal(t, "SCOMMON", scommon.String(EM_MIPS, ELFOSABI_LINUX))

	ansiCommon := NewSectionIndex(0xff00)
	require.Equal(t, "ANSI_COMMON", ansiCommon.String(EM_IA_64, ELFOSABI_HPUX))
	require.NotEqual(t, "ANSI_COMMON", ansiCommon.String(EM_IA_64, ELFOSABI_LINUX))
}
