package elf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSym32(order binary.ByteOrder, name, value, size uint32, info, other uint8, shndx uint16) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, order, sym32{Name: name, Value: value, Size: size, Info: info, Other: other, Shndx: shndx})
	return buf.Bytes()
}

// S3: a symbol table with 3 entries, sh_link pointing to .strtab.
func TestParseSymbolTables_S3(t *testing.T) {
	order := binary.LittleEndian
	strtabData, off := BuildStringTable([]string{"foo", "bar", "baz"})

	var symData []byte
	symData = append(symData, buildSym32(order, off["foo"], 0, 0, 0, 0, 0)...)
	info := uint8(STT_FUNC) | uint8(STB_GLOBAL)<<4
	symData = append(symData, buildSym32(order, off["bar"], 0x1000, 16, info, 0, 1)...)
	symData = append(symData, buildSym32(order, off["baz"], 0, 0, 0, 0, 0)...)

	text := &Section{Name: ".text", Type: SHT_PROGBITS, Data: make([]byte, 0x2000)}
	strtab := &Section{Name: ".strtab", Type: SHT_STRTAB, Data: strtabData}
	symtab := &Section{Name: ".symtab", Type: SHT_SYMTAB, Data: symData}

	e := &Elf{
		Class: ELFCLASS32, Endian: ELFDATA2LSB, Version: 1,
		Regions: []DataRegion{ElfHeaderPlaceholder, text, symtab, strtab, SectionHeadersPlaceholder, SectionNameTablePlaceholder},
	}
	// Section list order: [.text, .symtab, .strtab, .shstrtab] -> 1-based indices 1..4.
	symtab.Link = 3

	syms, err := ParseSymbolTables(e)
	require.NoError(t, err)
	require.Len(t, syms, 3)
	require.Equal(t, "foo", string(syms[0].Name))
	require.Equal(t, "bar", string(syms[1].Name))
	require.Equal(t, "baz", string(syms[2].Name))
	require.Equal(t, STT_FUNC, syms[1].Type)
	require.Equal(t, STB_GLOBAL, syms[1].Binding)
	require.Equal(t, text, syms[1].Section)
}

// S5: find_definition slices the defining section's content.
func TestSymbol_FindDefinition_S5(t *testing.T) {
	sec := &Section{Data: []byte("ABCDEFGHIJ")}
	sym := &Symbol{Section: sec, Value: 4, Size: 6}
	require.Equal(t, []byte("EFGHIJ"), sym.FindDefinition())

	zeroSize := &Symbol{Section: sec, Value: 4, Size: 0}
	require.Nil(t, zeroSize.FindDefinition())
}

func TestParseSymbolTables_BadBindingFails(t *testing.T) {
	order := binary.LittleEndian
	info := uint8(STT_NOTYPE) | uint8(7)<<4 // 7 is not a known binding
	symtab := &Section{Name: ".symtab", Type: SHT_SYMTAB, Data: buildSym32(order, 0, 0, 0, info, 0, 0)}
	e := &Elf{Class: ELFCLASS32, Endian: ELFDATA2LSB, Regions: []DataRegion{ElfHeaderPlaceholder, symtab, SectionHeadersPlaceholder, SectionNameTablePlaceholder}}

	_, err := ParseSymbolTables(e)
	require.ErrorIs(t, err, ErrBadSymbol)
}
