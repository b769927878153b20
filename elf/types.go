// Package elf parses, edits, and re-emits ELF object files, preserving the
// overlap relationships between program segments (load views) and
// sections (link-time views) present in the input.
//
// The package is purely in-memory and synchronous: Parse takes a byte
// buffer and returns a region tree; Render takes a region tree and
// returns a byte buffer. Neither does file I/O, logging, or relocation
// application — those are the caller's concern.
package elf

import "encoding/binary"

// Elf is a parsed ELF file image: the header fields plus an ordered
// sequence of DataRegion values describing its byte layout (spec §3.1).
type Elf struct {
	Class      FileClass
	Endian     FileEndian
	Version    uint8 // e_ident[EI_VERSION]; must be 1 on input
	OSABI      OSABI
	ABIVersion uint8
	Type       ObjectType
	Machine    MachineType
	Entry      uint64
	Flags      uint32

	Regions []DataRegion
}

// ByteOrder returns the binary.ByteOrder implied by Endian.
func (e *Elf) ByteOrder() (binary.ByteOrder, error) {
	return byteOrder(e.Endian)
}

// Segment is a program-header entry that owns the nested regions
// representing its file-resident content (spec §3.3). Offset and FileSize
// are not stored here: they are recomputed by Render from the bytes
// actually emitted for Regions.
type Segment struct {
	Type    SegmentType
	Flags   SegmentFlags
	VAddr   uint64
	PAddr   uint64
	Align   uint64
	MemSize uint64
	Regions []DataRegion
}

func (*Segment) dataRegionSealed() {}

// Section is a named chunk of file content (spec §3.4). For SHT_NOBITS
// sections Data must be empty; Render always uses len(Data) as the
// file-resident size except for SHT_NOBITS, where the file size is
// always zero regardless of Size.
type Section struct {
	Name      string
	Type      SectionType
	Flags     SectionFlags
	Addr      uint64
	Size      uint64 // nominal size (memory size for SHT_NOBITS)
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
	Data      []byte
}

func (*Section) dataRegionSealed() {}

// FileSize is the number of bytes this section actually occupies in the
// rendered file.
func (s *Section) FileSize() uint64 {
	if !s.Type.HasDataInFile() {
		return 0
	}
	return uint64(len(s.Data))
}

// Symbol is a derived, independently-owned view of one entry in a
// SHT_SYMTAB section (spec §3.5, §3.6).
type Symbol struct {
	NameOffset uint32
	Name       []byte
	Section    *Section // resolved enclosing section; nil if undefined/reserved/unresolved
	Type       SymbolType
	Binding    SymbolBinding
	Other      uint8
	Index      SectionIndex
	Value      uint64
	Size       uint64
}

// FindDefinition returns the byte slice of the symbol's defining section
// that the symbol actually covers, per spec §4.7 / S5.
func (s *Symbol) FindDefinition() []byte {
	if s.Section == nil || s.Size == 0 {
		return nil
	}
	data := s.Section.Data
	if s.Value > uint64(len(data)) {
		return nil
	}
	end := s.Value + s.Size
	if end > uint64(len(data)) {
		return nil
	}
	return data[s.Value:end]
}

// Relocation is a derived view of one entry in a SHT_REL/SHT_RELA section
// (supplemented feature, spec_full §10).
type Relocation struct {
	Offset      uint64
	Type        uint32
	SymbolIndex uint32
	Symbol      *Symbol
	Addend      int64
	HasAddend   bool
}
