package elf

import "fmt"

// ParseSymbolTables decodes every SHT_SYMTAB section in e into Symbol
// views (spec §4.7). The associated string table is the section named by
// sh_link, resolved via the 1-based lookup SectionList/resolveSectionLink
// use throughout this package.
func ParseSymbolTables(e *Elf) ([]Symbol, error) {
	list := SectionList(e.Regions)
	var symbols []Symbol
	for _, sec := range list {
		if sec.Type != SHT_SYMTAB {
			continue
		}
		syms, err := parseSymbolTableSection(e, sec, list)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, syms...)
	}
	return symbols, nil
}

// parseSymbolTableSection decodes one symbol-table section (SHT_SYMTAB or
// SHT_DYNSYM) against list, the section list sh_link/sh_info index into.
func parseSymbolTableSection(e *Elf, sec *Section, list []*Section) ([]Symbol, error) {
	order, err := e.ByteOrder()
	if err != nil {
		return nil, err
	}
	strtab := resolveSectionLink(list, sec.Link)

	entSize := symSize(e.Class)
	if entSize == 0 || len(sec.Data)%entSize != 0 {
		return nil, fmt.Errorf("%w: symtab %q has size %d not a multiple of entry size %d", ErrBadSymbol, sec.Name, len(sec.Data), entSize)
	}
	count := len(sec.Data) / entSize
	r := newReader(sec.Data)

	symbols := make([]Symbol, 0, count)
	for i := 0; i < count; i++ {
		var (
			nameOff     uint32
			info, other uint8
			shndx       uint16
			value, size uint64
		)
		if e.Class == ELFCLASS32 {
			var s sym32
			if err := readStruct(r, order, &s); err != nil {
				return nil, err
			}
			nameOff, value, size, info, other, shndx = s.Name, uint64(s.Value), uint64(s.Size), s.Info, s.Other, s.Shndx
		} else {
			var s sym64
			if err := readStruct(r, order, &s); err != nil {
				return nil, err
			}
			nameOff, info, other, shndx, value, size = s.Name, s.Info, s.Other, s.Shndx, s.Value, s.Size
		}

		typ := SymbolType(info & 0x0F)
		// Correct binding split: info>>4, not the source's (info&0xF)>>4,
		// which always yields zero (spec §9).
		bind := SymbolBinding(info >> 4)
		if !bind.IsKnownBinding() {
			return nil, fmt.Errorf("%w: symbol %d has unrecognized binding %d", ErrBadSymbol, i, bind)
		}

		idx := NewSectionIndex(shndx)
		var section *Section
		if !idx.IsReserved() && int(shndx) > 0 && int(shndx) <= len(list) {
			section = list[shndx-1]
		}

		var name []byte
		if strtab != nil {
			name = LookupString(nameOff, strtab.Data)
		}

		symbols = append(symbols, Symbol{
			NameOffset: nameOff, Name: name, Section: section,
			Type: typ, Binding: bind, Other: other, Index: idx,
			Value: value, Size: size,
		})
	}
	return symbols, nil
}
