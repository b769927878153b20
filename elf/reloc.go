package elf

import "fmt"

// ParseRelocations decodes sec, which must be of type SHT_REL or
// SHT_RELA, into Relocation views against the symbol table named by
// sec.Link (supplemented feature; not part of the original distillation,
// grounded on the same record split WonderfulToolchain uses).
func ParseRelocations(e *Elf, sec *Section) ([]Relocation, error) {
	if sec.Type != SHT_REL && sec.Type != SHT_RELA {
		return nil, fmt.Errorf("elf: section %q is not a relocation section", sec.Name)
	}
	order, err := e.ByteOrder()
	if err != nil {
		return nil, err
	}
	withAddend := sec.Type == SHT_RELA

	list := SectionList(e.Regions)
	symtab := resolveSectionLink(list, sec.Link)
	var symbols []Symbol
	if symtab != nil {
		syms, err := parseSymbolTableSection(e, symtab, list)
		if err != nil {
			return nil, err
		}
		symbols = syms
	}

	entSize := relSize(e.Class, withAddend)
	if entSize == 0 || len(sec.Data)%entSize != 0 {
		return nil, fmt.Errorf("elf: relocation section %q has size %d not a multiple of entry size %d", sec.Name, len(sec.Data), entSize)
	}
	count := len(sec.Data) / entSize
	r := newReader(sec.Data)

	relocs := make([]Relocation, 0, count)
	for i := 0; i < count; i++ {
		var (
			offset      uint64
			symIdx      uint32
			relType     uint32
			addend      int64
		)
		if e.Class == ELFCLASS64 {
			if withAddend {
				var rel rela64
				if err := readStruct(r, order, &rel); err != nil {
					return nil, err
				}
				offset, symIdx, relType, addend = rel.Offset, uint32(rel.Info>>32), uint32(rel.Info), rel.Addend
			} else {
				var rel rel64
				if err := readStruct(r, order, &rel); err != nil {
					return nil, err
				}
				offset, symIdx, relType = rel.Offset, uint32(rel.Info>>32), uint32(rel.Info)
			}
		} else {
			if withAddend {
				var rel rela32
				if err := readStruct(r, order, &rel); err != nil {
					return nil, err
				}
				offset, symIdx, relType, addend = uint64(rel.Offset), uint32(rel.Info)>>8, uint32(rel.Info)&0xFF, int64(rel.Addend)
			} else {
				var rel rel32
				if err := readStruct(r, order, &rel); err != nil {
					return nil, err
				}
				offset, symIdx, relType = uint64(rel.Offset), uint32(rel.Info)>>8, uint32(rel.Info)&0xFF
			}
		}

		var sym *Symbol
		if symbols != nil && int(symIdx) < len(symbols) {
			sym = &symbols[symIdx]
		}
		relocs = append(relocs, Relocation{
			Offset: offset, Type: relType, SymbolIndex: symIdx,
			Symbol: sym, Addend: addend, HasAddend: withAddend,
		})
	}
	return relocs, nil
}
