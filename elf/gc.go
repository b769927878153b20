package elf

// GCSections removes sections unreachable from roots (supplemented
// feature, not part of the original distillation; grounded on
// WonderfulToolchain's GarbageCollectSections). A section is reachable if
// it is in roots, carries SHF_GNU_RETAIN, or is the resolved definition
// section of a symbol referenced by a relocation belonging to a reachable
// section. Callers that want to keep a symbol or string table alive
// regardless of reachability must include it in roots explicitly.
func GCSections(e *Elf, roots map[*Section]bool) error {
	list := SectionList(e.Regions)

	children := make(map[*Section]map[*Section]bool)
	for _, sec := range list {
		if sec.Type != SHT_REL && sec.Type != SHT_RELA {
			continue
		}
		target := resolveSectionLink(list, sec.Info)
		if target == nil {
			continue
		}
		relocs, err := ParseRelocations(e, sec)
		if err != nil {
			return err
		}
		for _, rel := range relocs {
			if rel.Symbol == nil || rel.Symbol.Section == nil {
				continue
			}
			if children[target] == nil {
				children[target] = make(map[*Section]bool)
			}
			children[target][rel.Symbol.Section] = true
		}
	}

	retained := make(map[*Section]bool, len(roots))
	for sec := range roots {
		retained[sec] = true
	}
	for _, sec := range list {
		if sec.Flags.Has(SHF_GNU_RETAIN) {
			retained[sec] = true
		}
	}

	frontier := make([]*Section, 0, len(retained))
	for sec := range retained {
		frontier = append(frontier, sec)
	}
	for len(frontier) > 0 {
		var next []*Section
		for _, sec := range frontier {
			for child := range children[sec] {
				if !retained[child] {
					retained[child] = true
					next = append(next, child)
				}
			}
		}
		frontier = next
	}

	e.Regions = MapSections(e.Regions, func(s *Section) *Section {
		if retained[s] {
			return s
		}
		return nil
	})
	return nil
}
