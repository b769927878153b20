package elf

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// Parse decodes buf into a region tree, per spec §4.5. The returned Elf
// shares storage with buf: sections and raw spans hold slices into it.
func Parse(buf []byte) (*Elf, error) {
	r := newReader(buf)

	var ih identHeader
	if err := readStruct(r, binary.BigEndian, &ih); err != nil {
		return nil, err
	}
	if ih.Magic != elfMagic {
		return nil, fmt.Errorf("%w: got %x", ErrBadMagic, ih.Magic)
	}
	if ih.Version != 1 {
		return nil, fmt.Errorf("%w: e_ident[EI_VERSION]=%d", ErrBadVersion, ih.Version)
	}
	class := FileClass(ih.Class)
	if class != ELFCLASS32 && class != ELFCLASS64 {
		return nil, fmt.Errorf("%w: %d", ErrBadClass, ih.Class)
	}
	endian := FileEndian(ih.Data)
	order, err := byteOrder(endian)
	if err != nil {
		return nil, err
	}

	var (
		typ, machine                                uint16
		version, flags                               uint32
		entry, phoff, shoff                          uint64
		ehsize, phentsize, phnum, shentsize, shnum, shstrndx uint16
	)
	if class == ELFCLASS32 {
		var rest ehdrRest32
		if err := readStruct(r, order, &rest); err != nil {
			return nil, err
		}
		typ, machine, version = rest.Type, rest.Machine, rest.Version
		entry, phoff, shoff = uint64(rest.Entry), uint64(rest.PhOff), uint64(rest.ShOff)
		flags = rest.Flags
		ehsize, phentsize, phnum = rest.EhSize, rest.PhEntSize, rest.PhNum
		shentsize, shnum, shstrndx = rest.ShEntSize, rest.ShNum, rest.ShStrNdx
		if ehsize != ehdrSize32 || phentsize != phdrSize32 || shentsize != shdrSize32 {
			return nil, fmt.Errorf("%w: ehsize=%d phentsize=%d shentsize=%d", ErrBadHeaderSize, ehsize, phentsize, shentsize)
		}
	} else {
		var rest ehdrRest64
		if err := readStruct(r, order, &rest); err != nil {
			return nil, err
		}
		typ, machine, version = rest.Type, rest.Machine, rest.Version
		entry, phoff, shoff = rest.Entry, rest.PhOff, rest.ShOff
		flags = rest.Flags
		ehsize, phentsize, phnum = rest.EhSize, rest.PhEntSize, rest.PhNum
		shentsize, shnum, shstrndx = rest.ShEntSize, rest.ShNum, rest.ShStrNdx
		// Validated on both paths, matching the 32-bit path (spec §9 bugfix).
		if ehsize != ehdrSize64 || phentsize != phdrSize64 || shentsize != shdrSize64 {
			return nil, fmt.Errorf("%w: ehsize=%d phentsize=%d shentsize=%d", ErrBadHeaderSize, ehsize, phentsize, shentsize)
		}
	}
	if version != uint32(ih.Version) {
		return nil, fmt.Errorf("%w: e_version=%d disagrees with e_ident[EI_VERSION]=%d", ErrBadVersion, version, ih.Version)
	}

	e := &Elf{
		Class: class, Endian: endian, Version: ih.Version,
		OSABI: OSABI(ih.OSABI), ABIVersion: ih.ABIVersion,
		Type: ObjectType(typ), Machine: MachineType(machine),
		Entry: entry, Flags: flags,
	}

	type rawShdr struct {
		nameOff                                     uint32
		typ                                          SectionType
		flags                                        uint64
		addr, offset, size                          uint64
		link, info                                   uint32
		addralign, entsize                          uint64
	}
	var secs []rawShdr
	if shnum > 0 {
		secs = make([]rawShdr, shnum)
		for i := range secs {
			if _, err := r.Seek(int64(shoff)+int64(i)*int64(shentsize), io.SeekStart); err != nil {
				return nil, fmt.Errorf("%w: section header %d", ErrTruncated, i)
			}
			if class == ELFCLASS32 {
				var sh shdr32
				if err := readStruct(r, order, &sh); err != nil {
					return nil, err
				}
				secs[i] = rawShdr{sh.Name, SectionType(sh.Type), uint64(sh.Flags), uint64(sh.Addr), uint64(sh.Offset), uint64(sh.Size), sh.Link, sh.Info, uint64(sh.AddrAlign), uint64(sh.EntSize)}
			} else {
				var sh shdr64
				if err := readStruct(r, order, &sh); err != nil {
					return nil, err
				}
				secs[i] = rawShdr{sh.Name, SectionType(sh.Type), sh.Flags, sh.Addr, sh.Offset, sh.Size, sh.Link, sh.Info, sh.AddrAlign, sh.EntSize}
			}
		}
	}

	type specialLeaf struct {
		offset, length uint64
		region         DataRegion
	}
	leaves := []specialLeaf{
		{0, uint64(ehdrSize(class)), ElfHeaderPlaceholder},
	}
	if phnum > 0 {
		leaves = append(leaves, specialLeaf{phoff, uint64(phnum) * uint64(phdrSize(class)), SegmentHeadersPlaceholder})
	}

	var sections []*Section
	if shnum > 0 {
		if int(shstrndx) >= len(secs) {
			return nil, fmt.Errorf("%w: shstrndx %d out of range", ErrTruncated, shstrndx)
		}
		leaves = append(leaves, specialLeaf{shoff, uint64(shnum) * uint64(shentsize), SectionHeadersPlaceholder})

		nameTable, err := slice(buf, secs[shstrndx].offset, secs[shstrndx].size)
		if err != nil {
			return nil, err
		}

		sections = make([]*Section, shnum)
		for i, sh := range secs {
			name := string(LookupString(sh.nameOff, nameTable))
			var data []byte
			if sh.typ.HasDataInFile() {
				data, err = slice(buf, sh.offset, sh.size)
				if err != nil {
					return nil, err
				}
			}
			sections[i] = &Section{
				Name: name, Type: sh.typ, Flags: SectionFlags(sh.flags),
				Addr: sh.addr, Size: sh.size, Link: sh.link, Info: sh.info,
				AddrAlign: sh.addralign, EntSize: sh.entsize, Data: data,
			}
		}

		for i, sh := range secs {
			if i == int(shstrndx) {
				leaves = append(leaves, specialLeaf{sh.offset, sh.size, SectionNameTablePlaceholder})
				continue
			}
			leaves = append(leaves, specialLeaf{sh.offset, sections[i].FileSize(), sections[i]})
		}
	}

	sort.SliceStable(leaves, func(i, j int) bool { return leaves[i].offset < leaves[j].offset })

	nodes := []*foldNode{{kind: nodeRaw, offset: 0, length: uint64(len(buf)), raw: buf}}
	for _, lf := range leaves {
		nodes, err = insertAt(nodes, lf.offset, lf.length, lf.region)
		if err != nil {
			return nil, err
		}
	}

	type segLeaf struct {
		offset, length uint64
		seg            *Segment
	}
	var segLeaves []segLeaf
	if phnum > 0 {
		for i := 0; i < int(phnum); i++ {
			if _, err := r.Seek(int64(phoff)+int64(i)*int64(phentsize), io.SeekStart); err != nil {
				return nil, fmt.Errorf("%w: program header %d", ErrTruncated, i)
			}
			var sl segLeaf
			if class == ELFCLASS32 {
				var ph phdr32
				if err := readStruct(r, order, &ph); err != nil {
					return nil, err
				}
				sl = segLeaf{uint64(ph.Offset), uint64(ph.FileSz), &Segment{
					Type: SegmentType(ph.Type), Flags: SegmentFlags(ph.Flags),
					VAddr: uint64(ph.VAddr), PAddr: uint64(ph.PAddr),
					Align: uint64(ph.Align), MemSize: uint64(ph.MemSz),
				}}
			} else {
				var ph phdr64
				if err := readStruct(r, order, &ph); err != nil {
					return nil, err
				}
				sl = segLeaf{ph.Offset, ph.FileSz, &Segment{
					Type: SegmentType(ph.Type), Flags: SegmentFlags(ph.Flags),
					VAddr: ph.VAddr, PAddr: ph.PAddr,
					Align: ph.Align, MemSize: ph.MemSz,
				}}
			}
			segLeaves = append(segLeaves, sl)
		}
	}

	sort.SliceStable(segLeaves, func(i, j int) bool {
		if segLeaves[i].offset != segLeaves[j].offset {
			return segLeaves[i].offset < segLeaves[j].offset
		}
		return segLeaves[i].length > segLeaves[j].length
	})

	for _, sl := range segLeaves {
		nodes, err = insertSegment(nodes, sl.offset, sl.length, sl.seg)
		if err != nil {
			return nil, err
		}
	}

	e.Regions = foldNodesToRegions(nodes)
	return e, nil
}

// --- fold algorithm (spec §4.5 step 7) -------------------------------------

type nodeKind int

const (
	nodeRaw nodeKind = iota
	nodeLeaf
	nodeSegment
)

// foldNode is the working representation of a region during folding: it
// carries the file offset/length metadata that DataRegion values
// themselves don't store, since that metadata is derived, not owned, once
// the tree is final.
type foldNode struct {
	kind           nodeKind
	offset, length uint64
	raw            []byte
	region         DataRegion // nodeLeaf
	segment        *Segment   // nodeSegment
	nested         []*foldNode
}

func totalLength(nodes []*foldNode) uint64 {
	if len(nodes) == 0 {
		return 0
	}
	last := nodes[len(nodes)-1]
	return last.offset + last.length
}

// insertAt splits the covering Raw region at nodes into prefix+leaf+suffix
// (spec §4.5: insert_at).
func insertAt(nodes []*foldNode, offset, length uint64, region DataRegion) ([]*foldNode, error) {
	if length == 0 {
		return insertZeroLengthLeaf(nodes, offset, region)
	}
	for i, n := range nodes {
		start, end := n.offset, n.offset+n.length
		if offset < start || offset >= end {
			continue
		}
		if n.kind != nodeRaw {
			return nil, fmt.Errorf("%w: leaf at [%d,%d) overlaps an already-placed region", ErrOverlap, offset, offset+length)
		}
		if offset+length > end {
			return nil, fmt.Errorf("%w: leaf at [%d,%d) runs past its covering region", ErrTruncated, offset, offset+length)
		}
		return splitRawInsertLeaf(nodes, i, offset, length, region), nil
	}
	return nil, fmt.Errorf("%w: offset %d not covered by any region", ErrTruncated, offset)
}

func insertZeroLengthLeaf(nodes []*foldNode, offset uint64, region DataRegion) ([]*foldNode, error) {
	leaf := &foldNode{kind: nodeLeaf, offset: offset, length: 0, region: region}
	if offset == totalLength(nodes) {
		out := append([]*foldNode{}, nodes...)
		return append(out, leaf), nil
	}
	for i, n := range nodes {
		if offset == n.offset {
			out := append([]*foldNode{}, nodes[:i]...)
			out = append(out, leaf)
			return append(out, nodes[i:]...), nil
		}
		if offset > n.offset && offset < n.offset+n.length {
			if n.kind != nodeRaw {
				return nil, fmt.Errorf("%w: zero-length leaf at %d overlaps an already-placed region", ErrOverlap, offset)
			}
			return splitRawInsertLeaf(nodes, i, offset, 0, region), nil
		}
	}
	return nil, fmt.Errorf("%w: offset %d not covered by any region", ErrTruncated, offset)
}

func splitRawInsertLeaf(nodes []*foldNode, i int, offset, length uint64, region DataRegion) []*foldNode {
	n := nodes[i]
	prefixLen := offset - n.offset
	suffixOffset := offset + length
	suffixLen := n.offset + n.length - suffixOffset

	var replacement []*foldNode
	if prefixLen > 0 {
		replacement = append(replacement, &foldNode{kind: nodeRaw, offset: n.offset, length: prefixLen, raw: n.raw[:prefixLen]})
	}
	replacement = append(replacement, &foldNode{kind: nodeLeaf, offset: offset, length: length, region: region})
	if suffixLen > 0 {
		replacement = append(replacement, &foldNode{kind: nodeRaw, offset: suffixOffset, length: suffixLen, raw: n.raw[prefixLen+length:]})
	}

	out := make([]*foldNode, 0, len(nodes)-1+len(replacement))
	out = append(out, nodes[:i]...)
	out = append(out, replacement...)
	out = append(out, nodes[i+1:]...)
	return out
}

// insertSegment wraps the contiguous run of already-placed nodes spanning
// [offset, offset+length) into a single segment node, recursing into an
// existing segment when the range lies entirely inside one (spec §4.5:
// insert_segment).
func insertSegment(nodes []*foldNode, offset, length uint64, seg *Segment) ([]*foldNode, error) {
	for _, n := range nodes {
		if n.kind != nodeSegment {
			continue
		}
		nstart, nend := n.offset, n.offset+n.length
		exact := offset == nstart && offset+length == nend
		if offset >= nstart && offset+length <= nend && !exact {
			nested, err := insertSegment(n.nested, offset, length, seg)
			if err != nil {
				return nil, err
			}
			n.nested = nested
			return nodes, nil
		}
	}

	nodes, startIdx, err := ensureBoundary(nodes, offset, 0)
	if err != nil {
		return nil, err
	}
	nodes, endIdx, err := ensureBoundary(nodes, offset+length, startIdx)
	if err != nil {
		return nil, err
	}

	nested := append([]*foldNode{}, nodes[startIdx:endIdx]...)
	segNode := &foldNode{kind: nodeSegment, offset: offset, length: length, segment: seg, nested: nested}

	out := make([]*foldNode, 0, len(nodes)-len(nested)+1)
	out = append(out, nodes[:startIdx]...)
	out = append(out, segNode)
	out = append(out, nodes[endIdx:]...)
	return out, nil
}

// ensureBoundary guarantees some index >= fromIndex has offset == pos,
// splitting a covering Raw node if necessary, and returns that index.
func ensureBoundary(nodes []*foldNode, pos uint64, fromIndex int) ([]*foldNode, int, error) {
	for idx := fromIndex; idx < len(nodes); idx++ {
		n := nodes[idx]
		if n.offset == pos {
			return nodes, idx, nil
		}
		if n.offset < pos && pos < n.offset+n.length {
			if n.kind != nodeRaw {
				return nil, 0, fmt.Errorf("%w: segment boundary at %d splits an already-placed region", ErrOverlap, pos)
			}
			prefixLen := pos - n.offset
			left := &foldNode{kind: nodeRaw, offset: n.offset, length: prefixLen, raw: n.raw[:prefixLen]}
			right := &foldNode{kind: nodeRaw, offset: pos, length: n.length - prefixLen, raw: n.raw[prefixLen:]}
			out := make([]*foldNode, 0, len(nodes)+1)
			out = append(out, nodes[:idx]...)
			out = append(out, left, right)
			out = append(out, nodes[idx+1:]...)
			return out, idx + 1, nil
		}
	}
	if len(nodes) == 0 && pos == 0 {
		return nodes, 0, nil
	}
	if pos == totalLength(nodes) {
		return nodes, len(nodes), nil
	}
	return nil, 0, fmt.Errorf("%w: segment boundary at %d runs off the end", ErrTruncated, pos)
}

func foldNodesToRegions(nodes []*foldNode) []DataRegion {
	out := make([]DataRegion, 0, len(nodes))
	for _, n := range nodes {
		switch n.kind {
		case nodeRaw:
			if n.length == 0 {
				continue
			}
			out = append(out, &RawRegion{Data: n.raw})
		case nodeLeaf:
			out = append(out, n.region)
		case nodeSegment:
			n.segment.Regions = foldNodesToRegions(n.nested)
			out = append(out, n.segment)
		}
	}
	return out
}
