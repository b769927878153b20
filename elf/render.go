package elf

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RenderResult is the output of Render: the serialized file plus a side
// table describing where each segment's bytes landed (spec §4.6).
type RenderResult struct {
	Bytes            []byte
	RenderedSegments []RenderedSegment
}

// RenderedSegment records the file range a Segment's nested regions
// actually occupied once rendered.
type RenderedSegment struct {
	Segment  *Segment
	Offset   uint64
	FileSize uint64
	Bytes    []byte
}

type segDescriptor struct {
	seg      *Segment
	offset   uint64
	filesize uint64
}

type layout struct {
	phdrTableOffset      uint64
	shdrTableOffset      uint64
	shstrndx             uint16
	preLoadPhdrs         []segDescriptor
	phdrs                []segDescriptor
	sectionHeaderRecords [][]byte
}

// Render serializes e's region tree back into bytes (spec §4.6). The ELF
// header's own phoff/shoff/phnum/shnum/shstrndx fields depend on
// everything rendered after it, so rendering runs in two passes: the
// first walk emits the real content of every region, reserving
// correctly-sized zero-filled placeholders for the header and the
// phdr/shdr tables (their final sizes are known up front from the tree
// shape, independent of any offsets); the second pass patches those
// three placeholder spans in place now that the layout they depend on
// has been fully computed. No byte written by the first pass outside
// those three spans ever moves, so patching is equivalent to, and
// cheaper than, re-walking the tree from scratch.
func Render(e *Elf) (RenderResult, error) {
	order, err := e.ByteOrder()
	if err != nil {
		return RenderResult{}, err
	}
	class := e.Class

	st := scanTree(e.Regions)
	validateTree(st)
	totalPhnum := st.segmentCount
	totalShnum := st.sectionCount + st.nameTableCount

	var names []string
	WalkSections(e.Regions, func(s *Section) { names = append(names, s.Name) })
	names = append(names, ".shstrtab")
	nameTableBytes, nameOffsets := BuildStringTable(names)

	lay := &layout{}
	out := make([]byte, 0, 4096)

	var emit func([]DataRegion) error
	var emitSection func(*Section) error

	emitSection = func(sec *Section) error {
		aligned := alignUp(uint64(len(out)), sec.AddrAlign)
		if aligned > uint64(len(out)) {
			out = append(out, make([]byte, aligned-uint64(len(out)))...)
		}
		offset := uint64(len(out))
		var fileSize uint64
		if sec.Type.HasDataInFile() {
			out = append(out, sec.Data...)
			fileSize = uint64(len(sec.Data))
		} else {
			fileSize = sec.Size
		}
		rec, err := buildShdrRecord(class, order, sec, offset, fileSize, nameOffsets[sec.Name])
		if err != nil {
			return err
		}
		lay.sectionHeaderRecords = append(lay.sectionHeaderRecords, rec)
		return nil
	}

	emit = func(regions []DataRegion) error {
		for _, r := range regions {
			switch v := r.(type) {
			case elfHeaderRegion:
				out = append(out, make([]byte, ehdrSize(class))...)
			case segmentHeadersRegion:
				lay.phdrTableOffset = uint64(len(out))
				out = append(out, make([]byte, totalPhnum*phdrSize(class))...)
			case sectionHeadersRegion:
				lay.shdrTableOffset = uint64(len(out))
				out = append(out, make([]byte, totalShnum*shdrSize(class))...)
			case sectionNameTableRegion:
				lay.shstrndx = uint16(len(lay.sectionHeaderRecords))
				if err := emitSection(&Section{Name: ".shstrtab", Type: SHT_STRTAB, Data: nameTableBytes, AddrAlign: 1}); err != nil {
					return err
				}
			case *Section:
				if err := emitSection(v); err != nil {
					return err
				}
			case *Segment:
				start := uint64(len(out))
				if err := emit(v.Regions); err != nil {
					return err
				}
				desc := segDescriptor{seg: v, offset: start, filesize: uint64(len(out)) - start}
				if v.Type.IsPreLoad() {
					lay.preLoadPhdrs = append(lay.preLoadPhdrs, desc)
				} else {
					lay.phdrs = append(lay.phdrs, desc)
				}
			case *RawRegion:
				out = append(out, v.Data...)
			default:
				panicInvalidTree(fmt.Sprintf("unrenderable region type %T", r))
			}
		}
		return nil
	}

	if err := emit(e.Regions); err != nil {
		return RenderResult{}, err
	}

	descs := make([]segDescriptor, 0, len(lay.preLoadPhdrs)+len(lay.phdrs))
	descs = append(descs, lay.preLoadPhdrs...)
	descs = append(descs, lay.phdrs...)

	header, err := buildHeaderBytes(e, class, order, lay.phdrTableOffset, lay.shdrTableOffset, uint16(totalPhnum), uint16(totalShnum), lay.shstrndx)
	if err != nil {
		return RenderResult{}, err
	}
	copy(out[:len(header)], header)

	if totalPhnum > 0 {
		var phdrBytes []byte
		for _, d := range descs {
			rec, err := buildPhdrRecord(class, order, d.seg, d.offset, d.filesize)
			if err != nil {
				return RenderResult{}, err
			}
			phdrBytes = append(phdrBytes, rec...)
		}
		copy(out[lay.phdrTableOffset:], phdrBytes)
	}

	if totalShnum > 0 {
		var shdrBytes []byte
		for _, rec := range lay.sectionHeaderRecords {
			shdrBytes = append(shdrBytes, rec...)
		}
		copy(out[lay.shdrTableOffset:], shdrBytes)
	}

	renderedSegs := make([]RenderedSegment, 0, len(descs))
	for _, d := range descs {
		renderedSegs = append(renderedSegs, RenderedSegment{
			Segment: d.seg, Offset: d.offset, FileSize: d.filesize,
			Bytes: out[d.offset : d.offset+d.filesize],
		})
	}

	return RenderResult{Bytes: out, RenderedSegments: renderedSegs}, nil
}

func alignUp(x, align uint64) uint64 {
	if align <= 1 {
		return x
	}
	return (x + align - 1) / align * align
}

func buildShdrRecord(class FileClass, order binary.ByteOrder, sec *Section, offset, fileSize uint64, nameOff uint32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if class == ELFCLASS64 {
		rec := shdr64{
			Name: nameOff, Type: uint32(sec.Type), Flags: uint64(sec.Flags),
			Addr: sec.Addr, Offset: offset, Size: fileSize,
			Link: sec.Link, Info: sec.Info, AddrAlign: sec.AddrAlign, EntSize: sec.EntSize,
		}
		if err := writeStruct(buf, order, &rec); err != nil {
			return nil, err
		}
	} else {
		rec := shdr32{
			Name: nameOff, Type: uint32(sec.Type), Flags: uint32(sec.Flags),
			Addr: uint32(sec.Addr), Offset: uint32(offset), Size: uint32(fileSize),
			Link: sec.Link, Info: sec.Info, AddrAlign: uint32(sec.AddrAlign), EntSize: uint32(sec.EntSize),
		}
		if err := writeStruct(buf, order, &rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func buildPhdrRecord(class FileClass, order binary.ByteOrder, seg *Segment, offset, fileSize uint64) ([]byte, error) {
	buf := new(bytes.Buffer)
	if class == ELFCLASS64 {
		rec := phdr64{
			Type: uint32(seg.Type), Flags: uint32(seg.Flags),
			Offset: offset, VAddr: seg.VAddr, PAddr: seg.PAddr,
			FileSz: fileSize, MemSz: seg.MemSize, Align: seg.Align,
		}
		if err := writeStruct(buf, order, &rec); err != nil {
			return nil, err
		}
	} else {
		rec := phdr32{
			Type: uint32(seg.Type), Offset: uint32(offset),
			VAddr: uint32(seg.VAddr), PAddr: uint32(seg.PAddr),
			FileSz: uint32(fileSize), MemSz: uint32(seg.MemSize),
			Flags: uint32(seg.Flags), Align: uint32(seg.Align),
		}
		if err := writeStruct(buf, order, &rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func buildHeaderBytes(e *Elf, class FileClass, order binary.ByteOrder, phOff, shOff uint64, phnum, shnum, shstrndx uint16) ([]byte, error) {
	buf := new(bytes.Buffer)
	ih := identHeader{
		Magic: elfMagic, Class: uint8(class), Data: uint8(e.Endian),
		Version: e.Version, OSABI: uint8(e.OSABI), ABIVersion: e.ABIVersion,
	}
	if err := writeStruct(buf, binary.BigEndian, &ih); err != nil {
		return nil, err
	}
	if class == ELFCLASS64 {
		rest := ehdrRest64{
			Type: uint16(e.Type), Machine: uint16(e.Machine), Version: 1,
			Entry: e.Entry, PhOff: phOff, ShOff: shOff, Flags: e.Flags,
			EhSize: uint16(ehdrSize64), PhEntSize: uint16(phdrSize64), PhNum: phnum,
			ShEntSize: uint16(shdrSize64), ShNum: shnum, ShStrNdx: shstrndx,
		}
		if err := writeStruct(buf, order, &rest); err != nil {
			return nil, err
		}
	} else {
		rest := ehdrRest32{
			Type: uint16(e.Type), Machine: uint16(e.Machine), Version: 1,
			Entry: uint32(e.Entry), PhOff: uint32(phOff), ShOff: uint32(shOff), Flags: e.Flags,
			EhSize: uint16(ehdrSize32), PhEntSize: uint16(phdrSize32), PhNum: phnum,
			ShEntSize: uint16(shdrSize32), ShNum: shnum, ShStrNdx: shstrndx,
		}
		if err := writeStruct(buf, order, &rest); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// --- tree validation ---------------------------------------------------

type treeStats struct {
	segmentCount  int
	sectionCount  int
	elfHeaderCount, segHdrCount, secHdrCount, nameTableCount int
}

func scanTree(regions []DataRegion) treeStats {
	var st treeStats
	var walk func([]DataRegion)
	walk = func(rs []DataRegion) {
		for _, r := range rs {
			switch v := r.(type) {
			case elfHeaderRegion:
				st.elfHeaderCount++
			case segmentHeadersRegion:
				st.segHdrCount++
			case sectionHeadersRegion:
				st.secHdrCount++
			case sectionNameTableRegion:
				st.nameTableCount++
			case *Section:
				st.sectionCount++
			case *Segment:
				st.segmentCount++
				walk(v.Regions)
			}
		}
	}
	walk(regions)
	return st
}

func validateTree(st treeStats) {
	if st.elfHeaderCount != 1 {
		panicInvalidTree(fmt.Sprintf("expected exactly one ElfHeader region, found %d", st.elfHeaderCount))
	}
	if st.nameTableCount != 1 {
		panicInvalidTree(fmt.Sprintf("expected exactly one SectionNameTable region, found %d", st.nameTableCount))
	}
	if st.segHdrCount > 1 {
		panicInvalidTree("more than one SegmentHeaders region")
	}
	if st.secHdrCount != 1 {
		panicInvalidTree(fmt.Sprintf("expected exactly one SectionHeaders region, found %d", st.secHdrCount))
	}
	if st.segmentCount > 0 && st.segHdrCount == 0 {
		panicInvalidTree("segments present without a SegmentHeaders region")
	}
}
