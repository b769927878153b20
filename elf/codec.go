package elf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Wire-layout structs, one per class, mirroring the ELF spec's bit-exact
// records (spec §6). encoding/binary.Read/Write do the per-field
// projection; the struct's field order IS the record's field order.

type identHeader struct {
	Magic      [4]byte
	Class      uint8
	Data       uint8
	Version    uint8
	OSABI      uint8
	ABIVersion uint8
	Pad        [7]byte
}

const identSize = 16

type ehdrRest32 struct {
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	PhOff     uint32
	ShOff     uint32
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrNdx  uint16
}

type ehdrRest64 struct {
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrNdx  uint16
}

const (
	ehdrSize32 = identSize + 36
	ehdrSize64 = identSize + 48
	phdrSize32 = 32
	phdrSize64 = 56
	shdrSize32 = 40
	shdrSize64 = 64
)

type phdr32 struct {
	Type   uint32
	Offset uint32
	VAddr  uint32
	PAddr  uint32
	FileSz uint32
	MemSz  uint32
	Flags  uint32
	Align  uint32
}

// phdr64 follows ELF-64's field order: Flags moves next to Type.
type phdr64 struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

type shdr32 struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	AddrAlign uint32
	EntSize   uint32
}

type shdr64 struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

type sym32 struct {
	Name  uint32
	Value uint32
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

type sym64 struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

type rel32 struct {
	Offset uint32
	Info   uint32
}

type rel64 struct {
	Offset uint64
	Info   uint64
}

type rela32 struct {
	Offset uint32
	Info   uint32
	Addend int32
}

type rela64 struct {
	Offset uint64
	Info   uint64
	Addend int64
}

func byteOrder(d FileEndian) (binary.ByteOrder, error) {
	switch d {
	case ELFDATA2LSB:
		return binary.LittleEndian, nil
	case ELFDATA2MSB:
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("%w: data encoding %d", ErrBadData, uint8(d))
	}
}

func ehdrSize(class FileClass) int {
	if class == ELFCLASS64 {
		return ehdrSize64
	}
	return ehdrSize32
}

func phdrSize(class FileClass) int {
	if class == ELFCLASS64 {
		return phdrSize64
	}
	return phdrSize32
}

func shdrSize(class FileClass) int {
	if class == ELFCLASS64 {
		return shdrSize64
	}
	return shdrSize32
}

func symSize(class FileClass) int {
	if class == ELFCLASS64 {
		return int(binary.Size(sym64{}))
	}
	return int(binary.Size(sym32{}))
}

func relSize(class FileClass, withAddend bool) int {
	if class == ELFCLASS64 {
		if withAddend {
			return int(binary.Size(rela64{}))
		}
		return int(binary.Size(rel64{}))
	}
	if withAddend {
		return int(binary.Size(rela32{}))
	}
	return int(binary.Size(rel32{}))
}

// readStruct decodes a fixed-width record from buf at the reader's current
// position, translating a short read into ErrTruncated.
func readStruct(r io.Reader, order binary.ByteOrder, v any) error {
	if err := binary.Read(r, order, v); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrTruncated
		}
		return err
	}
	return nil
}

func writeStruct(w io.Writer, order binary.ByteOrder, v any) error {
	return binary.Write(w, order, v)
}

// slice returns buf[off:off+n], failing with ErrTruncated instead of
// panicking when the range runs off the end of buf.
func slice(buf []byte, off, n uint64) ([]byte, error) {
	if off > uint64(len(buf)) || n > uint64(len(buf))-off {
		return nil, fmt.Errorf("%w: range [%d:%d) exceeds buffer of length %d", ErrTruncated, off, off+n, len(buf))
	}
	return buf[off : off+n], nil
}

func newReader(buf []byte) *bytes.Reader { return bytes.NewReader(buf) }
