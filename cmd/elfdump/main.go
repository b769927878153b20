// Command elfdump inspects and edits ELF object files using the elfedit
// library: it parses an input file into a region tree, optionally edits
// it (section removal, reachability-based garbage collection), and
// re-renders it.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"elfedit/elf"
)

type flags struct {
	LogLevel string `kong:"enum='error,warn,info,debug',help='Log level.',default='info'"`

	Inspect struct {
		Path    string `kong:"arg,required,help='ELF file to inspect.'"`
		Symbols bool   `kong:"help='Also print the symbol table view.'"`
	} `cmd:"" help:"Print the header, sections, and segments of an ELF file."`

	Strip struct {
		Path    string   `kong:"arg,required,help='Input ELF file.'"`
		Output  string   `kong:"arg,required,help='Output ELF file.'"`
		Remove  []string `kong:"help='Section names to remove.'"`
	} `cmd:"" help:"Remove named sections and re-render the file."`

	GC struct {
		Path   string   `kong:"arg,required,help='Input ELF file.'"`
		Output string   `kong:"arg,required,help='Output ELF file.'"`
		Roots  []string `kong:"required,help='Section names to keep; everything unreachable from them is dropped.'"`
	} `cmd:"" help:"Garbage-collect sections unreachable from a root set."`
}

func main() {
	var f flags
	ctx := kong.Parse(&f)

	logger := log.NewLogfmtLogger(os.Stderr)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = level.NewFilter(logger, levelOption(f.LogLevel))

	var err error
	switch ctx.Command() {
	case "inspect <path>":
		err = runInspect(logger, f.Inspect.Path, f.Inspect.Symbols)
	case "strip <path> <output>":
		err = runStrip(logger, f.Strip.Path, f.Strip.Output, f.Strip.Remove)
	case "gc <path> <output>":
		err = runGC(logger, f.GC.Path, f.GC.Output, f.GC.Roots)
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", ctx.Command())
		os.Exit(1)
	}
	if err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}
}

func levelOption(name string) level.Option {
	switch name {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

func readElf(logger log.Logger, path string) (*elf.Elf, []byte, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	level.Debug(logger).Log("msg", "read file", "path", path, "size", humanize.Bytes(uint64(len(buf))))
	e, err := elf.Parse(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return e, buf, nil
}

func runInspect(logger log.Logger, path string, withSymbols bool) error {
	e, _, err := readElf(logger, path)
	if err != nil {
		return err
	}

	fmt.Printf("class=%s endian=%s type=%s machine=%s osabi=%s entry=%#x\n",
		e.Class, e.Endian, e.Type, e.Machine, e.OSABI, e.Entry)

	list := elf.SectionList(e.Regions)
	fmt.Printf("\nsections (%d):\n", len(list))
	for i, sec := range list {
		fmt.Printf("  [%2d] %-20s %-14s %-4s size=%-10s addr=%#x\n",
			i+1, sec.Name, sec.Type, sec.Flags, humanize.Bytes(uint64(len(sec.Data))), sec.Addr)
	}

	var segCount int
	printSegments(e.Regions, &segCount)
	fmt.Printf("\nsegments (%d)\n", segCount)

	if withSymbols {
		syms, err := elf.ParseSymbolTables(e)
		if err != nil {
			return fmt.Errorf("parse symbol tables: %w", err)
		}
		fmt.Printf("\nsymbols (%d):\n", len(syms))
		for _, sym := range syms {
			fmt.Printf("  %-20s type=%-10s bind=%-10s value=%#x size=%s\n",
				string(sym.Name), sym.Type, sym.Binding, sym.Value, humanize.Bytes(sym.Size))
		}
	}
	return nil
}

func printSegments(regions []elf.DataRegion, count *int) {
	for _, r := range regions {
		if seg, ok := r.(*elf.Segment); ok {
			*count++
			fmt.Printf("  %-10s %-4s vaddr=%#x memsz=%s align=%d\n",
				seg.Type, seg.Flags, seg.VAddr, humanize.Bytes(seg.MemSize), seg.Align)
			printSegments(seg.Regions, count)
		}
	}
}

func runStrip(logger log.Logger, path, output string, remove []string) error {
	e, _, err := readElf(logger, path)
	if err != nil {
		return err
	}
	for _, name := range remove {
		name := strings.TrimSpace(name)
		before := len(elf.SectionList(e.Regions))
		e.Regions = elf.RemoveSectionByName(e.Regions, name)
		if len(elf.SectionList(e.Regions)) == before {
			level.Warn(logger).Log("msg", "section not found", "name", name)
		}
	}
	return renderAndWrite(logger, e, output)
}

func runGC(logger log.Logger, path, output string, roots []string) error {
	e, _, err := readElf(logger, path)
	if err != nil {
		return err
	}
	rootSet := make(map[*elf.Section]bool)
	for _, sec := range elf.SectionList(e.Regions) {
		for _, name := range roots {
			if sec.Name == strings.TrimSpace(name) {
				rootSet[sec] = true
			}
		}
	}
	before := len(elf.SectionList(e.Regions))
	if err := elf.GCSections(e, rootSet); err != nil {
		return fmt.Errorf("gc sections: %w", err)
	}
	after := len(elf.SectionList(e.Regions))
	level.Info(logger).Log("msg", "garbage collected sections", "before", before, "after", after)
	return renderAndWrite(logger, e, output)
}

func renderAndWrite(logger log.Logger, e *elf.Elf, output string) error {
	result, err := elf.Render(e)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := os.WriteFile(output, result.Bytes, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	level.Info(logger).Log("msg", "wrote file", "path", output, "size", humanize.Bytes(uint64(len(result.Bytes))))
	return nil
}
