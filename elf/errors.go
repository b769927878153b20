package elf

import "errors"

// Parse-time error taxonomy, spec §7. Each is a sentinel so callers can
// match with errors.Is; callers see them wrapped with positional context
// via fmt.Errorf("...: %w", ...).
var (
	ErrBadMagic     = errors.New("elf: bad magic")
	ErrBadVersion   = errors.New("elf: bad version")
	ErrBadClass     = errors.New("elf: bad class")
	ErrBadData      = errors.New("elf: bad data encoding")
	ErrBadHeaderSize = errors.New("elf: bad header size")
	ErrTruncated    = errors.New("elf: truncated")
	ErrOverlap      = errors.New("elf: overlapping region")
	ErrBadSymbol    = errors.New("elf: bad symbol")
)

// InvalidTree is the panic value raised by the renderer when the region
// tree violates an invariant the renderer cannot recover from (spec §7:
// "a tree that violates invariants is considered a programming error and
// panics with InvalidTree"). It is a typed value, not a bare string, so a
// caller running Render in a recoverable context can distinguish it from
// any other panic.
type InvalidTree struct {
	Reason string
}

func (e InvalidTree) Error() string { return "elf: invalid region tree: " + e.Reason }

func panicInvalidTree(reason string) {
	panic(InvalidTree{Reason: reason})
}
