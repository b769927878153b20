package elf

import (
	"bytes"
	"sort"
)

// BuildStringTable builds a deduplicated, suffix-compressed null-terminated
// string pool from strings (spec §4.3). The returned bytes are valid
// section contents for .shstrtab or any other STRTAB-typed section; the
// returned map gives, for every string in the input (and the empty
// string, always present at offset 0), the byte offset of its
// null-terminated representation within the returned buffer.
//
// Suffix compression: strings are reversed, sorted, and any reversed
// string that is a byte-prefix of its sorted successor is dropped — its
// bytes (unreversed, that's a *suffix* of the successor's bytes) are
// shared with that successor instead of being written out separately.
func BuildStringTable(strings []string) ([]byte, map[string]uint32) {
	unique := make(map[string]bool)
	var names []string
	for _, s := range strings {
		if s == "" || unique[s] {
			continue
		}
		unique[s] = true
		names = append(names, s)
	}

	type entry struct {
		orig     string
		reversed []byte
	}
	entries := make([]entry, len(names))
	for i, s := range names {
		entries[i] = entry{orig: s, reversed: reverseBytes([]byte(s))}
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].reversed, entries[j].reversed) < 0
	})

	n := len(entries)
	retained := make([]bool, n)
	successor := make([]int, n)
	for i := n - 1; i >= 0; i-- {
		if i == n-1 || !bytes.HasPrefix(entries[i+1].reversed, entries[i].reversed) {
			retained[i] = true
			successor[i] = i
		} else {
			retained[i] = false
			successor[i] = successor[i+1]
		}
	}

	buf := []byte{0} // the empty string always occupies offset 0
	offsets := make([]uint32, n)
	for i := 0; i < n; i++ {
		if !retained[i] {
			continue
		}
		offsets[i] = uint32(len(buf))
		buf = append(buf, []byte(entries[i].orig)...)
		buf = append(buf, 0)
	}

	result := make(map[string]uint32, len(strings)+1)
	result[""] = 0
	for i, e := range entries {
		surv := successor[i]
		survOffset := offsets[surv]
		survLen := len(entries[surv].orig)
		result[e.orig] = survOffset + uint32(survLen-len(e.orig))
	}

	return buf, result
}

// LookupString returns the bytes of the null-terminated string starting at
// offset (not including the terminator), per spec §4.3.
func LookupString(offset uint32, data []byte) []byte {
	if int(offset) >= len(data) {
		return nil
	}
	end := int(offset)
	for end < len(data) && data[end] != 0 {
		end++
	}
	return data[offset:end]
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}
