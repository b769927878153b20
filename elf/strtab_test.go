package elf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildStringTable_EmptyAtOffsetZero(t *testing.T) {
	bytes, _ := BuildStringTable([]string{".text", ".data"})
	require.Equal(t, byte(0), bytes[0])
}

func TestBuildStringTable_LookupRoundTrip(t *testing.T) {
	ss := []string{".text", ".data", ".rodata", ".bss", ".shstrtab"}
	bytes, offsets := BuildStringTable(ss)
	for _, s := range ss {
		off, ok := offsets[s]
		require.True(t, ok, "missing offset for %q", s)
		require.Equal(t, s, string(LookupString(off, bytes)))
	}
	require.Equal(t, "", string(LookupString(offsets[""], bytes)))
}

func TestBuildStringTable_SuffixSharing(t *testing.T) {
	bytes, offsets := BuildStringTable([]string{"", ".text", ".data", "text"})
	require.Equal(t, offsets[".text"]+1, offsets["text"])
	require.Equal(t, ".text", string(LookupString(offsets[".text"], bytes)))
	require.Equal(t, "text", string(LookupString(offsets["text"], bytes)))
}

func TestBuildStringTable_MultipleSurvivorsShareNoSuffix(t *testing.T) {
	// "xabc" and "yabc" both have "abc" as a true suffix but neither
	// subsumes the other, so both must be written out in full.
	bytes, offsets := BuildStringTable([]string{"xabc", "yabc"})
	require.Equal(t, "xabc", string(LookupString(offsets["xabc"], bytes)))
	require.Equal(t, "yabc", string(LookupString(offsets["yabc"], bytes)))
	require.NotEqual(t, offsets["xabc"], offsets["yabc"])
}
