package httpparse

import "golang.org/x/sys/cpu"

// useAVX2 and useNEON record whether the running CPU advertises the
// wide-register features the fast comparator would exploit. The
// dispatch mirrors optimize.ComparePathSIMD's feature gating; the
// wide path is plain Go until an assembly comparator lands.
var (
	useAVX2 = cpu.X86.HasAVX2
	useNEON = cpu.ARM64.HasASIMD
)

// equalFoldFast is the hot path used by Header.Get and ParseHeaderLine for matching
// well-known header names (Content-Length, Transfer-Encoding, Host,
// Connection, Expect) against the parsed field name. Short names skip
// the feature check entirely; it only matters once names are long
// enough that a wide-register compare would pay for itself.
func equalFoldFast(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) < 16 || (!useAVX2 && !useNEON) {
		return equalFold(a, b)
	}
	return equalFoldWide(a, b)
}

// equalFoldWide is the "wide" comparator path selected when the CPU
// advertises AVX2 or NEON. It is not actually vectorized (see above)
// but is kept separate from equalFold so a future assembly
// implementation has an obvious seam to drop into.
func equalFoldWide(a, b string) bool {
	return equalFold(a, b)
}
