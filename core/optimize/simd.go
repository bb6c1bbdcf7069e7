// Package optimize provides a CPU-feature-dispatched fast path for
// comparing route segments, used by core/router's path tree when
// matching static segments against long, case-sensitive paths. The
// dispatch shape (feature flags read at startup, branch to a
// build-tagged comparator) mirrors a real AVX2/NEON string-compare
// kernel, but no assembly file ships in this module, so every
// build-tagged comparator falls back to a plain compare; the
// golang.org/x/sys/cpu flags still gate the dispatch so the seam is
// exercised, not dead code.
package optimize

import "golang.org/x/sys/cpu"

// Wide-register feature flags, read once at package init. NEON
// (ASIMD) is baseline on ARMv8; AVX2 must be advertised on x86-64.
var (
	useAVX2 = cpu.X86.HasAVX2
	useNEON = cpu.ARM64.HasASIMD
)

// ComparePathSIMD reports whether two path segments are equal,
// dispatching to the wide comparator once the strings are long enough
// that a register-width compare would pay for itself.
func ComparePathSIMD(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) < 16 {
		return a == b
	}
	if useNEON {
		return comparePathNEON(a, b)
	}
	if useAVX2 {
		return comparePathAVX2(a, b)
	}
	return a == b
}
