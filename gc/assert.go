//go:build !marrowrelease

package gc

import "fmt"

// strictChecks enables invariant assertions. Build with -tags marrowrelease
// to compile them out.
const strictChecks = true

// assertf panics when an internal invariant does not hold. Violations are
// programmer errors in the collector or in a collaborator's trace hook.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("gc: " + fmt.Sprintf(format, args...))
	}
}
