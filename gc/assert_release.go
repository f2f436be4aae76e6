//go:build marrowrelease

package gc

const strictChecks = false

func assertf(cond bool, format string, args ...any) {}
