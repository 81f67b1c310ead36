package httpapi

import "context"

// FuncChecker adapts a plain func() error into a Checker, letting the
// caller avoid a one-off type for every health probe.
type FuncChecker func() error

// CheckHealth implements Checker.
func (f FuncChecker) CheckHealth(ctx context.Context) error { return f() }
