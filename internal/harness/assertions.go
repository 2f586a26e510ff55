package harness

import (
	"fmt"
	"strings"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Subject  string
	Expected any
	Actual   any
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assertion failed: %s", e.Type)
	if e.Subject != "" {
		fmt.Fprintf(&b, " (%s)", e.Subject)
	}
	fmt.Fprintf(&b, "\n  Expected: %v\n  Actual:   %v", e.Expected, e.Actual)
	return b.String()
}
