package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/kitchensync/internal/ir"
)

// Snapshot renders a result as canonical JSON: the scenario name, every
// trace event and the final state. Timestamps never appear, so snapshots
// are stable across runs.
func Snapshot(name string, r *Result) ([]byte, error) {
	trace := make(ir.Array, len(r.Trace))
	for i, ev := range r.Trace {
		trace[i] = ev.Object()
	}
	return ir.MarshalCanonical(ir.Object{
		"scenario": ir.String(name),
		"trace":    trace,
		"final":    r.Final.Object(),
	})
}

// AssertGolden compares the result snapshot with testdata/golden/<name>.golden.
// Run tests with -update to rewrite the golden files.
func AssertGolden(t *testing.T, name string, r *Result) {
	t.Helper()

	data, err := Snapshot(name, r)
	if err != nil {
		t.Fatalf("failed to snapshot %s: %v", name, err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

// RunWithGolden runs the scenario, fails the test on assertion errors and
// compares the snapshot with its golden file.
func RunWithGolden(t *testing.T, s *Scenario) *Result {
	t.Helper()

	r, err := Run(context.Background(), s)
	if err != nil {
		t.Fatalf("failed to run scenario %s: %v", s.Name, err)
	}
	for _, e := range r.Errors {
		t.Errorf("%s: %s", s.Name, e)
	}
	AssertGolden(t, s.Name, r)
	return r
}
