package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenariosGolden(t *testing.T) {
	scenarios, err := LoadScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.Len(t, scenarios, 5)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			r := RunWithGolden(t, s)
			assert.True(t, r.Pass, "errors: %v", r.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "undo_redo.yaml"))
	require.NoError(t, err)

	r1, err := Run(context.Background(), s)
	require.NoError(t, err)
	r2, err := Run(context.Background(), s)
	require.NoError(t, err)

	b1, err := Snapshot(s.Name, r1)
	require.NoError(t, err)
	b2, err := Snapshot(s.Name, r2)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestRun_FailedAssertion(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong
steps:
  - op: record
    kind: create
    id: "1"
assertions:
  - type: pending_count
    count: 5
  - type: entity_status
    id: "1"
    status: READY
`))
	require.NoError(t, err)

	r, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, r.Pass)
	require.Len(t, r.Errors, 2)
	assert.Contains(t, r.Errors[0], "pending_count")
	assert.Contains(t, r.Errors[0], "Expected: 5")
	assert.Contains(t, r.Errors[1], "entity_status (1)")
}

func TestRun_UnexpectedStepError(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: dup
steps:
  - op: record
    kind: create
    id: "1"
  - op: record
    kind: create
    id: "1"
`))
	require.NoError(t, err)

	r, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, r.Pass)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], "steps[1] record: unexpected error")
	assert.Equal(t, "INVALID_EFFECT", r.Trace[1].Error)
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: missing
steps:
  - op: record
    kind: create
    id: "1"
    expect_error: INVALID_EFFECT
`))
	require.NoError(t, err)

	r, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, r.Pass)
	assert.Contains(t, r.Errors[0], "expected error INVALID_EFFECT")
}

func TestRun_UpdateMergesFields(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: update
steps:
  - op: record
    kind: create
    id: "1"
    fields:
      name: burger
  - op: record
    kind: update
    id: "1"
    status: READY
    fields:
      note: "no onions"
assertions:
  - type: entity_status
    id: "1"
    status: READY
`))
	require.NoError(t, err)

	r, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.True(t, r.Pass, "errors: %v", r.Errors)

	require.Len(t, r.Final.Entities, 1)
	fields := r.Final.Entities[0].Fields
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "note")
}
