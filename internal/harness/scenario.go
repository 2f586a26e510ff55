package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of engine operations plus the assertions
// that must hold afterwards.
type Scenario struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Config      Config      `yaml:"config,omitempty"`
	Steps       []Step      `yaml:"steps"`
	Assertions  []Assertion `yaml:"assertions"`
}

// Config overrides engine defaults for one scenario. Durations use
// time.ParseDuration syntax.
type Config struct {
	MaxHistory int    `yaml:"max_history,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
	BaseDelay  string `yaml:"base_delay,omitempty"`
	MaxDelay   string `yaml:"max_delay,omitempty"`
	Resource   string `yaml:"resource,omitempty"`
}

// Step is one scripted operation.
type Step struct {
	Op string `yaml:"op"`

	// record
	Kind   string         `yaml:"kind,omitempty"`
	ID     string         `yaml:"id,omitempty"`
	IDs    []string       `yaml:"ids,omitempty"`
	Status string         `yaml:"status,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`

	// backend_fail: failures to inject, 0 for every request.
	Count int `yaml:"count,omitempty"`

	// remote_update: offset of the remote updated_at from the fake clock.
	After string `yaml:"after,omitempty"`

	// advance
	Duration string `yaml:"duration,omitempty"`

	// ExpectError is the engine error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion checks the engine after all steps ran.
type Assertion struct {
	Type    string   `yaml:"type"`
	Count   *int     `yaml:"count,omitempty"`
	Actions []string `yaml:"actions,omitempty"`
	Action  string   `yaml:"action,omitempty"`
	ID      string   `yaml:"id,omitempty"`
	Status  string   `yaml:"status,omitempty"`
	Reason  string   `yaml:"reason,omitempty"`
	Value   *bool    `yaml:"value,omitempty"`
}

// Step ops.
const (
	opRecord         = "record"
	opUndo           = "undo"
	opRedo           = "redo"
	opOffline        = "offline"
	opOnline         = "online"
	opSync           = "sync"
	opForceSync      = "force_sync"
	opRetry          = "retry"
	opClearErrors    = "clear_errors"
	opReconcile      = "reconcile"
	opBackendFail    = "backend_fail"
	opBackendRecover = "backend_recover"
	opRemoteUpdate   = "remote_update"
	opAdvance        = "advance"
)

var validOps = []string{
	opRecord, opUndo, opRedo, opOffline, opOnline, opSync, opForceSync,
	opRetry, opClearErrors, opReconcile, opBackendFail, opBackendRecover,
	opRemoteUpdate, opAdvance,
}

var validKinds = []string{
	"create", "update", "status_change", "delete", "batch_delete", "select_item",
}

// Assertion types.
const (
	AssertPendingCount = "pending_count"
	AssertSyncedOrder  = "synced_order"
	AssertEntityStatus = "entity_status"
	AssertEntityAbsent = "entity_absent"
	AssertCanUndo      = "can_undo"
	AssertCanRedo      = "can_redo"
	AssertSyncErrors   = "sync_errors"
	AssertDeliveries   = "deliveries"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for _, d := range []struct{ field, value string }{
		{"config.base_delay", s.Config.BaseDelay},
		{"config.max_delay", s.Config.MaxDelay},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: %w", d.field, err)
		}
	}
	for i, st := range s.Steps {
		if err := validateStep(st); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(st Step) error {
	if st.Op == "" {
		return fmt.Errorf("op is required")
	}
	if !slices.Contains(validOps, st.Op) {
		return fmt.Errorf("unknown op %q", st.Op)
	}

	switch st.Op {
	case opRecord:
		if !slices.Contains(validKinds, st.Kind) {
			return fmt.Errorf("record: unknown kind %q", st.Kind)
		}
		if st.Kind == "batch_delete" {
			if len(st.IDs) == 0 {
				return fmt.Errorf("record batch_delete: ids are required")
			}
		} else if st.ID == "" && st.Kind != "select_item" {
			return fmt.Errorf("record %s: id is required", st.Kind)
		}
		if st.Kind == "status_change" && st.Status == "" {
			return fmt.Errorf("record status_change: status is required")
		}
	case opRemoteUpdate:
		if st.ID == "" {
			return fmt.Errorf("remote_update: id is required")
		}
		if st.After != "" {
			if _, err := time.ParseDuration(st.After); err != nil {
				return fmt.Errorf("remote_update after: %w", err)
			}
		}
	case opAdvance:
		if _, err := time.ParseDuration(st.Duration); err != nil {
			return fmt.Errorf("advance duration: %w", err)
		}
	case opBackendFail:
		if st.Count < 0 {
			return fmt.Errorf("backend_fail: count must be >= 0")
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertPendingCount:
		if a.Count == nil {
			return fmt.Errorf("pending_count: count is required")
		}
	case AssertSyncedOrder:
		if a.Actions == nil {
			return fmt.Errorf("synced_order: actions is required")
		}
	case AssertEntityStatus:
		if a.ID == "" || a.Status == "" {
			return fmt.Errorf("entity_status: id and status are required")
		}
	case AssertEntityAbsent:
		if a.ID == "" {
			return fmt.Errorf("entity_absent: id is required")
		}
	case AssertCanUndo, AssertCanRedo:
		if a.Value == nil {
			return fmt.Errorf("%s: value is required", a.Type)
		}
	case AssertSyncErrors:
		if a.Count == nil {
			return fmt.Errorf("sync_errors: count is required")
		}
	case AssertDeliveries:
		if a.Action == "" || a.Count == nil {
			return fmt.Errorf("deliveries: action and count are required")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
