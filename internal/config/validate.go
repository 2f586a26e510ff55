package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// ValidationError lists every schema violation found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config:\n  " + strings.Join(e.Problems, "\n  ")
}

// Validate checks cfg against the embedded CUE schema. Durations are
// checked as nanosecond integers.
func Validate(cfg Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	val := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("compile config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		verr := &ValidationError{}
		for _, e := range cueerrors.Errors(err) {
			verr.Problems = append(verr.Problems, e.Error())
		}
		return verr
	}

	if cfg.Sync.MaxDelay < cfg.Sync.BaseDelay {
		return &ValidationError{Problems: []string{
			fmt.Sprintf("sync.max_delay (%s) is less than sync.base_delay (%s)", cfg.Sync.MaxDelay, cfg.Sync.BaseDelay),
		}}
	}
	return nil
}
