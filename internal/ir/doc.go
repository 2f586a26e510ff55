// Package ir defines the data model shared by every kitchensync package:
// actions, their tagged effects, backend descriptors, managed entities and
// the value tree entity fields are built from.
//
// ir imports nothing internal. All other internal packages import ir.
//
// Key constraints:
//   - No float values in entity fields (checksums must be deterministic)
//   - All JSON tags use snake_case
//   - Effects are a closed set of variants, one per recordable kind
package ir
