package rules

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPattern  = errors.New("empty pattern")
	ErrBadPattern    = errors.New("malformed glob pattern")
	ErrUnknownKind   = errors.New("unknown rule kind")
	ErrUnknownSyntax = errors.New("unknown pattern syntax")
	ErrPriorityRange = errors.New("priority out of range")
	ErrNoRules       = errors.New("rule set is empty")
)

// RuleError reports a rule that failed validation, identifying the offending
// rule so an entire file load can be rejected with a usable message.
type RuleError struct {
	Rule    string
	Pattern string
	Err     error
}

func (e *RuleError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("rule %q: %s", e.Rule, e.Err)
	}
	return fmt.Sprintf("rule (pattern %q): %s", e.Pattern, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}
