package rules

import (
	"fmt"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind decides whether a matching path is admitted into or excluded from sync.
type Kind string

const (
	KindInclude Kind = "include"
	KindExclude Kind = "exclude"
)

// Syntax selects the pattern language of a rule.
type Syntax string

const (
	SyntaxGlob  Syntax = "glob"
	SyntaxRegex Syntax = "regex"
)

// Priority bounds accepted in rule files.
const (
	MinPriority = -100
	MaxPriority = 100
)

// Rule decides participation of a tree-relative path in synchronization.
// Glob patterns are segment-aware (`**` spans directories); regex patterns
// use Go's regexp syntax. Higher priority wins among matching rules.
type Rule struct {
	Name     string `yaml:"name" json:"name"`
	Kind     Kind   `yaml:"kind" json:"kind"`
	Pattern  string `yaml:"pattern" json:"pattern"`
	Syntax   Syntax `yaml:"syntax,omitempty" json:"syntax,omitempty"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
	Priority int    `yaml:"priority" json:"priority"`

	re *regexp.Regexp
}

// NewRule creates a glob rule with the given kind, pattern and priority.
func NewRule(name string, kind Kind, pattern string, priority int) *Rule {
	return &Rule{
		Name:     name,
		Kind:     kind,
		Pattern:  pattern,
		Syntax:   SyntaxGlob,
		Priority: priority,
	}
}

// compile validates the rule and prepares it for matching.
func (r *Rule) compile() error {
	if r.Pattern == "" {
		return &RuleError{Rule: r.Name, Err: ErrEmptyPattern}
	}

	if r.Syntax == "" {
		r.Syntax = SyntaxGlob
	}

	switch r.Kind {
	case KindInclude, KindExclude:
	default:
		return &RuleError{Rule: r.Name, Pattern: r.Pattern, Err: fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)}
	}

	if r.Priority < MinPriority || r.Priority > MaxPriority {
		return &RuleError{Rule: r.Name, Pattern: r.Pattern, Err: fmt.Errorf("%w: %d not in [%d, %d]", ErrPriorityRange, r.Priority, MinPriority, MaxPriority)}
	}

	switch r.Syntax {
	case SyntaxGlob:
		if !doublestar.ValidatePattern(r.Pattern) {
			return &RuleError{Rule: r.Name, Pattern: r.Pattern, Err: ErrBadPattern}
		}
	case SyntaxRegex:
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return &RuleError{Rule: r.Name, Pattern: r.Pattern, Err: err}
		}
		r.re = re
	default:
		return &RuleError{Rule: r.Name, Pattern: r.Pattern, Err: fmt.Errorf("%w: %q", ErrUnknownSyntax, r.Syntax)}
	}

	return nil
}

// Matches reports whether the rule's pattern matches the given tree-relative path.
func (r *Rule) Matches(path string) bool {
	if r.Syntax == SyntaxRegex {
		return r.re.MatchString(path)
	}
	ok, _ := doublestar.Match(r.Pattern, path)
	return ok
}

func (r *Rule) String() string {
	return fmt.Sprintf("%s %s %q prio:%d", r.Kind, r.Syntax, r.Pattern, r.Priority)
}
