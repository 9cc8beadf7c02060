package rules

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// decisionCacheSize bounds the per-set path decision cache. Sets are
// immutable once built, so cached decisions never go stale.
const decisionCacheSize = 4096

// Set is an immutable, compiled collection of rules. Build a new Set and
// swap it into the Engine to change behavior at runtime.
type Set struct {
	rules []*Rule
	cache *lru.Cache[string, bool]
}

// NewSet compiles the given rules into a Set. The first invalid rule aborts
// the build with a RuleError; a partially valid set is never produced.
func NewSet(rules ...*Rule) (*Set, error) {
	if len(rules) == 0 {
		return nil, ErrNoRules
	}

	for _, rule := range rules {
		if err := rule.compile(); err != nil {
			return nil, err
		}
	}

	cache, err := lru.New[string, bool](decisionCacheSize)
	if err != nil {
		return nil, err
	}

	return &Set{rules: rules, cache: cache}, nil
}

// Admits reports whether the path participates in synchronization. Among all
// matching rules the highest priority wins; on a priority tie exclude wins.
// A path matched by no rule is admitted.
func (s *Set) Admits(path string) bool {
	if decision, ok := s.cache.Get(path); ok {
		return decision
	}
	decision := s.evaluate(path)
	s.cache.Add(path, decision)
	return decision
}

// Match returns the winning rule for the path, or nil when no rule matches
// and the built-in admit-everything fallback applies.
func (s *Set) Match(path string) *Rule {
	var best *Rule
	for _, rule := range s.rules {
		if !rule.Matches(path) {
			continue
		}
		switch {
		case best == nil:
			best = rule
		case rule.Priority > best.Priority:
			best = rule
		case rule.Priority == best.Priority && rule.Kind == KindExclude:
			best = rule
		}
	}
	return best
}

// Category returns the category tag of the winning rule for the path.
func (s *Set) Category(path string) string {
	if rule := s.Match(path); rule != nil {
		return rule.Category
	}
	return ""
}

// Rules returns the rules in the set, in load order.
func (s *Set) Rules() []*Rule {
	return s.rules
}

func (s *Set) evaluate(path string) bool {
	best := s.Match(path)
	if best == nil {
		return true
	}
	return best.Kind == KindInclude
}
