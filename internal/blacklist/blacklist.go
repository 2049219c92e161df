// Package blacklist implements the per-target plus global exclusion rules
// consulted by the Inventory provider (spec.md §4.F).
package blacklist

import (
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Kind is the rule matching strategy.
type Kind string

const (
	KindExact     Kind = "exact"
	KindSuffix    Kind = "suffix"
	KindSubstring Kind = "substring"
	KindGlob      Kind = "glob"
	KindRegex     Kind = "regex"
)

// Rule is one blacklist entry.
type Rule struct {
	Pattern string
	Kind    Kind
}

type compiledRule struct {
	rule  Rule
	glob  glob.Glob
	regex *regexp.Regexp
}

// Filter evaluates a set of compiled rules against candidate strings.
// Evaluation order does not matter: is_allowed returns true iff no rule
// matches (any-match excludes).
type Filter struct {
	rules []compiledRule
}

// Compile builds a Filter from raw rules, pre-compiling glob and regex
// patterns once so IsAllowed is cheap on the hot path.
func Compile(rules []Rule) (*Filter, error) {
	f := &Filter{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		cr := compiledRule{rule: r}
		switch r.Kind {
		case KindGlob:
			g, err := glob.Compile(r.Pattern)
			if err != nil {
				return nil, err
			}
			cr.glob = g
		case KindRegex:
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, err
			}
			cr.regex = re
		}
		f.rules = append(f.rules, cr)
	}
	return f, nil
}

// IsAllowed reports whether v is not excluded by any rule.
func (f *Filter) IsAllowed(v string) bool {
	if f == nil {
		return true
	}
	for _, cr := range f.rules {
		if matches(cr, v) {
			return false
		}
	}
	return true
}

// FilterAll applies IsAllowed to a slice, returning the allowed subset plus the
// raw input count (used by Export Task to distinguish "all blacklisted" from
// "no input" per spec.md §4.G).
func (f *Filter) FilterAll(values []string) (allowed []string, rawCount int) {
	rawCount = len(values)
	for _, v := range values {
		if f.IsAllowed(v) {
			allowed = append(allowed, v)
		}
	}
	return allowed, rawCount
}

func matches(cr compiledRule, v string) bool {
	switch cr.rule.Kind {
	case KindExact:
		return v == cr.rule.Pattern
	case KindSuffix:
		return strings.HasSuffix(v, cr.rule.Pattern)
	case KindSubstring:
		return strings.Contains(v, cr.rule.Pattern)
	case KindGlob:
		return cr.glob != nil && cr.glob.Match(v)
	case KindRegex:
		return cr.regex != nil && cr.regex.MatchString(v)
	default:
		return false
	}
}
