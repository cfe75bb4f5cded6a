package trigger

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// RefPattern matches a ref exactly, or by regular expression when written as /expr/.
type RefPattern struct {
	raw string
	re  *regexp.Regexp
}

// ParseRefPattern compiles s. Regexes are unanchored, as in the manifest format they mirror.
func ParseRefPattern(s string) (RefPattern, error) {
	if len(s) >= 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") {
		re, err := regexp.Compile(s[1 : len(s)-1])
		if err != nil {
			return RefPattern{}, fmt.Errorf("invalid ref regex %s: %w", s, err)
		}
		return RefPattern{raw: s, re: re}, nil
	}
	return RefPattern{raw: s}, nil
}

// MustRefPattern is ParseRefPattern for literals in code and tests.
func MustRefPattern(s string) RefPattern {
	p, err := ParseRefPattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p RefPattern) Match(ref string) bool {
	if p.re != nil {
		return p.re.MatchString(ref)
	}
	return p.raw == ref
}

func (p RefPattern) String() string { return p.raw }

// Verdict is what a matching rule decides.
type Verdict string

const (
	Include Verdict = "include"
	Exclude Verdict = "exclude"
)

// Rule is a conjunction of optional predicates. An empty predicate matches
// anything; a rule with no predicates matches every run.
type Rule struct {
	Refs      []RefPattern
	Kinds     []Kind
	Sources   []string
	Variables map[string]string
	Verdict   Verdict
}

// Matches reports whether every predicate of r holds for rc.
func (r Rule) Matches(rc RunContext) bool {
	if len(r.Refs) > 0 && !anyRef(r.Refs, rc.Ref) {
		return false
	}
	if len(r.Kinds) > 0 && !slices.Contains(r.Kinds, rc.Kind) {
		return false
	}
	if len(r.Sources) > 0 && !slices.Contains(r.Sources, rc.Source) {
		return false
	}
	for k, v := range r.Variables {
		got, ok := rc.Variables[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

func anyRef(patterns []RefPattern, ref string) bool {
	for _, p := range patterns {
		if p.Match(ref) {
			return true
		}
	}
	return false
}

// ParseVerdict maps a rule's when value. Anything but "never" includes.
func ParseVerdict(when string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(when)) {
	case "never":
		return Exclude, nil
	case "", "always", "on_success":
		return Include, nil
	default:
		return "", fmt.Errorf("unsupported rule when %q (use always, on_success or never)", when)
	}
}
