package source

import (
	"fmt"
	"regexp"
	"strings"
)

// Policy selects which discovered sources are acceptable connection targets.
// The pattern is matched against the logical name (see ExtractLogicalName),
// and must match it wholly, not merely contain it.
type Policy struct {
	Pattern        string
	CaseSensitive  bool
	PluralHandling bool
}

// Matcher is a compiled Policy.
type Matcher struct {
	policy    Policy
	effective string
	re        *regexp.Regexp
}

// simpleToken limits plural relaxation to plain literal/wildcard patterns so
// that patterns carrying other regex metacharacters pass through untouched.
var simpleToken = regexp.MustCompile(`^[a-zA-Z0-9_.*]+$`)

var wordEnding = regexp.MustCompile(`[a-zA-Z0-9_]$`)

// Compile validates the policy and compiles it into a Matcher. An invalid
// pattern is a configuration error; callers must treat it as fatal.
func Compile(policy Policy) (*Matcher, error) {
	effective := policy.Pattern
	if policy.PluralHandling && simpleToken.MatchString(effective) &&
		wordEnding.MatchString(effective) && !strings.HasSuffix(effective, "s?") {
		// projector -> projectors? so singular and plural names both match
		effective += "s?"
	}

	expr := `\A(?:` + effective + `)\z`
	if !policy.CaseSensitive {
		expr = `(?i)` + expr
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid source pattern %q: %w", policy.Pattern, err)
	}

	return &Matcher{policy: policy, effective: effective, re: re}, nil
}

// Matches reports whether the raw source name's logical part wholly matches
// the compiled pattern.
func (m *Matcher) Matches(rawName string) bool {
	return m.re.MatchString(ExtractLogicalName(rawName))
}

// Pattern returns the pattern as configured.
func (m *Matcher) Pattern() string {
	return m.policy.Pattern
}

// EffectivePattern returns the pattern actually compiled, after any plural
// relaxation.
func (m *Matcher) EffectivePattern() string {
	return m.effective
}

// PluralHandling reports whether plural relaxation was requested.
func (m *Matcher) PluralHandling() bool {
	return m.policy.PluralHandling
}

// CaseSensitive reports whether matching is case sensitive.
func (m *Matcher) CaseSensitive() bool {
	return m.policy.CaseSensitive
}

// ExtractLogicalName returns the logical portion of a discovered source
// name. Sources conventionally announce as "HOSTNAME (logical_name)"; names
// without that shape are returned unchanged.
func ExtractLogicalName(rawName string) string {
	open := strings.Index(rawName, "(")
	if open < 0 {
		return rawName
	}
	rest := rawName[open+1:]
	end := strings.Index(rest, ")")
	if end < 0 {
		return rawName
	}
	return rest[:end]
}
