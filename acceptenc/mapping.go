package acceptenc

import (
	"regexp"
	"strings"
)

// EncodingRule is one configured (name, replacement-pattern) pair, as
// authored by callers (spec.md §3 EncodingMapping). The replacement pattern
// uses the conventional regex-substitution grammar: "$&" for the whole
// match, "$1".."$9" for captured groups.
type EncodingRule struct {
	Name        string
	Replacement string
}

type mappingEntry struct {
	Replacement string
	Order       int
}

// Mapping is a normalized, immutable EncodingMapping (spec.md §3): a regex
// Matcher plus a preference map built from the configured rules, with an
// identity entry synthesized if the caller didn't supply one.
type Mapping struct {
	Matcher *regexp.Regexp

	byName map[string]mappingEntry
	names  []string // preserves declared order
}

// NewMapping normalizes matcher+rules into a Mapping. If rules does not
// contain "identity", one is synthesized with replacement "$&" (i.e. no
// substitution) and an order placing it last, so identity always remains a
// selectable candidate (spec.md §3).
func NewMapping(matcher *regexp.Regexp, rules []EncodingRule) *Mapping {
	m := &Mapping{
		Matcher: matcher,
		byName:  make(map[string]mappingEntry, len(rules)+1),
	}
	sawIdentity := false
	for i, r := range rules {
		m.byName[r.Name] = mappingEntry{Replacement: r.Replacement, Order: i}
		m.names = append(m.names, r.Name)
		if r.Name == "identity" {
			sawIdentity = true
		}
	}
	if !sawIdentity {
		m.byName["identity"] = mappingEntry{Replacement: "$&", Order: len(rules)}
		m.names = append(m.names, "identity")
	}
	return m
}

// Apply substitutes the configured replacement pattern for name against
// resolvedPath using m.Matcher, translating the "$&"/"$N" grammar into the
// form regexp.ReplaceAllString expects ("$0"/"$N"). ok is false if name is
// not configured or the matcher does not match resolvedPath.
func (m *Mapping) Apply(resolvedPath, name string) (encodedPath string, ok bool) {
	entry, present := m.byName[name]
	if !present {
		return "", false
	}
	if !m.Matcher.MatchString(resolvedPath) {
		return "", false
	}
	repl := translateReplacement(entry.Replacement)
	return m.Matcher.ReplaceAllString(resolvedPath, repl), true
}

// translateReplacement converts the conventional "$&"/"$N" substitution
// grammar into Go's regexp.ReplaceAllString grammar ("$0"/"$N"/"$$" for a
// literal dollar). This is the "standard replacement grammar" spec.md §9
// calls for on platforms whose regex engine differs from the reference
// implementation's.
func translateReplacement(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '$' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(pattern) {
			switch next := pattern[i+1]; {
			case next == '&':
				b.WriteString("${0}")
				i++
				continue
			case next == '$':
				b.WriteString("$$")
				i++
				continue
			case next >= '0' && next <= '9':
				// pass the digit run through unchanged; Go's
				// regexp parses "$12" greedily as group 12,
				// same ambiguity the reference grammar has.
				b.WriteByte('$')
				continue
			}
		}
		b.WriteByte('$')
	}
	return b.String()
}
