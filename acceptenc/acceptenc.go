// Package acceptenc implements Accept-Encoding negotiation (spec.md §4.A,
// the encoding-related rules) and the configured-mapping variant selector
// (spec.md §4.B).
//
// It generalizes the fixed gzip/brotli check in htpack's
// acceptedEncodings (handler.go) into full RFC 9110 §12.5.3 q-value
// negotiation with wildcard and alias support.
package acceptenc

import (
	"sort"
	"strconv"
	"strings"
)

// Preference is one decoded token from an Accept-Encoding header.
type Preference struct {
	Token string
	Q     float64
}

var aliases = map[string]string{
	"x-gzip":     "gzip",
	"x-compress": "compress",
}

// canonical lower-cases a token and resolves known aliases.
func canonical(tok string) string {
	tok = strings.ToLower(strings.TrimSpace(tok))
	if c, ok := aliases[tok]; ok {
		return c
	}
	return tok
}

// Parse parses the value of an Accept-Encoding header into an ordered list
// of (token, q). An empty or missing header (pass "") yields identity;q=1.
func Parse(header string) []Preference {
	header = strings.TrimSpace(header)
	if header == "" {
		return []Preference{{Token: "identity", Q: 1}}
	}

	var prefs []Preference
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tok, qStr, hasQ := strings.Cut(part, ";")
		tok = canonical(tok)
		if tok == "" {
			continue
		}
		q := 1.0
		if hasQ {
			qStr = strings.TrimSpace(qStr)
			if rest, ok := strings.CutPrefix(qStr, "q="); ok {
				if v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64); err == nil {
					q = v
				}
			}
		}
		prefs = append(prefs, Preference{Token: tok, Q: q})
	}
	if len(prefs) == 0 {
		return []Preference{{Token: "identity", Q: 1}}
	}
	return prefs
}

// effectiveQ computes the q-value a client's preference list assigns to
// name, per spec.md §4.A's "Selection among configured variants" rule.
func effectiveQ(prefs []Preference, name string) (q float64, found bool) {
	var star float64
	sawStar := false
	for _, p := range prefs {
		switch p.Token {
		case name:
			return p.Q, true
		case "*":
			star = p.Q
			sawStar = true
		}
	}
	if sawStar {
		return star, true
	}
	if name == "identity" {
		return 1, true
	}
	return 0, false
}

// Candidate is a configured encoding acceptable to the client, ordered by
// preference (index 0 is most preferred).
type Candidate struct {
	Name        string
	Replacement string
}

// AcceptableCandidates keeps the configured encodings the client accepts
// (effective q > 0) and orders them by declared order (lower first), per
// spec.md §4.B step 1. The client's q-values decide only acceptance, not
// order.
func AcceptableCandidates(prefs []Preference, mapping *Mapping) []Candidate {
	type scored struct {
		Candidate
		q     float64
		order int
	}
	var scoredList []scored
	for _, name := range mapping.names {
		entry := mapping.byName[name]
		q, ok := effectiveQ(prefs, name)
		if !ok || q <= 0 {
			continue
		}
		scoredList = append(scoredList, scored{
			Candidate: Candidate{Name: name, Replacement: entry.Replacement},
			q:         q,
			order:     entry.Order,
		})
	}
	sort.SliceStable(scoredList, func(i, j int) bool {
		return scoredList[i].order < scoredList[j].order
	})
	out := make([]Candidate, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.Candidate
	}
	return out
}
