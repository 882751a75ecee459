// Package fsstore implements the file-system Storage backend (spec.md §3
// data model, §4.G contract, §4.H path parsing/traversal safety/variant
// probing/fd lifecycle).
//
// Path parsing is grounded on htpack's handler.go, which does the minimal
// version of this job with a single path.Clean + map lookup
// (`h.dir[path.Clean(req.URL.Path)]`); fsstore generalizes that into full
// segment-by-segment decoding, dot-segment normalization, and the forbidden-
// character/ignore-pattern checks spec.md §3 requires.
package fsstore

import (
	"net/url"
	"regexp"
	"strings"

	sendstream "github.com/marionebl/send-stream"
)

// DefaultIgnorePattern matches dotfiles, per spec.md §6's default
// ignorePattern (/^\./).
var DefaultIgnorePattern = regexp.MustCompile(`^\.`)

func isForbiddenChar(r rune) bool {
	switch r {
	case '/', '?', '<', '>', '\\', ':', '*', '|', '"':
		return true
	}
	if r >= 0x00 && r <= 0x1F {
		return true
	}
	if r >= 0x80 && r <= 0x9F {
		return true
	}
	return false
}

func hasForbiddenChar(segment string) bool {
	for _, r := range segment {
		if isForbiddenChar(r) {
			return true
		}
	}
	return false
}

// parseResult is the outcome of parsing a reference into PathParts.
type parseResult struct {
	// Parts is the final decoded, validated, dot-resolved segment list
	// (not including the leading empty sentinel).
	Parts []string
	// HadTrailingSlash records whether the reference ended in '/'.
	HadTrailingSlash bool
}

// parseReference implements spec.md §4.H step 1 for both reference forms.
func parseReference(reference any, ignorePattern *regexp.Regexp) (parseResult, *sendstream.StorageError) {
	switch ref := reference.(type) {
	case string:
		return parseStringReference(ref, ignorePattern)
	case []string:
		return parseArrayReference(ref, ignorePattern)
	default:
		return parseResult{}, sendstream.NewStorageError(sendstream.InvalidPath, reference, nil)
	}
}

func parseStringReference(ref string, ignorePattern *regexp.Regexp) (parseResult, *sendstream.StorageError) {
	if !strings.HasPrefix(ref, "/") {
		return parseResult{}, sendstream.NewStorageError(sendstream.InvalidPath, ref, nil)
	}

	rawSegs := strings.Split(ref, "/")
	// rawSegs[0] == "" always, by construction (ref starts with '/').

	if err := checkConsecutiveSlashes(rawSegs, ref, nil); err != nil {
		return parseResult{}, err
	}

	hadTrailingSlash := len(rawSegs) > 1 && rawSegs[len(rawSegs)-1] == ""
	effective := rawSegs[1:]
	if hadTrailingSlash {
		effective = effective[:len(effective)-1]
	}

	decoded := make([]string, 0, len(effective))
	for _, raw := range effective {
		d, err := url.PathUnescape(raw)
		if err != nil {
			return parseResult{}, sendstream.NewStorageError(sendstream.MalformedPath, ref, nil)
		}
		decoded = append(decoded, d)
	}

	resolved := resolveDotSegments(decoded)

	canonical := canonicalizeString(resolved, hadTrailingSlash)
	if canonical != ref {
		se := sendstream.NewStorageError(sendstream.NotNormalized, ref, resolved)
		se.NormalizedPath = canonical
		return parseResult{}, se
	}

	if err := checkSegmentRules(resolved, ref, ignorePattern); err != nil {
		return parseResult{}, err
	}

	return parseResult{Parts: resolved, HadTrailingSlash: hadTrailingSlash}, nil
}

func parseArrayReference(ref []string, ignorePattern *regexp.Regexp) (parseResult, *sendstream.StorageError) {
	if len(ref) == 0 || ref[0] != "" {
		return parseResult{}, sendstream.NewStorageError(sendstream.InvalidPath, ref, nil)
	}

	if err := checkConsecutiveSlashes(ref, "", ref); err != nil {
		return parseResult{}, err
	}

	hadTrailingSlash := len(ref) > 1 && ref[len(ref)-1] == ""
	parts := ref[1:]
	if hadTrailingSlash {
		parts = parts[:len(parts)-1]
	}

	for _, seg := range parts {
		if seg == "." || seg == ".." {
			return parseResult{}, sendstream.NewStorageError(sendstream.InvalidPath, ref, parts)
		}
	}

	if err := checkSegmentRules(parts, "", ignorePattern); err != nil {
		err.Reference = ref
		return parseResult{}, err
	}

	return parseResult{Parts: parts, HadTrailingSlash: hadTrailingSlash}, nil
}

// checkConsecutiveSlashes rejects an empty segment appearing anywhere
// before the final position (spec.md §4.H step 1).
func checkConsecutiveSlashes(segs []string, stringRef string, arrayRef []string) *sendstream.StorageError {
	for i := 1; i < len(segs)-1; i++ {
		if segs[i] == "" {
			var ref any = stringRef
			if arrayRef != nil {
				ref = arrayRef
			}
			return sendstream.NewStorageError(sendstream.ConsecutiveSlashes, ref, nil)
		}
	}
	return nil
}

// resolveDotSegments applies RFC 3986 §5.2.4-style dot-segment removal: "."
// is dropped, ".." pops the previous real segment (or is itself dropped if
// already at the root). This is what lets "/users/../../etc/passwd" resolve
// to "/etc/passwd" instead of being hard-rejected.
func resolveDotSegments(segs []string) []string {
	stack := make([]string, 0, len(segs))
	for _, s := range segs {
		switch s {
		case ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, s)
		}
	}
	return stack
}

// canonicalizeString rebuilds the percent-encoded string form of resolved
// segments, the way it would be compared against the original reference to
// detect spec.md's NotNormalized condition.
func canonicalizeString(segs []string, trailingSlash bool) string {
	if len(segs) == 0 {
		return "/"
	}
	encoded := make([]string, len(segs))
	for i, s := range segs {
		encoded[i] = encodeSegment(s)
	}
	out := "/" + strings.Join(encoded, "/")
	if trailingSlash {
		out += "/"
	}
	return out
}

// encodeSegment percent-encodes a decoded path segment the way
// url.URL.EscapedPath encodes a whole path; unlike url.PathEscape it leaves
// '/', ';' and ',' unescaped.
func encodeSegment(s string) string {
	return (&url.URL{Path: s}).EscapedPath()
}

func checkSegmentRules(segs []string, ref any, ignorePattern *regexp.Regexp) *sendstream.StorageError {
	for _, seg := range segs {
		if hasForbiddenChar(seg) {
			return sendstream.NewStorageError(sendstream.ForbiddenCharacter, ref, segs)
		}
		if ignorePattern != nil && ignorePattern.MatchString(seg) {
			return sendstream.NewStorageError(sendstream.IgnoredFile, ref, segs)
		}
	}
	return nil
}
