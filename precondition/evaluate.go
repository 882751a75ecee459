package precondition

import (
	"net/http"
	"time"
)

// Verdict is the conditional-GET outcome (spec.md §4.D).
type Verdict int

const (
	// Continue means no precondition short-circuited the response; the
	// orchestrator proceeds to range planning / full body as normal.
	Continue Verdict = iota
	// PreconditionFailed means respond 412 with an empty body.
	PreconditionFailed
	// NotModified means respond 304 with an empty body.
	NotModified
)

// Current describes the resource metadata a request is being evaluated
// against.
type Current struct {
	ETag     ETag
	HaveETag bool
	MTimeMS  int64
	HaveMTime bool
}

func (c Current) mtime() time.Time {
	return time.UnixMilli(c.MTimeMS).UTC().Truncate(time.Second)
}

// Outcome is the full result of Evaluate, including whether a Range header
// should be honored or dropped (step 5).
type Outcome struct {
	Verdict  Verdict
	DropRange bool
}

// Evaluate runs the precondition state machine of spec.md §4.D, in RFC 9110
// §13.2 order. headers is the incoming request's header set; method is the
// request method ("GET", "HEAD", ...); current describes the resource as it
// exists right now.
func Evaluate(headers http.Header, method string, current Current) Outcome {
	isGetOrHead := method == http.MethodGet || method == http.MethodHead

	// Step 1: If-Match
	if v := headers.Get("If-Match"); v != "" {
		tags, star := ParseETagList(v)
		if current.HaveETag && !AnyStrongMatch(tags, star, current.ETag, true) {
			return Outcome{Verdict: PreconditionFailed}
		}
		// no current ETag: precondition automatically passes
	}

	// Step 2: If-Unmodified-Since
	if v := headers.Get("If-Unmodified-Since"); v != "" && current.HaveMTime {
		if t, err := http.ParseTime(v); err == nil {
			if current.mtime().After(t) {
				return Outcome{Verdict: PreconditionFailed}
			}
		}
	}

	// Step 3: If-None-Match (and, if absent, step 4: If-Modified-Since)
	if v := headers.Get("If-None-Match"); v != "" {
		tags, star := ParseETagList(v)
		if current.HaveETag && AnyWeakMatch(tags, star, current.ETag, true) {
			if isGetOrHead {
				return Outcome{Verdict: NotModified}
			}
			return Outcome{Verdict: PreconditionFailed}
		}
		// no match, or no current ETag: falls through, If-Modified-Since
		// is NOT consulted per RFC 9110 §13.1.3 when If-None-Match was
		// present.
	} else if isGetOrHead {
		if v := headers.Get("If-Modified-Since"); v != "" && current.HaveMTime {
			if t, err := http.ParseTime(v); err == nil {
				if !current.mtime().After(t) {
					return Outcome{Verdict: NotModified}
				}
			}
		}
	}

	// Step 5: Range + If-Range
	dropRange := false
	if rangeHdr := headers.Get("Range"); rangeHdr != "" {
		if ifRange := headers.Get("If-Range"); ifRange != "" {
			dropRange = !ifRangeMatches(ifRange, current)
		}
	}

	return Outcome{Verdict: Continue, DropRange: dropRange}
}

// ifRangeMatches reports whether the If-Range value still identifies the
// current representation: either a strong ETag match, or a date equal to
// mtime.
func ifRangeMatches(ifRange string, current Current) bool {
	if et, ok := parseOneETag(ifRange); ok {
		return current.HaveETag && StrongMatch(et, current.ETag)
	}
	t, err := http.ParseTime(ifRange)
	if err != nil || !current.HaveMTime {
		return false
	}
	return t.Equal(current.mtime())
}
