// Package byterange implements Range header parsing and range-plan
// computation (spec.md §4.A Range rules, §4.C).
//
// Grounded on htpack's handler.go getFileRange (generalized from
// single-range-only) and black-06-grpc-gateway-file/file_download.go's
// parseRange/httpRange for the RFC 7233 edge cases (suffix ranges, clamping,
// "no overlap" vs "syntax error" distinction).
package byterange

import (
	"strconv"
	"strings"
)

// Raw is one client-supplied range before clamping against a known size:
// exactly one of HasStart/HasEnd may be false (open-ended or suffix form).
type Raw struct {
	HasStart bool
	Start    int64
	HasEnd   bool
	End      int64
}

// ParseHeader parses a Range header value. It returns ok=false if the unit
// isn't "bytes" or the syntax is invalid anywhere — per spec.md §4.A, such a
// header must be ignored entirely (serve full content with 200), not
// rejected with 416.
func ParseHeader(header string) (ranges []Raw, ok bool) {
	const prefix = "bytes="
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, false
	}
	if !strings.HasPrefix(header, prefix) {
		return nil, false
	}
	body := header[len(prefix):]

	var out []Raw
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		startStr, endStr, hasDash := strings.Cut(part, "-")
		if !hasDash {
			return nil, false
		}
		startStr = strings.TrimSpace(startStr)
		endStr = strings.TrimSpace(endStr)

		var r Raw
		switch {
		case startStr == "" && endStr == "":
			return nil, false
		case startStr == "":
			// "-suffixLen"
			n, err := strconv.ParseInt(endStr, 10, 64)
			if err != nil || n < 0 {
				return nil, false
			}
			r.HasEnd = true
			r.End = n
		case endStr == "":
			// "start-"
			n, err := strconv.ParseInt(startStr, 10, 64)
			if err != nil || n < 0 {
				return nil, false
			}
			r.HasStart = true
			r.Start = n
		default:
			s, err1 := strconv.ParseInt(startStr, 10, 64)
			e, err2 := strconv.ParseInt(endStr, 10, 64)
			if err1 != nil || err2 != nil || s < 0 || e < 0 {
				return nil, false
			}
			r.HasStart, r.Start = true, s
			r.HasEnd, r.End = true, e
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// Resolved is a range clamped against a known resource size, or marked
// unsatisfiable.
type Resolved struct {
	Start, End    int64 // inclusive, valid only if Satisfiable
	Satisfiable   bool
}

// Resolve clamps raw ranges against size per spec.md §4.A:
//   - "start-end": valid iff start <= end and start < size; end clamped to
//     min(end, size-1).
//   - "start-" (HasStart only, open-ended): becomes start-(size-1) if
//     start < size.
//   - "-N" (HasEnd only, End holding the suffix length N): becomes
//     max(0,size-N)-(size-1) if N > 0.
//   - start >= size renders that range unsatisfiable.
func Resolve(raw Raw, size int64) Resolved {
	switch {
	case raw.HasStart && raw.HasEnd:
		if raw.Start > raw.End || raw.Start >= size {
			return Resolved{Satisfiable: false}
		}
		end := raw.End
		if end > size-1 {
			end = size - 1
		}
		return Resolved{Start: raw.Start, End: end, Satisfiable: true}

	case raw.HasStart && !raw.HasEnd:
		if raw.Start >= size {
			return Resolved{Satisfiable: false}
		}
		return Resolved{Start: raw.Start, End: size - 1, Satisfiable: true}

	case !raw.HasStart && raw.HasEnd:
		n := raw.End
		if n <= 0 {
			return Resolved{Satisfiable: false}
		}
		start := size - n
		if start < 0 {
			start = 0
		}
		if start >= size {
			return Resolved{Satisfiable: false}
		}
		return Resolved{Start: start, End: size - 1, Satisfiable: true}

	default:
		return Resolved{Satisfiable: false}
	}
}
