package fsstore

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
)

// newListingReader generates an HTML directory listing for dir, skipping
// entries whose name contains a forbidden character or matches
// ignorePattern (spec.md §4.H step 5). It is the "Open question" resolution
// from §9: rather than holding a directory fd in AttachedData, the listing
// reads the directory by path when the stream is created — "the clearer
// contract".
//
// The listing is built once, eagerly, into an in-memory buffer: unlike a
// regular file stream this content is synthesized, not read from a backing
// fd, so there's no OS-level chunking to preserve and a restart would need
// to regenerate from scratch anyway (hence "restartable only by
// re-opening" per the GLOSSARY).
func newListingReader(dir string, ignorePattern *regexp.Regexp) (io.ReadCloser, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head><body>\n<ul>\n")
	for _, e := range entries {
		name := e.Name()
		if hasForbiddenChar(name) {
			continue
		}
		if ignorePattern != nil && ignorePattern.MatchString(name) {
			continue
		}
		href := name
		if e.IsDir() {
			href += "/"
		}
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n", escapeAmp(href), escapeAmp(href))
	}
	b.WriteString("</ul>\n</body></html>\n")

	return io.NopCloser(&b), nil
}

// escapeAmp HTML-escapes only '&'; spec.md §4.H step 5 notes other
// dangerous characters are already excluded by the forbidden-character
// rule, so a full html.EscapeString pass would be redundant ambient
// over-escaping.
func escapeAmp(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '&' {
			out = append(out, "&amp;"...)
		} else {
			out = append(out, s[i])
		}
	}
	return string(out)
}
