package sendstream

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/marionebl/send-stream/precondition"
)

// HeaderSet is the output of buildHeaders: the computed response header
// block plus the parsed current ETag, reused by the conditional-GET and
// Range stages so the wire format is only built once.
type HeaderSet struct {
	Header   http.Header
	ETag     precondition.ETag
	HaveETag bool
}

// buildHeaders implements spec.md §4.E: Cache-Control, Last-Modified, ETag,
// Content-Type (+charset), Content-Disposition, Content-Encoding, Vary, and
// Accept-Ranges. Content-Length and Content-Range are added later, once the
// body length for this particular response is known (spec.md §4.I).
//
// Grounded on htpack's handler.go (which sets ETag/Cache-Control/Vary/
// Accept-Ranges directly on the ResponseWriter) and
// other_examples/32faced4_anjor-go-libipfs__gateway-handler.go.go's
// setContentDispositionHeader for the RFC 6266 filename*/UTF-8 escaping.
func buildHeaders(info *StorageInfo, opts Options, storage Storage) (HeaderSet, error) {
	h := make(http.Header)

	// Cache-Control
	switch {
	case opts.CacheControl.IsDisabled():
	case opts.CacheControl.IsSet():
		h.Set("Cache-Control", opts.CacheControl.Value())
	default:
		h.Set("Cache-Control", "public, max-age=0")
	}

	// Last-Modified
	var mtimeFormatted string
	if !opts.LastModified.IsDisabled() {
		switch {
		case opts.LastModified.IsSet():
			mtimeFormatted = opts.LastModified.Value()
		case info.HasMTime:
			mtimeFormatted = timeFromMillis(info.MTimeMS).Format(http.TimeFormat)
		}
		if mtimeFormatted != "" {
			h.Set("Last-Modified", mtimeFormatted)
		}
	}

	// ETag
	var current precondition.ETag
	haveETag := false
	switch {
	case opts.ETag.IsDisabled():
	case opts.ETag.IsSet():
		if et, ok := parseFormattedETag(opts.ETag.Value()); ok {
			current, haveETag = et, true
		}
	case info.HasMTime && info.HasSize:
		// spec.md §4.E: "<size>-<mtime-ms-in-hex>-<encoding>" — only the
		// mtime component is hex.
		current = precondition.ETag{
			Value: fmt.Sprintf("%d-%x-%s", info.Size, info.MTimeMS, info.ContentEncoding),
			Weak:  opts.WeakETags,
		}
		haveETag = true
	}
	if haveETag {
		h.Set("ETag", current.Format())
	}

	// Content-Type
	contentType := ""
	switch {
	case opts.ContentType.IsDisabled():
	case opts.ContentType.IsSet():
		contentType = opts.ContentType.Value()
	default:
		contentType = resolveMIMEType(info, opts, storage)
	}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}

	// Content-Disposition
	if !opts.ContentDispositionType.IsDisabled() {
		kind := string(DispositionInline)
		if opts.ContentDispositionType.IsSet() {
			kind = opts.ContentDispositionType.Value()
		}
		filename := info.FileName
		if opts.ContentDispositionFilename.IsSet() {
			filename = opts.ContentDispositionFilename.Value()
		}
		if !opts.ContentDispositionFilename.IsDisabled() && filename != "" {
			h.Set("Content-Disposition", formatContentDisposition(kind, filename))
		} else {
			h.Set("Content-Disposition", kind)
		}
	}

	// Content-Encoding
	if info.ContentEncoding != "" && info.ContentEncoding != "identity" {
		h.Set("Content-Encoding", info.ContentEncoding)
	}

	// Vary
	if info.Vary != "" {
		h.Set("Vary", info.Vary)
	}

	// Accept-Ranges: only advertised when ranges are both configured and
	// possible (spec.md §4.C/§4.E: maxRanges > 0 and size known).
	if opts.maxRanges() > 0 && info.HasSize {
		h.Set("Accept-Ranges", "bytes")
	} else {
		h.Set("Accept-Ranges", "none")
	}

	return HeaderSet{Header: h, ETag: current, HaveETag: haveETag}, nil
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// resolveMIMEType resolves the MIME type in this order: info's own override,
// then opts.MIMEResolver, then the storage's optional MIMETypeLookup
// capability, then mime.TypeByExtension on the file name, then
// opts.DefaultContentType, appending a matching defaultCharsets charset
// whenever one wasn't already supplied.
func resolveMIMEType(info *StorageInfo, opts Options, storage Storage) string {
	mimeType := info.MIMEType
	charset := info.MIMETypeCharset

	if mimeType == "" && opts.MIMEResolver != nil {
		if t, ok := opts.MIMEResolver.Resolve(info.FileName); ok {
			mimeType = t
		}
	}
	if mimeType == "" {
		if lookup, ok := storage.(MIMETypeLookup); ok {
			if t, ok := lookup.MIMETypeLookup(info.FileName); ok {
				mimeType = t
			}
		}
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(extOf(info.FileName))
		if mimeType != "" {
			if i := strings.Index(mimeType, ";"); i >= 0 {
				mimeType = strings.TrimSpace(mimeType[:i])
			}
		}
	}
	if mimeType == "" {
		mimeType = opts.DefaultContentType
	}
	if mimeType == "" {
		return ""
	}

	if charset == "" {
		for _, rule := range opts.charsetRules() {
			if rule.Matcher.MatchString(mimeType) {
				charset = rule.Charset
				break
			}
		}
	}
	if charset != "" {
		// Use the configured charset token verbatim (spec.md §8's literal
		// example asserts "charset=UTF-8", not a lowercased form).
		return mimeType + "; charset=" + charset
	}
	return mimeType
}

func extOf(fileName string) string {
	if i := strings.LastIndexByte(fileName, '.'); i >= 0 {
		return fileName[i:]
	}
	return ""
}

// formatContentDisposition builds a Content-Disposition value with both the
// ASCII-safe quoted-string form and, when filename contains non-ASCII or
// disposition-unsafe bytes, the filename*=UTF-8'' extended form (RFC 6266
// §4.3), matching setContentDispositionHeader's pattern.
func formatContentDisposition(kind, filename string) string {
	ascii := toASCIIFallback(filename)
	var b strings.Builder
	b.WriteString(kind)
	b.WriteString(`; filename="`)
	b.WriteString(escapeQuotedString(ascii))
	b.WriteString(`"`)
	if ascii != filename {
		b.WriteString(`; filename*=UTF-8''`)
		b.WriteString(url.PathEscape(filename))
	}
	return b.String()
}

func escapeQuotedString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteByte(s[i])
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// toASCIIFallback replaces any non-printable-ASCII byte with '_', producing
// a safe fallback for the quoted-string filename parameter.
func toASCIIFallback(s string) string {
	out := make([]byte, 0, len(s))
	changed := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c >= 0x7f {
			out = append(out, '_')
			changed = true
			continue
		}
		out = append(out, c)
	}
	if !changed {
		return s
	}
	return string(out)
}

func parseFormattedETag(s string) (precondition.ETag, bool) {
	tags, star := precondition.ParseETagList(s)
	if star || len(tags) != 1 {
		return precondition.ETag{}, false
	}
	return tags[0], true
}

// formatContentRange renders the Content-Range header for a single-range
// response (spec.md §4.C).
func formatContentRange(start, end, size int64) string {
	return "bytes " + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10) + "/" + strconv.FormatInt(size, 10)
}
