package sendstream

import "regexp"

// StringOption models spec.md §6's recurring "string | false" configuration
// shape: unset (use the computed default), an explicit override string, or
// explicitly disabled (the header is suppressed).
type StringOption struct {
	set      bool
	disabled bool
	value    string
}

// Override returns a StringOption carrying an explicit value.
func Override(value string) StringOption { return StringOption{set: true, value: value} }

// Disable returns a StringOption that suppresses the header entirely.
func Disable() StringOption { return StringOption{set: true, disabled: true} }

// IsSet reports whether the caller configured this option at all (as
// opposed to leaving it at the zero value, which means "use the default").
func (o StringOption) IsSet() bool { return o.set }

// IsDisabled reports whether the caller explicitly disabled this header.
func (o StringOption) IsDisabled() bool { return o.set && o.disabled }

// Value returns the override value; only meaningful when IsSet() and not
// IsDisabled().
func (o StringOption) Value() string { return o.value }

// CharsetRule pairs a MIME-type matcher with the charset to append to
// Content-Type when it matches (spec.md §6 defaultCharsets).
type CharsetRule struct {
	Matcher *regexp.Regexp
	Charset string
}

// DefaultCharsetRules is spec.md §6's default defaultCharsets value.
func DefaultCharsetRules() []CharsetRule {
	return []CharsetRule{
		{Matcher: regexp.MustCompile(`^(?:text/.+|application/(?:javascript|json))$`), Charset: "UTF-8"},
	}
}

// ContentDispositionKind selects the Content-Disposition type.
type ContentDispositionKind string

const (
	DispositionInline     ContentDispositionKind = "inline"
	DispositionAttachment ContentDispositionKind = "attachment"
)

// Options configures one PrepareResponse call (spec.md §6). The zero value
// uses every documented default.
type Options struct {
	CacheControl               StringOption
	LastModified               StringOption
	ETag                       StringOption
	ContentType                StringOption
	ContentDispositionType     StringOption
	ContentDispositionFilename StringOption

	MIMEResolver       MIMEResolver
	DefaultContentType string

	// DefaultCharsets is nil to use DefaultCharsetRules(), or an
	// explicit (possibly empty) slice. DisableDefaultCharsets
	// overrides both, matching §6's "defaultCharsets: ... | false".
	DefaultCharsets        []CharsetRule
	DisableDefaultCharsets bool

	// MaxRanges is set at the orchestrator level, since range planning
	// (§4.C) is core, not storage-specific. Nil means the default of 200; a pointer to 0
	// disables range support; a pointer to 1 disables multipart.
	MaxRanges *int

	WeakETags bool

	// AllowedMethods defaults to {GET, HEAD} when nil.
	AllowedMethods []string

	// StatusCode, if non-zero, overrides the status entirely and
	// disables conditional-GET and Range handling (spec.md §4.I step 4).
	StatusCode int
}

func (o Options) maxRanges() int {
	if o.MaxRanges == nil {
		return 200
	}
	return *o.MaxRanges
}

func (o Options) allowedMethods() []string {
	if o.AllowedMethods == nil {
		return []string{"GET", "HEAD"}
	}
	return o.AllowedMethods
}

func (o Options) charsetRules() []CharsetRule {
	if o.DisableDefaultCharsets {
		return nil
	}
	if o.DefaultCharsets != nil {
		return o.DefaultCharsets
	}
	return DefaultCharsetRules()
}
