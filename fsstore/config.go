package fsstore

import (
	"regexp"

	"github.com/marionebl/send-stream/acceptenc"
)

// OnDirectory controls how a trailing-slash reference is handled (spec.md
// §6).
type OnDirectory int

const (
	// DirectoryDisabled rejects any trailing-slash reference with
	// TrailingSlash.
	DirectoryDisabled OnDirectory = iota
	// DirectoryListFiles serves a synthesized HTML directory listing.
	DirectoryListFiles
	// DirectoryServeIndex serves "index.html" within the directory.
	DirectoryServeIndex
)

// MappingConfig is the caller-facing form of an EncodingMapping (spec.md
// §3): a matcher plus an ordered list of (encoding name, replacement
// pattern) rules. It is normalized once, at New, into an *acceptenc.Mapping.
type MappingConfig struct {
	Matcher *regexp.Regexp
	Rules   []acceptenc.EncodingRule
}

// Config configures an FS Storage backend.
type Config struct {
	// Root is the directory references are resolved against.
	Root string

	// Mappings configures precompression variant negotiation (spec.md
	// §3/§4.B). Evaluated in order; the first whose Matcher matches the
	// resolved path is used.
	Mappings []MappingConfig

	// IgnorePattern rejects matching path segments with IgnoredFile. Nil
	// means DefaultIgnorePattern — callers that want no ignore rule at all
	// must set IgnorePatternDisabled.
	IgnorePattern *regexp.Regexp

	// IgnorePatternDisabled disables the ignore-pattern check entirely,
	// overriding IgnorePattern (including the default).
	IgnorePatternDisabled bool

	// OnDirectory controls trailing-slash handling. Zero value is
	// DirectoryDisabled.
	OnDirectory OnDirectory

	// MIMEResolver is consulted by MIMETypeLookup, the optional
	// capability spec.md §4.G mentions backends may implement.
	MIMEResolver MIMEResolver
}

// MIMEResolver mirrors the root package's interface without importing it,
// so callers can configure fsstore without necessarily importing the root
// package too. FS.MIMETypeLookup adapts it to sendstream.MIMETypeLookup.
type MIMEResolver interface {
	Resolve(fileName string) (mimeType string, ok bool)
}

func (c Config) ignorePattern() *regexp.Regexp {
	if c.IgnorePatternDisabled {
		return nil
	}
	if c.IgnorePattern != nil {
		return c.IgnorePattern
	}
	return DefaultIgnorePattern
}
