package sendstream

import (
	"context"
	"io"
	"net/http"
)

// StorageInfo describes a resolved resource, as produced by Storage.Open. It
// is exclusively owned by the response that opened it until that response
// calls Storage.Close exactly once (§3's lifecycle rule).
type StorageInfo struct {
	// AttachedData is storage-specific: for fsstore this holds the
	// resolved path, decoded path parts, and the open file handle.
	AttachedData any

	// FileName is used to derive Content-Disposition, if set.
	FileName string

	// HasMTime/MTimeMS hold the modification time in milliseconds since
	// epoch, if known.
	HasMTime bool
	MTimeMS  int64

	// HasSize/Size hold the total byte length, if known. When unknown,
	// the response is served chunked with no Content-Length and without
	// range support.
	HasSize bool
	Size    int64

	// Vary holds an additional Vary field name the storage wants
	// merged into the response (e.g. "Accept-Encoding").
	Vary string

	// ContentEncoding is "identity" or a negotiated variant name.
	ContentEncoding string

	// MIMEType/MIMETypeCharset optionally override MIME resolution.
	MIMEType        string
	MIMETypeCharset string
}

// Range is an inclusive byte range, [Start, End].
type Range struct {
	Start, End int64
}

// Storage is the pluggable backing store contract (spec.md §4.G). Every
// operation may block and must respect ctx cancellation where it performs
// I/O.
type Storage interface {
	// Open resolves reference against requestHeaders and returns a
	// StorageInfo, or fails with a *StorageError.
	Open(ctx context.Context, reference any, requestHeaders http.Header) (*StorageInfo, error)

	// CreateReadableStream returns a stream over the resource described
	// by info. If rng is nil, the full resource is streamed. If
	// autoClose is true, the stream closes the backing handle on end or
	// error; otherwise the caller remains responsible for calling Close.
	CreateReadableStream(ctx context.Context, info *StorageInfo, rng *Range, autoClose bool) (io.ReadCloser, error)

	// Close idempotently releases any backing handle held by info.
	Close(info *StorageInfo) error
}

// MIMEResolver looks up a MIME type for a filename. It returns ("", false)
// when no type is known, mirroring spec.md §1's Option<mime-string> contract.
type MIMEResolver interface {
	Resolve(fileName string) (mimeType string, ok bool)
}

// MIMEResolverFunc adapts a function to a MIMEResolver.
type MIMEResolverFunc func(fileName string) (string, bool)

// Resolve implements MIMEResolver.
func (f MIMEResolverFunc) Resolve(fileName string) (string, bool) { return f(fileName) }

// MIMETypeLookup is an optional capability a Storage may additionally
// implement (spec.md §4.G "Polymorphic capabilities").
type MIMETypeLookup interface {
	MIMETypeLookup(fileName string) (string, bool)
}
