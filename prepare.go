package sendstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/marionebl/send-stream/byterange"
	"github.com/marionebl/send-stream/multipart"
	"github.com/marionebl/send-stream/precondition"
)

// PrepareResponse implements spec.md §4.I: resolve reference against
// storage, build headers, run conditional-GET, and plan the body (full
// resource, a single range, or multipart/byteranges), without writing
// anything to the network. Call StreamResponse.Send to actually deliver it.
func PrepareResponse(ctx context.Context, storage Storage, reference any, req *http.Request, opts Options) (*StreamResponse, error) {
	allowed := opts.allowedMethods()
	if !methodAllowed(req.Method, allowed) {
		h := make(http.Header)
		h.Set("Allow", strings.Join(allowed, ", "))
		return &StreamResponse{StatusCode: http.StatusMethodNotAllowed, Header: h}, nil
	}

	info, openErr := storage.Open(ctx, reference, req.Header)
	if openErr != nil {
		return translateOpenError(openErr), nil
	}

	hs, err := buildHeaders(info, opts, storage)
	if err != nil {
		storage.Close(info)
		return errorResponse(http.StatusInternalServerError, info, err), nil
	}

	if opts.StatusCode != 0 {
		return serveOverride(ctx, storage, info, hs, req.Method, opts.StatusCode), nil
	}

	current := precondition.Current{
		ETag:      hs.ETag,
		HaveETag:  hs.HaveETag,
		MTimeMS:   info.MTimeMS,
		HaveMTime: info.HasMTime,
	}
	outcome := precondition.Evaluate(req.Header, req.Method, current)

	switch outcome.Verdict {
	case precondition.PreconditionFailed:
		storage.Close(info)
		return &StreamResponse{
			StatusCode:  http.StatusPreconditionFailed,
			Header:      representationMetadataOnly(hs.Header),
			StorageInfo: info,
		}, nil
	case precondition.NotModified:
		storage.Close(info)
		return &StreamResponse{
			StatusCode:  http.StatusNotModified,
			Header:      representationMetadataOnly(hs.Header),
			StorageInfo: info,
		}, nil
	}

	if req.Method == http.MethodHead {
		storage.Close(info)
		h := hs.Header
		if info.HasSize {
			h.Set("Content-Length", strconv.FormatInt(info.Size, 10))
		}
		return &StreamResponse{StatusCode: http.StatusOK, Header: h, StorageInfo: info}, nil
	}

	return serveGet(ctx, storage, info, hs, req, outcome, opts)
}

func methodAllowed(method string, allowed []string) bool {
	for _, m := range allowed {
		if m == method {
			return true
		}
	}
	return false
}

// translateOpenError implements spec.md §4.I step 2's StorageError
// translation: NotNormalized becomes a 301 redirect, everything path-related
// becomes 404, Unknown (and any non-StorageError) becomes 500.
func translateOpenError(err error) *StreamResponse {
	var se *StorageError
	if !errors.As(err, &se) {
		return errorResponse(http.StatusInternalServerError, nil, err)
	}

	switch se.Cause {
	case NotNormalized:
		h := make(http.Header)
		h.Set("Location", se.NormalizedPath)
		return &StreamResponse{StatusCode: http.StatusMovedPermanently, Header: h, ServeError: se}
	case Unknown:
		return errorResponse(http.StatusInternalServerError, nil, se)
	default:
		return errorResponse(http.StatusNotFound, nil, se)
	}
}

func errorResponse(status int, info *StorageInfo, err error) *StreamResponse {
	return &StreamResponse{StatusCode: status, Header: make(http.Header), StorageInfo: info, ServeError: err}
}

// representationMetadataOnly strips the headers that describe a response
// body (Content-Type, Content-Disposition, Content-Encoding,
// Accept-Ranges) for a 304/412 response, keeping the cache-validator
// headers RFC 9110 §15.4.5 / §15.5.13 call for.
func representationMetadataOnly(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for _, k := range []string{"Cache-Control", "ETag", "Last-Modified", "Vary"} {
		if v := h.Values(k); len(v) > 0 {
			out[k] = v
		}
	}
	return out
}

func serveOverride(ctx context.Context, storage Storage, info *StorageInfo, hs HeaderSet, method string, status int) *StreamResponse {
	h := hs.Header
	if info.HasSize {
		h.Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if method == http.MethodHead {
		storage.Close(info)
		return &StreamResponse{StatusCode: status, Header: h, StorageInfo: info}
	}
	stream, err := storage.CreateReadableStream(ctx, info, nil, true)
	if err != nil {
		storage.Close(info)
		return errorResponse(http.StatusInternalServerError, info, err)
	}
	return &StreamResponse{StatusCode: status, Header: h, Stream: stream, StorageInfo: info}
}

func serveGet(ctx context.Context, storage Storage, info *StorageInfo, hs HeaderSet, req *http.Request, outcome precondition.Outcome, opts Options) (*StreamResponse, error) {
	h := hs.Header

	rangeHeader := req.Header.Get("Range")
	if outcome.DropRange {
		rangeHeader = ""
	}

	if !info.HasSize || rangeHeader == "" {
		return serveFull(ctx, storage, info, h), nil
	}

	raws, ok := byterange.ParseHeader(rangeHeader)
	if !ok {
		return serveFull(ctx, storage, info, h), nil
	}

	plan := byterange.ComputePlan(raws, info.Size, opts.maxRanges(), h.Get("Content-Type"))
	switch plan.Kind {
	case byterange.Full:
		return serveFull(ctx, storage, info, h), nil

	case byterange.Single:
		h.Set("Content-Range", formatContentRange(plan.Single.Start, plan.Single.End, info.Size))
		h.Set("Content-Length", strconv.FormatInt(plan.ContentLength, 10))
		stream, err := storage.CreateReadableStream(ctx, info, &Range{Start: plan.Single.Start, End: plan.Single.End}, true)
		if err != nil {
			storage.Close(info)
			return errorResponse(http.StatusInternalServerError, info, err), nil
		}
		return &StreamResponse{StatusCode: http.StatusPartialContent, Header: h, Stream: stream, StorageInfo: info}, nil

	case byterange.Multipart:
		boundary := plan.Boundary
		h.Set("Content-Type", "multipart/byteranges; boundary="+boundary)
		h.Set("Content-Length", strconv.FormatInt(plan.ContentLength, 10))

		parts := make([]multipart.PartSpec, len(plan.Parts))
		for i, p := range plan.Parts {
			parts[i] = multipart.PartSpec{HeaderBlock: p.HeaderBlock, Start: p.Range.Start, End: p.Range.End}
		}
		// Sub-streams share one backing handle across parts (spec.md §4.F
		// serializes them, it doesn't reopen per part), so each part is
		// opened with autoClose=false; the handle is released exactly once,
		// when the whole multipart stream closes, via closeStorageOnClose.
		opener := func(ctx context.Context, start, end int64) (io.ReadCloser, error) {
			return storage.CreateReadableStream(ctx, info, &Range{Start: start, End: end}, false)
		}
		reader := multipart.NewReader(ctx, boundary, parts, opener)
		stream := closeStorageOnClose(reader, storage, info)
		return &StreamResponse{StatusCode: http.StatusPartialContent, Header: h, Stream: stream, StorageInfo: info}, nil

	default: // byterange.Unsatisfiable
		storage.Close(info)
		h.Set("Content-Range", "bytes */"+strconv.FormatInt(info.Size, 10))
		delete(h, "Content-Length")
		return &StreamResponse{StatusCode: http.StatusRequestedRangeNotSatisfiable, Header: h, StorageInfo: info}, nil
	}
}

// closingStream wraps a ReadCloser so storage.Close(info) runs exactly once,
// on the stream's own Close, regardless of how many times Close is called
// or whether the stream was drained first (spec.md §5's close-exactness
// guarantee, extended to the multipart case where no single sub-stream
// owns the shared handle).
type closingStream struct {
	io.ReadCloser
	once    sync.Once
	storage Storage
	info    *StorageInfo
	err     error
}

func closeStorageOnClose(r io.ReadCloser, storage Storage, info *StorageInfo) io.ReadCloser {
	return &closingStream{ReadCloser: r, storage: storage, info: info}
}

func (c *closingStream) Close() error {
	readErr := c.ReadCloser.Close()
	c.once.Do(func() { c.err = c.storage.Close(c.info) })
	if readErr != nil {
		return readErr
	}
	return c.err
}

func serveFull(ctx context.Context, storage Storage, info *StorageInfo, h http.Header) *StreamResponse {
	if info.HasSize {
		h.Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	stream, err := storage.CreateReadableStream(ctx, info, nil, true)
	if err != nil {
		storage.Close(info)
		return errorResponse(http.StatusInternalServerError, info, err)
	}
	return &StreamResponse{StatusCode: http.StatusOK, Header: h, Stream: stream, StorageInfo: info}
}
