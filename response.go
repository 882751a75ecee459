package sendstream

import (
	"io"
	"net/http"
)

// StreamResponse is the outcome of PrepareResponse (spec.md §4.I): a status
// code, header block, and an optional body stream, ready to be written to
// any http.ResponseWriter-shaped sink.
type StreamResponse struct {
	StatusCode int
	Header     http.Header

	// Stream is nil for HEAD requests and for responses with no body
	// (301, 304, 404, 405, 412, 416, 500). Callers that receive a
	// non-nil Stream must either call Send or Close it themselves.
	Stream io.ReadCloser

	// StorageInfo is set whenever storage.Open succeeded, even if the
	// response ultimately has no body (e.g. 304). It is nil for
	// responses that never reached Open (405) or that failed to
	// resolve (301/404/500 from a StorageError).
	StorageInfo *StorageInfo

	// ServeError holds the underlying *StorageError or other error for
	// 404/500 responses, for callers that want to log detail beyond the
	// status code.
	ServeError error
}

// Send writes the response to w: headers, status line, and body (copied with
// backpressure via io.Copy, so a slow client naturally throttles storage
// reads). It always closes Stream, exactly once.
func (r *StreamResponse) Send(w http.ResponseWriter) error {
	dst := w.Header()
	for k, vs := range r.Header {
		dst[k] = vs
	}
	w.WriteHeader(r.StatusCode)

	if r.Stream == nil {
		return nil
	}
	defer r.Stream.Close()
	_, err := io.Copy(w, r.Stream)
	return err
}
