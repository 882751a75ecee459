// Package multipart implements the multipart/byteranges lazy framer (spec.md
// §4.F). Unlike net/http/multipart (and the push-style goroutine+io.Pipe
// approach in black-06-grpc-gateway-file/file_download.go's ServeContent),
// this is a pull-style io.Reader so it honors the backpressure requirement
// of spec.md §5: sub-stream acquisition is serialized, and at most one
// backing read is active at a time, opened only once the previous part has
// been fully drained and closed.
package multipart

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// PartSpec describes one sub-range to frame.
type PartSpec struct {
	// HeaderBlock is the precomputed per-part header text (e.g.
	// "content-type: ...\r\ncontent-range: bytes 0-0/5\r\n\r\n"),
	// already CRLF-terminated including the blank line before the body.
	HeaderBlock string
	Start, End  int64 // inclusive
}

// Opener opens the body bytes for one part, given its inclusive byte
// bounds. The returned ReadCloser must yield exactly End-Start+1 bytes.
type Opener func(ctx context.Context, start, end int64) (io.ReadCloser, error)

// Reader frames PartSpecs as multipart/byteranges, draining lazily. It
// implements io.ReadCloser. A Reader is single-use: once drained or closed
// it cannot be restarted.
type Reader struct {
	ctx      context.Context
	boundary string
	parts    []PartSpec
	opener   Opener

	idx     int
	pending *bytes.Reader
	body    io.ReadCloser
	bodyLeft int64
	done    bool
}

// NewReader builds a Reader. parts must be non-empty.
func NewReader(ctx context.Context, boundary string, parts []PartSpec, opener Opener) *Reader {
	return &Reader{ctx: ctx, boundary: boundary, parts: parts, opener: opener}
}

// preludeFor renders the boundary delimiter and header block preceding one
// part's body. Per spec.md §8's boundary-case example, the very first part
// is NOT preceded by a leading "\r\n" (the body starts directly with
// "--boundary"); every later part is, since it follows the previous part's
// body bytes.
func (r *Reader) preludeFor(p PartSpec) []byte {
	lead := "\r\n"
	if r.idx == 0 {
		lead = ""
	}
	return []byte(fmt.Sprintf("%s--%s\r\n%s", lead, r.boundary, p.HeaderBlock))
}

// trailer renders the final boundary delimiter. Per spec.md §8's literal
// boundary-case example, the body ends at "--boundary--" with no trailing
// CRLF.
func (r *Reader) trailer() []byte {
	return []byte(fmt.Sprintf("\r\n--%s--", r.boundary))
}

// Read implements io.Reader. It never returns (0, nil): it either makes
// progress or returns an error (io.EOF included).
func (r *Reader) Read(p []byte) (int, error) {
	for {
		if r.pending != nil {
			n, err := r.pending.Read(p)
			if err == io.EOF {
				r.pending = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		if r.done {
			return 0, io.EOF
		}

		if r.body == nil {
			if r.idx >= len(r.parts) {
				r.pending = bytes.NewReader(r.trailer())
				r.done = true
				continue
			}
			part := r.parts[r.idx]
			body, err := r.opener(r.ctx, part.Start, part.End)
			if err != nil {
				return 0, err
			}
			r.body = body
			r.bodyLeft = part.End - part.Start + 1
			r.pending = bytes.NewReader(r.preludeFor(part))
			continue
		}

		if r.bodyLeft == 0 {
			err := r.body.Close()
			r.body = nil
			r.idx++
			if err != nil {
				return 0, err
			}
			continue
		}

		toRead := p
		if int64(len(toRead)) > r.bodyLeft {
			toRead = toRead[:r.bodyLeft]
		}
		n, err := r.body.Read(toRead)
		r.bodyLeft -= int64(n)
		if err != nil && err != io.EOF {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
		if err == io.EOF && r.bodyLeft > 0 {
			return 0, io.ErrUnexpectedEOF
		}
	}
}

// Close releases any currently-open sub-stream. It is safe to call after
// the Reader has already drained to EOF.
func (r *Reader) Close() error {
	if r.body == nil {
		return nil
	}
	err := r.body.Close()
	r.body = nil
	return err
}
