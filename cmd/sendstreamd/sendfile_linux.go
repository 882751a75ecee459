//go:build linux

package main

import (
	"io"
	"net"
	"net/http"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// fileExposer is implemented by fsstore's autoCloseReader. The signature
// must match that type's File() method exactly (Go interface satisfaction
// is not covariant on return types), so this names *os.File directly
// rather than a narrower Fd()-only interface.
type fileExposer interface {
	File() (f *os.File, offset, length int64)
}

// trySendfile attempts the htpack-style hijack+unix.Sendfile fast path
// (handler.go's sendfile/copyfile split) for a stream that exposes its
// backing file descriptor. It returns handled=false if any precondition
// isn't met, in which case the caller should fall back to io.Copy.
func trySendfile(w http.ResponseWriter, stream io.Reader) (handled bool) {
	fe, ok := stream.(fileExposer)
	if !ok {
		return false
	}
	f, offset, length := fe.File()

	hj, ok := w.(http.Hijacker)
	if !ok {
		return false
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		return false
	}
	defer conn.Close()

	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		// The connection is already hijacked, so w can no longer carry the
		// body: copy the stream over the hijacked connection instead.
		if _, err := io.Copy(buf, stream); err == nil {
			buf.Flush()
		}
		return true
	}

	rawsock, err := tcp.SyscallConn()
	if err == nil {
		err = buf.Flush()
	}
	if err != nil {
		return true
	}

	off := offset
	remain := length
	var breakErr error
	for breakErr == nil && remain > 0 {
		amt := remain
		if amt > (1 << 30) {
			amt = 1 << 30
		}
		var written int
		rawErr := rawsock.Write(func(outfd uintptr) bool {
			var werr error
			written, werr = unix.Sendfile(int(outfd), int(f.Fd()), &off, int(amt))
			switch werr {
			case nil:
				return true
			case syscall.EAGAIN:
				return false
			default:
				breakErr = werr
				return true
			}
		})
		if rawErr != nil {
			break
		}
		remain -= int64(written)
	}
	return true
}
