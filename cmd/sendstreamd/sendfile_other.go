//go:build !linux

package main

import (
	"io"
	"net/http"
)

// trySendfile is a no-op outside Linux; the caller falls back to io.Copy.
func trySendfile(w http.ResponseWriter, stream io.Reader) (handled bool) {
	return false
}
