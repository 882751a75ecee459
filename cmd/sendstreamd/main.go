// Sendstreamd is a standalone HTTP server that serves one or more directory
// trees using the sendstream library: conditional GET, Range/multipart
// support, and Accept-Encoding precompression negotiation.
//
// Grounded on lwithers/htpack's cmd/packserver/main.go: same cobra flag
// grammar (prefix=path arguments, --bind/--key/--cert/--header/
// --header-file), generalized from serving a single prebuilt .htpack archive
// to serving a live directory tree per prefix.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	sendstream "github.com/marionebl/send-stream"
	"github.com/marionebl/send-stream/fsstore"
)

var rootCmd = &cobra.Command{
	Use:   "sendstreamd",
	Short: "sendstreamd serves directory trees over HTTP(S) with conditional GET and Range support",
	Long: `sendstreamd serves one or more directory trees over HTTP(S).

In order to use HTTPS, specify the --key (or -k) flag. This should name a
PEM-encoded key file. This file may also contain the certificate; if not,
then pass the --cert (or -c) flag in addition.

Directory roots are specified as "/prefix=dir", or just as "dir" (which
implies "/=dir"). Any /prefix present in the request URL is stripped before
resolving the request against dir. Only one root can be served at a
particular prefix.`,
	RunE: run,
}

func main() {
	rootCmd.Flags().StringP("bind", "b", ":8080", "Address to listen on / bind to")
	rootCmd.Flags().StringP("key", "k", "", "Path to PEM-encoded HTTPS key")
	rootCmd.Flags().StringP("cert", "c", "", "Path to PEM-encoded HTTPS cert")
	rootCmd.Flags().StringSliceP("header", "H", nil,
		"Extra headers; use flag once for each, in form -H header=value")
	rootCmd.Flags().String("header-file", "",
		"Path to text file containing one line for each header=value to add")
	rootCmd.Flags().String("index-file", "",
		"Any non-empty value enables onDirectory=serve-index for directory references; the file served is always index.html")
	rootCmd.Flags().Bool("list-dirs", false,
		"Serve a generated HTML listing for directory references (enables onDirectory=list-files)")
	rootCmd.Flags().Int("max-ranges", 200,
		"Maximum number of ranges accepted in a single Range header before falling back to full content")
	rootCmd.Flags().Bool("weak-etags", false,
		"Mark generated ETags as weak")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cobra.Command, args []string) error {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))

	bindAddr, err := c.Flags().GetString("bind")
	if err != nil {
		return err
	}

	keyFile, err := c.Flags().GetString("key")
	if err != nil {
		return err
	}
	certFile, err := c.Flags().GetString("cert")
	if err != nil {
		return err
	}
	switch {
	case keyFile == "" && certFile == "":
	case keyFile == "":
		return errors.New("cannot specify --cert without --key")
	case certFile == "":
		certFile = keyFile
	}

	extraHeaders := make(http.Header)
	hdrs, err := c.Flags().GetStringSlice("header")
	if err != nil {
		return err
	}
	for _, hdr := range hdrs {
		pos := strings.IndexRune(hdr, '=')
		if pos == -1 {
			return fmt.Errorf("header %q must be in form name=value", hdr)
		}
		extraHeaders.Add(hdr[:pos], hdr[pos+1:])
	}

	hdrfile, err := c.Flags().GetString("header-file")
	if err != nil {
		return err
	}
	if err := loadHeaderFile(hdrfile, extraHeaders); err != nil {
		return fmt.Errorf("--header-file: %w", err)
	}

	indexFile, err := c.Flags().GetString("index-file")
	if err != nil {
		return err
	}
	listDirs, err := c.Flags().GetBool("list-dirs")
	if err != nil {
		return err
	}
	if indexFile != "" && listDirs {
		return errors.New("cannot specify both --index-file and --list-dirs")
	}

	maxRanges, err := c.Flags().GetInt("max-ranges")
	if err != nil {
		return err
	}
	weakETags, err := c.Flags().GetBool("weak-etags")
	if err != nil {
		return err
	}

	if len(args) == 0 {
		return errors.New("must specify one or more directory roots")
	}

	rootPaths := make(map[string]string)
	for _, arg := range args {
		prefix, dir := "/", arg
		if pos := strings.IndexRune(arg, '='); pos != -1 {
			prefix, dir = arg[:pos], arg[pos+1:]
		}
		prefix = filepath.Clean(prefix)
		if prefix[0] != '/' {
			return fmt.Errorf("%s: prefix must start with '/'", arg)
		}
		if other, used := rootPaths[prefix]; used {
			return fmt.Errorf("%s: prefix %q already used by %s", arg, prefix, other)
		}
		rootPaths[prefix] = dir
	}

	onDirectory := fsstore.DirectoryDisabled
	switch {
	case indexFile != "":
		onDirectory = fsstore.DirectoryServeIndex
	case listDirs:
		onDirectory = fsstore.DirectoryListFiles
	}

	mux := http.NewServeMux()
	for prefix, dir := range rootPaths {
		store := fsstore.New(fsstore.Config{Root: dir, OnDirectory: onDirectory})
		handler := &server{
			store:        store,
			extraHeaders: extraHeaders,
			logger:       logger,
			opts: sendstream.Options{
				MaxRanges: &maxRanges,
				WeakETags: weakETags,
			},
		}
		if prefix != "/" {
			mux.Handle(prefix+"/", http.StripPrefix(prefix, handler))
		} else {
			mux.Handle("/", handler)
		}
	}

	logger.Info("listening", "addr", bindAddr)
	if keyFile == "" {
		err = http.ListenAndServe(bindAddr, mux)
	} else {
		err = http.ListenAndServeTLS(bindAddr, certFile, keyFile, mux)
	}
	if err != nil {
		return err
	}
	return nil
}

// server adapts PrepareResponse to net/http, mirroring the teacher's
// addHeaders wrapper but dispatching through the core orchestrator instead
// of a canned *htpack.Handler.
type server struct {
	store        sendstream.Storage
	extraHeaders http.Header
	logger       *slog.Logger
	opts         sendstream.Options
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := sendstream.PrepareResponse(r.Context(), s.store, r.URL.EscapedPath(), r, s.opts)
	if err != nil {
		s.logger.Error("prepare response failed", "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	for name, values := range s.extraHeaders {
		w.Header()[name] = append(w.Header()[name], values...)
	}
	dst := w.Header()
	for k, vs := range resp.Header {
		dst[k] = vs
	}
	w.WriteHeader(resp.StatusCode)

	if resp.Stream != nil {
		if !trySendfile(w, resp.Stream) {
			if _, err := io.Copy(w, resp.Stream); err != nil {
				s.logger.Warn("stream copy failed", "path", r.URL.Path, "err", err)
			}
		}
		resp.Stream.Close()
	}
	if resp.ServeError != nil {
		s.logger.Debug("resolve failed", "path", r.URL.Path, "status", resp.StatusCode, "err", resp.ServeError)
	}
}

func loadHeaderFile(hdrfile string, extraHeaders http.Header) error {
	if hdrfile == "" {
		return nil
	}
	f, err := os.Open(hdrfile)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lineNum int
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineNum++
		if line == "" {
			continue
		}
		pos := strings.IndexRune(line, '=')
		if pos == -1 {
			return fmt.Errorf("%s: line %d: not in form header=value", hdrfile, lineNum)
		}
		extraHeaders.Add(line[:pos], line[pos+1:])
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s: %v", hdrfile, err)
	}
	return nil
}
