package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	sendstream "github.com/marionebl/send-stream"
	"github.com/marionebl/send-stream/acceptenc"
)

// FS is a Storage backend serving a directory tree from disk (spec.md
// §4.H). It is safe for concurrent use: the mapping registry is read-only
// after New, and every Open call owns its own file handle.
type FS struct {
	root          string
	mappings      []*acceptenc.Mapping
	ignorePattern *regexp.Regexp
	onDirectory   OnDirectory
	mimeResolver  MIMEResolver
}

// New builds an FS storage backend from cfg.
func New(cfg Config) *FS {
	mappings := make([]*acceptenc.Mapping, 0, len(cfg.Mappings))
	for _, m := range cfg.Mappings {
		mappings = append(mappings, acceptenc.NewMapping(m.Matcher, m.Rules))
	}
	return &FS{
		root:          cfg.Root,
		mappings:      mappings,
		ignorePattern: cfg.ignorePattern(),
		onDirectory:   cfg.OnDirectory,
		mimeResolver:  cfg.MIMEResolver,
	}
}

var _ sendstream.Storage = (*FS)(nil)
var _ sendstream.MIMETypeLookup = (*FS)(nil)

// MIMETypeLookup implements the optional sendstream.MIMETypeLookup
// capability (spec.md §4.G), delegating to the configured MIMEResolver.
func (fs *FS) MIMETypeLookup(fileName string) (string, bool) {
	if fs.mimeResolver == nil {
		return "", false
	}
	return fs.mimeResolver.Resolve(fileName)
}

// attached is the fsstore-specific payload stored in StorageInfo.AttachedData.
type attached struct {
	resolvedPath string
	pathParts    []string
	handle       *os.File // nil for a directory listing (reopened lazily)
	isDirectory  bool
}

// Open implements sendstream.Storage.
func (fs *FS) Open(ctx context.Context, reference any, requestHeaders http.Header) (*sendstream.StorageInfo, error) {
	parsed, perr := parseReference(reference, fs.ignorePattern)
	if perr != nil {
		return nil, perr
	}

	parts := parsed.Parts
	directoryIntent := false

	if parsed.HadTrailingSlash {
		switch fs.onDirectory {
		case DirectoryDisabled:
			se := sendstream.NewStorageError(sendstream.TrailingSlash, reference, parts)
			se.UntrailedPathParts = parts
			return nil, se
		case DirectoryListFiles:
			directoryIntent = true
		case DirectoryServeIndex:
			parts = append(append([]string{}, parts...), "index.html")
		}
	}

	resolvedPath := resolvePath(fs.root, parts)

	if directoryIntent {
		fi, err := os.Stat(resolvedPath)
		if err != nil {
			if os.IsNotExist(err) {
				se := sendstream.NewStorageError(sendstream.DoesNotExist, reference, parts)
				se.ResolvedPath = resolvedPath
				return nil, se
			}
			se := sendstream.NewStorageError(sendstream.Unknown, reference, parts)
			se.Underlying = err
			return nil, se
		}
		if !fi.IsDir() {
			se := sendstream.NewStorageError(sendstream.DoesNotExist, reference, parts)
			se.ResolvedPath = resolvedPath
			return nil, se
		}

		fileName := lastPartOr(parts, "_") + ".html"
		info := &sendstream.StorageInfo{
			AttachedData: &attached{
				resolvedPath: resolvedPath,
				pathParts:    parts,
				isDirectory:  true,
			},
			FileName:        fileName,
			HasMTime:        true,
			MTimeMS:         fi.ModTime().UnixMilli(),
			ContentEncoding: "identity",
			MIMEType:        "text/html",
			MIMETypeCharset: "UTF-8",
		}
		return info, nil
	}

	info, err := fs.openFile(ctx, reference, parts, resolvedPath, requestHeaders)
	var se *sendstream.StorageError
	if errors.As(err, &se) && (se.Cause == sendstream.IsDirectory || se.Cause == sendstream.DoesNotExist) {
		se.ResolvedPath = resolvedPath
	}
	return info, err
}

func (fs *FS) openFile(ctx context.Context, reference any, parts []string, resolvedPath string, requestHeaders http.Header) (*sendstream.StorageInfo, error) {
	mapping := fs.matchingMapping(resolvedPath)

	var (
		winner     *os.File
		winnerInfo os.FileInfo
		encoding   = "identity"
		vary       bool
	)

	if mapping != nil {
		prefs := acceptenc.Parse(requestHeaders.Get("Accept-Encoding"))
		prober := func(name, path string) (acceptenc.ProbeOutcome, error) {
			f, err := os.Open(path)
			if err != nil {
				if os.IsNotExist(err) {
					return acceptenc.ProbeOutcome{Found: false}, nil
				}
				return acceptenc.ProbeOutcome{}, err
			}
			fi, err := f.Stat()
			if err != nil {
				f.Close()
				return acceptenc.ProbeOutcome{}, err
			}
			if fi.IsDir() {
				f.Close()
				return acceptenc.ProbeOutcome{Found: true, IsDirectory: true}, nil
			}
			winner, winnerInfo = f, fi
			return acceptenc.ProbeOutcome{Found: true}, nil
		}

		result, matched, err := acceptenc.Select(prefs, mapping, resolvedPath, prober)
		if matched {
			vary = true
			if err != nil {
				switch {
				case acceptenc.IsDirectoryResult(err):
					return nil, sendstream.NewStorageError(sendstream.IsDirectory, reference, parts)
				case errors.Is(err, acceptenc.ErrNoCandidate):
					return nil, sendstream.NewStorageError(sendstream.DoesNotExist, reference, parts)
				default:
					se := sendstream.NewStorageError(sendstream.Unknown, reference, parts)
					se.Underlying = err
					return nil, se
				}
			}
			encoding = result.Name
		}
	}

	if winner == nil {
		f, err := os.Open(resolvedPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, sendstream.NewStorageError(sendstream.DoesNotExist, reference, parts)
			}
			se := sendstream.NewStorageError(sendstream.Unknown, reference, parts)
			se.Underlying = err
			return nil, se
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			se := sendstream.NewStorageError(sendstream.Unknown, reference, parts)
			se.Underlying = err
			return nil, se
		}
		if fi.IsDir() {
			f.Close()
			return nil, sendstream.NewStorageError(sendstream.IsDirectory, reference, parts)
		}
		winner, winnerInfo = f, fi
	}

	info := &sendstream.StorageInfo{
		AttachedData: &attached{
			resolvedPath: resolvedPath,
			pathParts:    parts,
			handle:       winner,
		},
		FileName:        lastPartOr(parts, ""),
		HasMTime:        true,
		MTimeMS:         winnerInfo.ModTime().UnixMilli(),
		HasSize:         true,
		Size:            winnerInfo.Size(),
		ContentEncoding: encoding,
	}
	if vary {
		info.Vary = "Accept-Encoding"
	}
	return info, nil
}

func (fs *FS) matchingMapping(resolvedPath string) *acceptenc.Mapping {
	for _, m := range fs.mappings {
		if m.Matcher.MatchString(resolvedPath) {
			return m
		}
	}
	return nil
}

// CreateReadableStream implements sendstream.Storage.
func (fs *FS) CreateReadableStream(ctx context.Context, info *sendstream.StorageInfo, rng *sendstream.Range, autoClose bool) (io.ReadCloser, error) {
	a, ok := info.AttachedData.(*attached)
	if !ok {
		return nil, fmt.Errorf("fsstore: unrecognized StorageInfo")
	}

	if a.isDirectory {
		return newListingReader(a.resolvedPath, fs.ignorePattern)
	}

	if a.handle == nil {
		return nil, fmt.Errorf("fsstore: no open handle for %s", a.resolvedPath)
	}

	start, end := int64(0), info.Size-1
	if rng != nil {
		start, end = rng.Start, rng.End
	}
	length := end - start + 1
	section := io.NewSectionReader(a.handle, start, length)

	if !autoClose {
		return io.NopCloser(section), nil
	}
	return &autoCloseReader{Reader: section, handle: a.handle, fs: fs, info: info, offset: start, length: length}, nil
}

// autoCloseReader releases the backing handle through FS.Close as soon as a
// read reports EOF or an error, or when the caller closes the stream,
// whichever comes first. The release happens once; a later Close returns the
// error of that release.
type autoCloseReader struct {
	io.Reader
	handle         *os.File
	fs             *FS
	info           *sendstream.StorageInfo
	closed         bool
	closeErr       error
	offset, length int64
}

func (r *autoCloseReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if err != nil && !r.closed {
		r.closed = true
		r.closeErr = r.fs.Close(r.info)
	}
	return n, err
}

// File exposes the backing *os.File plus the byte range this stream covers,
// for callers able to take a sendfile(2)-style fast path (cmd/sendstreamd's
// linux build does this). It must not be used after Close.
func (r *autoCloseReader) File() (f *os.File, offset, length int64) {
	return r.handle, r.offset, r.length
}

func (r *autoCloseReader) Close() error {
	if r.closed {
		return r.closeErr
	}
	r.closed = true
	return r.fs.Close(r.info)
}

// Close implements sendstream.Storage. It is idempotent.
func (fs *FS) Close(info *sendstream.StorageInfo) error {
	a, ok := info.AttachedData.(*attached)
	if !ok || a.handle == nil {
		return nil
	}
	h := a.handle
	a.handle = nil
	return h.Close()
}

func resolvePath(root string, parts []string) string {
	elems := append([]string{root}, parts...)
	return filepath.Join(elems...)
}

func lastPartOr(parts []string, fallback string) string {
	if len(parts) == 0 {
		return fallback
	}
	last := parts[len(parts)-1]
	if last == "" {
		return fallback
	}
	return last
}
