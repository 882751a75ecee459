package fsstore

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	sendstream "github.com/marionebl/send-stream"
	"github.com/marionebl/send-stream/acceptenc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFSOpenServesRegularFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hello.txt", "world")

	fs := New(Config{Root: dir})
	info, err := fs.Open(context.Background(), "/hello.txt", make(http.Header))
	require.NoError(t, err)
	defer fs.Close(info)

	assert.True(t, info.HasSize)
	assert.EqualValues(t, 5, info.Size)
	assert.Equal(t, "identity", info.ContentEncoding)
	assert.Equal(t, "hello.txt", info.FileName)

	stream, err := fs.CreateReadableStream(context.Background(), info, nil, false)
	require.NoError(t, err)
	defer stream.Close()
	body, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "world", string(body))
}

func TestFSOpenRejectsIgnoredFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".hidden", "secret")

	fs := New(Config{Root: dir})
	_, err := fs.Open(context.Background(), "/.hidden", make(http.Header))
	require.Error(t, err)
	assert.Equal(t, sendstream.IgnoredFile, causeOf(t, err))
}

func TestFSOpenDirectoryWithoutTrailingSlashIsRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	fs := New(Config{Root: dir})
	_, err := fs.Open(context.Background(), "/sub", make(http.Header))
	require.Error(t, err)
	assert.Equal(t, sendstream.IsDirectory, causeOf(t, err))
}

func TestFSOpenTrailingSlashDisabledByDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	fs := New(Config{Root: dir})
	_, err := fs.Open(context.Background(), "/sub/", make(http.Header))
	require.Error(t, err)
	assert.Equal(t, sendstream.TrailingSlash, causeOf(t, err))
}

func TestFSOpenServeIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, filepath.Join(dir, "sub"), "index.html", "<h1>hi</h1>")

	fs := New(Config{Root: dir, OnDirectory: DirectoryServeIndex})
	info, err := fs.Open(context.Background(), "/sub/", make(http.Header))
	require.NoError(t, err)
	defer fs.Close(info)
	assert.EqualValues(t, 11, info.Size)
}

func TestFSOpenListFilesGeneratesListing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, filepath.Join(dir, "sub"), "a.txt", "a")
	writeFile(t, filepath.Join(dir, "sub"), "b.txt", "b")

	fs := New(Config{Root: dir, OnDirectory: DirectoryListFiles})
	info, err := fs.Open(context.Background(), "/sub/", make(http.Header))
	require.NoError(t, err)
	defer fs.Close(info)

	assert.Equal(t, "sub.html", info.FileName)
	assert.Equal(t, "text/html", info.MIMEType)

	stream, err := fs.CreateReadableStream(context.Background(), info, nil, true)
	require.NoError(t, err)
	body, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	html := string(body)
	assert.Contains(t, html, `href="a.txt"`)
	assert.Contains(t, html, `href="b.txt"`)
}

func TestFSEncodingNegotiationPicksGzipVariant(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gzip.json", `{"a":1}`)
	writeFile(t, dir, "gzip.json.gz", "GZIPPED")
	writeFile(t, dir, "gzip.json.br", "BROTLI")

	fs := New(Config{
		Root: dir,
		Mappings: []MappingConfig{
			{
				Matcher: regexp.MustCompile(`^(.*\.json)$`),
				Rules: []acceptenc.EncodingRule{
					{Name: "br", Replacement: "$1.br"},
					{Name: "gzip", Replacement: "$1.gz"},
				},
			},
		},
	})

	h := make(http.Header)
	h.Set("Accept-Encoding", "gzip, deflate, identity")
	info, err := fs.Open(context.Background(), "/gzip.json", h)
	require.NoError(t, err)
	defer fs.Close(info)

	assert.Equal(t, "gzip", info.ContentEncoding)
	assert.Equal(t, "Accept-Encoding", info.Vary)

	stream, err := fs.CreateReadableStream(context.Background(), info, nil, false)
	require.NoError(t, err)
	defer stream.Close()
	body, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "GZIPPED", string(body))
}

func TestFSEncodingNegotiationFallsBackToIdentity(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gzip.json", `{"a":1}`)
	writeFile(t, dir, "gzip.json.gz", "GZIPPED")

	fs := New(Config{
		Root: dir,
		Mappings: []MappingConfig{
			{
				Matcher: regexp.MustCompile(`^(.*\.json)$`),
				Rules: []acceptenc.EncodingRule{
					{Name: "gzip", Replacement: "$1.gz"},
				},
			},
		},
	})

	h := make(http.Header)
	h.Set("Accept-Encoding", "deflate, identity")
	info, err := fs.Open(context.Background(), "/gzip.json", h)
	require.NoError(t, err)
	defer fs.Close(info)

	assert.Equal(t, "identity", info.ContentEncoding)
	assert.Equal(t, "Accept-Encoding", info.Vary, "Vary is set whenever a mapping matched, even if identity wins")
}

func TestFSEncodingNegotiationNoVariantExists(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "only.json", `{}`)

	fs := New(Config{
		Root: dir,
		Mappings: []MappingConfig{
			{
				Matcher: regexp.MustCompile(`^(.*\.json)$`),
				Rules: []acceptenc.EncodingRule{
					{Name: "gzip", Replacement: "$1.gz"},
					{Name: "identity", Replacement: "$&;q=0"},
				},
			},
		},
	})

	h := make(http.Header)
	h.Set("Accept-Encoding", "gzip;q=0, identity;q=0")
	_, err := fs.Open(context.Background(), "/only.json", h)
	require.Error(t, err)
	assert.Equal(t, sendstream.DoesNotExist, causeOf(t, err))
}

func TestFSCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "x")

	fs := New(Config{Root: dir})
	info, err := fs.Open(context.Background(), "/a.txt", make(http.Header))
	require.NoError(t, err)

	require.NoError(t, fs.Close(info))
	require.NoError(t, fs.Close(info))
}

func TestFSCreateReadableStreamHonorsRange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "nums.txt", "0123456789")

	fs := New(Config{Root: dir})
	info, err := fs.Open(context.Background(), "/nums.txt", make(http.Header))
	require.NoError(t, err)
	defer fs.Close(info)

	stream, err := fs.CreateReadableStream(context.Background(), info, &sendstream.Range{Start: 3, End: 5}, false)
	require.NoError(t, err)
	defer stream.Close()
	body, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "345", string(body))
}

func TestFSAutoCloseReleasesHandle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "content")

	fs := New(Config{Root: dir})
	info, err := fs.Open(context.Background(), "/a.txt", make(http.Header))
	require.NoError(t, err)

	stream, err := fs.CreateReadableStream(context.Background(), info, nil, true)
	require.NoError(t, err)
	_, err = io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	// Closing again must not panic or error (idempotent release).
	assert.NoError(t, fs.Close(info))
}

func TestFSMIMETypeLookupDelegatesToResolver(t *testing.T) {
	fs := New(Config{Root: t.TempDir(), MIMEResolver: stubResolver{mimeType: "application/x-custom"}})
	mt, ok := fs.MIMETypeLookup("whatever")
	require.True(t, ok)
	assert.Equal(t, "application/x-custom", mt)
}

type stubResolver struct{ mimeType string }

func (s stubResolver) Resolve(string) (string, bool) { return s.mimeType, true }
