package sendstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStorage is a minimal in-memory Storage used to exercise PrepareResponse
// end-to-end without touching the filesystem.
type memStorage struct {
	content  map[string][]byte
	mtimeMS  int64
	closes   int
	closeErr error
}

type memAttached struct {
	path string
}

func (m *memStorage) Open(ctx context.Context, reference any, headers http.Header) (*StorageInfo, error) {
	path, ok := reference.(string)
	if !ok {
		return nil, NewStorageError(InvalidPath, reference, nil)
	}
	if path == "/missing.txt" {
		return nil, NewStorageError(DoesNotExist, reference, nil)
	}
	if path == "/redirect.txt" {
		se := NewStorageError(NotNormalized, reference, nil)
		se.NormalizedPath = "/canonical.txt"
		return nil, se
	}
	data, ok := m.content[path]
	if !ok {
		return nil, NewStorageError(DoesNotExist, reference, nil)
	}
	return &StorageInfo{
		AttachedData:    &memAttached{path: path},
		FileName:        path[1:],
		HasMTime:        true,
		MTimeMS:         m.mtimeMS,
		HasSize:         true,
		Size:            int64(len(data)),
		ContentEncoding: "identity",
	}, nil
}

func (m *memStorage) CreateReadableStream(ctx context.Context, info *StorageInfo, rng *Range, autoClose bool) (io.ReadCloser, error) {
	a := info.AttachedData.(*memAttached)
	data := m.content[a.path]
	start, end := int64(0), int64(len(data))-1
	if rng != nil {
		start, end = rng.Start, rng.End
	}
	section := io.NopCloser(bytes.NewReader(data[start : end+1]))
	if !autoClose {
		return section, nil
	}
	return &memAutoCloseReader{ReadCloser: section, storage: m, info: info}, nil
}

func (m *memStorage) Close(info *StorageInfo) error {
	m.closes++
	return m.closeErr
}

// memAutoCloseReader mirrors fsstore's autoCloseReader: when autoClose is
// requested, closing the returned stream releases the backing StorageInfo
// through Storage.Close exactly once.
type memAutoCloseReader struct {
	io.ReadCloser
	storage *memStorage
	info    *StorageInfo
	closed  bool
}

func (r *memAutoCloseReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.storage.Close(r.info)
}

func newMemStorage() *memStorage {
	return &memStorage{
		content: map[string][]byte{
			"/hello.txt": []byte("world"),
			"/world.txt": []byte("world"),
			"/nums.txt":  []byte("0123456789"),
		},
		mtimeMS: 1700000000000,
	}
}

func newRequest(method, target string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestPrepareResponseFullBody(t *testing.T) {
	store := newMemStorage()
	resp, err := PrepareResponse(context.Background(), store, "/hello.txt", newRequest("GET", "/hello.txt", nil), Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Content-Length"))

	body, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	require.NoError(t, resp.Stream.Close())
	assert.Equal(t, "world", string(body))
	assert.Equal(t, 1, store.closes)
}

func TestPrepareResponseMethodNotAllowed(t *testing.T) {
	store := newMemStorage()
	resp, err := PrepareResponse(context.Background(), store, "/hello.txt", newRequest("OPTIONS", "/hello.txt", nil), Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "GET, HEAD", resp.Header.Get("Allow"))
}

func TestPrepareResponseNotNormalizedRedirects(t *testing.T) {
	store := newMemStorage()
	resp, err := PrepareResponse(context.Background(), store, "/redirect.txt", newRequest("GET", "/redirect.txt", nil), Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/canonical.txt", resp.Header.Get("Location"))
	assert.Nil(t, resp.Stream)
}

func TestPrepareResponseNotFound(t *testing.T) {
	store := newMemStorage()
	resp, err := PrepareResponse(context.Background(), store, "/missing.txt", newRequest("GET", "/missing.txt", nil), Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Error(t, resp.ServeError)
	var se *StorageError
	require.True(t, errors.As(resp.ServeError, &se))
	assert.Equal(t, DoesNotExist, se.Cause)
}

func TestPrepareResponseConditionalGetNotModified(t *testing.T) {
	store := newMemStorage()
	// First request to learn the ETag.
	first, err := PrepareResponse(context.Background(), store, "/nums.txt", newRequest("GET", "/nums.txt", nil), Options{})
	require.NoError(t, err)
	first.Stream.Close()
	etag := first.Header.Get("ETag")
	require.NotEmpty(t, etag)

	second, err := PrepareResponse(context.Background(), store, "/nums.txt", newRequest("GET", "/nums.txt", map[string]string{
		"If-None-Match": etag,
	}), Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, second.StatusCode)
	assert.Nil(t, second.Stream)
}

func TestPrepareResponseHeadHasNoBody(t *testing.T) {
	store := newMemStorage()
	resp, err := PrepareResponse(context.Background(), store, "/hello.txt", newRequest("HEAD", "/hello.txt", nil), Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Content-Length"))
	assert.Nil(t, resp.Stream)
}

func TestPrepareResponseSingleRange(t *testing.T) {
	store := newMemStorage()
	resp, err := PrepareResponse(context.Background(), store, "/nums.txt", newRequest("GET", "/nums.txt", map[string]string{
		"Range": "bytes=0-0",
	}), Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 0-0/10", resp.Header.Get("Content-Range"))
	body, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	require.NoError(t, resp.Stream.Close())
	assert.Equal(t, "0", string(body))
}

func TestPrepareResponseRangeUnsatisfiable(t *testing.T) {
	store := newMemStorage()
	resp, err := PrepareResponse(context.Background(), store, "/nums.txt", newRequest("GET", "/nums.txt", map[string]string{
		"Range": "bytes=700-700",
	}), Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Equal(t, "bytes */10", resp.Header.Get("Content-Range"))
	assert.Nil(t, resp.Stream)
}

func TestPrepareResponseUnknownUnitServesFull(t *testing.T) {
	store := newMemStorage()
	resp, err := PrepareResponse(context.Background(), store, "/nums.txt", newRequest("GET", "/nums.txt", map[string]string{
		"Range": "test=1-1",
	}), Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	resp.Stream.Close()
	assert.Equal(t, "0123456789", string(body))
}

func TestPrepareResponseMultipartRange(t *testing.T) {
	store := newMemStorage()
	resp, err := PrepareResponse(context.Background(), store, "/world.txt", newRequest("GET", "/world.txt", map[string]string{
		"Range": "bytes=0-0,2-2",
	}), Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Regexp(t, `^multipart/byteranges; boundary=`, resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	require.NoError(t, resp.Stream.Close())
	assert.Regexp(t, `^--[^\r\n]+\r\ncontent-type: text/plain; charset=UTF-8\r\ncontent-range: bytes 0-0/5\r\n\r\nw\r\n--[^\r\n]+\r\ncontent-type: text/plain; charset=UTF-8\r\ncontent-range: bytes 2-2/5\r\n\r\nr\r\n--[^\r\n]+--$`, string(body))

	// Close-exactness: exactly one Close even though two sub-streams were
	// opened during framing.
	assert.Equal(t, 1, store.closes)
}

func TestPrepareResponseSuffixRange(t *testing.T) {
	store := newMemStorage()
	store.content["/nine.txt"] = []byte("123456789")
	resp, err := PrepareResponse(context.Background(), store, "/nine.txt", newRequest("GET", "/nine.txt", map[string]string{
		"Range": "bytes=-3",
	}), Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	body, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	resp.Stream.Close()
	assert.Equal(t, "789", string(body))
}
