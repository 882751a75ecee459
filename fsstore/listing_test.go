package fsstore

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeAmp(t *testing.T) {
	assert.Equal(t, "a&amp;b", escapeAmp("a&b"))
	assert.Equal(t, "plain", escapeAmp("plain"))
}

func TestNewListingReaderSkipsIgnoredAndForbiddenNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "visible.txt", "x")
	writeFile(t, dir, ".hidden", "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub dir"), 0o755))

	r, err := newListingReader(dir, DefaultIgnorePattern)
	require.NoError(t, err)
	defer r.Close()

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	html := string(body)

	assert.Contains(t, html, `href="visible.txt"`)
	assert.Contains(t, html, `href="sub dir/"`, "directory entries get a trailing slash")
	assert.NotContains(t, html, "hidden")
}
