package precondition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseETagList(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		tags, star := ParseETagList("*")
		assert.True(t, star)
		assert.Empty(t, tags)
	})

	t.Run("multiple tags", func(t *testing.T) {
		tags, star := ParseETagList(`"abc", W/"def"`)
		assert.False(t, star)
		assert.Equal(t, []ETag{{Value: "abc"}, {Value: "def", Weak: true}}, tags)
	})

	t.Run("empty", func(t *testing.T) {
		tags, star := ParseETagList("")
		assert.False(t, star)
		assert.Nil(t, tags)
	})
}

func TestMatching(t *testing.T) {
	strong := ETag{Value: "abc"}
	weak := ETag{Value: "abc", Weak: true}
	other := ETag{Value: "xyz"}

	assert.True(t, StrongMatch(strong, strong))
	assert.False(t, StrongMatch(strong, weak))
	assert.True(t, WeakMatch(strong, weak))
	assert.False(t, WeakMatch(strong, other))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, `"abc"`, ETag{Value: "abc"}.Format())
	assert.Equal(t, `W/"abc"`, ETag{Value: "abc", Weak: true}.Format())
}
