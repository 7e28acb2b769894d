package pk2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSlashes(t *testing.T) {
	assert.Equal(t, `a\b\c`, normalizeSlashes("a/b/c"))
	assert.Equal(t, `a\b\c`, normalizeSlashes(`a\b/c`))
	assert.Equal(t, "", normalizeSlashes(""))
}

func TestSplitPathComponents(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`foo\bar`, []string{"foo", "bar"}},
		{`foo`, []string{"foo"}},
		{``, []string{"."}},
		{`foo\\bar`, []string{"foo", "bar"}},
		{`\foo\bar\`, []string{"foo", "bar"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitPathComponents(tt.in), "input %q", tt.in)
	}
}

func TestTokenizeRaw(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{``, []string{""}},
		{`foo`, []string{"foo"}},
		{`foo\bar`, []string{"foo", "bar"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tokenizeRaw(tt.in), "input %q", tt.in)
	}

	assert.Empty(t, tokenizeRaw(`\\`), "a path of pure separators has no components")
}

func TestIsDotOrDotDot(t *testing.T) {
	assert.True(t, isDotOrDotDot("."))
	assert.True(t, isDotOrDotDot(".."))
	assert.False(t, isDotOrDotDot("foo"))
	assert.False(t, isDotOrDotDot(""))
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "foo", joinPath("", "foo"))
	assert.Equal(t, `foo\bar`, joinPath("foo", "bar"))
}
