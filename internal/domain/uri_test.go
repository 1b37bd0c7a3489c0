package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePostURI(t *testing.T) {
	ref, ok := ParsePostURI("pubky://abc123/pub/pubky.app/posts/0032ABCDEF")
	require.True(t, ok)
	assert.Equal(t, "abc123", ref.AuthorID)
	assert.Equal(t, "0032ABCDEF", ref.PostID)
}

func TestParsePostURITrailingParts(t *testing.T) {
	ref, ok := ParsePostURI("pubky://abc/pub/pubky.app/posts/XYZ?foo=1#frag")
	require.True(t, ok)
	assert.Equal(t, "XYZ", ref.PostID)
}

func TestParsePostURIInvalid(t *testing.T) {
	for _, uri := range []string{
		"",
		"https://example.com/posts/1",
		"pubky://abc/pub/pubky.app/profile.json",
		"pubky://abc/posts/XYZ",
	} {
		_, ok := ParsePostURI(uri)
		assert.False(t, ok, "uri %q", uri)
	}
}

func TestProfileURI(t *testing.T) {
	assert.Equal(t, "pubky://user1/pub/pubky.app/profile.json", ProfileURI("user1"))
}
