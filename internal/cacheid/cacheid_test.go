package cacheid

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestETag_CaseAndOrderInsensitive(t *testing.T) {
	a := Normalize(map[string]string{"template": "blog", "title": "Test"})
	b := Normalize(map[string]string{"title": "Test", "template": "Blog"})
	assert.Equal(t, ETag(a), ETag(b))

	c := Normalize(map[string]string{" TITLE ": " test ", "Template": "BLOG", "theme": "light"})
	assert.Equal(t, ETag(a), ETag(c), "whitespace and explicit defaults must not matter")
}

func TestETag_Format(t *testing.T) {
	etag := ETag(Normalize(nil))
	assert.Regexp(t, regexp.MustCompile(`^"[0-9a-f]{16}"$`), etag)
}

func TestNormalize(t *testing.T) {
	n := Normalize(map[string]string{
		"Dark":    "YES",
		"shadow":  "0",
		"key":     "eog_x_y",
		"token":   "abc",
		"version": "v2",
		"title":   "  Hello World ",
	})
	assert.Equal(t, Params{
		"dark":     "true",
		"shadow":   "false",
		"title":    "hello world",
		"template": "default",
		"theme":    "light",
		"font":     "inter",
		"format":   "png",
	}, n)
}

func TestVersionedETag(t *testing.T) {
	n := Normalize(map[string]string{"title": "x"})
	assert.NotEqual(t, VersionedETag(n, "v1"), VersionedETag(n, "v2"))
	assert.NotEqual(t, ETag(n), VersionedETag(n, "v1"))
	assert.Equal(t, ETag(n), VersionedETag(n, ""))
	assert.NotContains(t, n, "_version", "versioning must not mutate the params")
}

func TestNormalize_CaseCollisionIsStable(t *testing.T) {
	params := map[string]string{"Title": "Upper", "title": "lower", "TITLE": "shout"}
	want := ETag(Normalize(params))
	for i := 0; i < 200; i++ {
		require.Equal(t, want, ETag(Normalize(params)))
	}
	assert.Equal(t, "shout", Normalize(params)["title"])
}

func TestNormalize_DropsVersionSlot(t *testing.T) {
	plain := Normalize(map[string]string{"title": "x"})
	spoofed := Normalize(map[string]string{"title": "x", "_version": "v1"})
	assert.NotContains(t, spoofed, "_version")
	assert.Equal(t, ETag(plain), ETag(spoofed))
	assert.NotEqual(t, VersionedETag(plain, "v1"), ETag(spoofed))
}

func TestResolveVersion(t *testing.T) {
	assert.Equal(t, "req", ResolveVersion(map[string]string{"version": "req"}, "env"))
	assert.Equal(t, "env", ResolveVersion(map[string]string{"version": " "}, "env"))
	assert.Equal(t, "", ResolveVersion(nil, ""))
	assert.Equal(t, "a", ResolveVersion(map[string]string{"Version": "a", "version": "b"}, ""))
}

func TestShouldInvalidate(t *testing.T) {
	assert.False(t, ShouldInvalidate("", ""))
	assert.False(t, ShouldInvalidate("v1", "v1"))
	assert.True(t, ShouldInvalidate("v2", "v1"))
	assert.True(t, ShouldInvalidate("v1", ""))
	assert.True(t, ShouldInvalidate("", "v1"))
}

func TestMatches(t *testing.T) {
	etag := `"0123456789abcdef"`
	assert.True(t, Matches(etag, etag))
	assert.True(t, Matches(`W/"0123456789abcdef"`, etag))
	assert.True(t, Matches(`"other", "0123456789abcdef"`, etag))
	assert.True(t, Matches("*", etag))
	assert.False(t, Matches("", etag))
	assert.False(t, Matches(`"other"`, etag))
}

func TestIdentity_ApplyAndNotModified(t *testing.T) {
	id := Resolve(map[string]string{"title": "x", "version": "v3"}, "v1", "v3")
	assert.Equal(t, "v3", id.Version)
	assert.False(t, id.Invalidated)

	h := http.Header{}
	id.Apply(h, HeaderPolicy{MaxAge: 600, Immutable: true})
	assert.Equal(t, id.ETag, h.Get("ETag"))
	assert.Equal(t, "public, max-age=600, immutable", h.Get("Cache-Control"))
	assert.Equal(t, "v3", h.Get("X-Cache-Version"))
	assert.Equal(t, "false", h.Get("X-Cache-Invalidated"))

	req := httptest.NewRequest(http.MethodGet, "/api/image", nil)
	req.Header.Set("If-None-Match", id.ETag)
	assert.True(t, id.NotModified(req))

	bumped := Resolve(map[string]string{"title": "x"}, "v4", "v3")
	assert.True(t, bumped.Invalidated)
	req.Header.Set("If-None-Match", bumped.ETag)
	assert.False(t, bumped.NotModified(req), "invalidated identities never answer 304")
}
