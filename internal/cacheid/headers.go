package cacheid

import (
	"net/http"
	"strconv"
)

// ObservedVersionHeader carries the cache version a client or CDN last saw.
const ObservedVersionHeader = "X-Cache-Version"

// Identity is the resolved cache identity of one image request.
type Identity struct {
	Params      Params
	Version     string
	ETag        string
	Invalidated bool
}

// Resolve computes the identity for raw request params. defaultVersion is
// the deployment-wide version; observed is the version the caller reports
// having cached.
func Resolve(raw map[string]string, defaultVersion, observed string) Identity {
	n := Normalize(raw)
	v := ResolveVersion(raw, defaultVersion)
	return Identity{
		Params:      n,
		Version:     v,
		ETag:        VersionedETag(n, v),
		Invalidated: ShouldInvalidate(v, observed),
	}
}

// NotModified reports whether the request's If-None-Match lets the gateway
// answer 304. A version change always forces a fresh response.
func (id Identity) NotModified(r *http.Request) bool {
	return !id.Invalidated && Matches(r.Header.Get("If-None-Match"), id.ETag)
}

// HeaderPolicy controls Cache-Control.
type HeaderPolicy struct {
	MaxAge int
	// Immutable is only applied to version-scoped responses, since only
	// those are guaranteed to change identity when content changes.
	Immutable bool
}

// Apply writes ETag, Cache-Control, X-Cache-Version and X-Cache-Invalidated.
func (id Identity) Apply(h http.Header, p HeaderPolicy) {
	h.Set("ETag", id.ETag)
	cc := "public, max-age=" + strconv.Itoa(p.MaxAge)
	if p.Immutable && id.Version != "" {
		cc += ", immutable"
	}
	h.Set("Cache-Control", cc)
	if id.Version != "" {
		h.Set(ObservedVersionHeader, id.Version)
	}
	h.Set("X-Cache-Invalidated", strconv.FormatBool(id.Invalidated))
}
