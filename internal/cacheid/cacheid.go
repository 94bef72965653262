// Package cacheid derives cache identities for rendered images: parameter
// normalization, content-hash ETags and version-scoped invalidation.
package cacheid

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// Params is a normalized parameter set. Keys and values are lower-case and
// trimmed.
type Params map[string]string

// VersionParam is the request parameter that selects a cache version.
const VersionParam = "version"

var defaults = map[string]string{
	"template": "default",
	"theme":    "light",
	"font":     "inter",
	"format":   "png",
}

// reserved parameters carry credentials or cache scoping and never take part
// in the content identity.
var reserved = map[string]bool{
	"key":        true,
	"token":      true,
	VersionParam: true,
	versionSlot:  true,
}

// versionSlot is the entry VersionedETag adds to the hashed params.
const versionSlot = "_version"

var booleans = map[string]string{
	"1": "true", "yes": "true", "on": "true", "true": "true",
	"0": "false", "no": "false", "off": "false", "false": "false",
}

// FromQuery flattens a query string, keeping the first value of each key.
func FromQuery(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// Normalize canonicalizes params so that requests differing only in key
// order, case, surrounding whitespace or omitted defaults are identical.
// When several keys fold to the same name, the one that sorts first wins.
func Normalize(params map[string]string) Params {
	n := make(Params, len(params)+len(defaults))
	for _, rawKey := range sortedKeys(params) {
		k := strings.ToLower(strings.TrimSpace(rawKey))
		if k == "" || reserved[k] {
			continue
		}
		if _, seen := n[k]; seen {
			continue
		}
		v := strings.ToLower(strings.TrimSpace(params[rawKey]))
		if b, ok := booleans[v]; ok {
			v = b
		}
		n[k] = v
	}
	for k, v := range defaults {
		if n[k] == "" {
			n[k] = v
		}
	}
	return n
}

func sortedKeys(m map[string]string) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// ETag is the quoted first 16 hex characters of SHA-256 over the canonical
// JSON of n.
func ETag(n Params) string {
	return hashParams(n)
}

// VersionedETag is ETag over n plus a "_version" entry, so every identity
// changes when the version does.
func VersionedETag(n Params, version string) string {
	if version == "" {
		return ETag(n)
	}
	scoped := make(Params, len(n)+1)
	for k, v := range n {
		scoped[k] = v
	}
	scoped[versionSlot] = version
	return hashParams(scoped)
}

func hashParams(n Params) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding/json writes map keys in sorted order.
	_ = enc.Encode(map[string]string(n))
	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return `"` + hex.EncodeToString(sum[:])[:16] + `"`
}

// ResolveVersion picks the request's version parameter over the deployment
// default. An empty result means no version scoping.
func ResolveVersion(params map[string]string, envDefault string) string {
	for _, k := range sortedKeys(params) {
		if strings.EqualFold(strings.TrimSpace(k), VersionParam) {
			if v := strings.TrimSpace(params[k]); v != "" {
				return v
			}
		}
	}
	return strings.TrimSpace(envDefault)
}

// ShouldInvalidate is true iff the versions differ, including when only one
// is present.
func ShouldInvalidate(newVersion, observedVersion string) bool {
	return newVersion != observedVersion
}

// Matches reports whether an If-None-Match header value matches etag. Weak
// validators compare equal to their strong form.
func Matches(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, cand := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimPrefix(strings.TrimSpace(cand), "W/") == want {
			return true
		}
	}
	return false
}
