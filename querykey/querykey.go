// Package querykey builds query identities: stable strings naming one logical
// resource plus the parameters it was fetched with. Two calls with the same
// resource and parameter set yield the same identity regardless of order.
package querykey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// maxParamsLen is the longest encoded parameter list kept verbatim; longer
// lists are replaced by a short hash so provider keys stay bounded.
const maxParamsLen = 128

// New joins resource and positional parts with ':'.
//
//	New("artwork", 42) => "artwork:42"
//	New("feed", 3, 20) => "feed:3:20"
func New(resource string, parts ...any) string {
	if len(parts) == 0 {
		return resource
	}
	var b strings.Builder
	b.WriteString(resource)
	for _, p := range parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// WithParams appends a canonical, sorted encoding of params.
//
//	WithParams("search", map[string]string{"q": "oil", "genre": "modern"})
//	  => "search?genre=modern&q=oil"
func WithParams(resource string, params map[string]string) string {
	if len(params) == 0 {
		return resource
	}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	pairs := make([]string, len(names))
	for i, k := range names {
		pairs[i] = k + "=" + params[k]
	}
	enc := strings.Join(pairs, "&")
	if len(enc) > maxParamsLen {
		sum := sha256.Sum256([]byte(enc))
		enc = "#" + hex.EncodeToString(sum[:8])
	}
	return resource + "?" + enc
}

// Resource returns the resource part of an identity built by New or WithParams.
func Resource(key string) string {
	if i := strings.IndexAny(key, ":?"); i >= 0 {
		return key[:i]
	}
	return key
}
