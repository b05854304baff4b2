package records

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CacheKey addresses one cache entry. Keys are deterministic over
// (source id, canonicalized request parameters, stage tag) so logically
// equal requests hit the same entry irrespective of parameter order.
type CacheKey string

// Stage tags distinguish the two independent cache layers.
const (
	StageFetch      = "fetch"
	StageExtraction = "extract"
)

// NewCacheKey derives the key for a fetch-stage entry.
func NewCacheKey(sourceID, rawURL string, params map[string]string) CacheKey {
	return newKey(sourceID, StageFetch, canonicalURL(rawURL), canonicalParams(params))
}

// NewExtractionKey derives the key for an extraction-stage entry. The input
// content hash is part of the key so byte-identical documents share one
// entry even when fetched from different URLs.
func NewExtractionKey(sourceID, contentHash string) CacheKey {
	return newKey(sourceID, StageExtraction, contentHash, "")
}

func newKey(sourceID, stage, target, params string) CacheKey {
	material := strings.Join([]string{sourceID, stage, target, params}, "\x1f")
	sum := sha256.Sum256([]byte(material))
	return CacheKey(fmt.Sprintf("%s-%s-%s", sourceID, stage, hex.EncodeToString(sum[:16])))
}

// canonicalURL lowercases scheme/host, strips fragments and default ports,
// and sorts query parameters so incidental ordering does not split entries.
func canonicalURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String()
}

func canonicalParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
