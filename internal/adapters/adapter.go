// Package adapters implements per-source request construction and
// response interpretation. Adapters never call the network; they only
// build fetch requests and interpret raw responses, so the fetch and
// cache mechanics stay reusable across every source kind.
package adapters

import (
	"fmt"
	"strings"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// New constructs the adapter variant for the descriptor's source kind.
func New(src records.SourceDescriptor, clock records.Clock) (records.Adapter, error) {
	switch src.Kind {
	case records.SourcePropertyCard:
		return NewPropertyCard(src, clock), nil
	case records.SourceMunicipalPDF:
		return NewMunicipalPDF(src, clock), nil
	case records.SourceGIS:
		return NewGIS(src, clock), nil
	default:
		return nil, fmt.Errorf("no adapter for source kind %q", src.Kind)
	}
}

// htmlLike reports whether the payload looks like an HTML page. Municipal
// servers are known to return HTML error pages with a 200 status where a
// PDF or JSON payload was expected.
func htmlLike(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	head := strings.ToLower(string(body[:min(len(body), 256)]))
	head = strings.TrimSpace(head)
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}
