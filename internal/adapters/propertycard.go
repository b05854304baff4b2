package adapters

import (
	"fmt"
	"strconv"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// PropertyCard adapts assessor property-card pages (VGSI-style portals).
// Cards are addressed by a numeric parcel id; the configured id range is
// expanded into one request per card.
type PropertyCard struct {
	src   records.SourceDescriptor
	clock records.Clock
}

// NewPropertyCard builds the property-card adapter.
func NewPropertyCard(src records.SourceDescriptor, clock records.Clock) *PropertyCard {
	return &PropertyCard{src: src, clock: clock}
}

// Source returns the descriptor this adapter serves.
func (a *PropertyCard) Source() records.SourceDescriptor {
	return a.src
}

// BuildRequests expands the configured pid range into card requests. With
// no range configured, a single request against the base URL is built.
func (a *PropertyCard) BuildRequests() ([]records.FetchRequest, error) {
	first, last, err := a.pidRange()
	if err != nil {
		return nil, err
	}
	if first == 0 {
		return []records.FetchRequest{{
			SourceID: a.src.ID,
			URL:      a.src.BaseURL,
			CacheKey: records.NewCacheKey(a.src.ID, a.src.BaseURL, nil),
		}}, nil
	}

	reqs := make([]records.FetchRequest, 0, last-first+1)
	for pid := first; pid <= last; pid++ {
		params := map[string]string{"pid": strconv.Itoa(pid)}
		url := fmt.Sprintf("%s?pid=%d", a.src.BaseURL, pid)
		reqs = append(reqs, records.FetchRequest{
			SourceID: a.src.ID,
			URL:      url,
			Params:   params,
			CacheKey: records.NewCacheKey(a.src.ID, a.src.BaseURL, params),
		})
	}
	return reqs, nil
}

func (a *PropertyCard) pidRange() (int, int, error) {
	startStr, ok := a.src.Params["pid_start"]
	if !ok {
		return 0, 0, nil
	}
	start, err := strconv.Atoi(startStr)
	if err != nil {
		return 0, 0, fmt.Errorf("source %s: invalid pid_start %q", a.src.ID, startStr)
	}
	endStr, ok := a.src.Params["pid_end"]
	if !ok {
		return start, start, nil
	}
	end, err := strconv.Atoi(endStr)
	if err != nil {
		return 0, 0, fmt.Errorf("source %s: invalid pid_end %q", a.src.ID, endStr)
	}
	if end < start {
		return 0, 0, fmt.Errorf("source %s: pid_end %d before pid_start %d", a.src.ID, end, start)
	}
	return start, end, nil
}

// ParseResponse validates the payload is an HTML page and wraps it as a
// single raw document.
func (a *PropertyCard) ParseResponse(resp records.FetchResponse) ([]records.RawDocument, error) {
	if len(resp.Body) == 0 {
		return nil, records.NewUnexpectedFormat(a.src.ID, resp.URL, fmt.Errorf("empty response body"))
	}
	if !htmlLike(resp.ContentType, resp.Body) {
		return nil, records.NewUnexpectedFormat(a.src.ID, resp.URL,
			fmt.Errorf("expected text/html, got %q", resp.ContentType))
	}
	return []records.RawDocument{{
		SourceID:  a.src.ID,
		URL:       resp.URL,
		MediaType: records.MediaHTML,
		FetchedAt: a.clock.Now(),
		Body:      resp.Body,
	}}, nil
}
