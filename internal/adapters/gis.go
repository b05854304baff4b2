package adapters

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

const defaultGISPageSize = 200

// GIS adapts ArcGIS-style feature service endpoints. Layer queries are
// paginated with resultOffset; the adapter carries the paging state, not
// the fetcher.
type GIS struct {
	src      records.SourceDescriptor
	clock    records.Clock
	pageSize int
}

// gisResponse is the subset of the feature service reply we consume.
type gisResponse struct {
	Features []gisFeature `json:"features"`
	Error    *gisError    `json:"error"`
}

type gisFeature struct {
	Attributes map[string]any  `json:"attributes"`
	Geometry   json.RawMessage `json:"geometry"`
}

type gisError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewGIS builds the GIS adapter.
func NewGIS(src records.SourceDescriptor, clock records.Clock) *GIS {
	pageSize := defaultGISPageSize
	if raw, ok := src.Params["page_size"]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			pageSize = n
		}
	}
	return &GIS{src: src, clock: clock, pageSize: pageSize}
}

// Source returns the descriptor this adapter serves.
func (a *GIS) Source() records.SourceDescriptor {
	return a.src
}

// BuildRequests produces the paginated layer query sequence up to the
// configured page cap. Sources that stop returning features earlier simply
// yield empty documents for the tail pages.
func (a *GIS) BuildRequests() ([]records.FetchRequest, error) {
	pages := 1
	if a.src.Paginated {
		pages = a.src.MaxPages
	}
	where := a.src.Params["where"]
	if where == "" {
		where = "1=1"
	}
	reqs := make([]records.FetchRequest, 0, pages)
	for page := 0; page < pages; page++ {
		params := map[string]string{
			"f":                 "json",
			"where":             where,
			"outFields":         "*",
			"resultOffset":      strconv.Itoa(page * a.pageSize),
			"resultRecordCount": strconv.Itoa(a.pageSize),
		}
		url := fmt.Sprintf("%s/query?f=json&where=%s&outFields=*&resultOffset=%d&resultRecordCount=%d",
			a.src.BaseURL, where, page*a.pageSize, a.pageSize)
		reqs = append(reqs, records.FetchRequest{
			SourceID: a.src.ID,
			URL:      url,
			Params:   params,
			CacheKey: records.NewCacheKey(a.src.ID, a.src.BaseURL+"/query", params),
		})
	}
	return reqs, nil
}

// ParseResponse decodes the feature collection and splits each feature
// into its own raw document so downstream stages see one parcel per unit.
func (a *GIS) ParseResponse(resp records.FetchResponse) ([]records.RawDocument, error) {
	if len(resp.Body) == 0 {
		return nil, records.NewUnexpectedFormat(a.src.ID, resp.URL, fmt.Errorf("empty response body"))
	}
	if htmlLike(resp.ContentType, resp.Body) {
		return nil, records.NewUnexpectedFormat(a.src.ID, resp.URL,
			fmt.Errorf("got an HTML page where feature JSON was expected"))
	}

	var parsed gisResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, records.NewUnexpectedFormat(a.src.ID, resp.URL, fmt.Errorf("parse feature JSON: %w", err))
	}
	if parsed.Error != nil {
		return nil, records.NewUnexpectedFormat(a.src.ID, resp.URL,
			fmt.Errorf("feature service error %d: %s", parsed.Error.Code, parsed.Error.Message))
	}

	fetchedAt := a.clock.Now()
	docs := make([]records.RawDocument, 0, len(parsed.Features))
	for _, feature := range parsed.Features {
		body, err := json.Marshal(feature)
		if err != nil {
			return nil, fmt.Errorf("re-encode feature: %w", err)
		}
		docs = append(docs, records.RawDocument{
			SourceID:  a.src.ID,
			URL:       resp.URL,
			MediaType: records.MediaGeoJSON,
			FetchedAt: fetchedAt,
			Body:      body,
		})
	}
	return docs, nil
}
