package adapters

import (
	"bytes"
	"fmt"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

var pdfMagic = []byte("%PDF-")

// MunicipalPDF adapts town-published PDF documents: commitment books, tax
// rolls, and similar bulk filings addressed by a fixed document URL.
type MunicipalPDF struct {
	src   records.SourceDescriptor
	clock records.Clock
}

// NewMunicipalPDF builds the municipal PDF adapter.
func NewMunicipalPDF(src records.SourceDescriptor, clock records.Clock) *MunicipalPDF {
	return &MunicipalPDF{src: src, clock: clock}
}

// Source returns the descriptor this adapter serves.
func (a *MunicipalPDF) Source() records.SourceDescriptor {
	return a.src
}

// BuildRequests returns one request per configured document. The base URL
// is the primary document; extra documents come from params whose keys
// carry the "document." prefix, one URL per key.
func (a *MunicipalPDF) BuildRequests() ([]records.FetchRequest, error) {
	urls := []string{a.src.BaseURL}
	for key, extra := range a.src.Params {
		if len(key) > 9 && key[:9] == "document." {
			urls = append(urls, extra)
		}
	}
	reqs := make([]records.FetchRequest, 0, len(urls))
	for _, u := range urls {
		reqs = append(reqs, records.FetchRequest{
			SourceID: a.src.ID,
			URL:      u,
			CacheKey: records.NewCacheKey(a.src.ID, u, nil),
		})
	}
	return reqs, nil
}

// ParseResponse validates the PDF magic marker. An HTML error page served
// where a PDF was expected is a real, recurring failure mode for document
// center links, so it is called out specifically.
func (a *MunicipalPDF) ParseResponse(resp records.FetchResponse) ([]records.RawDocument, error) {
	if len(resp.Body) == 0 {
		return nil, records.NewUnexpectedFormat(a.src.ID, resp.URL, fmt.Errorf("empty response body"))
	}
	if htmlLike(resp.ContentType, resp.Body) {
		return nil, records.NewUnexpectedFormat(a.src.ID, resp.URL,
			fmt.Errorf("got an HTML page where a PDF was expected"))
	}
	if !bytes.HasPrefix(resp.Body, pdfMagic) {
		return nil, records.NewUnexpectedFormat(a.src.ID, resp.URL,
			fmt.Errorf("payload missing %%PDF marker (content type %q)", resp.ContentType))
	}
	return []records.RawDocument{{
		SourceID:  a.src.ID,
		URL:       resp.URL,
		MediaType: records.MediaPDF,
		FetchedAt: a.clock.Now(),
		Body:      resp.Body,
	}}, nil
}
