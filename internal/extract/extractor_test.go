package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/hash/sha256"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/metrics"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

type fakeOCR struct {
	text  string
	err   error
	calls int
}

func (f *fakeOCR) Recognize(_ context.Context, _ []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

func newTestExtractor(t *testing.T, ocr OCREngine) *Extractor {
	t.Helper()
	metrics.Init()
	return New(ocr, sha256.New(), zap.NewNop())
}

const propertyCardHTML = `<!DOCTYPE html>
<html><body>
<span id="MainContent_lblGenOwner">SMITH JOHN A</span>
<span id="MainContent_lblLocation">12 MAINE ST</span>
<span id="MainContent_lblMblu">023-045</span>
<span id="MainContent_lblGenAssessment">$245,300</span>
<table>
  <tr><td>Land Value:</td><td>$98,000</td></tr>
  <tr><td>Building Value:</td><td>$147,300</td></tr>
</table>
</body></html>`

func TestExtractHTMLPropertyCard(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(t, nil)
	recs, recErrs, err := e.Extract(context.Background(), records.RawDocument{
		SourceID:  "vgsi",
		URL:       "https://gis.vgsi.com/brunswickme/Parcel.aspx?pid=100",
		MediaType: records.MediaHTML,
		Body:      []byte(propertyCardHTML),
	})
	require.NoError(t, err)
	require.Empty(t, recErrs)
	require.Len(t, recs, 1)

	rec := recs[0]
	require.NotEmpty(t, rec.DocumentHash)

	owner, ok := rec.Field("owner")
	require.True(t, ok)
	require.Equal(t, "SMITH JOHN A", owner.Value)
	require.Equal(t, ConfidenceDirect, owner.Confidence)
	require.False(t, owner.OCR)

	parcel, ok := rec.Field("parcel_id")
	require.True(t, ok)
	require.Equal(t, "023-045", parcel.Value)

	land, ok := rec.Field("land_value")
	require.True(t, ok)
	require.Equal(t, "$98,000", land.Value)

	require.Len(t, rec.Tables, 1)
	require.Len(t, rec.Tables[0].Rows, 2)
}

func TestExtractHTMLReportsBrokenTablePerRecord(t *testing.T) {
	t.Parallel()

	body := `<html><body>
<span id="lblOwner">DOE JANE R</span>
<table>
  <tr><td>Land Value:</td><td>$98,000</td></tr>
  <tr><td>Building Value:</td><td>$147,300</td><td>extra</td></tr>
</table>
</body></html>`

	e := newTestExtractor(t, nil)
	recs, recErrs, err := e.Extract(context.Background(), records.RawDocument{
		SourceID:  "vgsi",
		URL:       "https://example.com/card",
		MediaType: records.MediaHTML,
		Body:      []byte(body),
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Len(t, recErrs, 1)
	require.Equal(t, records.KindCorruptDocument, recErrs[0].Kind)

	owner, ok := recs[0].Field("owner")
	require.True(t, ok)
	require.Equal(t, "DOE JANE R", owner.Value)
}

func TestExtractHTMLWithoutMarkersIsCorrupt(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(t, nil)
	_, _, err := e.Extract(context.Background(), records.RawDocument{
		SourceID:  "vgsi",
		URL:       "https://example.com/card",
		MediaType: records.MediaHTML,
		Body:      []byte("<html><body><p>Session expired</p></body></html>"),
	})
	require.True(t, records.IsKind(err, records.KindCorruptDocument))
}

func TestExtractRejectsEmptyAndUnknownDocuments(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(t, nil)

	_, _, err := e.Extract(context.Background(), records.RawDocument{
		SourceID: "vgsi", URL: "https://x", MediaType: records.MediaHTML,
	})
	require.True(t, records.IsKind(err, records.KindCorruptDocument))

	_, _, err = e.Extract(context.Background(), records.RawDocument{
		SourceID: "vgsi", URL: "https://x", MediaType: records.MediaUnknown, Body: []byte("data"),
	})
	require.True(t, records.IsKind(err, records.KindCorruptDocument))
}

func TestExtractPDFRejectsCorruptBytes(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(t, nil)
	_, _, err := e.Extract(context.Background(), records.RawDocument{
		SourceID:  "commitment-book",
		URL:       "https://town.example/commitment.pdf",
		MediaType: records.MediaPDF,
		Body:      []byte("%PDF-1.4 truncated garbage"),
	})
	require.True(t, records.IsKind(err, records.KindCorruptDocument))
}

const taxRollPage = `2025 REAL ESTATE TAX COMMITMENT
1042  SMITH JOHN A
  Location: 12 MAINE ST
  Map/Lot: 023-045
  Land: 98,000  Building: 147,300  Total: 245,300
  Tax Amount: 4,120.04
1043  DOE JANE R
  Location: 14 MAINE ST
  Map/Lot: 023-046
  Total: 198,700
  Tax Amount: 3,337.16`

func TestParseTaxRollPageSplitsAccounts(t *testing.T) {
	t.Parallel()

	doc := records.RawDocument{SourceID: "commitment-book", ContentHash: "abc123"}
	recs := parseTaxRollPage(doc, 4, taxRollPage, ConfidenceDirect, false)
	require.Len(t, recs, 2)

	first := recs[0]
	require.Equal(t, "commitment-book", first.SourceID)
	require.Equal(t, "abc123", first.DocumentHash)

	account, ok := first.Field("account")
	require.True(t, ok)
	require.Equal(t, "1042", account.Value)
	require.Equal(t, 4, account.Page)

	owner, ok := first.Field("owner")
	require.True(t, ok)
	require.Equal(t, "SMITH JOHN A", owner.Value)

	addr, ok := first.Field("address")
	require.True(t, ok)
	require.Equal(t, "12 MAINE ST", addr.Value)

	parcel, ok := first.Field("parcel_id")
	require.True(t, ok)
	require.Equal(t, "023-045", parcel.Value)

	total, ok := first.Field("total_value")
	require.True(t, ok)
	require.Equal(t, "245,300", total.Value)

	tax, ok := first.Field("tax_amount")
	require.True(t, ok)
	require.Equal(t, "4,120.04", tax.Value)

	second := recs[1]
	owner2, ok := second.Field("owner")
	require.True(t, ok)
	require.Equal(t, "DOE JANE R", owner2.Value)
	_, ok = second.Field("land_value")
	require.False(t, ok)
}

func TestParseTaxRollPageMarksOCRConfidence(t *testing.T) {
	t.Parallel()

	doc := records.RawDocument{SourceID: "commitment-book"}
	recs := parseTaxRollPage(doc, 9, "1042 SMITH JOHN A\nMap/Lot: 023-045", ConfidenceOCR, true)
	require.Len(t, recs, 1)
	for _, f := range recs[0].Fields {
		require.Equal(t, ConfidenceOCR, f.Confidence)
		require.True(t, f.OCR)
	}
}

func TestParseTaxRollPageIsDeterministic(t *testing.T) {
	t.Parallel()

	doc := records.RawDocument{SourceID: "commitment-book", ContentHash: "abc123"}
	first := parseTaxRollPage(doc, 1, taxRollPage, ConfidenceDirect, false)
	second := parseTaxRollPage(doc, 1, taxRollPage, ConfidenceDirect, false)
	require.Equal(t, first, second)
}

func TestOCRPageWithoutEngineOrImages(t *testing.T) {
	t.Parallel()

	doc := records.RawDocument{SourceID: "commitment-book", URL: "https://x/roll.pdf"}

	e := newTestExtractor(t, nil)
	recs, recErrs := e.ocrPage(context.Background(), doc, pdf.Page{}, 3)
	require.Empty(t, recs)
	require.Len(t, recErrs, 1)
	require.Contains(t, recErrs[0].Message, "OCR is disabled")

	ocr := &fakeOCR{text: "1042 SMITH JOHN A"}
	e = newTestExtractor(t, ocr)
	recs, recErrs = e.ocrPage(context.Background(), doc, pdf.Page{}, 3)
	require.Empty(t, recs)
	require.Len(t, recErrs, 1)
	require.Zero(t, ocr.calls)
	require.Contains(t, recErrs[0].Message, "neither text layer")
}

func TestOCRPageRecognizesImageOnlyPage(t *testing.T) {
	t.Parallel()

	doc := records.RawDocument{
		SourceID:    "commitment-book",
		URL:         "https://x/roll.pdf",
		ContentHash: "abc123",
	}
	ocr := &fakeOCR{text: "1042  SMITH JOHN A\n  Location: 12 MAINE ST\n  Map/Lot: 023-045"}
	e := newTestExtractor(t, ocr)
	e.pageImages = func(pdf.Page) [][]byte {
		return [][]byte{[]byte("raster page bytes")}
	}

	recs, recErrs := e.ocrPage(context.Background(), doc, pdf.Page{}, 5)
	require.Empty(t, recErrs)
	require.Equal(t, 1, ocr.calls)
	require.Len(t, recs, 1)
	require.Equal(t, "abc123", recs[0].DocumentHash)

	owner, ok := recs[0].Field("owner")
	require.True(t, ok)
	require.Equal(t, "SMITH JOHN A", owner.Value)

	require.NotEmpty(t, recs[0].Fields)
	for _, f := range recs[0].Fields {
		require.Equal(t, ConfidenceOCR, f.Confidence)
		require.Less(t, f.Confidence, ConfidenceDirect)
		require.True(t, f.OCR)
		require.Equal(t, 5, f.Page)
	}
}

func TestOCRPageReportsEngineFailure(t *testing.T) {
	t.Parallel()

	doc := records.RawDocument{SourceID: "commitment-book", URL: "https://x/roll.pdf"}
	ocr := &fakeOCR{err: errors.New("empty page")}
	e := newTestExtractor(t, ocr)
	e.pageImages = func(pdf.Page) [][]byte {
		return [][]byte{[]byte("raster page bytes")}
	}

	recs, recErrs := e.ocrPage(context.Background(), doc, pdf.Page{}, 2)
	require.Empty(t, recs)
	require.Equal(t, 1, ocr.calls)
	require.Len(t, recErrs, 1)
	require.Equal(t, records.KindCorruptDocument, recErrs[0].Kind)
	require.Contains(t, recErrs[0].Message, "ocr")
}

func TestExtractGISFeature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"attributes":{"PARCEL_ID":"023-045","OWNER":"SMITH JOHN A","TOTAL_VAL":245300,"ACRES":0.42},"geometry":{"x":-69.96,"y":43.91}}`)
	e := newTestExtractor(t, nil)
	recs, recErrs, err := e.Extract(context.Background(), records.RawDocument{
		SourceID:  "gis-parcels",
		URL:       "https://gis.town.example/query",
		MediaType: records.MediaGeoJSON,
		Body:      body,
	})
	require.NoError(t, err)
	require.Empty(t, recErrs)
	require.Len(t, recs, 1)

	rec := recs[0]
	parcel, ok := rec.Field("parcel_id")
	require.True(t, ok)
	require.Equal(t, "023-045", parcel.Value)

	total, ok := rec.Field("total_value")
	require.True(t, ok)
	require.Equal(t, "245300", total.Value)

	acres, ok := rec.Field("acreage")
	require.True(t, ok)
	require.Equal(t, "0.42", acres.Value)

	geom, ok := rec.Field("geometry")
	require.True(t, ok)
	require.Contains(t, geom.Value, "-69.96")
}

func TestExtractGISRejectsEmptyFeature(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(t, nil)
	_, _, err := e.Extract(context.Background(), records.RawDocument{
		SourceID:  "gis-parcels",
		URL:       "https://gis.town.example/query",
		MediaType: records.MediaGeoJSON,
		Body:      []byte(`{"attributes":{}}`),
	})
	require.True(t, records.IsKind(err, records.KindCorruptDocument))

	_, _, err = e.Extract(context.Background(), records.RawDocument{
		SourceID:  "gis-parcels",
		URL:       "https://gis.town.example/query",
		MediaType: records.MediaGeoJSON,
		Body:      []byte(`not json`),
	})
	require.True(t, records.IsKind(err, records.KindCorruptDocument))
}

func TestExtractIsIdempotent(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(t, nil)
	doc := records.RawDocument{
		SourceID:  "vgsi",
		URL:       "https://example.com/card",
		MediaType: records.MediaHTML,
		Body:      []byte(propertyCardHTML),
	}
	first, _, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)
	second, _, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
