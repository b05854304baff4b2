package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// labelFields maps assessor-portal label ids to canonical field names.
// VGSI-style portals render parcel data in labeled spans.
var labelFields = map[string]string{
	"lblGenOwner":      "owner",
	"lblOwner":         "owner",
	"lblLocation":      "address",
	"lblAddr1":         "mailing_address",
	"lblMblu":          "parcel_id",
	"lblPid":           "pid",
	"lblGenAssessment": "total_value",
	"lblGenAppraisal":  "appraised_value",
	"lblLndAcres":      "acreage",
	"lblUseCode":       "land_use",
	"lblSalePrice":     "sale_price",
	"lblSaleDate":      "sale_date",
	"lblZone":          "zone",
}

// extractHTML pulls labeled spans and tables out of a property-card page.
// One page describes one parcel, so the output is a single record; broken
// tables inside a valid page are reported per record, not failed wholesale.
func (e *Extractor) extractHTML(doc records.RawDocument) ([]records.ExtractedRecord, []records.CollectionError, error) {
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, nil, records.NewCorruptDocument(doc.SourceID, doc.URL, fmt.Errorf("parse html: %w", err))
	}

	rec := records.ExtractedRecord{
		SourceID:     doc.SourceID,
		DocumentHash: doc.ContentHash,
	}

	page.Find("span[id], div[id]").Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("id")
		name, ok := matchLabel(id)
		if !ok {
			return
		}
		value := strings.TrimSpace(sel.Text())
		if value == "" {
			return
		}
		rec.Fields = append(rec.Fields, records.ExtractedField{
			Name:       name,
			Value:      value,
			Confidence: ConfidenceDirect,
		})
	})

	var recErrs []records.CollectionError
	page.Find("table").Each(func(i int, sel *goquery.Selection) {
		table, fields, tErr := extractTable(sel, i)
		if tErr != nil {
			recErrs = append(recErrs, records.CollectionError{
				SourceID: doc.SourceID,
				Request:  doc.URL,
				Kind:     records.KindCorruptDocument,
				Message:  tErr.Error(),
			})
			return
		}
		if len(table.Rows) > 0 {
			rec.Tables = append(rec.Tables, table)
		}
		rec.Fields = append(rec.Fields, fields...)
	})

	if len(rec.Fields) == 0 && len(rec.Tables) == 0 {
		return nil, recErrs, records.NewCorruptDocument(doc.SourceID, doc.URL,
			fmt.Errorf("page has no recognizable parcel markers"))
	}
	return []records.ExtractedRecord{rec}, recErrs, nil
}

// matchLabel resolves a DOM id to a canonical field name. Portal ids carry
// a container prefix (MainContent_lblOwner), so matching is by suffix.
func matchLabel(id string) (string, bool) {
	for label, name := range labelFields {
		if strings.HasSuffix(id, label) {
			return name, true
		}
	}
	return "", false
}

// extractTable reads one HTML table into a typed table plus label/value
// fields for two-column layouts.
func extractTable(sel *goquery.Selection, index int) (records.ExtractedTable, []records.ExtractedField, error) {
	table := records.ExtractedTable{
		Name:       fmt.Sprintf("table_%d", index),
		Confidence: ConfidenceDirect,
	}

	sel.Find("th").Each(func(_ int, th *goquery.Selection) {
		table.Header = append(table.Header, strings.TrimSpace(th.Text()))
	})

	width := -1
	var fields []records.ExtractedField
	var rowErr error
	sel.Find("tr").Each(func(rowIdx int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		if width == -1 {
			width = cells.Length()
		} else if cells.Length() != width {
			rowErr = fmt.Errorf("table %d row %d has %d cells, expected %d", index, rowIdx, cells.Length(), width)
			return
		}
		row := make([]string, 0, cells.Length())
		cells.Each(func(colIdx int, td *goquery.Selection) {
			row = append(row, strings.TrimSpace(td.Text()))
		})
		table.Rows = append(table.Rows, row)

		if len(row) == 2 && row[0] != "" && row[1] != "" {
			fields = append(fields, records.ExtractedField{
				Name:       normalizeLabel(row[0]),
				Value:      row[1],
				Row:        rowIdx,
				Confidence: ConfidenceDirect,
			})
		}
	})
	if rowErr != nil {
		return records.ExtractedTable{}, nil, rowErr
	}
	return table, fields, nil
}

// normalizeLabel turns a display label into a snake_case field name.
func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(label), ":"))
	label = strings.ReplaceAll(label, " ", "_")
	label = strings.ReplaceAll(label, "/", "_")
	return label
}
