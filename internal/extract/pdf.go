package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/metrics"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// Commitment books and tax rolls list one account per block. The account
// line carries the account number and owner; the lines after it carry
// location, map/lot, and assessment figures until the next account line.
var (
	accountLineRe = regexp.MustCompile(`^(\d{1,6})\s+([A-Z][A-Z0-9 ,.&'-]{2,})`)
	mapLotRe      = regexp.MustCompile(`(?i)map[\s/]*lot[:\s]+([0-9A-Z-]+)`)
	locationRe    = regexp.MustCompile(`(?i)location[:\s]+(\S.*)`)
	valueRe       = regexp.MustCompile(`(?i)\b(land|building|total)[:\s]+\$?([\d,]+(?:\.\d{2})?)`)
	taxRe         = regexp.MustCompile(`(?i)\btax(?:\s+amount)?[:\s]+\$?([\d,]+\.\d{2})`)
)

// extractPDF walks the document page by page. Pages with a text layer are
// parsed directly; image-only pages fall back to OCR when an engine is
// configured. OCR is never invoked speculatively.
func (e *Extractor) extractPDF(ctx context.Context, doc records.RawDocument) ([]records.ExtractedRecord, []records.CollectionError, error) {
	reader, err := pdf.NewReader(bytes.NewReader(doc.Body), int64(len(doc.Body)))
	if err != nil {
		return nil, nil, records.NewCorruptDocument(doc.SourceID, doc.URL, fmt.Errorf("open pdf: %w", err))
	}

	var (
		recs    []records.ExtractedRecord
		recErrs []records.CollectionError
	)
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, textErr := page.GetPlainText(nil)
		if textErr != nil {
			recErrs = append(recErrs, records.CollectionError{
				SourceID: doc.SourceID,
				Request:  doc.URL,
				Kind:     records.KindCorruptDocument,
				Message:  fmt.Sprintf("page %d text extraction: %v", pageNum, textErr),
			})
			continue
		}

		if strings.TrimSpace(text) != "" {
			recs = append(recs, parseTaxRollPage(doc, pageNum, text, ConfidenceDirect, false)...)
			continue
		}

		pageRecs, pageErrs := e.ocrPage(ctx, doc, page, pageNum)
		recs = append(recs, pageRecs...)
		recErrs = append(recErrs, pageErrs...)
	}
	return recs, recErrs, nil
}

// ocrPage recognizes text on an image-only page via the configured engine.
func (e *Extractor) ocrPage(ctx context.Context, doc records.RawDocument, page pdf.Page, pageNum int) ([]records.ExtractedRecord, []records.CollectionError) {
	if e.ocr == nil {
		return nil, []records.CollectionError{{
			SourceID: doc.SourceID,
			Request:  doc.URL,
			Kind:     records.KindCorruptDocument,
			Message:  fmt.Sprintf("page %d has no text layer and OCR is disabled", pageNum),
		}}
	}

	images := e.pageImages(page)
	if len(images) == 0 {
		return nil, []records.CollectionError{{
			SourceID: doc.SourceID,
			Request:  doc.URL,
			Kind:     records.KindCorruptDocument,
			Message:  fmt.Sprintf("page %d has neither text layer nor rasterizable image", pageNum),
		}}
	}

	var recs []records.ExtractedRecord
	var recErrs []records.CollectionError
	for _, img := range images {
		metrics.ObserveOCR()
		text, err := e.ocr.Recognize(ctx, img)
		if err != nil {
			recErrs = append(recErrs, records.CollectionError{
				SourceID: doc.SourceID,
				Request:  doc.URL,
				Kind:     records.KindCorruptDocument,
				Message:  fmt.Sprintf("page %d ocr: %v", pageNum, err),
			})
			continue
		}
		e.logger.Debug("ocr fallback applied",
			zap.String("source", doc.SourceID),
			zap.Int("page", pageNum),
			zap.Int("chars", len(text)),
		)
		recs = append(recs, parseTaxRollPage(doc, pageNum, text, ConfidenceOCR, true)...)
	}
	return recs, recErrs
}

// pageImages collects the raw image streams embedded in a page's XObject
// resources. Scanned municipal documents embed one full-page image.
func pageImages(page pdf.Page) [][]byte {
	resources := page.V.Key("Resources")
	if resources.IsNull() {
		return nil
	}
	xobjects := resources.Key("XObject")
	if xobjects.IsNull() {
		return nil
	}
	var images [][]byte
	for _, name := range xobjects.Keys() {
		obj := xobjects.Key(name)
		if obj.Kind() != pdf.Stream {
			continue
		}
		if obj.Key("Subtype").Name() != "Image" {
			continue
		}
		data, err := io.ReadAll(obj.Reader())
		if err != nil || len(data) == 0 {
			continue
		}
		images = append(images, data)
	}
	return images
}

// parseTaxRollPage splits a page of roll text into one record per account
// block. Confidence and the OCR flag apply to every field on the page.
func parseTaxRollPage(doc records.RawDocument, pageNum int, text string, confidence float64, ocr bool) []records.ExtractedRecord {
	var recs []records.ExtractedRecord
	var current *records.ExtractedRecord
	row := 0

	addField := func(name, value string) {
		if current == nil || strings.TrimSpace(value) == "" {
			return
		}
		current.Fields = append(current.Fields, records.ExtractedField{
			Name:       name,
			Value:      strings.TrimSpace(value),
			Page:       pageNum,
			Row:        row,
			Confidence: confidence,
			OCR:        ocr,
		})
	}

	for _, line := range strings.Split(text, "\n") {
		row++
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := accountLineRe.FindStringSubmatch(line); m != nil {
			if current != nil && len(current.Fields) > 0 {
				recs = append(recs, *current)
			}
			current = &records.ExtractedRecord{
				SourceID:     doc.SourceID,
				DocumentHash: doc.ContentHash,
			}
			addField("account", m[1])
			addField("owner", m[2])
			continue
		}
		if current == nil {
			continue
		}
		if m := mapLotRe.FindStringSubmatch(line); m != nil {
			addField("parcel_id", m[1])
		}
		if m := locationRe.FindStringSubmatch(line); m != nil {
			addField("address", m[1])
		}
		for _, m := range valueRe.FindAllStringSubmatch(line, -1) {
			addField(strings.ToLower(m[1])+"_value", m[2])
		}
		if m := taxRe.FindStringSubmatch(line); m != nil {
			addField("tax_amount", m[1])
		}
	}
	if current != nil && len(current.Fields) > 0 {
		recs = append(recs, *current)
	}
	return recs
}
