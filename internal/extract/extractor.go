// Package extract converts raw documents into typed records with
// per-field provenance and confidence.
package extract

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/metrics"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// Confidence bands. Directly parsed text and tables are fully trusted;
// OCR-derived values sit in a lower band so resolution can prefer
// machine-readable sources.
const (
	ConfidenceDirect = 1.0
	ConfidenceOCR    = 0.6
)

// OCREngine recognizes text in a rasterized page image. Implementations
// must be safe for sequential reuse; the extractor never calls Recognize
// concurrently on one engine.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Extractor dispatches on media type and recovers fields, tables, and
// per-record errors from raw documents.
type Extractor struct {
	ocr    OCREngine
	hasher records.Hasher
	logger *zap.Logger

	// pageImages is swappable so tests can feed raster pages without
	// assembling full image-bearing PDFs.
	pageImages func(pdf.Page) [][]byte
}

// New builds an Extractor. The OCR engine may be nil, in which case
// image-only PDF pages are reported as per-record errors instead of
// falling back.
func New(ocr OCREngine, hasher records.Hasher, logger *zap.Logger) *Extractor {
	return &Extractor{ocr: ocr, hasher: hasher, logger: logger, pageImages: pageImages}
}

// Extract recovers every record it can from the document. Partial
// extraction inside an otherwise valid document comes back as per-record
// errors alongside the recovered records; a structurally invalid document
// fails wholesale with CorruptDocument.
func (e *Extractor) Extract(ctx context.Context, doc records.RawDocument) ([]records.ExtractedRecord, []records.CollectionError, error) {
	if len(doc.Body) == 0 {
		return nil, nil, records.NewCorruptDocument(doc.SourceID, doc.URL, fmt.Errorf("empty document"))
	}
	if doc.ContentHash == "" {
		hash, err := e.hasher.Hash(doc.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("hash document: %w", err)
		}
		doc.ContentHash = hash
	}

	var (
		recs    []records.ExtractedRecord
		recErrs []records.CollectionError
		err     error
	)
	switch doc.MediaType {
	case records.MediaHTML:
		recs, recErrs, err = e.extractHTML(doc)
	case records.MediaPDF:
		recs, recErrs, err = e.extractPDF(ctx, doc)
	case records.MediaGeoJSON:
		recs, recErrs, err = e.extractGIS(doc)
	default:
		err = records.NewCorruptDocument(doc.SourceID, doc.URL,
			fmt.Errorf("unsupported media type %q", doc.MediaType))
	}
	if err != nil {
		metrics.ObserveExtraction(string(doc.MediaType), "corrupt")
		return nil, recErrs, err
	}

	metrics.ObserveExtraction(string(doc.MediaType), "ok")
	return recs, recErrs, nil
}
