package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// gisFeature mirrors the single-feature documents the GIS adapter emits.
type gisFeature struct {
	Attributes map[string]any  `json:"attributes"`
	Geometry   json.RawMessage `json:"geometry"`
}

// gisAttributeFields maps common feature-service attribute names to
// canonical field names. Unmapped attributes keep a snake_cased form of
// their own name.
var gisAttributeFields = map[string]string{
	"PARCEL_ID":  "parcel_id",
	"PARCELID":   "parcel_id",
	"MAP_LOT":    "parcel_id",
	"OWNER":      "owner",
	"OWNER_NAME": "owner",
	"SITE_ADDR":  "address",
	"LOCATION":   "address",
	"PROP_LOC":   "address",
	"LAND_VAL":   "land_value",
	"BLDG_VAL":   "building_value",
	"TOTAL_VAL":  "total_value",
	"ACRES":      "acreage",
	"ZONE":       "zone",
	"ZONING":     "zone",
}

// extractGIS turns one feature document into one record: each attribute
// becomes a field and the geometry rides along as raw JSON.
func (e *Extractor) extractGIS(doc records.RawDocument) ([]records.ExtractedRecord, []records.CollectionError, error) {
	var feature gisFeature
	if err := json.Unmarshal(doc.Body, &feature); err != nil {
		return nil, nil, records.NewCorruptDocument(doc.SourceID, doc.URL, fmt.Errorf("parse feature: %w", err))
	}
	if len(feature.Attributes) == 0 {
		return nil, nil, records.NewCorruptDocument(doc.SourceID, doc.URL, fmt.Errorf("feature has no attributes"))
	}

	rec := records.ExtractedRecord{
		SourceID:     doc.SourceID,
		DocumentHash: doc.ContentHash,
	}
	for key, raw := range feature.Attributes {
		value := attributeValue(raw)
		if value == "" {
			continue
		}
		name, ok := gisAttributeFields[strings.ToUpper(key)]
		if !ok {
			name = normalizeLabel(key)
		}
		rec.Fields = append(rec.Fields, records.ExtractedField{
			Name:       name,
			Value:      value,
			Confidence: ConfidenceDirect,
		})
	}
	if len(feature.Geometry) > 0 {
		rec.Fields = append(rec.Fields, records.ExtractedField{
			Name:       "geometry",
			Value:      string(feature.Geometry),
			Confidence: ConfidenceDirect,
		})
	}
	return []records.ExtractedRecord{rec}, nil, nil
}

// attributeValue renders a JSON attribute as a trimmed string. Feature
// services type values loosely, so numbers arrive as float64.
func attributeValue(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}
