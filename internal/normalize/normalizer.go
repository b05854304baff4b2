// Package normalize maps extracted records onto the canonical parcel
// schema with deterministic formatting rules.
package normalize

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/metrics"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// coreFields are the canonical fields a record is expected to carry.
// Absent ones are flagged in Missing rather than invented.
var coreFields = []string{"parcel_id", "address", "owner", "total_value"}

// Normalizer converts extracted records into canonical form. Equal inputs
// always produce equal outputs apart from the generated record ID.
type Normalizer struct {
	idgen  records.IDGenerator
	logger *zap.Logger
}

// New builds a Normalizer.
func New(idgen records.IDGenerator, logger *zap.Logger) *Normalizer {
	return &Normalizer{idgen: idgen, logger: logger}
}

// Normalize maps one extracted record into the canonical schema. A record
// with no usable identity (no parcel id and no address) is rejected with a
// validation error naming the gap; partial records otherwise pass with
// explicit missing markers.
func (n *Normalizer) Normalize(rec records.ExtractedRecord) (records.NormalizedRecord, error) {
	id, err := n.idgen.NewID()
	if err != nil {
		return records.NormalizedRecord{}, fmt.Errorf("generate record id: %w", err)
	}

	out := records.NormalizedRecord{
		ID:         id,
		SourceID:   rec.SourceID,
		Confidence: make(map[string]float64),
		Extracted:  &rec,
	}

	setConfidence := func(name string, f records.ExtractedField) {
		if cur, ok := out.Confidence[name]; !ok || f.Confidence < cur {
			out.Confidence[name] = f.Confidence
		}
	}
	invalid := func(err error) (records.NormalizedRecord, error) {
		metrics.ObserveNormalization("invalid")
		return records.NormalizedRecord{}, records.NewValidationError(rec.SourceID, id, err)
	}
	money := func(f records.ExtractedField, dst *int64, name string) error {
		cents, err := ParseMoneyCents(f.Value)
		if err != nil {
			return err
		}
		*dst = cents
		setConfidence(name, f)
		return nil
	}

	for _, f := range rec.Fields {
		f.Value = strings.TrimSpace(f.Value)
		if f.Value == "" {
			continue
		}
		switch f.Name {
		case "parcel_id":
			out.ParcelID = CanonicalParcelID(f.Value)
			setConfidence("parcel_id", f)
		case "address":
			out.Address = ParseAddress(f.Value)
			setConfidence("address", f)
		case "owner":
			out.Owner = CanonicalName(f.Value)
			setConfidence("owner", f)
		case "land_value":
			if err := money(f, &out.Assessment.LandValue, "land_value"); err != nil {
				return invalid(err)
			}
		case "building_value":
			if err := money(f, &out.Assessment.BuildingValue, "building_value"); err != nil {
				return invalid(err)
			}
		case "total_value":
			if err := money(f, &out.Assessment.TotalValue, "total_value"); err != nil {
				return invalid(err)
			}
		case "appraised_value":
			// Appraisal stands in for the assessment only when the
			// source never stated a total.
			if out.Assessment.TotalValue == 0 {
				if err := money(f, &out.Assessment.TotalValue, "total_value"); err != nil {
					return invalid(err)
				}
			}
		case "tax_amount":
			if err := money(f, &out.Assessment.TaxAmount, "tax_amount"); err != nil {
				return invalid(err)
			}
		case "sale_date":
			when, err := ParseDate(f.Value)
			if err != nil {
				return invalid(err)
			}
			out.SaleDate = when
			setConfidence("sale_date", f)
		case "geometry":
			out.Geometry = f.Value
			setConfidence("geometry", f)
		case "land_use":
			out.Description = f.Value
			setConfidence("description", f)
		}
	}

	if out.ParcelID == "" && out.Address.Empty() {
		return invalid(fmt.Errorf("record has neither parcel_id nor address"))
	}

	for _, name := range coreFields {
		if _, ok := out.Confidence[name]; !ok {
			out.Missing = append(out.Missing, name)
		}
	}
	if len(out.Missing) > 0 {
		n.logger.Debug("normalized with gaps",
			zap.String("source", rec.SourceID),
			zap.Strings("missing", out.Missing),
		)
	}

	metrics.ObserveNormalization("ok")
	return out, nil
}
