package resolve

import (
	"strconv"
	"time"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// conflictFields are the fields whose contradictions get surfaced on the
// cluster instead of silently resolved away.
var conflictFields = map[string]bool{
	"parcel_id":   true,
	"owner":       true,
	"total_value": true,
}

// candidate is one member's value for a canonical field during a merge.
type candidate struct {
	value      string
	sourceID   string
	recordID   string
	confidence float64
	member     int
}

// mergeCluster folds the group into one cluster. Members arrive in the
// resolver's stable order; every field takes the value with the highest
// confidence, ties going to the earlier member, so the merge commutes over
// input permutations.
func mergeCluster(id string, members []records.NormalizedRecord) records.EntityCluster {
	cluster := records.EntityCluster{
		ID:         id,
		Members:    members,
		Provenance: make(map[string]records.Provenance),
	}

	byField := make(map[string][]candidate)
	add := func(field, value string, idx int) {
		if value == "" {
			return
		}
		m := members[idx]
		byField[field] = append(byField[field], candidate{
			value:      value,
			sourceID:   m.SourceID,
			recordID:   m.ID,
			confidence: m.FieldConfidence(field),
			member:     idx,
		})
	}

	for i, m := range members {
		add("parcel_id", m.ParcelID, i)
		add("address", m.Address.Line(), i)
		add("owner", m.Owner, i)
		add("land_value", centsValue(m.Assessment.LandValue), i)
		add("building_value", centsValue(m.Assessment.BuildingValue), i)
		add("total_value", centsValue(m.Assessment.TotalValue), i)
		add("tax_amount", centsValue(m.Assessment.TaxAmount), i)
		add("geometry", m.Geometry, i)
		add("description", m.Description, i)
		if !m.SaleDate.IsZero() {
			add("sale_date", m.SaleDate.Format(time.RFC3339), i)
		}
	}

	canonical := records.NormalizedRecord{
		Confidence: make(map[string]float64),
	}
	var total float64
	for field, cands := range byField {
		best := pickBest(cands)
		cluster.Provenance[field] = records.Provenance{
			SourceID:   best.sourceID,
			RecordID:   best.recordID,
			Confidence: best.confidence,
		}
		canonical.Confidence[field] = best.confidence
		total += best.confidence
		applyField(&canonical, members, field, best)

		if conflictFields[field] {
			if conflict, ok := fieldConflict(field, cands); ok {
				cluster.Conflicts = append(cluster.Conflicts, conflict)
			}
		}
	}
	if len(byField) > 0 {
		cluster.Confidence = total / float64(len(byField))
	}

	canonical.ID = id
	cluster.Canonical = canonical
	return cluster
}

// pickBest selects the highest-confidence candidate; ties break toward the
// earlier member in stable order.
func pickBest(cands []candidate) candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.confidence > best.confidence {
			best = c
		}
	}
	return best
}

// fieldConflict reports distinct non-empty values for one field.
func fieldConflict(field string, cands []candidate) (records.FieldConflict, bool) {
	seen := make(map[string]bool)
	conflict := records.FieldConflict{Field: field}
	for _, c := range cands {
		if seen[c.value] {
			continue
		}
		seen[c.value] = true
		conflict.Candidates = append(conflict.Candidates, records.FieldCandidate{
			Value:      c.value,
			SourceID:   c.sourceID,
			Confidence: c.confidence,
		})
	}
	if len(conflict.Candidates) < 2 {
		return records.FieldConflict{}, false
	}
	return conflict, true
}

// applyField writes the winning candidate into the canonical record,
// copying structured values from the winning member rather than reparsing.
func applyField(canonical *records.NormalizedRecord, members []records.NormalizedRecord, field string, best candidate) {
	m := members[best.member]
	switch field {
	case "parcel_id":
		canonical.ParcelID = m.ParcelID
	case "address":
		canonical.Address = m.Address
	case "owner":
		canonical.Owner = m.Owner
	case "land_value":
		canonical.Assessment.LandValue = m.Assessment.LandValue
	case "building_value":
		canonical.Assessment.BuildingValue = m.Assessment.BuildingValue
	case "total_value":
		canonical.Assessment.TotalValue = m.Assessment.TotalValue
	case "tax_amount":
		canonical.Assessment.TaxAmount = m.Assessment.TaxAmount
	case "geometry":
		canonical.Geometry = m.Geometry
	case "description":
		canonical.Description = m.Description
	case "sale_date":
		canonical.SaleDate = m.SaleDate
	}
}

func centsValue(cents int64) string {
	if cents == 0 {
		return ""
	}
	return strconv.FormatInt(cents, 10)
}
