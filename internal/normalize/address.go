package normalize

import (
	"regexp"
	"strings"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// streetTypes maps spelled-out street types to their postal abbreviation.
// Municipal sources mix both forms freely for the same parcel.
var streetTypes = map[string]string{
	"STREET":    "ST",
	"AVENUE":    "AVE",
	"ROAD":      "RD",
	"DRIVE":     "DR",
	"LANE":      "LN",
	"COURT":     "CT",
	"PLACE":     "PL",
	"BOULEVARD": "BLVD",
	"CIRCLE":    "CIR",
	"TERRACE":   "TER",
	"HIGHWAY":   "HWY",
	"ROUTE":     "RTE",
	"PARKWAY":   "PKWY",
	"SQUARE":    "SQ",
	"POINT":     "PT",
}

// unitMarkers normalize apartment designators ahead of the unit value.
var unitMarkers = map[string]string{
	"APARTMENT": "APT",
	"APT":       "APT",
	"UNIT":      "UNIT",
	"SUITE":     "STE",
	"STE":       "STE",
	"#":         "UNIT",
}

var (
	addressCleanRe = regexp.MustCompile(`[^A-Z0-9# /-]`)
	spaceRe        = regexp.MustCompile(`\s+`)
	leadingNumRe   = regexp.MustCompile(`^(\d+[A-Z]?)(?:\s|$)`)
	dashRunRe      = regexp.MustCompile(`-+`)
)

// ParseAddress splits a raw site-address line into the canonical schema.
// Comparable inputs must canonicalize identically, so casing, street-type
// spelling, and unit designators all collapse to one form.
func ParseAddress(raw string) records.Address {
	line := strings.ToUpper(strings.TrimSpace(raw))
	line = addressCleanRe.ReplaceAllString(line, " ")
	line = strings.ReplaceAll(line, "#", " # ")
	line = spaceRe.ReplaceAllString(line, " ")
	line = strings.TrimSpace(line)
	if line == "" {
		return records.Address{}
	}

	var addr records.Address
	if m := leadingNumRe.FindStringSubmatch(line); m != nil {
		addr.Number = m[1]
		line = strings.TrimSpace(line[len(m[0]):])
	}

	words := strings.Fields(line)
	var street []string
	for i := 0; i < len(words); i++ {
		word := words[i]
		if marker, ok := unitMarkers[word]; ok && i+1 < len(words) {
			addr.Unit = marker + " " + strings.Join(words[i+1:], " ")
			break
		}
		if abbr, ok := streetTypes[word]; ok {
			word = abbr
		}
		street = append(street, word)
	}
	addr.Street = strings.Join(street, " ")
	return addr
}

// CanonicalParcelID normalizes map/lot style parcel identifiers: uppercase,
// separators unified to a dash, no internal whitespace.
func CanonicalParcelID(raw string) string {
	id := strings.ToUpper(strings.TrimSpace(raw))
	id = strings.ReplaceAll(id, "/", "-")
	id = strings.ReplaceAll(id, ".", "-")
	id = spaceRe.ReplaceAllString(id, "-")
	id = dashRunRe.ReplaceAllString(id, "-")
	return strings.Trim(id, "-")
}

// CanonicalName collapses an owner name to a comparable form: uppercase,
// punctuation stripped, single spaces.
func CanonicalName(raw string) string {
	name := strings.ToUpper(strings.TrimSpace(raw))
	name = strings.NewReplacer(".", "", ",", " ", "'", "").Replace(name)
	name = spaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
