package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// parisTZ localizes accident timestamps; the publication expresses hrmn in
// French local time. Falls back to UTC when the zone database is unavailable
// (cmd binaries embed time/tzdata so this only matters in stripped test envs).
var parisTZ = loadParis()

func loadParis() *time.Location {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseCharacteristics extracts the typed fields that fingerprinting and
// enrichment depend on from a characteristics row. Missing or malformed
// values degrade to their zero forms (zero Time, nil Geo) rather than
// erroring — the record itself is still processable.
func ParseCharacteristics(row Row) Characteristics {
	c := Characteristics{
		Dep:  PadCode(row["dep"], 2),
		Com:  PadCode(row["com"], 3),
		Time: parseAccidentTime(row["an"], row["mois"], row["jour"], row["hrmn"]),
	}

	lat, okLat := ParseCoordinate(row["lat"])
	lon, okLon := ParseCoordinate(row["long"])
	if okLat && okLon && !aberrantCoords(lat, lon) {
		c.Geo = &Geo{Lat: lat, Lon: lon}
	}
	return c
}

// parseAccidentTime combines the an/mois/jour columns with an hrmn time into
// a Europe/Paris timestamp. Two-digit years are offset into the 2000s. An
// invalid date yields the zero time; an invalid hrmn falls back to midnight
// so the date part survives.
func parseAccidentTime(an, mois, jour, hrmn string) time.Time {
	year, errY := strconv.Atoi(strings.TrimSpace(an))
	month, errM := strconv.Atoi(strings.TrimSpace(mois))
	day, errD := strconv.Atoi(strings.TrimSpace(jour))
	if errY != nil || errM != nil || errD != nil {
		return time.Time{}
	}
	if year < 100 {
		year += 2000
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}
	}

	hour, minute := parseHHMM(hrmn)
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, parisTZ)
	// time.Date normalizes impossible dates (Feb 30 → Mar 2); reject those.
	if t.Day() != day || t.Month() != time.Month(month) {
		return time.Time{}
	}
	return t
}

// parseHHMM parses BAAC hrmn values ("1510", "930", "15:10") into hour and
// minute. Short values are zero-padded on the left; out-of-range values fall
// back to midnight.
func parseHHMM(s string) (hour, minute int) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	if len(s) > 4 {
		return 0, 0
	}
	for len(s) < 4 {
		s = "0" + s
	}

	h, errH := strconv.Atoi(s[:2])
	m, errM := strconv.Atoi(s[2:])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0
	}
	return h, m
}

// ParseCoordinate parses a BAAC coordinate in either published encoding:
// decimal degrees with a comma or dot separator ("47,56277"), or the legacy
// compact form with an implied decimal point ("5055737" → 50.55737,
// "-082600" → -0.82600). Returns false for empty or unparseable values.
func ParseCoordinate(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" || s == "-" {
		return 0, false
	}

	if strings.Contains(s, ".") {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}

	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(s, "-")
	switch len(digits) {
	case 7:
		s = digits[:2] + "." + digits[2:]
	case 6:
		s = digits[:1] + "." + digits[1:]
	default:
		return 0, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

// aberrantCoords reports placeholder or out-of-range coordinate pairs.
// (0, 0) and exact-zero components are known placeholders in the source data.
func aberrantCoords(lat, lon float64) bool {
	if lat == 0 || lon == 0 {
		return true
	}
	return math.Abs(lat) > 90 || math.Abs(lon) > 180
}

// PadCode left-pads an administrative code with zeros so "1" and "01" compare
// equal across publication years.
func PadCode(s string, width int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	for len(s) < width {
		s = "0" + s
	}
	return s
}
