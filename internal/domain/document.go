package domain

import (
	"strconv"
	"strings"
	"time"
)

// NewEnrichedRecord merges a joined record with its enrichment payloads into
// the output document. Status is StatusDone or StatusPartial; structurally
// failed records never reach this point.
func NewEnrichedRecord(rec JoinedRecord, c Characteristics, enr Enrichment, status string) EnrichedRecord {
	now := clock.Now()
	out := EnrichedRecord{
		AccidentID:      rec.Key,
		Location:        DocLocation{Dep: c.Dep, Com: c.Com},
		Characteristics: rec.Characteristics,
		Locations:       rec.Locations,
		Vehicles:        rec.Vehicles,
		Persons:         PersonDocs(rec.Persons, now.Year()),
		Enrichment:      enr,
		Derived:         NewDerived(c, enr),
		Status:          status,
		ProcessedAt:     now,
	}

	if !c.Time.IsZero() {
		ts := c.Time.Format(time.RFC3339)
		out.Timestamp = &ts
	}
	if c.Geo != nil {
		out.Location.Lat = &c.Geo.Lat
		out.Location.Lon = &c.Geo.Lon
		out.Location.Coords = c.Geo
	}
	return out
}

// PersonDocs converts person rows for output, deriving an age column from
// the an_nais birth year when it is plausible.
func PersonDocs(rows []Row, currentYear int) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		doc := make(map[string]any, len(r)+1)
		for k, v := range r {
			doc[k] = v
		}
		if birth, err := strconv.Atoi(strings.TrimSpace(r["an_nais"])); err == nil && birth > 1900 {
			doc["age"] = currentYear - birth
		}
		out = append(out, doc)
	}
	return out
}
