// Package domain models French BAAC road-accident records and their
// enrichment with external weather and infrastructure data.
//
// # Data Source
//
// Accident records originate from the French BAAC open-data publication
// (Bulletin d'Analyse des Accidents Corporels), released yearly as four CSV
// files per year: characteristics (one row per accident), locations, vehicles
// and persons (zero or more rows per accident, all sharing the accident key
// column "num_acc"). The source loader discovers year directories, reads the
// four families and hands rows to the joiner; this package owns the parsed
// record shapes and the conventions below.
//
// # BAAC Data Conventions
//
// Time format:
//
//	The "hrmn" column is HHMM in 24-hour notation, e.g. "1510" = 15:10.
//	Three-digit values are zero-padded: "930" → "0930". Recent years use
//	"15:10" with a colon, which is stripped first. Out-of-range hour or
//	minute values fall back to midnight — the date portion is still usable.
//	The date comes from the "an"/"mois"/"jour" columns; two-digit years are
//	offset into the 2000s ("19" → 2019). Timestamps are expressed in
//	Europe/Paris local time, matching the publication.
//
// Coordinate encoding (varies by publication year):
//
//	Modern files use decimal degrees with a comma separator: "47,56277".
//	Legacy files use a compact digit string with an implied decimal point
//	after the degree digits: "5055737" → 50.55737, "-082600" → -0.82600.
//	Coordinates equal to zero, or outside ±90/±180, are treated as unknown
//	rather than taken literally — (0, 0) is a known placeholder in the data.
//
// Administrative codes:
//
//	Department ("dep") codes are zero-padded to two digits, commune ("com")
//	codes to three, so "1" and "01" refer to the same department.
//
// # Fingerprints
//
// External lookups are cached under deterministic fingerprints so that
// accidents at effectively the same place and time share one physical fetch:
//
//	weather:        meteo:<lat>,<lon>:<date>:<hour>   e.g. meteo:48.857,2.352:2023-06-15:02
//	infrastructure: infra:<lat>,<lon>:r<radius>       e.g. infra:48.857,2.352:r500
//
// Coordinates are rounded to three decimal places (~110 m) before keying.
// See [WeatherQuery.Fingerprint] and [InfraQuery.Fingerprint].
//
// # Derived Indicators
//
// The derived block is computed purely from fields already present — never
// from additional I/O:
//
//	is_night:                 accident hour ≥ 21 or < 6.
//	severe_weather:           precipitation ≥ 4 mm/h, wind ≥ 60 km/h,
//	                          any snowfall, or visibility < 200 m.
//	infrastructure_adequate:  at least one safety feature (camera, guard
//	                          rail, traffic signal) within the search radius.
package domain
