package domain

import "time"

// Terminal enrichment states. Failed records are counted and dropped before
// delivery; done and partial records are both emitted.
const (
	StatusDone    = "done"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Row is one CSV row keyed by lower-cased column name. Child rows are carried
// through to the output document untyped — their exact column layout is an
// upstream contract that varies across publication years.
type Row map[string]string

// JoinedRecord is one accident's merged source data: the characteristics row
// plus all child rows sharing its key, in file order. Built once by the
// joiner and read-only afterwards; enrichment produces a separate
// EnrichedRecord rather than mutating it.
type JoinedRecord struct {
	Key             string
	Characteristics Row
	Locations       []Row
	Vehicles        []Row
	Persons         []Row
}

// Valid reports whether the record can be processed at all. A record without
// characteristic data cannot be located in time or space and is dropped as a
// structural failure.
func (r JoinedRecord) Valid() bool {
	return r.Key != "" && len(r.Characteristics) > 0
}

// Geo is a WGS-84 latitude/longitude pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Characteristics is the typed view of a characteristics row: the fields
// enrichment and fingerprinting depend on. Zero Time means the date columns
// were absent or unparseable; nil Geo means coordinates were absent or
// aberrant.
type Characteristics struct {
	Time time.Time
	Geo  *Geo
	Dep  string
	Com  string
}

// Weather holds the hourly conditions returned by the meteorological API for
// an accident's fingerprint hour. Pointer fields distinguish "measured zero"
// from "not reported for that hour".
type Weather struct {
	TempC       *float64 `json:"temp_c"`
	PrecipMM    *float64 `json:"precip_mm"`
	RainMM      *float64 `json:"rain_mm"`
	SnowCM      *float64 `json:"snow_cm"`
	VisibilityM *float64 `json:"visibility_m"`
	WindKMH     *float64 `json:"wind_kmh"`
	HumidityPct *float64 `json:"humidity_pct"`
	WeatherCode *int     `json:"weather_code"`
}

// Infrastructure holds per-category counts of road-safety features found
// around the accident location.
type Infrastructure struct {
	SpeedCameras   int `json:"speed_cameras"`
	GuardRails     int `json:"guard_rails"`
	TrafficSignals int `json:"traffic_signals"`
	Total          int `json:"total"`
}

// Enrichment groups the external payloads attached to a record. A nil block
// means the lookup was not required or failed; the distinction is carried by
// the record's status.
type Enrichment struct {
	Weather        *Weather        `json:"weather"`
	Infrastructure *Infrastructure `json:"infrastructure"`
}

// Derived holds indicators computed from already-present fields only.
type Derived struct {
	IsNight                bool `json:"is_night"`
	SevereWeather          bool `json:"severe_weather"`
	InfrastructureAdequate bool `json:"infrastructure_adequate"`
}

// DocLocation is the location block of an output document. Coords duplicates
// the pair as a single object so the sink can map it as a geo_point.
type DocLocation struct {
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	Coords *Geo     `json:"coords"`
	Dep    string   `json:"dep,omitempty"`
	Com    string   `json:"com,omitempty"`
}

// EnrichedRecord is the final document shape delivered to the sink, one per
// accident. AccidentID doubles as the sink document ID so downstream
// consumers can dedupe redelivered batches.
type EnrichedRecord struct {
	AccidentID      string           `json:"accident_id"`
	Timestamp       *string          `json:"timestamp"`
	Location        DocLocation      `json:"location"`
	Characteristics Row              `json:"characteristics"`
	Locations       []Row            `json:"locations"`
	Vehicles        []Row            `json:"vehicles"`
	Persons         []map[string]any `json:"persons"`
	Enrichment      Enrichment       `json:"enrichment"`
	Derived         Derived          `json:"derived"`
	Status          string           `json:"enrichment_status"`
	ProcessedAt     time.Time        `json:"processed_at"`
}
