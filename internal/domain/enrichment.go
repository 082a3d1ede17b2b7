package domain

import (
	"context"
	"fmt"
)

// WeatherQuery identifies one hourly weather lookup. Date is YYYY-MM-DD and
// Hour the local hour 0–23, both taken from the accident timestamp.
type WeatherQuery struct {
	Lat  float64
	Lon  float64
	Date string
	Hour int
}

// Fingerprint returns the cache key for this lookup. Coordinates are rounded
// to three decimals (~110 m) so nearby accidents in the same hour share one
// entry and one physical fetch.
func (q WeatherQuery) Fingerprint() string {
	return fmt.Sprintf("meteo:%.3f,%.3f:%s:%02d", q.Lat, q.Lon, q.Date, q.Hour)
}

// InfraQuery identifies one infrastructure lookup around a point.
type InfraQuery struct {
	Lat          float64
	Lon          float64
	RadiusMeters int
}

// Fingerprint returns the cache key for this lookup, bucketed by rounded
// coordinates and search radius.
func (q InfraQuery) Fingerprint() string {
	return fmt.Sprintf("infra:%.3f,%.3f:r%d", q.Lat, q.Lon, q.RadiusMeters)
}

// NewWeatherQuery builds the weather lookup for a record, or false when the
// record lacks the coordinates or timestamp the lookup needs — such records
// simply do not require weather enrichment.
func NewWeatherQuery(c Characteristics) (WeatherQuery, bool) {
	if c.Geo == nil || c.Time.IsZero() {
		return WeatherQuery{}, false
	}
	return WeatherQuery{
		Lat:  c.Geo.Lat,
		Lon:  c.Geo.Lon,
		Date: c.Time.Format("2006-01-02"),
		Hour: c.Time.Hour(),
	}, true
}

// NewInfraQuery builds the infrastructure lookup for a record, or false when
// the record has no usable coordinates.
func NewInfraQuery(c Characteristics, radiusMeters int) (InfraQuery, bool) {
	if c.Geo == nil {
		return InfraQuery{}, false
	}
	return InfraQuery{Lat: c.Geo.Lat, Lon: c.Geo.Lon, RadiusMeters: radiusMeters}, true
}

// WeatherFetcher retrieves hourly weather conditions for one query.
type WeatherFetcher interface {
	FetchWeather(ctx context.Context, q WeatherQuery) (*Weather, error)
}

// InfraFetcher counts road-safety features around one point.
type InfraFetcher interface {
	FetchInfrastructure(ctx context.Context, q InfraQuery) (*Infrastructure, error)
}
