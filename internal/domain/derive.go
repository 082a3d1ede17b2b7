package domain

// Thresholds for the derived indicators. Precipitation ≥ 4 mm/h is "heavy"
// on the Météo-France scale; 60 km/h is the wind advisory level; 200 m is
// fog-grade visibility.
const (
	severePrecipMM = 4.0
	severeWindKMH  = 60.0
	lowVisibilityM = 200.0

	nightStartHour = 21
	nightEndHour   = 6
)

// IsNight reports whether an hour falls in the night window (21:00–05:59).
func IsNight(hour int) bool {
	return hour >= nightStartHour || hour < nightEndHour
}

// SevereWeather reports conditions hostile enough to plausibly contribute to
// an accident: heavy precipitation, strong wind, any snowfall, or fog-grade
// visibility. A nil payload is never severe.
func SevereWeather(w *Weather) bool {
	if w == nil {
		return false
	}
	switch {
	case w.PrecipMM != nil && *w.PrecipMM >= severePrecipMM:
		return true
	case w.WindKMH != nil && *w.WindKMH >= severeWindKMH:
		return true
	case w.SnowCM != nil && *w.SnowCM > 0:
		return true
	case w.VisibilityM != nil && *w.VisibilityM < lowVisibilityM:
		return true
	}
	return false
}

// InfrastructureAdequate reports whether any safety feature was found within
// the search radius.
func InfrastructureAdequate(inf *Infrastructure) bool {
	return inf != nil && inf.Total > 0
}

// NewDerived computes the derived block from fields already present on the
// record. It performs no I/O; absent enrichment blocks yield false indicators.
func NewDerived(c Characteristics, e Enrichment) Derived {
	return Derived{
		IsNight:                !c.Time.IsZero() && IsNight(c.Time.Hour()),
		SevereWeather:          SevereWeather(e.Weather),
		InfrastructureAdequate: InfrastructureAdequate(e.Infrastructure),
	}
}
