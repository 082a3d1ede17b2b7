// Package meteo fetches hourly historical weather from the Open-Meteo
// archive API.
package meteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mpicard/baac-enrich/internal/domain"
	"github.com/mpicard/baac-enrich/internal/observability"
	"github.com/mpicard/baac-enrich/internal/ratelimit"
)

const defaultBaseURL = "https://archive-api.open-meteo.com/v1/archive"

// hourlyFields is the exact variable set requested from the archive API; the
// response carries one array entry per hour of the requested day.
const hourlyFields = "temperature_2m,relativehumidity_2m,precipitation,rain,snowfall,visibility,windspeed_10m,weathercode"

// Client implements domain.WeatherFetcher against the Open-Meteo archive.
// All physical calls go through the injected rate-limited client, which owns
// pacing, retries, and the per-call timeout.
type Client struct {
	limiter    *ratelimit.Client
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an archive API client. An empty baseURL selects the
// public endpoint.
func NewClient(baseURL string, limiter *ratelimit.Client, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		limiter:    limiter,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		metrics:    metrics,
		logger:     logger,
	}
}

// FetchWeather retrieves the conditions for the query's hour. A response
// missing that hour yields a payload with nil fields rather than an error —
// the archive legitimately has gaps.
func (c *Client) FetchWeather(ctx context.Context, q domain.WeatherQuery) (*domain.Weather, error) {
	var result *domain.Weather
	err := c.limiter.Do(ctx, func(callCtx context.Context) error {
		w, err := c.fetch(callCtx, q)
		if err != nil {
			return err
		}
		result = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) fetch(ctx context.Context, q domain.WeatherQuery) (*domain.Weather, error) {
	params := url.Values{
		"latitude":   {fmt.Sprintf("%.5f", q.Lat)},
		"longitude":  {fmt.Sprintf("%.5f", q.Lon)},
		"start_date": {q.Date},
		"end_date":   {q.Date},
		"hourly":     {hourlyFields},
		"timezone":   {"Europe/Paris"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.FetchDuration.WithLabelValues("meteo").Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.Fetches.WithLabelValues("meteo", "error").Inc()
		return nil, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		c.metrics.Fetches.WithLabelValues("meteo", "error").Inc()
		return nil, err
	}

	var body archiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.metrics.Fetches.WithLabelValues("meteo", "error").Inc()
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.metrics.Fetches.WithLabelValues("meteo", "success").Inc()
	return body.Hourly.at(q.Hour), nil
}

// checkStatus classifies non-200 responses: 429 and server errors are worth
// retrying, other client errors are not.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("open-meteo API error: status %d: %s", resp.StatusCode, body)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return ratelimit.Permanent(err)
	}
	return err
}

// Open-Meteo archive response types. Array entries can be null where the
// archive has no measurement.

type archiveResponse struct {
	Hourly hourlyBlock `json:"hourly"`
}

type hourlyBlock struct {
	Temperature   []*float64 `json:"temperature_2m"`
	Humidity      []*float64 `json:"relativehumidity_2m"`
	Precipitation []*float64 `json:"precipitation"`
	Rain          []*float64 `json:"rain"`
	Snowfall      []*float64 `json:"snowfall"`
	Visibility    []*float64 `json:"visibility"`
	WindSpeed     []*float64 `json:"windspeed_10m"`
	WeatherCode   []*int     `json:"weathercode"`
}

func (h hourlyBlock) at(hour int) *domain.Weather {
	return &domain.Weather{
		TempC:       floatAt(h.Temperature, hour),
		HumidityPct: floatAt(h.Humidity, hour),
		PrecipMM:    floatAt(h.Precipitation, hour),
		RainMM:      floatAt(h.Rain, hour),
		SnowCM:      floatAt(h.Snowfall, hour),
		VisibilityM: floatAt(h.Visibility, hour),
		WindKMH:     floatAt(h.WindSpeed, hour),
		WeatherCode: intAt(h.WeatherCode, hour),
	}
}

func floatAt(values []*float64, idx int) *float64 {
	if idx < 0 || idx >= len(values) {
		return nil
	}
	return values[idx]
}

func intAt(values []*int, idx int) *int {
	if idx < 0 || idx >= len(values) {
		return nil
	}
	return values[idx]
}
