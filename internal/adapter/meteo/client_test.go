package meteo

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpicard/baac-enrich/internal/domain"
	"github.com/mpicard/baac-enrich/internal/observability"
	"github.com/mpicard/baac-enrich/internal/ratelimit"
)

const archiveFixture = `{
	"hourly": {
		"time": ["2023-06-15T00:00","2023-06-15T01:00","2023-06-15T02:00"],
		"temperature_2m": [13.1, 12.8, 12.4],
		"relativehumidity_2m": [82, 85, 88],
		"precipitation": [0.0, 0.2, 4.4],
		"rain": [0.0, 0.2, 4.4],
		"snowfall": [0.0, 0.0, 0.0],
		"visibility": [24000, 18000, 9500],
		"windspeed_10m": [10.2, 11.7, 14.3],
		"weathercode": [2, 3, 61]
	}
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimiter(maxAttempts int) *ratelimit.Client {
	return ratelimit.New(ratelimit.Config{
		Name:        "open-meteo",
		MaxAttempts: maxAttempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}, clockwork.NewRealClock(), discardLogger())
}

func testClient(baseURL string, maxAttempts int) *Client {
	return NewClient(baseURL, testLimiter(maxAttempts), 5*time.Second, observability.NewMetricsForTesting(), discardLogger())
}

func testQuery() domain.WeatherQuery {
	return domain.WeatherQuery{Lat: 48.8566, Lon: 2.3522, Date: "2023-06-15", Hour: 2}
}

func TestClient_FetchWeather_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "48.85660", q.Get("latitude"))
		assert.Equal(t, "2023-06-15", q.Get("start_date"))
		assert.Equal(t, "2023-06-15", q.Get("end_date"))
		assert.Equal(t, hourlyFields, q.Get("hourly"))
		assert.Equal(t, "Europe/Paris", q.Get("timezone"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(archiveFixture))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 1)
	weather, err := c.FetchWeather(context.Background(), testQuery())
	require.NoError(t, err)

	require.NotNil(t, weather.TempC)
	assert.Equal(t, 12.4, *weather.TempC)
	require.NotNil(t, weather.PrecipMM)
	assert.Equal(t, 4.4, *weather.PrecipMM)
	require.NotNil(t, weather.VisibilityM)
	assert.Equal(t, 9500.0, *weather.VisibilityM)
	require.NotNil(t, weather.WeatherCode)
	assert.Equal(t, 61, *weather.WeatherCode)
	require.NotNil(t, weather.HumidityPct)
	assert.Equal(t, 88.0, *weather.HumidityPct)
}

func TestClient_FetchWeather_MissingHourYieldsNilFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hourly":{"temperature_2m":[13.1]}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 1)
	weather, err := c.FetchWeather(context.Background(), testQuery())
	require.NoError(t, err)

	assert.Nil(t, weather.TempC, "hour 2 is beyond the returned array")
	assert.Nil(t, weather.WindKMH)
}

func TestClient_FetchWeather_NullEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hourly":{"temperature_2m":[null,null,null],"windspeed_10m":[null,null,9.9]}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 1)
	weather, err := c.FetchWeather(context.Background(), testQuery())
	require.NoError(t, err)

	assert.Nil(t, weather.TempC)
	require.NotNil(t, weather.WindKMH)
	assert.Equal(t, 9.9, *weather.WindKMH)
}

func TestClient_FetchWeather_ServerErrorRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(archiveFixture))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	weather, err := c.FetchWeather(context.Background(), testQuery())
	require.NoError(t, err)
	assert.NotNil(t, weather.TempC)
	assert.Equal(t, 2, calls, "first 502 should be retried once")
}

func TestClient_FetchWeather_ClientErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"reason":"Invalid date"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5)
	_, err := c.FetchWeather(context.Background(), testQuery())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, 1, calls, "4xx must not be retried")
}

func TestClient_FetchWeather_RateLimitedRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(archiveFixture))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	_, err := c.FetchWeather(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "429 is transient and should be retried")
}

func TestClient_FetchWeather_ExhaustionReportsLastError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 2)
	_, err := c.FetchWeather(context.Background(), testQuery())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempts exhausted")
	assert.Contains(t, err.Error(), "503")
}
