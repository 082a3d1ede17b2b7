package overpass

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

const countFixture = `{
	"elements": [
		{"type": "count", "id": 0, "tags": {"nodes": "1", "ways": "0", "relations": "0", "total": "1"}},
		{"type": "count", "id": 1, "tags": {"nodes": "0", "ways": "4", "relations": "0", "total": "4"}},
		{"type": "count", "id": 2, "tags": {"nodes": "2", "ways": "0", "relations": "0", "total": "2"}}
	]
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimiter(maxAttempts int) *ratelimit.Client {
	return ratelimit.New(ratelimit.Config{
		Name:        "overpass",
		MaxAttempts: maxAttempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}, clockwork.NewRealClock(), discardLogger())
}

func testClient(baseURL string, maxAttempts int) *Client {
	return NewClient(baseURL, testLimiter(maxAttempts), 5*time.Second, observability.NewMetricsForTesting(), discardLogger())
}

func testQuery() domain.InfraQuery {
	return domain.InfraQuery{Lat: 48.8566, Lon: 2.3522, RadiusMeters: 500}
}

func TestClient_FetchInfrastructure_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("data")
		assert.Contains(t, query, `node["highway"="speed_camera"](around:500,48.85660,2.35220)`)
		assert.Contains(t, query, `way["barrier"="guard_rail"]`)
		assert.Contains(t, query, `node["highway"="traffic_signals"]`)
		assert.Contains(t, query, "out count")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(countFixture))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 1)
	inf, err := c.FetchInfrastructure(context.Background(), testQuery())
	require.NoError(t, err)

	assert.Equal(t, 1, inf.SpeedCameras)
	assert.Equal(t, 4, inf.GuardRails)
	assert.Equal(t, 2, inf.TrafficSignals)
	assert.Equal(t, 7, inf.Total)
}

func TestClient_FetchInfrastructure_EmptyArea(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"elements":[
			{"type":"count","tags":{"total":"0"}},
			{"type":"count","tags":{"total":"0"}},
			{"type":"count","tags":{"total":"0"}}
		]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 1)
	inf, err := c.FetchInfrastructure(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, 0, inf.Total)
}

func TestClient_FetchInfrastructure_RateLimitedRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("rate limited"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(countFixture))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5)
	inf, err := c.FetchInfrastructure(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "429s should be retried until a slot frees up")
	assert.Equal(t, 7, inf.Total)
}

func TestClient_FetchInfrastructure_BadQueryNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("parse error"))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 8)
	_, err := c.FetchInfrastructure(context.Background(), testQuery())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, 1, calls)
}

func TestParseCounts(t *testing.T) {
	t.Run("ignores non-count elements", func(t *testing.T) {
		inf := parseCounts([]element{
			{Type: "node", Tags: map[string]string{"highway": "speed_camera"}},
			{Type: "count", Tags: map[string]string{"total": "3"}},
			{Type: "count", Tags: map[string]string{"total": "1"}},
		})
		assert.Equal(t, 3, inf.SpeedCameras)
		assert.Equal(t, 1, inf.GuardRails)
		assert.Equal(t, 0, inf.TrafficSignals)
		assert.Equal(t, 4, inf.Total)
	})

	t.Run("empty response", func(t *testing.T) {
		inf := parseCounts(nil)
		assert.Equal(t, 0, inf.Total)
	})

	t.Run("unparseable totals count as zero", func(t *testing.T) {
		inf := parseCounts([]element{{Type: "count", Tags: map[string]string{"total": "n/a"}}})
		assert.Equal(t, 0, inf.Total)
	})
}
