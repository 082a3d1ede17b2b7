// Package overpass counts road-safety features around accident locations
// using the Overpass API over OpenStreetMap data.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mpicard/baac-enrich/internal/domain"
	"github.com/mpicard/baac-enrich/internal/observability"
	"github.com/mpicard/baac-enrich/internal/ratelimit"
)

const defaultBaseURL = "https://overpass-api.de/api/interpreter"

// Client implements domain.InfraFetcher. Overpass enforces per-client slot
// quotas server-side and answers 429 when they are exceeded, so the injected
// rate-limited client is configured far more conservatively than for the
// weather API.
type Client struct {
	limiter    *ratelimit.Client
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an Overpass client. An empty baseURL selects the main
// public instance.
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

// FetchInfrastructure counts safety features within the query radius.
func (c *Client) FetchInfrastructure(ctx context.Context, q domain.InfraQuery) (*domain.Infrastructure, error) {
	var result *domain.Infrastructure
	err := c.limiter.Do(ctx, func(callCtx context.Context) error {
		inf, err := c.fetch(callCtx, q)
		if err != nil {
			return err
		}
		result = inf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) fetch(ctx context.Context, q domain.InfraQuery) (*domain.Infrastructure, error) {
	params := url.Values{"data": {buildQuery(q)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.FetchDuration.WithLabelValues("overpass").Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.Fetches.WithLabelValues("overpass", "error").Inc()
		return nil, fmt.Errorf("infrastructure request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		c.metrics.Fetches.WithLabelValues("overpass", "error").Inc()
		return nil, err
	}

	var body overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.metrics.Fetches.WithLabelValues("overpass", "error").Inc()
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.metrics.Fetches.WithLabelValues("overpass", "success").Inc()
	return parseCounts(body.Elements), nil
}

// buildQuery returns an Overpass QL program counting each feature category
// around the point. Named sets keep this to one network call per lookup; the
// count elements come back in out-statement order.
func buildQuery(q domain.InfraQuery) string {
	around := fmt.Sprintf("(around:%d,%.5f,%.5f)", q.RadiusMeters, q.Lat, q.Lon)
	return fmt.Sprintf(`[out:json][timeout:25];
node["highway"="speed_camera"]%s->.cameras;
way["barrier"="guard_rail"]%s->.rails;
node["highway"="traffic_signals"]%s->.signals;
.cameras out count;
.rails out count;
.signals out count;`, around, around, around)
}

// checkStatus classifies non-200 responses. Overpass signals exhausted slots
// with 429, which is always worth retrying after backoff.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("overpass API error: status %d: %s", resp.StatusCode, body)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return ratelimit.Permanent(err)
	}
	return err
}

// Overpass response types. Count output carries totals as strings inside the
// tags object.

type overpassResponse struct {
	Elements []element `json:"elements"`
}

type element struct {
	Type string            `json:"type"`
	Tags map[string]string `json:"tags"`
}

func parseCounts(elements []element) *domain.Infrastructure {
	counts := make([]int, 0, 3)
	for _, el := range elements {
		if el.Type != "count" {
			continue
		}
		n, _ := strconv.Atoi(el.Tags["total"])
		counts = append(counts, n)
	}

	inf := &domain.Infrastructure{}
	if len(counts) > 0 {
		inf.SpeedCameras = counts[0]
	}
	if len(counts) > 1 {
		inf.GuardRails = counts[1]
	}
	if len(counts) > 2 {
		inf.TrafficSignals = counts[2]
	}
	inf.Total = inf.SpeedCameras + inf.GuardRails + inf.TrafficSignals
	return inf
}
