// Package elastic delivers enriched accident documents to an
// Elasticsearch-compatible bulk endpoint.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mpicard/baac-enrich/internal/domain"
)

// Sink indexes each batch with one _bulk request. Documents are indexed under
// their accident id, so redelivering a batch overwrites rather than
// duplicates. It implements delivery.Sink.
type Sink struct {
	httpClient *http.Client
	bulkURL    string
	index      string
	logger     *slog.Logger
}

// NewSink creates a bulk sink for the given cluster URL and index.
func NewSink(baseURL, index string, timeout time.Duration, logger *slog.Logger) *Sink {
	return &Sink{
		httpClient: &http.Client{Timeout: timeout},
		bulkURL:    strings.TrimRight(baseURL, "/") + "/_bulk",
		index:      index,
		logger:     logger,
	}
}

// Deliver indexes the whole batch. Transport errors, non-2xx responses and
// retryable item failures (429, 5xx) fail the batch so the caller can retry
// it whole; items the cluster rejects outright (mapping conflicts and the
// like) are logged and dropped, since they would fail identically on every
// retry.
func (s *Sink) Deliver(ctx context.Context, batch []domain.EnrichedRecord) error {
	if len(batch) == 0 {
		return nil
	}

	body, err := s.bulkBody(batch)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.bulkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bulk request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("bulk request returned status %d: %s", resp.StatusCode, payload)
	}

	var result bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !result.Errors {
		return nil
	}
	return s.checkItems(result.Items)
}

// bulkBody serializes the batch as alternating action and document lines.
func (s *Sink) bulkBody(batch []domain.EnrichedRecord) ([]byte, error) {
	var buf bytes.Buffer
	for i := range batch {
		action, err := json.Marshal(bulkAction{Index: bulkActionMeta{Index: s.index, ID: batch[i].AccidentID}})
		if err != nil {
			return nil, fmt.Errorf("serialize bulk action: %w", err)
		}
		doc, err := json.Marshal(&batch[i])
		if err != nil {
			return nil, fmt.Errorf("serialize document %s: %w", batch[i].AccidentID, err)
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// checkItems inspects per-item results of a bulk response with errors=true.
// One retryable item failure fails the batch; permanent rejections only log.
func (s *Sink) checkItems(items []bulkItem) error {
	var retryable, rejected int
	for _, item := range items {
		st := item.Index.Status
		if st >= 200 && st <= 299 {
			continue
		}
		if st == http.StatusTooManyRequests || st >= 500 {
			retryable++
			continue
		}
		rejected++
		s.logger.Error("document rejected by the index",
			"accident_id", item.Index.ID,
			"status", st,
			"reason", item.Index.Error.Reason,
		)
	}

	if retryable > 0 {
		return fmt.Errorf("bulk indexing: %d documents failed with retryable statuses", retryable)
	}
	if rejected > 0 {
		s.logger.Warn("bulk batch partially rejected", "rejected", rejected)
	}
	return nil
}

type bulkAction struct {
	Index bulkActionMeta `json:"index"`
}

type bulkActionMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkResponse struct {
	Errors bool       `json:"errors"`
	Items  []bulkItem `json:"items"`
}

type bulkItem struct {
	Index struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"index"`
}
