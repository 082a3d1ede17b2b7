// Package cache persists external lookup payloads under their fingerprints
// so reruns and nearby accidents skip redundant API calls. The file store is
// the durable default; Redis suits shared deployments and the in-memory
// store backs tests and cache-less runs.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the fingerprint → payload cache consulted before every external
// fetch. Implementations must be safe for concurrent workers. A miss is not
// an error — it just means "fetch required" — and unreadable or corrupted
// entries are reported as misses, never as failures.
type Store interface {
	Get(ctx context.Context, fingerprint string) ([]byte, bool)
	Put(ctx context.Context, fingerprint string, payload []byte) error
}

// storedEntry is the on-disk/on-wire envelope. Payload carries the marshaled
// API result byte-for-byte, so a rerun against a warm cache reproduces
// identical enrichment blocks.
type storedEntry struct {
	Fingerprint string          `json:"fingerprint"`
	Payload     json.RawMessage `json:"payload"`
	FetchedAt   time.Time       `json:"fetched_at"`
}

func encodeEntry(fingerprint string, payload []byte, at time.Time) ([]byte, error) {
	return json.Marshal(storedEntry{Fingerprint: fingerprint, Payload: payload, FetchedAt: at})
}

// decodeEntry extracts the payload, reporting false for malformed envelopes.
func decodeEntry(data []byte) ([]byte, bool) {
	var e storedEntry
	if err := json.Unmarshal(data, &e); err != nil || len(e.Payload) == 0 {
		return nil, false
	}
	return e.Payload, true
}
