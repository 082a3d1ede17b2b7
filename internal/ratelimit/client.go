// Package ratelimit paces and retries calls to one external API. Each API
// gets its own Client instance; pacing is global per instance regardless of
// how many workers are queued behind it.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Config sets the pacing and retry policy for one API.
type Config struct {
	// Name labels log lines and errors, e.g. "open-meteo".
	Name string
	// MinInterval is the minimum spacing between successive physical calls.
	// Zero disables pacing (useful in tests).
	MinInterval time.Duration
	// MaxAttempts bounds the retry loop, counting the first try.
	MaxAttempts int
	// BaseBackoff is the first retry delay; it doubles per attempt up to
	// MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// CallTimeout bounds each physical call. Zero means no per-call bound.
	CallTimeout time.Duration
}

// Client serializes access to one external API: callers queue in arrival
// order for a pacing slot, and failed calls are retried with exponential
// backoff up to the attempt ceiling. Exhaustion is an ordinary error — the
// caller decides whether to proceed without the result.
type Client struct {
	name        string
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	callTimeout time.Duration
	clock       clockwork.Clock
	logger      *slog.Logger
}

func New(cfg Config, clock clockwork.Clock, logger *slog.Logger) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	return &Client{
		name:        cfg.Name,
		limiter:     rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		callTimeout: cfg.CallTimeout,
		clock:       clock,
		logger:      logger,
	}
}

// Do runs call under the client's pacing and retry policy. The retry loop is
// explicit and bounded: transient failures back off and try again, an error
// wrapped with Permanent stops immediately, and exhausting the ceiling
// returns the last error wrapped — never a panic or unbounded loop.
//
// Cancelling ctx aborts queued waits and pending retries, but a call already
// dispatched runs to completion under its own timeout, so paid-for network
// round-trips are not discarded at shutdown.
func (c *Client) Do(ctx context.Context, call func(context.Context) error) error {
	backoff := c.baseBackoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: wait for call slot: %w", c.name, err)
		}

		err := c.invoke(ctx, call)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		lastErr = err

		if attempt < c.maxAttempts {
			c.logger.Warn("call failed, will retry",
				"api", c.name,
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
			if !c.sleep(ctx, backoff) {
				return fmt.Errorf("%s: cancelled during backoff: %w", c.name, ctx.Err())
			}
			backoff = nextBackoff(backoff, c.maxBackoff)
		}
	}

	return fmt.Errorf("%s: %d attempts exhausted: %w", c.name, c.maxAttempts, lastErr)
}

// invoke shields the physical call from run-level cancellation: once
// dispatched it finishes or times out on its own terms.
func (c *Client) invoke(ctx context.Context, call func(context.Context) error) error {
	callCtx := context.WithoutCancel(ctx)
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, c.callTimeout)
		defer cancel()
	}
	return call(callCtx)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(d):
		return true
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// Permanent marks err as not worth retrying — client errors like a 4xx
// response that will fail identically on every attempt. Rate-limit responses
// (429) must not be marked permanent.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the Permanent marker.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}
