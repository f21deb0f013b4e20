// Package timesource turns the external wall clock and the active timezone
// into the target minute of day the clock should display.
package timesource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog"
)

// Y2K is the epoch second below which the wall clock is considered unset.
const Y2K int64 = 946684800

var (
	// ErrNotReady is returned until the clock has produced a valid time.
	ErrNotReady = errors.New("timesource: wall clock not yet valid")

	// ErrBootTimeout is returned by WaitValid when the clock stays invalid.
	ErrBootTimeout = errors.New("timesource: timed out waiting for a valid wall clock")
)

// Clock reads UTC wall time.
type Clock interface {
	Now() (time.Time, error)
}

// Valid reports whether t is past the Y2K sentinel.
func Valid(t time.Time) bool {
	return t.Unix() >= Y2K
}

// SystemClock is the host clock, trusted once it is past the sentinel.
type SystemClock struct {
	now func() time.Time
}

// NewSystemClock returns the host clock. now may be nil to use time.Now.
func NewSystemClock(now func() time.Time) *SystemClock {
	if now == nil {
		now = time.Now
	}
	return &SystemClock{now: now}
}

// Now returns the host time or ErrNotReady.
func (c *SystemClock) Now() (time.Time, error) {
	t := c.now().UTC()
	if !Valid(t) {
		return time.Time{}, ErrNotReady
	}
	return t, nil
}

// QueryFunc queries an NTP server. It matches ntp.QueryWithOptions.
type QueryFunc func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

// NTPClock applies the offset measured against an NTP server to the host clock.
// It is not valid until the first successful Sync.
type NTPClock struct {
	server  string
	timeout time.Duration
	query   QueryFunc
	now     func() time.Time
	log     zerolog.Logger

	mu       sync.RWMutex
	offset   time.Duration
	synced   bool
	lastSync time.Time
}

// NewNTPClock creates a clock for the given server. query and now may be nil.
func NewNTPClock(server string, timeout time.Duration, query QueryFunc, now func() time.Time, log zerolog.Logger) *NTPClock {
	if query == nil {
		query = ntp.QueryWithOptions
	}
	if now == nil {
		now = time.Now
	}
	return &NTPClock{server: server, timeout: timeout, query: query, now: now, log: log}
}

// Sync queries the server once and stores the measured offset.
func (c *NTPClock) Sync() error {
	resp, err := c.query(c.server, ntp.QueryOptions{Timeout: c.timeout})
	if err != nil {
		return fmt.Errorf("query %s: %w", c.server, err)
	}
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("validate %s: %w", c.server, err)
	}

	c.mu.Lock()
	c.offset = resp.ClockOffset
	c.synced = true
	c.lastSync = c.now()
	c.mu.Unlock()

	c.log.Debug().Str("server", c.server).Dur("offset", resp.ClockOffset).Msg("ntp sync")
	return nil
}

// Run resyncs every interval until ctx is done. Failures keep the last offset.
func (c *NTPClock) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sync(); err != nil {
				c.log.Warn().Err(err).Msg("ntp resync failed, keeping last offset")
			}
		}
	}
}

// Now returns the corrected UTC time or ErrNotReady.
func (c *NTPClock) Now() (time.Time, error) {
	c.mu.RLock()
	offset, synced := c.offset, c.synced
	c.mu.RUnlock()

	if !synced {
		return time.Time{}, ErrNotReady
	}
	t := c.now().Add(offset).UTC()
	if !Valid(t) {
		return time.Time{}, ErrNotReady
	}
	return t, nil
}

// Offset returns the last measured offset and whether a sync has succeeded.
func (c *NTPClock) Offset() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset, c.synced
}

// WaitValid blocks until clock returns a valid time, polling every poll.
// It returns ErrBootTimeout after timeout; the caller restarts the process.
func WaitValid(ctx context.Context, clock Clock, timeout, poll time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if _, err := clock.Now(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrBootTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
