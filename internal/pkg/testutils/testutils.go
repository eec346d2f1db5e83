package testutils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// MustParseTime returns time.Time for provided string in RFC3339 format
func MustParseTime(t *testing.T, ts string) time.Time {
	t.Helper()

	parsed, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)

	return parsed
}

// Clock - manually driven clock, safe for concurrent use
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns Clock set to start
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now satisfies utils.Provider[time.Time]
func (c *Clock) Now(_ context.Context) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// Set moves the clock to t
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = t
}
