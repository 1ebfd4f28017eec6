// Package clock provides the agent's notion of wall-clock time. Until the
// NTP step of the bootstrap has run the clock is the raw system clock; after
// it, reads are corrected by the measured offset unless the system clock was
// set directly.
package clock

import (
	"sync/atomic"
	"time"
)

// LogLayout is the timestamp layout used in every log line.
const LogLayout = "2006-01-02T15:04:05Z"

type Clock struct {
	offset atomic.Int64
	now    func() time.Time
}

func New() *Clock {
	return &Clock{now: time.Now}
}

// NewFixed returns a clock pinned to t. Used by tests and tooling.
func NewFixed(t time.Time) *Clock {
	return &Clock{now: func() time.Time { return t }}
}

func (clock *Clock) Now() time.Time {
	return clock.now().Add(time.Duration(clock.offset.Load()))
}

// Millis is the current time in milliseconds since the Unix epoch.
func (clock *Clock) Millis() int64 {
	return clock.Now().UnixMilli()
}

func (clock *Clock) SetOffset(offset time.Duration) {
	clock.offset.Store(int64(offset))
}

func (clock *Clock) Offset() time.Duration {
	return time.Duration(clock.offset.Load())
}

// Format renders t the way log lines expect it, always in UTC.
func Format(t time.Time) string {
	return t.UTC().Format(LogLayout)
}
