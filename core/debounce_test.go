package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	var flushes []time.Time
	d := NewDebouncer(100*time.Millisecond, func(now time.Time) {
		flushes = append(flushes, now)
	})
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	// a burst of signals inside the window flushes once
	d.Signal(start)
	d.Signal(start.Add(20 * time.Millisecond))
	d.Signal(start.Add(40 * time.Millisecond))
	require.True(t, d.Pending())

	d.Tick(start.Add(60 * time.Millisecond))
	assert.Empty(t, flushes, "flushed before the window elapsed")

	d.Tick(start.Add(140 * time.Millisecond))
	require.Len(t, flushes, 1)
	assert.Equal(t, start.Add(140*time.Millisecond), flushes[0])
	assert.False(t, d.Pending())

	// quiet ticks do not flush again
	d.Tick(start.Add(300 * time.Millisecond))
	assert.Len(t, flushes, 1)
}

func TestDebouncerSignalReArmsDeadline(t *testing.T) {
	flushed := 0
	d := NewDebouncer(100*time.Millisecond, func(time.Time) { flushed++ })
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	d.Signal(start)
	d.Signal(start.Add(90 * time.Millisecond))
	d.Tick(start.Add(120 * time.Millisecond))
	assert.Zero(t, flushed, "second signal should have pushed the deadline out")

	d.Tick(start.Add(190 * time.Millisecond))
	assert.Equal(t, 1, flushed)
}

func TestDebouncerCancel(t *testing.T) {
	flushed := 0
	d := NewDebouncer(100*time.Millisecond, func(time.Time) { flushed++ })
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	d.Signal(start)
	d.Cancel()
	d.Tick(start.Add(time.Second))
	assert.Zero(t, flushed)
	assert.False(t, d.Pending())
}
