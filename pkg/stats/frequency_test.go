package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func timestamps(ms ...uint64) []Update {
	updates := make([]Update, len(ms))
	for i, t := range ms {
		updates[i] = Update{TimestampMs: t}
	}
	return updates
}

func TestCalculateUpdateStats_Gaps(t *testing.T) {
	now := time.UnixMilli(1000)
	// Gaps: 10, 20, 30 over a 60ms span
	updates := timestamps(100, 110, 130, 160)

	res := CalculateUpdateStats(updates, WindowAll, now)
	assert.Equal(t, 4, res.Count)
	// Average is span-based: 60 / 3 gaps
	assert.Equal(t, float64(20), res.AverageGapMs)
	assert.Equal(t, float64(20), res.MedianGapMs)
	assert.Equal(t, float64(30), res.MaxGapMs)
	assert.Equal(t, float64(10), res.MinGapMs)
}

func TestCalculateUpdateStats_MedianEvenCount(t *testing.T) {
	// Gaps: 10, 30 -> median averages the middle pair
	res := CalculateUpdateStats(timestamps(0, 10, 40), WindowAll, time.UnixMilli(1000))
	assert.Equal(t, float64(20), res.MedianGapMs)
}

func TestCalculateUpdateStats_TooFew(t *testing.T) {
	now := time.UnixMilli(1000)

	res := CalculateUpdateStats(nil, WindowAll, now)
	assert.Equal(t, UpdateStats{}, res)

	res = CalculateUpdateStats(timestamps(500), WindowAll, now)
	assert.Equal(t, UpdateStats{Count: 1}, res)
}

func TestCalculateUpdateStats_WindowCutoff(t *testing.T) {
	now := time.UnixMilli(3 * msPerDay)
	updates := timestamps(
		0,              // outside the day window
		2*msPerDay+100, // inside
		2*msPerDay+200,
	)

	res := CalculateUpdateStats(updates, WindowDay, now)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, float64(100), res.AverageGapMs)
	// Per-day rate uses the configured window length, not the span
	assert.Equal(t, float64(2), res.UpdatesPerDay)
}

func TestCalculateUpdateStats_AllWindowRate(t *testing.T) {
	// All-time uses the observed span: 2 updates over half a day
	res := CalculateUpdateStats(timestamps(0, msPerDay/2), WindowAll, time.UnixMilli(msPerDay))
	assert.Equal(t, float64(4), res.UpdatesPerDay)
}

func TestCalculateUpdateStats_UnsortedInput(t *testing.T) {
	res := CalculateUpdateStats(timestamps(160, 100, 130, 110), WindowAll, time.UnixMilli(1000))
	assert.Equal(t, float64(20), res.AverageGapMs)
	assert.Equal(t, float64(30), res.MaxGapMs)
}

func TestWindowLength(t *testing.T) {
	assert.Equal(t, 24*time.Hour, WindowDay.Length())
	assert.Equal(t, 7*24*time.Hour, WindowWeek.Length())
	assert.Equal(t, 30*24*time.Hour, WindowMonth.Length())
	assert.Equal(t, 365*24*time.Hour, WindowYear.Length())
	assert.Equal(t, time.Duration(0), WindowAll.Length())
}
