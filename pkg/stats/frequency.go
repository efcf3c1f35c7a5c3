package stats

import (
	"sort"
	"time"
)

// Window selects the time range frequency statistics are computed over.
type Window string

const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowYear  Window = "year"
	WindowAll   Window = "all"
)

const msPerDay = 24 * 60 * 60 * 1000

// Length returns the window length, or 0 for the all-time window whose
// length is the observed span.
func (w Window) Length() time.Duration {
	switch w {
	case WindowDay:
		return 24 * time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	case WindowMonth:
		return 30 * 24 * time.Hour
	case WindowYear:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// UpdateStats summarizes update frequency within one window. A window with
// fewer than two updates yields the zero value with the observed Count.
type UpdateStats struct {
	Count         int     `json:"count"`
	AverageGapMs  float64 `json:"average_gap_ms"`
	MedianGapMs   float64 `json:"median_gap_ms"`
	MaxGapMs      float64 `json:"max_gap_ms"`
	MinGapMs      float64 `json:"min_gap_ms"`
	UpdatesPerDay float64 `json:"updates_per_day"`
}

// CalculateUpdateStats computes frequency statistics over the updates that
// fall inside the window ending at now.
//
// The average gap is span-based (observed span divided by the gap count),
// while median, max and min come from the explicit pairwise gap list. The
// two deliberately use different bases; do not unify them.
func CalculateUpdateStats(updates []Update, window Window, now time.Time) UpdateStats {
	nowMs := uint64(now.UnixMilli())
	length := window.Length()

	var cutoff uint64
	if length > 0 {
		lengthMs := uint64(length.Milliseconds())
		if nowMs > lengthMs {
			cutoff = nowMs - lengthMs
		}
	}

	inWindow := make([]uint64, 0, len(updates))
	for _, u := range updates {
		if u.TimestampMs >= cutoff {
			inWindow = append(inWindow, u.TimestampMs)
		}
	}

	if len(inWindow) < 2 {
		return UpdateStats{Count: len(inWindow)}
	}

	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i] < inWindow[j] })

	gaps := make([]float64, 0, len(inWindow)-1)
	for i := 1; i < len(inWindow); i++ {
		gaps = append(gaps, float64(inWindow[i]-inWindow[i-1]))
	}

	span := float64(inWindow[len(inWindow)-1] - inWindow[0])

	sortedGaps := make([]float64, len(gaps))
	copy(sortedGaps, gaps)
	sort.Float64s(sortedGaps)

	// Updates-per-day uses the configured window length; the all-time
	// window uses the observed span instead of a fixed calendar length.
	windowMs := float64(length.Milliseconds())
	if length == 0 {
		windowMs = span
	}
	var perDay float64
	if windowMs > 0 {
		perDay = float64(len(inWindow)) / (windowMs / msPerDay)
	}

	return UpdateStats{
		Count:         len(inWindow),
		AverageGapMs:  span / float64(len(gaps)),
		MedianGapMs:   median(sortedGaps),
		MaxGapMs:      sortedGaps[len(sortedGaps)-1],
		MinGapMs:      sortedGaps[0],
		UpdatesPerDay: perDay,
	}
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
