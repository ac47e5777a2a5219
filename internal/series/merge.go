// Package series reconciles a locally stored candle series with a freshly
// downloaded window of the same series.
package series

import (
	"sort"
	"time"

	"StooqSync/internal/model"
)

// Normalize stamps every candle with the start of its period and returns the
// series in ascending order. When two candles fall in the same period the one
// that came later in the input wins.
func Normalize(candles []model.Candle, period model.Period) []model.Candle {
	if len(candles) == 0 {
		return nil
	}
	out := make([]model.Candle, len(candles))
	for i, c := range candles {
		c.Time = period.Start(c.Time)
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	dedup := out[:1]
	for _, c := range out[1:] {
		if c.Time.Equal(dedup[len(dedup)-1].Time) {
			dedup[len(dedup)-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup
}

// Merge combines the stored series with a downloaded window that starts at the
// period of local's last bar.
//
// If remote[0] belongs to the same period as local's last bar it replaces that
// bar; otherwise it is appended. The rest of remote is appended. Remote bars
// whose period precedes local's last bar are already durable and are dropped.
// An empty remote returns local unchanged. Neither input is modified.
func Merge(local, remote []model.Candle, period model.Period) []model.Candle {
	if len(local) == 0 {
		return append([]model.Candle(nil), remote...)
	}

	merged := make([]model.Candle, len(local), len(local)+len(remote))
	copy(merged, local)
	if len(remote) == 0 {
		return merged
	}

	tail := period.Start(local[len(local)-1].Time)
	i := 0
	for i < len(remote) && period.Start(remote[i].Time).Before(tail) {
		i++
	}
	if i == len(remote) {
		return merged
	}
	if period.Same(remote[i].Time, tail) {
		merged[len(merged)-1] = remote[i]
		i++
	}
	return append(merged, remote[i:]...)
}

// Ascending reports whether timestamps strictly increase.
func Ascending(candles []model.Candle) bool {
	for i := 1; i < len(candles); i++ {
		if !candles[i-1].Time.Before(candles[i].Time) {
			return false
		}
	}
	return true
}

// Gap is a run of missing periods between two consecutive bars.
type Gap struct {
	After  time.Time
	Before time.Time
}

// Gaps returns the places where consecutive bars skip more than one period.
// Only calendar periods are checked for weeks and longer; daily series are
// expected to skip weekends and holidays, so days report only gaps over a week.
func Gaps(candles []model.Candle, period model.Period) []Gap {
	var gaps []Gap
	for i := 1; i < len(candles); i++ {
		prev, next := candles[i-1].Time, candles[i].Time
		if next.After(expectedNext(prev, period)) {
			gaps = append(gaps, Gap{After: prev, Before: next})
		}
	}
	return gaps
}

func expectedNext(t time.Time, period model.Period) time.Time {
	start := period.Start(t)
	switch period.Canonical() {
	case model.PeriodWeek:
		return start.AddDate(0, 0, 7)
	case model.PeriodMonth:
		return start.AddDate(0, 1, 0)
	case model.PeriodQuarter:
		return start.AddDate(0, 3, 0)
	case model.PeriodYear:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 0, 7)
	}
}
