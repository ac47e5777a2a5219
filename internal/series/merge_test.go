package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StooqSync/internal/model"
)

func day(d int) time.Time {
	return time.Date(2020, time.January, d, 0, 0, 0, 0, time.UTC)
}

func bar(d int, close float64) model.Candle {
	return model.Candle{Time: day(d), Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 10}
}

func TestMerge_ColdStart(t *testing.T) {
	remote := []model.Candle{bar(1, 1), bar(2, 2), bar(3, 3)}
	got := Merge(nil, remote, model.PeriodDay)
	assert.Equal(t, remote, got)
}

func TestMerge_ReplacesOverlappingBarAndAppends(t *testing.T) {
	local := []model.Candle{bar(1, 1), bar(2, 2), bar(3, 3)}
	revised := bar(3, 3.5)
	remote := []model.Candle{revised, bar(4, 4)}

	got := Merge(local, remote, model.PeriodDay)
	require.Len(t, got, 4)
	assert.Equal(t, revised, got[2])
	assert.Equal(t, bar(4, 4), got[3])
	assert.Equal(t, 3.0, local[2].Close, "input must not be modified")
}

func TestMerge_EmptyRemoteKeepsLocal(t *testing.T) {
	local := []model.Candle{bar(1, 1), bar(2, 2)}
	got := Merge(local, nil, model.PeriodDay)
	assert.Equal(t, local, got)
}

func TestMerge_OnlyOverlappingBar(t *testing.T) {
	local := []model.Candle{bar(1, 1), bar(2, 2)}
	got := Merge(local, []model.Candle{bar(2, 9)}, model.PeriodDay)
	require.Len(t, got, 2)
	assert.Equal(t, 9.0, got[1].Close)
}

func TestMerge_GapIsKept(t *testing.T) {
	local := []model.Candle{bar(1, 1), bar(2, 2)}
	remote := []model.Candle{bar(20, 20), bar(21, 21)}
	got := Merge(local, remote, model.PeriodDay)
	require.Len(t, got, 4)
	assert.True(t, Ascending(got))

	gaps := Gaps(got, model.PeriodDay)
	require.Len(t, gaps, 1)
	assert.Equal(t, day(2), gaps[0].After)
	assert.Equal(t, day(20), gaps[0].Before)
}

func TestMerge_DropsBarsOlderThanTail(t *testing.T) {
	local := []model.Candle{bar(1, 1), bar(2, 2), bar(3, 3)}
	remote := []model.Candle{bar(2, 99), bar(3, 3.3), bar(4, 4)}
	got := Merge(local, remote, model.PeriodDay)
	require.Len(t, got, 4)
	assert.Equal(t, 2.0, got[1].Close)
	assert.Equal(t, 3.3, got[2].Close)
	assert.True(t, Ascending(got))
}

func TestMerge_WeeklySamePeriod(t *testing.T) {
	// Monday 2020-01-06 stored, provider dates the open week on Friday.
	local := []model.Candle{{Time: day(6), Close: 1}}
	remote := []model.Candle{{Time: day(10), Close: 2}, {Time: day(13), Close: 3}}
	got := Merge(local, remote, model.PeriodWeek)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0].Close)
	assert.Equal(t, 3.0, got[1].Close)
}

func TestMerge_Idempotent(t *testing.T) {
	local := []model.Candle{bar(1, 1), bar(2, 2)}
	remote := []model.Candle{bar(2, 2.5), bar(3, 3)}

	once := Merge(local, remote, model.PeriodDay)
	twice := Merge(once, []model.Candle{bar(3, 3)}, model.PeriodDay)
	assert.Equal(t, once, twice)
}

func TestMerge_NoSilentLoss(t *testing.T) {
	local := []model.Candle{bar(1, 1), bar(2, 2), bar(3, 3), bar(6, 6)}
	remote := []model.Candle{bar(6, 6.1), bar(7, 7)}
	got := Merge(local, remote, model.PeriodDay)
	for _, c := range local[:3] {
		assert.Contains(t, got, c)
	}
}

func TestNormalize(t *testing.T) {
	in := []model.Candle{
		{Time: day(10), Close: 2},
		{Time: day(3).Add(5 * time.Hour), Close: 1},
		{Time: day(7), Close: 3},
	}
	got := Normalize(in, model.PeriodWeek)
	require.Len(t, got, 2)
	assert.Equal(t, time.Date(2019, time.December, 30, 0, 0, 0, 0, time.UTC), got[0].Time)
	assert.Equal(t, day(6), got[1].Time)
	assert.Equal(t, 3.0, got[1].Close, "later input wins inside one period")
	assert.Nil(t, Normalize(nil, model.PeriodDay))
}

func TestAscending(t *testing.T) {
	assert.True(t, Ascending(nil))
	assert.True(t, Ascending([]model.Candle{bar(1, 1), bar(2, 2)}))
	assert.False(t, Ascending([]model.Candle{bar(2, 1), bar(2, 2)}))
	assert.False(t, Ascending([]model.Candle{bar(3, 1), bar(2, 2)}))
}

func TestGaps_Monthly(t *testing.T) {
	candles := []model.Candle{
		{Time: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Time: time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)},
		{Time: time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)},
	}
	gaps := Gaps(candles, model.PeriodMonth)
	require.Len(t, gaps, 1)
	assert.Equal(t, time.February, gaps[0].After.Month())
}
