package syncer

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StooqSync/internal/collector"
	"StooqSync/internal/hst"
	"StooqSync/internal/model"
	"StooqSync/internal/textstore"
)

var spx = model.SymbolConfig{Symbol: "SPX", Digits: 2, Period: model.PeriodDay}

type fixture struct {
	syncer  *Syncer
	fetcher *collector.MockFetcher
	text    *textstore.Store
	history *hst.File
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	text, err := textstore.New(t.TempDir(), "", textstore.DialectMT4)
	require.NoError(t, err)
	history, err := hst.Open(t.TempDir(), spx.Symbol, spx.Period, spx.Digits)
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	fetcher := collector.NewMockFetcher()
	s := New(fetcher, text)
	s.Now = func() time.Time { return now }
	return &fixture{syncer: s, fetcher: fetcher, text: text, history: history}
}

func (f *fixture) target() Target {
	return Target{Symbol: spx, History: f.history}
}

func TestWindow(t *testing.T) {
	now := time.Date(2020, 1, 5, 15, 4, 0, 0, time.UTC)
	start, end := Window(nil, model.PeriodDay, now)
	assert.Equal(t, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, day(5), end)

	start, _ = Window([]model.Candle{bar(1, 1), bar(3, 3)}, model.PeriodDay, now)
	assert.Equal(t, day(3), start)

	start, _ = Window([]model.Candle{bar(3, 3)}, model.PeriodMonth, now)
	assert.Equal(t, day(1), start)
}

// Scenario: empty stores, provider returns three daily bars.
func TestSyncSymbol_ColdStart(t *testing.T) {
	f := newFixture(t, day(3).Add(12*time.Hour))
	f.fetcher.Candles["SPX"] = []model.Candle{bar(1, 1), bar(2, 2), bar(3, 3)}

	rep, err := f.syncer.SyncSymbol(context.Background(), f.target())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Fetched)
	assert.Equal(t, 3, rep.Stored)
	assert.Equal(t, Applied{Added: 3}, rep.Applied)

	stored, err := f.text.Read(spx)
	require.NoError(t, err)
	assert.Equal(t, f.fetcher.Candles["SPX"], stored)

	bars, err := f.history.Candles()
	require.NoError(t, err)
	assert.Equal(t, stored, bars)
}

// Scenario: stored series ends Jan 3; provider revises Jan 3 and adds Jan 4.
func TestSyncSymbol_RevisesTailAndAppends(t *testing.T) {
	f := newFixture(t, day(4))
	f.fetcher.Candles["SPX"] = []model.Candle{bar(1, 1), bar(2, 2), bar(3, 3)}
	_, err := f.syncer.SyncSymbol(context.Background(), f.target())
	require.NoError(t, err)

	f.fetcher.Candles["SPX"] = []model.Candle{bar(1, 1), bar(2, 2), bar(3, 3.25), bar(4, 4)}
	rep, err := f.syncer.SyncSymbol(context.Background(), f.target())
	require.NoError(t, err)

	last := f.fetcher.Requests[len(f.fetcher.Requests)-1]
	assert.Equal(t, day(3), last.Start, "window starts at the stored tail")
	assert.Equal(t, 2, rep.Fetched)
	assert.Equal(t, Applied{Added: 1, Updated: 1, Skipped: 2}, rep.Applied)

	stored, err := f.text.Read(spx)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, 3.25, stored[2].Close)

	bars, err := f.history.Candles()
	require.NoError(t, err)
	assert.Equal(t, stored, bars)
}

// Scenario: a failed request leaves both stores byte-for-byte unchanged.
func TestSyncSymbol_FetchFailureLeavesStoresUntouched(t *testing.T) {
	f := newFixture(t, day(3))
	f.fetcher.Candles["SPX"] = []model.Candle{bar(1, 1), bar(2, 2)}
	_, err := f.syncer.SyncSymbol(context.Background(), f.target())
	require.NoError(t, err)

	csvBefore, err := os.ReadFile(f.text.Path(spx))
	require.NoError(t, err)
	hstBefore, err := os.ReadFile(f.history.Path())
	require.NoError(t, err)

	f.fetcher.Errors["SPX"] = collector.ErrRequestFailed
	_, err = f.syncer.SyncSymbol(context.Background(), f.target())
	require.ErrorIs(t, err, collector.ErrRequestFailed)
	assert.NotErrorIs(t, err, ErrPersist)

	csvAfter, err := os.ReadFile(f.text.Path(spx))
	require.NoError(t, err)
	hstAfter, err := os.ReadFile(f.history.Path())
	require.NoError(t, err)
	assert.Equal(t, csvBefore, csvAfter)
	assert.Equal(t, hstBefore, hstAfter)
}

func TestSyncSymbol_DataNotAvailableKeepsLocal(t *testing.T) {
	f := newFixture(t, day(3))
	f.fetcher.Errors["SPX"] = collector.ErrDataNotAvailable

	rep, err := f.syncer.SyncSymbol(context.Background(), f.target())
	require.NoError(t, err)
	assert.True(t, rep.NoData)
	assert.NoFileExists(t, f.text.Path(spx))
}

func TestSyncSymbol_EmptyRemoteKeepsLocal(t *testing.T) {
	f := newFixture(t, day(3))
	f.fetcher.Candles["SPX"] = []model.Candle{bar(1, 1), bar(2, 2)}
	_, err := f.syncer.SyncSymbol(context.Background(), f.target())
	require.NoError(t, err)

	f.fetcher.Candles["SPX"] = nil
	rep, err := f.syncer.SyncSymbol(context.Background(), f.target())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Stored)

	stored, err := f.text.Read(spx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

type failingText struct {
	TextStore
}

func (failingText) Write(model.SymbolConfig, []model.Candle) error {
	return errors.New("read-only file system")
}

func TestSyncSymbol_WriteFailureIsPersistError(t *testing.T) {
	f := newFixture(t, day(3))
	f.fetcher.Candles["SPX"] = []model.Candle{bar(1, 1)}
	f.syncer.Text = failingText{f.text}

	_, err := f.syncer.SyncSymbol(context.Background(), f.target())
	assert.ErrorIs(t, err, ErrPersist)

	bars, err := f.history.Candles()
	require.NoError(t, err)
	assert.Empty(t, bars, "history is not touched after a failed text write")
}

func TestSyncSymbol_UnreadableLocalFile(t *testing.T) {
	f := newFixture(t, day(3))
	require.NoError(t, os.WriteFile(f.text.Path(spx), []byte("garbage,line,x,y,z,w,v\n"), 0o644))

	_, err := f.syncer.SyncSymbol(context.Background(), f.target())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPersist)
	assert.Zero(t, f.fetcher.Calls("SPX"))
}

func TestSyncSymbol_ReportsStages(t *testing.T) {
	f := newFixture(t, day(3))
	f.fetcher.Candles["SPX"] = []model.Candle{bar(1, 1)}
	var stages []Stage
	f.syncer.OnStage = func(_ string, st Stage) { stages = append(stages, st) }

	_, err := f.syncer.SyncSymbol(context.Background(), f.target())
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageFetching, StageMerging, StagePersisting}, stages)
}

func TestSyncSymbol_RunTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t, day(3))
	f.fetcher.Candles["SPX"] = []model.Candle{bar(1, 1), bar(2, 2), bar(3, 3)}

	_, err := f.syncer.SyncSymbol(context.Background(), f.target())
	require.NoError(t, err)
	first, err := os.ReadFile(f.text.Path(spx))
	require.NoError(t, err)

	rep, err := f.syncer.SyncSymbol(context.Background(), f.target())
	require.NoError(t, err)
	assert.Equal(t, Applied{Updated: 1, Skipped: 2}, rep.Applied)

	second, err := os.ReadFile(f.text.Path(spx))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	bars, err := f.history.Candles()
	require.NoError(t, err)
	assert.Len(t, bars, 3)
}
