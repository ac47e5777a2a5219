// Package syncer runs the per-symbol pipeline: read the stored series, fetch
// the missing window, merge, then persist to the text and history stores.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"StooqSync/internal/collector"
	"StooqSync/internal/model"
	"StooqSync/internal/series"
)

// ErrPersist marks a failure to write either store. The scheduler treats it as fatal.
var ErrPersist = errors.New("persist failed")

// Stage is the pipeline step a symbol is in.
type Stage int

const (
	StageFetching Stage = iota + 1
	StageMerging
	StagePersisting
)

// TextStore is the full-rewrite projection of a series.
type TextStore interface {
	Read(sym model.SymbolConfig) ([]model.Candle, error)
	Write(sym model.SymbolConfig, candles []model.Candle) error
}

// Target is one configured symbol and its history store.
type Target struct {
	Symbol  model.SymbolConfig
	History HistoryStore
}

// Report summarises one symbol sync.
type Report struct {
	Symbol  string
	Period  model.Period
	From    time.Time
	To      time.Time
	Fetched int
	Stored  int
	Applied Applied
	Gaps    []series.Gap
	// Last is the time of the newest stored bar, zero for an empty series.
	Last time.Time
	// NoData is set when the provider has nothing for the window; stores are untouched.
	NoData bool
}

// Syncer wires the fetcher and stores together.
type Syncer struct {
	Fetcher collector.Fetcher
	Text    TextStore
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
	// OnStage, when set, is called as a symbol enters each stage.
	OnStage func(symbol string, st Stage)
}

// New creates a Syncer.
func New(fetcher collector.Fetcher, text TextStore) *Syncer {
	return &Syncer{Fetcher: fetcher, Text: text, Now: time.Now}
}

var coldStart = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// Window returns the inclusive fetch range for a stored series: from the period
// of its last bar (or 1970 when empty) to today.
func Window(local []model.Candle, period model.Period, now time.Time) (time.Time, time.Time) {
	start := coldStart
	if last, ok := model.Last(local); ok {
		start = period.Start(last.Time)
	}
	return start, model.DayStart(now)
}

// SyncSymbol runs one symbol through the pipeline. Nothing is persisted unless
// the fetch succeeded.
func (s *Syncer) SyncSymbol(ctx context.Context, t Target) (Report, error) {
	sym := t.Symbol
	rep := Report{Symbol: sym.Symbol, Period: sym.Period}

	local, err := s.Text.Read(sym)
	if err != nil {
		return rep, fmt.Errorf("%s read csv: %w", sym.Symbol, err)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	rep.From, rep.To = Window(local, sym.Period, now())
	log.Infof("%s download date: %s - %s", sym.Symbol, rep.From.Format(time.DateOnly), rep.To.Format(time.DateOnly))

	s.stage(sym.Symbol, StageFetching)
	remote, err := s.Fetcher.FetchCandles(ctx, sym.Symbol, sym.Period, rep.From, rep.To)
	if errors.Is(err, collector.ErrDataNotAvailable) {
		log.Warnf("%s no data available, local series kept", sym.Symbol)
		rep.NoData = true
		rep.Stored = len(local)
		if last, ok := model.Last(local); ok {
			rep.Last = last.Time
		}
		return rep, nil
	}
	if err != nil {
		return rep, fmt.Errorf("%s fetch: %w", sym.Symbol, err)
	}
	rep.Fetched = len(remote)

	s.stage(sym.Symbol, StageMerging)
	remote = series.Normalize(remote, sym.Period)
	merged := series.Merge(local, remote, sym.Period)
	if !series.Ascending(merged) {
		return rep, fmt.Errorf("%s merge produced an unordered series", sym.Symbol)
	}
	rep.Stored = len(merged)
	rep.Gaps = series.Gaps(merged[max(len(local)-1, 0):], sym.Period)
	for _, g := range rep.Gaps {
		log.WithFields(log.Fields{"symbol": sym.Symbol, "after": g.After.Format(time.DateOnly), "before": g.Before.Format(time.DateOnly)}).
			Warn("gap in series")
	}

	if last, ok := model.Last(merged); ok {
		rep.Last = last.Time
		log.Infof("%s write date: %s - %s", sym.Symbol,
			merged[0].Time.Format(time.DateOnly), merged[len(merged)-1].Time.Format(time.DateOnly))
	} else {
		log.Infof("%s write date: null", sym.Symbol)
	}

	s.stage(sym.Symbol, StagePersisting)
	if err := s.Text.Write(sym, merged); err != nil {
		return rep, fmt.Errorf("%w: %s write csv: %w", ErrPersist, sym.Symbol, err)
	}
	if t.History != nil {
		applied, err := ApplyHistory(merged, t.History)
		rep.Applied = applied
		if err != nil {
			return rep, fmt.Errorf("%w: %s update hst: %w", ErrPersist, sym.Symbol, err)
		}
	}
	return rep, nil
}

func (s *Syncer) stage(symbol string, st Stage) {
	if s.OnStage != nil {
		s.OnStage(symbol, st)
	}
}
