package collector

import (
	"context"
	"sync"
	"time"

	"StooqSync/internal/model"
)

// Request records one call made to a MockFetcher.
type Request struct {
	Symbol string
	Period model.Period
	Start  time.Time
	End    time.Time
}

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	mu sync.Mutex
	// Candles maps a symbol, exactly as requested, to the bars returned for it. Only bars
	// inside the requested window are returned, like the real provider.
	Candles map[string][]model.Candle
	// Errors maps a symbol to the error returned instead of data.
	Errors   map[string]error
	Requests []Request
}

// NewMockFetcher creates an empty MockFetcher.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		Candles: make(map[string][]model.Candle),
		Errors:  make(map[string]error),
	}
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchCandles(_ context.Context, symbol string, period model.Period, start, end time.Time) ([]model.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, Request{Symbol: symbol, Period: period, Start: start, End: end})
	if err := m.Errors[symbol]; err != nil {
		return nil, err
	}
	if _, err := period.Code(); err != nil {
		return nil, newFetchError(KindInvalidParameter, 0, err)
	}
	var out []model.Candle
	for _, c := range m.Candles[symbol] {
		if c.Time.Before(start) || c.Time.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Calls returns how many requests were made for symbol.
func (m *MockFetcher) Calls(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.Requests {
		if r.Symbol == symbol {
			n++
		}
	}
	return n
}
