package collector

import (
	"context"
	"time"

	"StooqSync/internal/model"
)

// Fetcher defines the interface for downloading a window of bars.
type Fetcher interface {
	FetchCandles(ctx context.Context, symbol string, period model.Period, start, end time.Time) ([]model.Candle, error)
	Name() string
}
