package syncer

import (
	"fmt"
	"time"

	"StooqSync/internal/model"
)

// HistoryStore is an append-oriented bar store. LastTimestamp returns the zero
// time when the store holds no bars.
type HistoryStore interface {
	LastTimestamp() (time.Time, error)
	AddCandle(c model.Candle) error
	UpdateCandle(c model.Candle) error
}

// Applied counts what ApplyHistory did.
type Applied struct {
	Added   int
	Updated int
	Skipped int
}

// ApplyHistory brings store up to date with series, which must be ascending.
// An empty store receives every bar. Otherwise the bar at the store's last
// timestamp is updated, newer bars are appended and older bars are skipped,
// so applying the same series twice only re-issues the final update.
func ApplyHistory(series []model.Candle, store HistoryStore) (Applied, error) {
	var res Applied
	last, err := store.LastTimestamp()
	if err != nil {
		return res, fmt.Errorf("last timestamp: %w", err)
	}

	if last.IsZero() {
		for _, c := range series {
			if err := store.AddCandle(c); err != nil {
				return res, fmt.Errorf("add %s: %w", c.Time.Format(time.DateOnly), err)
			}
			res.Added++
		}
		return res, nil
	}

	for _, c := range series {
		switch {
		case c.Time.Equal(last):
			if err := store.UpdateCandle(c); err != nil {
				return res, fmt.Errorf("update %s: %w", c.Time.Format(time.DateOnly), err)
			}
			res.Updated++
		case c.Time.After(last):
			if err := store.AddCandle(c); err != nil {
				return res, fmt.Errorf("add %s: %w", c.Time.Format(time.DateOnly), err)
			}
			res.Added++
		default:
			res.Skipped++
		}
	}
	return res, nil
}
