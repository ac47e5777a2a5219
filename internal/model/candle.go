package model

import "time"

// Candle represents a single OHLCV bar. Time is the UTC start of the bar's period.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// SymbolConfig describes one tracked instrument.
type SymbolConfig struct {
	Symbol string `yaml:"symbol"`
	Digits int    `yaml:"digits"`
	Period Period `yaml:"period"`
}

// Last returns the most recent candle of a series and false when the series is empty.
func Last(candles []Candle) (Candle, bool) {
	if len(candles) == 0 {
		return Candle{}, false
	}
	return candles[len(candles)-1], true
}
