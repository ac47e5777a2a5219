package textstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"StooqSync/internal/model"
)

// Dialect selects the record layout of a text store file.
type Dialect int

const (
	// DialectMT4: 2020.01.02,00:00,1.10000,1.20000,1.00000,1.15000,100
	DialectMT4 Dialect = iota
	// DialectMT5: 2020.01.02<TAB>00:00:00<TAB>O<TAB>H<TAB>L<TAB>C<TAB>VOL<TAB>0<TAB>0
	DialectMT5
	// DialectDukascopy: 02.01.2020 00:00:00.000,O,H,L,C,VOL
	DialectDukascopy
)

const maxDecimalPlaces = 8

// ParseDialect maps a configuration name onto a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mt4":
		return DialectMT4, nil
	case "mt5":
		return DialectMT5, nil
	case "dukascopy":
		return DialectDukascopy, nil
	default:
		return 0, fmt.Errorf("unknown csv dialect %q", name)
	}
}

func (d Dialect) String() string {
	switch d {
	case DialectMT5:
		return "mt5"
	case DialectDukascopy:
		return "dukascopy"
	default:
		return "mt4"
	}
}

// Formatter renders one candle as a record line using the given number of
// price decimal places.
type Formatter func(c model.Candle, places int) string

// Formatter returns the record formatter of the dialect.
func (d Dialect) Formatter() Formatter {
	switch d {
	case DialectMT5:
		return formatMT5
	case DialectDukascopy:
		return formatDukascopy
	default:
		return formatMT4
	}
}

func (d Dialect) comma() rune {
	if d == DialectMT5 {
		return '\t'
	}
	return ','
}

func formatMT4(c model.Candle, places int) string {
	t := c.Time.UTC()
	return strings.Join([]string{
		t.Format("2006.01.02"),
		t.Format("15:04"),
		price(c.Open, places),
		price(c.High, places),
		price(c.Low, places),
		price(c.Close, places),
		strconv.FormatInt(int64(c.Volume), 10),
	}, ",")
}

func formatMT5(c model.Candle, places int) string {
	t := c.Time.UTC()
	return strings.Join([]string{
		t.Format("2006.01.02"),
		t.Format("15:04:05"),
		price(c.Open, places),
		price(c.High, places),
		price(c.Low, places),
		price(c.Close, places),
		strconv.FormatInt(int64(c.Volume), 10),
		"0",
		"0",
	}, "\t")
}

func formatDukascopy(c model.Candle, places int) string {
	t := c.Time.UTC()
	return strings.Join([]string{
		t.Format("02.01.2006 15:04:05.000"),
		price(c.Open, places),
		price(c.High, places),
		price(c.Low, places),
		price(c.Close, places),
		strconv.FormatFloat(c.Volume, 'f', 6, 64),
	}, ",")
}

func price(v float64, places int) string {
	return decimal.NewFromFloat(v).StringFixed(int32(places))
}

// DecimalPlaces returns the smallest number of decimal places that represents
// every price in candles exactly, capped at eight.
func DecimalPlaces(candles []model.Candle) int {
	places := 0
	for _, c := range candles {
		for _, v := range [...]float64{c.Open, c.High, c.Low, c.Close} {
			if p := placesOf(v); p > places {
				places = p
			}
		}
	}
	if places > maxDecimalPlaces {
		places = maxDecimalPlaces
	}
	return places
}

func placesOf(v float64) int {
	exp := decimal.NewFromFloat(v).Exponent()
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}

// parseTime reads the timestamp columns of a record.
func (d Dialect) parseTime(dateCol, timeCol string) (time.Time, error) {
	switch d {
	case DialectMT5:
		return time.ParseInLocation("2006.01.02 15:04:05", dateCol+" "+timeCol, time.UTC)
	case DialectDukascopy:
		return time.ParseInLocation("02.01.2006 15:04:05.000", dateCol, time.UTC)
	default:
		return time.ParseInLocation("2006.01.02 15:04", dateCol+" "+timeCol, time.UTC)
	}
}
