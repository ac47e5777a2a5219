package collector

import (
	"strconv"
	"strings"
	"time"

	"StooqSync/internal/model"
)

// ParseCandles turns a provider CSV body into candles in body order.
// The first line is a header. Lines with fewer than seven fields or without a
// valid calendar date are skipped; unparseable prices become zero.
func ParseCandles(body string) []model.Candle {
	lines := strings.Split(body, "\n")
	if len(lines) < 2 {
		return nil
	}
	candles := make([]model.Candle, 0, len(lines)-1)
	for _, line := range lines[1:] {
		fields := splitFields(strings.TrimRight(line, "\r \t"))
		if len(fields) < 7 {
			continue
		}
		date, ok := parseDate(fields[0], fields[1], fields[2])
		if !ok {
			continue
		}
		c := model.Candle{
			Time:  date,
			Open:  atof(fields[3]),
			High:  atof(fields[4]),
			Low:   atof(fields[5]),
			Close: atof(fields[6]),
		}
		if len(fields) >= 8 {
			c.Volume = atof(fields[7])
		}
		candles = append(candles, c)
	}
	return candles
}

// splitFields splits on ',' and '-'. A separator that is the first character
// of a field belongs to the field, so "2,-1.5" yields ["2", "-1.5"].
func splitFields(line string) []string {
	var fields []string
	start := 0
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if ch != ',' && ch != '-' {
			continue
		}
		if i == start && ch == '-' {
			continue
		}
		if i > start {
			fields = append(fields, strings.TrimSpace(line[start:i]))
		}
		start = i + 1
	}
	if start < len(line) {
		if f := strings.TrimSpace(line[start:]); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// parseDate builds a UTC day from year, month and day fields. Dates that
// time.Date would normalise (month 13, Feb 30) are rejected.
func parseDate(y, m, d string) (time.Time, bool) {
	year, err := strconv.Atoi(y)
	if err != nil || year < 1 || year > 9999 {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(m)
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(d)
	if err != nil || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func atof(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
