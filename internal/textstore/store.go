// Package textstore keeps the plain-text projection of each symbol's series.
// Files are read once per cycle and always rewritten in full.
package textstore

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"

	"StooqSync/internal/model"
)

// Store locates and formats the text files of all configured symbols.
type Store struct {
	Dir     string
	Suffix  string
	Dialect Dialect
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir, suffix string, dialect Dialect) (*Store, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create csv dir: %w", err)
		}
	}
	return &Store{Dir: dir, Suffix: suffix, Dialect: dialect}, nil
}

// Path returns the file of a symbol: <dir>/<SYMBOL><suffix><period>.csv.
func (s *Store) Path(sym model.SymbolConfig) string {
	name := sym.Symbol + s.Suffix + strconv.Itoa(int(sym.Period)) + ".csv"
	return filepath.Join(s.Dir, name)
}

// record holds every column any dialect writes; unused trailing columns stay empty.
type record struct {
	Date       string  `csv:"date"`
	Time       string  `csv:"time"`
	Open       float64 `csv:"open"`
	High       float64 `csv:"high"`
	Low        float64 `csv:"low"`
	Close      float64 `csv:"close"`
	Volume     float64 `csv:"volume"`
	Spread     string  `csv:"spread"`
	RealVolume string  `csv:"real_volume"`
}

// dukascopyRecord has a single combined date-time column.
type dukascopyRecord struct {
	DateTime string  `csv:"datetime"`
	Open     float64 `csv:"open"`
	High     float64 `csv:"high"`
	Low      float64 `csv:"low"`
	Close    float64 `csv:"close"`
	Volume   float64 `csv:"volume"`
}

// Read loads the stored series of sym. A missing file is an empty series.
func (s *Store) Read(sym model.SymbolConfig) ([]model.Candle, error) {
	f, err := os.Open(s.Path(sym))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", s.Path(sym), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = s.Dialect.comma()
	r.FieldsPerRecord = -1

	candles, err := s.decode(r)
	if errors.Is(err, gocsv.ErrEmptyCSVFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path(sym), err)
	}
	return candles, nil
}

// Tail returns the newest stored bar of sym; ok is false for an empty series.
func (s *Store) Tail(sym model.SymbolConfig) (c model.Candle, ok bool, err error) {
	candles, err := s.Read(sym)
	if err != nil {
		return model.Candle{}, false, err
	}
	c, ok = model.Last(candles)
	return c, ok, nil
}

func (s *Store) decode(r *csv.Reader) ([]model.Candle, error) {
	if s.Dialect == DialectDukascopy {
		var rows []dukascopyRecord
		if err := gocsv.UnmarshalCSVWithoutHeaders(r, &rows); err != nil {
			return nil, err
		}
		candles := make([]model.Candle, 0, len(rows))
		for i, row := range rows {
			t, err := s.Dialect.parseTime(row.DateTime, "")
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			candles = append(candles, model.Candle{Time: t, Open: row.Open, High: row.High, Low: row.Low, Close: row.Close, Volume: row.Volume})
		}
		return candles, nil
	}

	var rows []record
	if err := gocsv.UnmarshalCSVWithoutHeaders(r, &rows); err != nil {
		return nil, err
	}
	candles := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		t, err := s.Dialect.parseTime(row.Date, row.Time)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		candles = append(candles, model.Candle{Time: t, Open: row.Open, High: row.High, Low: row.Low, Close: row.Close, Volume: row.Volume})
	}
	return candles, nil
}

// Write replaces the stored series of sym with candles. The file is written
// to a temporary sibling and renamed so a failed write leaves the old file intact.
func (s *Store) Write(sym model.SymbolConfig, candles []model.Candle) error {
	path := s.Path(sym)
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	places := DecimalPlaces(candles)
	format := s.Dialect.Formatter()
	w := bufio.NewWriter(tmp)
	for _, c := range candles {
		if _, err := w.WriteString(format(c, places) + "\n"); err != nil {
			tmp.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
