// Package hst reads and appends MetaTrader 4 history files (format 401).
//
// A file is a 148-byte header followed by 60-byte bar records, little endian.
// Bars are only ever appended, or the final bar rewritten in place.
package hst

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"StooqSync/internal/model"
)

const (
	Version    = 401
	headerSize = 148
	recordSize = 60
	copyright  = "(C)opyright 2003, MetaQuotes Software Corp."
)

// ErrHeaderMismatch is returned by Open when an existing file was written for another period.
var ErrHeaderMismatch = errors.New("hst: header does not match")

// ErrNotLastBar is returned by UpdateCandle for a bar other than the final one.
var ErrNotLastBar = errors.New("hst: only the last bar can be updated")

type header struct {
	Version   int32
	Copyright [64]byte
	Symbol    [12]byte
	Period    int32
	Digits    int32
	TimeSign  int32
	LastSync  int32
	Unused    [13]int32
}

type rateInfo struct {
	Time       int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	Spread     int32
	RealVolume int64
}

// File is one open history file.
type File struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	header header
}

// FileName returns the MetaTrader name of a history file: <name><period>.hst.
func FileName(name string, period model.Period) string {
	return name + strconv.Itoa(int(period)) + ".hst"
}

// Open opens or creates the history file of name in dir. A new file gets a
// header stamped with period and digits.
func Open(dir, name string, period model.Period, digits int) (*File, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create hst dir: %w", err)
		}
	}
	path := filepath.Join(dir, FileName(name, period))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	h := &File{f: f, path: path}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Size() == 0 {
		h.header = newHeader(name, period, digits)
		if err := binary.Write(f, binary.LittleEndian, &h.header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header %s: %w", path, err)
		}
		return h, nil
	}

	if err := binary.Read(io.NewSectionReader(f, 0, headerSize), binary.LittleEndian, &h.header); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	if h.header.Version != Version {
		f.Close()
		return nil, fmt.Errorf("%s: unsupported version %d", path, h.header.Version)
	}
	if model.Period(h.header.Period).Canonical() != period.Canonical() {
		f.Close()
		return nil, fmt.Errorf("%w: %s holds period %d, want %d", ErrHeaderMismatch, path, h.header.Period, int(period))
	}
	if h.Digits() != digits {
		log.Warnf("%s: header has %d digits, configured %d; keeping the header", path, h.Digits(), digits)
	}
	return h, nil
}

func newHeader(name string, period model.Period, digits int) header {
	h := header{
		Version:  Version,
		Period:   int32(period),
		Digits:   int32(digits),
		TimeSign: int32(time.Now().Unix()),
	}
	copy(h.Copyright[:], copyright)
	copy(h.Symbol[:len(h.Symbol)-1], name)
	return h
}

// Path returns the file location.
func (h *File) Path() string { return h.path }

// Symbol returns the symbol stored in the header.
func (h *File) Symbol() string {
	return string(bytes.TrimRight(h.header.Symbol[:], "\x00"))
}

// Digits returns the price precision stored in the header.
func (h *File) Digits() int { return int(h.header.Digits) }

func (h *File) bars() (int64, error) {
	st, err := h.f.Stat()
	if err != nil {
		return 0, err
	}
	n := st.Size() - headerSize
	if n < 0 {
		return 0, fmt.Errorf("%s: truncated header", h.path)
	}
	return n / recordSize, nil
}

func (h *File) readAt(i int64) (rateInfo, error) {
	var r rateInfo
	sr := io.NewSectionReader(h.f, headerSize+i*recordSize, recordSize)
	err := binary.Read(sr, binary.LittleEndian, &r)
	return r, err
}

func (h *File) writeAt(i int64, c model.Candle) error {
	var buf bytes.Buffer
	r := rateInfo{
		Time:   c.Time.Unix(),
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: int64(c.Volume),
	}
	if err := binary.Write(&buf, binary.LittleEndian, &r); err != nil {
		return err
	}
	_, err := h.f.WriteAt(buf.Bytes(), headerSize+i*recordSize)
	return err
}

// LastTimestamp returns the time of the final bar, or the zero time when the
// file has no bars.
func (h *File) LastTimestamp() (time.Time, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.bars()
	if err != nil {
		return time.Time{}, err
	}
	if n == 0 {
		return time.Time{}, nil
	}
	r, err := h.readAt(n - 1)
	if err != nil {
		return time.Time{}, fmt.Errorf("read %s: %w", h.path, err)
	}
	return time.Unix(r.Time, 0).UTC(), nil
}

// AddCandle appends a bar.
func (h *File) AddCandle(c model.Candle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.bars()
	if err != nil {
		return err
	}
	if err := h.writeAt(n, c); err != nil {
		return fmt.Errorf("append %s: %w", h.path, err)
	}
	return nil
}

// UpdateCandle rewrites the final bar, which must have the same time as c.
func (h *File) UpdateCandle(c model.Candle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.bars()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotLastBar
	}
	last, err := h.readAt(n - 1)
	if err != nil {
		return fmt.Errorf("read %s: %w", h.path, err)
	}
	if last.Time != c.Time.Unix() {
		return fmt.Errorf("%w: %s", ErrNotLastBar, c.Time.UTC().Format(time.DateOnly))
	}
	if err := h.writeAt(n-1, c); err != nil {
		return fmt.Errorf("update %s: %w", h.path, err)
	}
	return nil
}

// Candles reads every bar in the file.
func (h *File) Candles() ([]model.Candle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.bars()
	if err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, n)
	for i := int64(0); i < n; i++ {
		r, err := h.readAt(i)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", h.path, err)
		}
		out = append(out, model.Candle{
			Time:   time.Unix(r.Time, 0).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: float64(r.Volume),
		})
	}
	return out, nil
}

// Close flushes and closes the file.
func (h *File) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.f.Sync(); err != nil {
		h.f.Close()
		return err
	}
	return h.f.Close()
}
