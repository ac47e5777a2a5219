package model

import (
	"fmt"
	"time"
)

// Period is a bar granularity expressed in minutes.
type Period int

const (
	PeriodDay     Period = 1440
	PeriodWeek    Period = 10080
	PeriodMonth   Period = 40320
	PeriodQuarter Period = 120960
	PeriodYear    Period = 483840

	// periodMonthMT4 is the MN1 value used by MetaTrader; accepted as a month alias.
	periodMonthMT4 Period = 43200
)

// Canonical folds aliases onto the periods used internally.
func (p Period) Canonical() Period {
	if p == periodMonthMT4 {
		return PeriodMonth
	}
	return p
}

// Code returns the one-letter interval code used by the quote provider.
// Quarter has no wire code.
func (p Period) Code() (string, error) {
	switch p.Canonical() {
	case PeriodDay:
		return "d", nil
	case PeriodWeek:
		return "w", nil
	case PeriodMonth:
		return "m", nil
	case PeriodYear:
		return "y", nil
	default:
		return "", fmt.Errorf("period %d has no interval code", int(p))
	}
}

func (p Period) String() string {
	switch p.Canonical() {
	case PeriodDay:
		return "D1"
	case PeriodWeek:
		return "W1"
	case PeriodMonth:
		return "MN1"
	case PeriodQuarter:
		return "Q1"
	case PeriodYear:
		return "Y1"
	default:
		return fmt.Sprintf("M%d", int(p))
	}
}

// Start returns the UTC start of the period containing t.
// Weeks start on Monday.
func (p Period) Start(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch p.Canonical() {
	case PeriodWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PeriodQuarter:
		m := ((int(t.Month())-1)/3)*3 + 1
		return time.Date(t.Year(), time.Month(m), 1, 0, 0, 0, 0, time.UTC)
	case PeriodYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

// Same reports whether a and b fall in the same period.
func (p Period) Same(a, b time.Time) bool {
	return p.Start(a).Equal(p.Start(b))
}

// DayStart truncates t to midnight UTC.
func DayStart(t time.Time) time.Time {
	return PeriodDay.Start(t)
}
