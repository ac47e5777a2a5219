package recorder

import "time"

// SymbolEvent holds the outcome of one symbol sync within a cycle.
type SymbolEvent struct {
	CycleID string
	Symbol  string
	Period  int
	From    time.Time
	To      time.Time
	Fetched int
	Stored  int
	Added   int
	Updated int
	Gaps    int
	Outcome string // "OK", "NO_DATA", "FAILED", "COOLDOWN"
	ErrKind string
	Error   string
}

// CycleEvent summarises one pass over all configured symbols.
type CycleEvent struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Symbols    int
	Failed     int
	NextRun    time.Time
}

// Recorder persists the sync journal for later inspection.
type Recorder interface {
	RecordSymbol(evt *SymbolEvent) error
	RecordCycle(evt *CycleEvent) error
	Close() error
}
