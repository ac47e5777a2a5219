package scheduler

import "time"

// State is what the scheduler is doing right now.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateMerging
	StatePersisting
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateMerging:
		return "merging"
	case StatePersisting:
		return "persisting"
	case StateSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// EverySchedule fires on multiples of Minutes counted from the Unix epoch,
// so a 5 minute cadence runs at :00, :05, :10 regardless of start time.
// It implements cron.Schedule.
type EverySchedule struct {
	Minutes int
}

// Next returns the first boundary strictly after t.
func (e EverySchedule) Next(t time.Time) time.Time {
	n := int64(e.Minutes) * 60
	if n <= 0 {
		n = 60
	}
	sec := t.Unix()
	return time.Unix(sec-sec%n+n, 0).In(t.Location())
}
