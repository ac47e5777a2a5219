package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteRecorder(t *testing.T) {
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	defer r.Close()

	evt, err := r.LastSymbolEvent("SPX", 1440)
	require.NoError(t, err)
	assert.Nil(t, evt)

	from := time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.RecordSymbol(&SymbolEvent{
		CycleID: "c1", Symbol: "SPX", Period: 1440, From: from, To: from.AddDate(0, 0, 1),
		Fetched: 2, Stored: 4, Added: 1, Updated: 1, Outcome: "OK",
	}))
	require.NoError(t, r.RecordSymbol(&SymbolEvent{
		CycleID: "c2", Symbol: "SPX", Period: 1440, Outcome: "FAILED",
		ErrKind: "request_failed", Error: "request_failed (status 500)",
	}))
	require.NoError(t, r.RecordCycle(&CycleEvent{
		ID: "c2", StartedAt: time.Now(), FinishedAt: time.Now(), Symbols: 1, Failed: 1,
	}))

	evt, err = r.LastSymbolEvent("SPX", 1440)
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, "c2", evt.CycleID)
	assert.Equal(t, "FAILED", evt.Outcome)
	assert.Equal(t, "request_failed", evt.ErrKind)
	assert.True(t, evt.From.IsZero())

	evt, err = r.LastSymbolEvent("SPX", 10080)
	require.NoError(t, err)
	assert.Nil(t, evt, "events are kept per period")

	var cycles int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM sync_cycles`).Scan(&cycles))
	assert.Equal(t, 1, cycles)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NewNoopRecorder()
	assert.NoError(t, r.RecordSymbol(&SymbolEvent{}))
	assert.NoError(t, r.RecordCycle(&CycleEvent{}))
	assert.NoError(t, r.Close())
}
