package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournal(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "journal")
	j, err := NewCSV(dir)
	require.NoError(t, err)

	at := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordAction(ActionRecord{ID: "A1", Time: at, TradeID: "T1", Kind: "breakeven", StopLoss: 1.1, Message: "stop to entry"}))
	require.NoError(t, j.RecordDecision(DecisionRecord{Time: at, UserID: "u1", Instrument: "EUR_USD", Allowed: true, State: "NORMAL"}))
	require.NoError(t, j.RecordResult(ResultRecord{TradeID: "T1", PnL: 12.5, Won: true, OpenTime: at, CloseTime: at.Add(time.Hour)}))
	require.NoError(t, j.Close())

	actions := readCSV(t, filepath.Join(dir, "actions.csv"))
	require.Len(t, actions, 2)
	assert.Equal(t, actionHeader, actions[0])
	assert.Equal(t, "2024-03-06T10:00:00Z", actions[1][1])
	assert.Equal(t, "1.100000", actions[1][7])
	assert.Equal(t, "stop to entry", actions[1][10])

	decisions := readCSV(t, filepath.Join(dir, "decisions.csv"))
	require.Len(t, decisions, 2)
	assert.Equal(t, "true", decisions[1][3])

	results := readCSV(t, filepath.Join(dir, "results.csv"))
	require.Len(t, results, 2)
	assert.Equal(t, "12.500000", results[1][9])
	assert.Equal(t, "2024-03-06T11:00:00Z", results[1][8])
}

func TestOpenBackends(t *testing.T) {
	t.Parallel()

	j, err := Open("none", "")
	require.NoError(t, err)
	assert.NoError(t, j.RecordAction(ActionRecord{}))

	j, err = Open("sqlite", filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	assert.NoError(t, j.Close())

	_, err = Open("postgres", "")
	assert.Error(t, err)
}
