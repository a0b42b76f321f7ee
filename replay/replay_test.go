package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/market"
)

type recorder struct {
	calls  []string
	failOn string
}

func (r *recorder) OnTick(_ context.Context, tk market.Tick) error {
	r.calls = append(r.calls, "tick "+tk.Instrument)
	return nil
}

func (r *recorder) OnEvent(_ context.Context, tk market.Tick, ev Event) error {
	r.calls = append(r.calls, "event "+ev.Name+" "+strings.Join(ev.Args, "|"))
	if ev.Name == r.failOn {
		return errors.New("boom")
	}
	return nil
}

const script = `time,instrument,bid,ask,event,arg1,arg2,arg3,arg4
2024-03-06T10:00:00Z,EUR_USD,1.1000,1.1002,OPEN,u1,long,1.0950,
2024-03-06T10:00:05Z,eur/usd,1.1010,1.1012
2024-03-06T10:00:10Z,EUR_USD,1.1020,1.1022,close_all,end,,,
`

func TestCSVTickThenEvent(t *testing.T) {
	t.Parallel()

	h := &recorder{}
	n, err := CSV(context.Background(), strings.NewReader(script), h, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{
		"tick EUR_USD",
		"event OPEN u1|long|1.0950",
		"tick EUR_USD",
		"tick EUR_USD",
		"event CLOSE_ALL end",
	}, h.calls)
}

func TestCSVEventFirst(t *testing.T) {
	t.Parallel()

	h := &recorder{}
	_, err := CSV(context.Background(), strings.NewReader(script), h, Options{EventFirst: true})
	require.NoError(t, err)
	assert.Equal(t, "event OPEN u1|long|1.0950", h.calls[0])
	assert.Equal(t, "tick EUR_USD", h.calls[1])
}

func TestCSVStopsOnHandlerError(t *testing.T) {
	t.Parallel()

	h := &recorder{failOn: "OPEN"}
	n, err := CSV(context.Background(), strings.NewReader(script), h, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Equal(t, 0, n)
}

func TestCSVHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := CSV(ctx, strings.NewReader(script), &recorder{}, Options{Pace: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
}

func TestParseRowErrors(t *testing.T) {
	t.Parallel()

	for _, row := range [][]string{
		{"2024-03-06T10:00:00Z", "EUR_USD", "1.1"},
		{"yesterday", "EUR_USD", "1.1", "1.2"},
		{"2024-03-06T10:00:00Z", "EUR_USD", "x", "1.2"},
		{"2024-03-06T10:00:00Z", "EUR_USD", "1.2", "1.1"},
	} {
		_, _, err := ParseRow(row)
		assert.Error(t, err, row)
	}
}

func TestFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte("2024-03-06T10:00:00Z,USD_JPY,150.10,150.12\n"), 0o644))

	h := &recorder{}
	n, err := File(context.Background(), path, h, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"tick USD_JPY"}, h.calls)
}
