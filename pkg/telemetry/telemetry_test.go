package telemetry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVWriter_HeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "au.csv")
	header := []string{"Originating Time", "Confidence"}

	w, err := OpenCSV(path, header)
	require.NoError(t, err)
	require.NoError(t, w.WriteRow([]string{"t1", "0.9"}))
	require.NoError(t, w.Close())

	// reopening an existing file appends without a second header
	w, err = OpenCSV(path, header)
	require.NoError(t, err)
	require.NoError(t, w.WriteRow([]string{"t2", "0"}))
	assert.Equal(t, uint64(1), w.Rows())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Originating Time,Confidence\nt1,0.9\nt2,0\n", string(data))
}

func TestCSVWriter_Closed(t *testing.T) {
	w, err := OpenCSV(filepath.Join(t.TempDir(), "ml.csv"), []string{"a"})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "double close is a no-op")
	assert.ErrorIs(t, w.WriteRow([]string{"x"}), os.ErrClosed)
}

func TestCSVWriter_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.csv")
	w, err := OpenCSV(path, []string{"n"})
	require.NoError(t, err)
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				w.WriteRow([]string{"row"})
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 201, strings.Count(string(data), "\n"))
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "hrd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordRequiresSession(t *testing.T) {
	s := openStore(t)
	assert.ErrorIs(t, s.Record(StreamCommands, time.Now(), "red"), ErrNoSession)
	assert.ErrorIs(t, s.EndSession(context.Background()), ErrNoSession)
}

func TestStore_Samples(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	id, err := s.StartSession(ctx, true, "paired")
	require.NoError(t, err)
	assert.Equal(t, id, s.SessionID())

	base := time.UnixMicro(1_700_000_000_000_000)
	require.NoError(t, s.Record(StreamCommands, base.Add(2*time.Millisecond), "possible"))
	require.NoError(t, s.Record(StreamCommands, base, "red"))
	require.NoError(t, s.Record(StreamRobotMoving, base, true))

	rows, err := s.Samples(ctx, id, StreamCommands)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Time.Equal(base))

	var cmd string
	require.NoError(t, json.Unmarshal(rows[0].Value, &cmd))
	assert.Equal(t, "red", cmd)
	assert.NotEqual(t, rows[0].ID, rows[1].ID)

	require.NoError(t, s.EndSession(ctx))
	sessions, err := s.Sessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.True(t, sessions[0].ActiveDetection)
	assert.Equal(t, "paired", sessions[0].Layout)
	assert.NotNil(t, sessions[0].EndedAt)
}
