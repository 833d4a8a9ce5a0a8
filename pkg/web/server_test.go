package web

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-hrd/pkg/session"
)

func newTestServer(stop func()) *Server {
	return NewServer(":0", Options{
		State: func() session.State {
			return session.State{Moving: true, CommandCount: 3}
		},
		Counters: func() map[string]uint64 {
			return map[string]uint64{"commands_sent": 4, "Verdicts Malformed": 1}
		},
		Stop: stop,
	})
}

func TestHealth(t *testing.T) {
	s := newTestServer(nil)
	resp, err := s.App().Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	s := newTestServer(nil)
	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/status", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.True(t, st.State.Moving)
	assert.Equal(t, 3, st.State.CommandCount)
	assert.Equal(t, uint64(4), st.Counters["commands_sent"])
	assert.Contains(t, st.Counters, "status_clients")
}

func TestStop_OnlyFirstActs(t *testing.T) {
	calls := 0
	s := newTestServer(func() { calls++ })

	for i := 0; i < 2; i++ {
		resp, err := s.App().Test(httptest.NewRequest("POST", "/api/stop", nil))
		require.NoError(t, err)
		assert.Equal(t, 202, resp.StatusCode)
	}
	assert.Equal(t, 1, calls)

	select {
	case <-s.Stopped():
	default:
		t.Error("Stopped should be closed")
	}
}

func TestMetrics(t *testing.T) {
	s := newTestServer(nil)
	resp, err := s.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	assert.Contains(t, text, "hrd_commands_sent 4\n")
	assert.Contains(t, text, "hrd_verdicts_malformed 1\n")
	assert.Contains(t, text, "hrd_command_count 3\n")
	assert.Contains(t, text, "hrd_moving 1\n")
	assert.Contains(t, text, "hrd_query 0\n")
}

func TestStatusWS_RequiresUpgrade(t *testing.T) {
	s := newTestServer(nil)
	resp, err := s.App().Test(httptest.NewRequest("GET", "/ws/status", nil))
	require.NoError(t, err)
	assert.Equal(t, 426, resp.StatusCode)
}

func TestPushState_SkipsUnchanged(t *testing.T) {
	s := newTestServer(nil)
	st := session.State{Query: true}
	s.PushState(st, st, nil)
	s.PushState(session.State{}, st, nil)
	assert.Equal(t, 1, s.Hub().Queued())
}
