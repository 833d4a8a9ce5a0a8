// Package session owns the interaction state of one human-robot session.
//
// All mutation goes through Machine.Apply, and a Session actor is the only
// caller: verdicts, utterances, and robot acknowledgements are queued into one
// ordered event stream and applied one at a time.
package session

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/speech"
)

// State is the session control state. The flags jointly encode the mode.
type State struct {
	Moving          bool `json:"moving"`
	ActiveDetection bool `json:"active_detection"`
	Query           bool `json:"query"`
	Recovering      bool `json:"recovering"`
	CommandCount    int  `json:"command_count"`
}

func (s State) String() string {
	return fmt.Sprintf("moving=%t detect=%t query=%t recovering=%t count=%d",
		s.Moving, s.ActiveDetection, s.Query, s.Recovering, s.CommandCount)
}

// Event is anything the state machine reacts to.
type Event interface {
	At() time.Time
}

// VerdictEvent carries one classifier verdict.
type VerdictEvent struct {
	Verdict protocol.Verdict
	Time    time.Time
}

// UtteranceEvent carries one final recognizer result.
type UtteranceEvent struct {
	Utterance speech.Utterance
	Time      time.Time
}

// AckEvent carries the robot's completion signal.
type AckEvent struct {
	Done bool
	Time time.Time
}

func (e VerdictEvent) At() time.Time   { return e.Time }
func (e UtteranceEvent) At() time.Time { return e.Time }
func (e AckEvent) At() time.Time       { return e.Time }
