package session

import (
	"github.com/teslashibe/go-hrd/pkg/speech"
)

// Config holds the interpretation thresholds of the state machine.
type Config struct {
	// WarmUp is the accepted pipe-fetch count before automatic detection
	// may raise a query.
	WarmUp int

	// MinConfidence is the recognizer confidence an utterance needs.
	MinConfidence float64

	// Affirmative and Negative are the recognized answers to a standing query.
	Affirmative []string
	Negative    []string
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		WarmUp:        9,
		MinConfidence: 0.85,
		Affirmative:   []string{"Yes you are"},
		Negative:      []string{"No you aren't"},
	}
}

// Machine is the pure transition function of a session.
type Machine struct {
	cfg Config
}

// NewMachine creates a state machine.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// Apply computes the successor of s for ev and the commands it emits. A
// precondition that does not hold is a no-op returning s unchanged.
func (m *Machine) Apply(s State, ev Event) (State, []Command) {
	switch e := ev.(type) {
	case VerdictEvent:
		return m.onVerdict(s, e)
	case UtteranceEvent:
		return m.onUtterance(s, e)
	case AckEvent:
		return m.onAck(s, e)
	}
	return s, nil
}

func (m *Machine) onVerdict(s State, e VerdictEvent) (State, []Command) {
	if !e.Verdict.IsNewError() {
		return s, nil
	}
	if s.Query || !s.ActiveDetection || s.Recovering || s.CommandCount < m.cfg.WarmUp {
		return s, nil
	}
	s.Query = true
	return s, []Command{CmdPossible}
}

func (m *Machine) onUtterance(s State, e UtteranceEvent) (State, []Command) {
	u := e.Utterance
	if !u.Final || u.Confidence < m.cfg.MinConfidence {
		return s, nil
	}

	last := speech.LastToken(u.Text)
	switch {
	case !s.Query && last == "pipe" && !s.Moving && !s.Recovering:
		// a color the robot would read as another command is ignored
		color := speech.Penultimate(u.Text)
		if !ValidColor(color) {
			return s, nil
		}
		s.CommandCount++
		s.Moving = true
		return s, []Command{Pipe(color)}

	case !s.Query && last == "error" && !s.Recovering:
		s.Recovering = true
		s.Moving = true
		return s, []Command{CmdError}

	case s.Query && s.ActiveDetection:
		if speech.Matches(u.Text, m.cfg.Negative) {
			s.Recovering = true
			s.Query = false
			return s, []Command{CmdError}
		}
		if speech.Matches(u.Text, m.cfg.Affirmative) {
			s.Query = false
			s.Moving = false
			return s, []Command{CmdResume}
		}
	}
	return s, nil
}

func (m *Machine) onAck(s State, e AckEvent) (State, []Command) {
	if !e.Done {
		return s, nil
	}
	s.Moving = false
	s.Recovering = false
	return s, nil
}
