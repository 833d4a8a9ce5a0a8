package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/speech"
)

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func say(text string, conf float64) Event {
	return UtteranceEvent{Utterance: speech.Utterance{Text: text, Confidence: conf, Final: true}, Time: ts}
}

func verdict(m, e, c, n float64) Event {
	return VerdictEvent{Verdict: protocol.Verdict{Moving: m, ErrorTimestep: e, Confidence: c, NewError: n}, Time: ts}
}

func done(b bool) Event {
	return AckEvent{Done: b, Time: ts}
}

func TestApply_Transitions(t *testing.T) {
	warm := State{ActiveDetection: true, CommandCount: 10}

	tests := []struct {
		name  string
		state State
		event Event
		want  State
		cmds  []Command
	}{
		{
			name:  "pipe fetch",
			state: State{},
			event: say("get the red pipe", 0.9),
			want:  State{Moving: true, CommandCount: 1},
			cmds:  []Command{Pipe("red")},
		},
		{
			name:  "pipe fetch below confidence",
			state: State{},
			event: say("get the red pipe", 0.84),
			want:  State{},
		},
		{
			name:  "pipe fetch at confidence",
			state: State{},
			event: say("get the red pipe", 0.85),
			want:  State{Moving: true, CommandCount: 1},
			cmds:  []Command{Pipe("red")},
		},
		{
			name:  "pipe fetch while moving",
			state: State{Moving: true, CommandCount: 3},
			event: say("get the blue pipe", 0.95),
			want:  State{Moving: true, CommandCount: 3},
		},
		{
			name:  "pipe fetch while recovering",
			state: State{Recovering: true},
			event: say("get the blue pipe", 0.95),
			want:  State{Recovering: true},
		},
		{
			name:  "pipe fetch while querying",
			state: State{Query: true, ActiveDetection: true},
			event: say("get the blue pipe", 0.95),
			want:  State{Query: true, ActiveDetection: true},
		},
		{
			name:  "pipe without color",
			state: State{},
			event: say("pipe", 0.95),
			want:  State{},
		},
		{
			name:  "pipe color is a command word",
			state: State{},
			event: say("get the resume pipe", 0.95),
			want:  State{},
		},
		{
			name:  "pipe color is an error word",
			state: State{CommandCount: 2},
			event: say("the error pipe", 0.95),
			want:  State{CommandCount: 2},
		},
		{
			name:  "pipe color not a word",
			state: State{},
			event: say("get the 3 pipe", 0.95),
			want:  State{},
		},
		{
			name:  "non-final utterance",
			state: State{},
			event: UtteranceEvent{Utterance: speech.Utterance{Text: "get the red pipe", Confidence: 0.9}},
			want:  State{},
		},
		{
			name:  "manual error while moving",
			state: State{Moving: true, CommandCount: 2},
			event: say("that is an error", 0.9),
			want:  State{Moving: true, Recovering: true, CommandCount: 2},
			cmds:  []Command{CmdError},
		},
		{
			name:  "manual error while idle",
			state: State{},
			event: say("error", 0.9),
			want:  State{Moving: true, Recovering: true},
			cmds:  []Command{CmdError},
		},
		{
			name:  "manual error while recovering",
			state: State{Moving: true, Recovering: true},
			event: say("error", 0.9),
			want:  State{Moving: true, Recovering: true},
		},
		{
			name:  "verdict raises query",
			state: warm,
			event: verdict(1, 1, 0.92, 1),
			want:  State{ActiveDetection: true, Query: true, CommandCount: 10},
			cmds:  []Command{CmdPossible},
		},
		{
			name:  "verdict at warm-up boundary",
			state: State{ActiveDetection: true, CommandCount: 9},
			event: verdict(1, 1, 0.9, 1),
			want:  State{ActiveDetection: true, Query: true, CommandCount: 9},
			cmds:  []Command{CmdPossible},
		},
		{
			name:  "verdict during warm-up",
			state: State{ActiveDetection: true, CommandCount: 8},
			event: verdict(1, 1, 0.9, 1),
			want:  State{ActiveDetection: true, CommandCount: 8},
		},
		{
			name:  "verdict with detection disabled",
			state: State{CommandCount: 10},
			event: verdict(1, 1, 0.9, 1),
			want:  State{CommandCount: 10},
		},
		{
			name:  "verdict while recovering",
			state: State{ActiveDetection: true, Recovering: true, CommandCount: 10},
			event: verdict(1, 1, 0.9, 1),
			want:  State{ActiveDetection: true, Recovering: true, CommandCount: 10},
		},
		{
			name:  "verdict while querying",
			state: State{ActiveDetection: true, Query: true, CommandCount: 10},
			event: verdict(1, 1, 0.9, 1),
			want:  State{ActiveDetection: true, Query: true, CommandCount: 10},
		},
		{
			name:  "verdict without new error",
			state: warm,
			event: verdict(1, 1, 0.9, 0),
			want:  warm,
		},
		{
			name:  "affirmative answer",
			state: State{Moving: true, ActiveDetection: true, Query: true, CommandCount: 10},
			event: say("Yes you are", 0.9),
			want:  State{ActiveDetection: true, CommandCount: 10},
			cmds:  []Command{CmdResume},
		},
		{
			name:  "negative answer",
			state: State{Moving: true, ActiveDetection: true, Query: true, CommandCount: 10},
			event: say("No you aren't", 0.9),
			want:  State{Moving: true, ActiveDetection: true, Recovering: true, CommandCount: 10},
			cmds:  []Command{CmdError},
		},
		{
			name:  "unrecognized answer",
			state: State{ActiveDetection: true, Query: true},
			event: say("maybe", 0.9),
			want:  State{ActiveDetection: true, Query: true},
		},
		{
			name:  "answer with detection disabled",
			state: State{Query: true},
			event: say("Yes you are", 0.9),
			want:  State{Query: true},
		},
		{
			name:  "answer without a query",
			state: State{Moving: true, ActiveDetection: true},
			event: say("Yes you are", 0.9),
			want:  State{Moving: true, ActiveDetection: true},
		},
		{
			name:  "ack done",
			state: State{Moving: true, Recovering: true, CommandCount: 4},
			event: done(true),
			want:  State{CommandCount: 4},
		},
		{
			name:  "ack not done",
			state: State{Moving: true, Recovering: true},
			event: done(false),
			want:  State{Moving: true, Recovering: true},
		},
	}

	m := NewMachine(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, cmds := m.Apply(tt.state, tt.event)
			if got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
			if len(cmds) != len(tt.cmds) {
				t.Fatalf("commands = %v, want %v", cmds, tt.cmds)
			}
			for i := range cmds {
				if cmds[i] != tt.cmds[i] {
					t.Errorf("command %d = %v, want %v", i, cmds[i], tt.cmds[i])
				}
			}
		})
	}
}

func TestApply_ConfiguredPhrases(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Affirmative = []string{"you're fine", "all good"}
	cfg.WarmUp = 0
	m := NewMachine(cfg)

	s, cmds := m.Apply(State{ActiveDetection: true}, verdict(0, 1, 0.7, 1))
	if len(cmds) != 1 || !s.Query {
		t.Fatalf("zero warm-up should query immediately, got %v %v", s, cmds)
	}
	s, cmds = m.Apply(s, say("All good!", 0.99))
	if len(cmds) != 1 || cmds[0] != CmdResume || s.Query {
		t.Errorf("configured affirmative not recognized: %v %v", s, cmds)
	}
}

// Model of the moving flag: true iff the last accepted transition that
// touched it set it true.
func TestProperty_MovingConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := NewMachine(DefaultConfig())
	events := []Event{
		say("get the red pipe", 0.9),
		say("get the green pipe", 0.5),
		say("error", 0.9),
		say("Yes you are", 0.9),
		say("No you aren't", 0.9),
		verdict(1, 1, 0.9, 1),
		verdict(1, 0, 0.2, 0),
		done(true),
		done(false),
	}

	for run := 0; run < 50; run++ {
		s := State{ActiveDetection: run%2 == 0}
		want := false
		for step := 0; step < 200; step++ {
			ev := events[rng.Intn(len(events))]
			next, cmds := m.Apply(s, ev)

			for _, c := range cmds {
				switch c.Kind {
				case KindPipe:
					want = true
				case KindError:
					if !s.Query {
						want = true
					}
				case KindResume:
					want = false
				}
			}
			if a, ok := ev.(AckEvent); ok && a.Done {
				want = false
			}
			if next.Moving != want {
				t.Fatalf("run %d step %d: moving = %t, want %t (from %v)", run, step, next.Moving, want, s)
			}
			s = next
		}
	}
}

func TestProperty_NoDuplicateQueriesAndMonotonicCount(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m := NewMachine(DefaultConfig())
	events := []Event{
		say("get the red pipe", 0.9),
		say("error", 0.9),
		say("Yes you are", 0.9),
		say("No you aren't", 0.9),
		say("hello there", 0.9),
		verdict(1, 1, 0.9, 1),
		verdict(1, 1, 0.9, 1),
		done(true),
	}

	for run := 0; run < 50; run++ {
		s := State{ActiveDetection: true}
		outstanding := false
		for step := 0; step < 300; step++ {
			next, cmds := m.Apply(s, events[rng.Intn(len(events))])

			if next.CommandCount < s.CommandCount {
				t.Fatalf("count decreased %d -> %d", s.CommandCount, next.CommandCount)
			}
			pipes := 0
			for _, c := range cmds {
				switch c.Kind {
				case KindPossible:
					if outstanding {
						t.Fatalf("run %d step %d: second possible without resolution", run, step)
					}
					if s.Query {
						t.Fatalf("possible emitted while query was standing")
					}
					outstanding = true
				case KindResume, KindError:
					if s.Query && !next.Query {
						outstanding = false
					}
				case KindPipe:
					pipes++
				}
			}
			if next.CommandCount-s.CommandCount != pipes {
				t.Fatalf("count moved by %d with %d pipe commands", next.CommandCount-s.CommandCount, pipes)
			}
			if next.Query && len(cmds) > 0 && cmds[0].Kind != KindPossible {
				t.Fatalf("motion command accepted while querying: %v", cmds)
			}
			s = next
		}
	}
}

func TestCommand_Wire(t *testing.T) {
	tests := []struct {
		cmd  Command
		wire string
	}{
		{Pipe("red"), "red"},
		{CmdError, "error"},
		{CmdPossible, "possible"},
		{CmdResume, "resume"},
	}
	for _, tt := range tests {
		if got := tt.cmd.String(); got != tt.wire {
			t.Errorf("String() = %q, want %q", got, tt.wire)
		}
		parsed, err := ParseCommand(tt.wire)
		if err != nil || parsed != tt.cmd {
			t.Errorf("ParseCommand(%q) = %v, %v", tt.wire, parsed, err)
		}
	}

	for _, bad := range []string{"", "pipe", "Red", "red pipe", "r3d"} {
		if _, err := ParseCommand(bad); err == nil {
			t.Errorf("ParseCommand(%q) should fail", bad)
		}
	}
}

func TestValidColor(t *testing.T) {
	for _, c := range []string{"red", "blue", "grün"} {
		if !ValidColor(c) {
			t.Errorf("ValidColor(%q) = false", c)
		}
	}
	for _, c := range []string{"", "pipe", "error", "possible", "resume", "Red", "r3d", "dark blue"} {
		if ValidColor(c) {
			t.Errorf("ValidColor(%q) = true", c)
		}
	}
}
