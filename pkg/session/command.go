package session

import (
	"fmt"
	"unicode"
)

// Kind is the type of a robot command.
type Kind int

const (
	// KindPipe asks the robot to fetch a pipe of Color.
	KindPipe Kind = iota
	// KindError reports an error the robot must recover from.
	KindError
	// KindPossible tells the robot to query the human about a suspected error.
	KindPossible
	// KindResume tells the robot the suspected error was a false positive.
	KindResume
)

func (k Kind) String() string {
	switch k {
	case KindPipe:
		return "pipe"
	case KindError:
		return "error"
	case KindPossible:
		return "possible"
	case KindResume:
		return "resume"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Command is one decision sent to the robot.
type Command struct {
	Kind  Kind
	Color string // set for KindPipe only
}

// Pipe builds a pipe-fetch command.
func Pipe(color string) Command { return Command{Kind: KindPipe, Color: color} }

var (
	CmdError    = Command{Kind: KindError}
	CmdPossible = Command{Kind: KindPossible}
	CmdResume   = Command{Kind: KindResume}
)

// String returns the wire form: the color for a pipe fetch, otherwise the
// kind name.
func (c Command) String() string {
	if c.Kind == KindPipe {
		return c.Color
	}
	return c.Kind.String()
}

// ValidColor reports whether color can travel as a pipe command: a single
// lowercase word that is not a reserved kind name.
func ValidColor(color string) bool {
	switch color {
	case "", "pipe", "error", "possible", "resume":
		return false
	}
	for _, r := range color {
		if !unicode.IsLower(r) {
			return false
		}
	}
	return true
}

// ParseCommand decodes a wire command. Any single lowercase word other than
// the reserved kinds is a pipe color.
func ParseCommand(s string) (Command, error) {
	switch s {
	case "error":
		return CmdError, nil
	case "possible":
		return CmdPossible, nil
	case "resume":
		return CmdResume, nil
	}
	if !ValidColor(s) {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return Pipe(s), nil
}
