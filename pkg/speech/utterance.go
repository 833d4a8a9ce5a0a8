// Package speech is the boundary to the external speech recognizer: it decodes
// recognized utterances, keeps only final results, and provides the token
// helpers the session uses to interpret them.
package speech

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/fatih/color"

	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

// Utterance is one recognizer result.
type Utterance struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
}

// String renders the console line for a recognized utterance.
func (u Utterance) String() string {
	return fmt.Sprintf("%s (confidence: %g)", u.Text, u.Confidence)
}

// Tokens splits normalized text into words.
func Tokens(text string) []string {
	return strings.Fields(Normalize(text))
}

// LastToken returns the final word of text, or "".
func LastToken(text string) string {
	t := Tokens(text)
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

// Penultimate returns the word before the last one, or "".
func Penultimate(text string) string {
	t := Tokens(text)
	if len(t) < 2 {
		return ""
	}
	return t[len(t)-2]
}

// Normalize lowercases text, drops punctuation other than apostrophes, and
// collapses whitespace.
func Normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'':
			b.WriteRune(r)
		case r == '’':
			b.WriteRune('\'')
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Matches reports whether text equals any phrase after normalization.
func Matches(text string, phrases []string) bool {
	n := Normalize(text)
	for _, p := range phrases {
		if n == Normalize(p) {
			return true
		}
	}
	return false
}

// Intake decodes utterance messages and passes only final results. Every
// final utterance is echoed to the console. Undecodable messages are logged
// and dropped.
func Intake(ctx context.Context, in <-chan *protocol.Message) <-chan stream.Sample[Utterance] {
	out := make(chan stream.Sample[Utterance], 16)
	logger := hlog.For("speech")
	echo := color.New(color.FgCyan)

	go func() {
		defer close(out)
		for {
			var msg *protocol.Message
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg = m
			}

			var u Utterance
			if err := msg.ParseData(&u); err != nil {
				logger.Warn("dropping utterance", "err", err)
				continue
			}
			if !u.Final {
				continue
			}
			echo.Println(u.String())

			select {
			case out <- stream.At(u, msg.Time()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
