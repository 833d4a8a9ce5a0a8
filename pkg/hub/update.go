// Package hub fans session updates out to dashboard websocket clients.
package hub

import (
	"encoding/json"
	"time"
)

// Kind names the update carried to dashboard clients.
type Kind string

const (
	KindState   Kind = "state"
	KindCommand Kind = "command"
	KindVerdict Kind = "verdict"
)

// Update is one dashboard message.
type Update struct {
	Kind Kind            `json:"type"`
	Time int64           `json:"time"` // Unix microseconds
	Data json.RawMessage `json:"data"`
}

// NewUpdate encodes data as an update of the given kind.
func NewUpdate(kind Kind, t time.Time, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Update{Kind: kind, Time: t.UnixMicro(), Data: raw})
}
