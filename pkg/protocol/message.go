// Package protocol defines the wire contracts between the session and its
// external collaborators: the message envelope, topic names, and the payload
// codecs for classifier verdicts and robot commands.
//
// Every message carries its payload and the originating time of the sample
// it belongs to, so replies can be placed on the session timeline.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic names a bridge channel.
type Topic string

const (
	// Collaborator → session
	TopicFrames1    Topic = "frames.1"   // Camera 1 frames
	TopicFrames2    Topic = "frames.2"   // Camera 2 frames
	TopicAudio      Topic = "audio"      // Microphone PCM chunks
	TopicUtterances Topic = "utterances" // Speech recognizer results
	TopicVerdicts   Topic = "isNewError" // Classifier verdict strings
	TopicDone       Topic = "isDone"     // Robot completion acknowledgements

	// Session → collaborator
	TopicAudioSynced Topic = "audio.synced"    // Audio aligned to video
	TopicFeatures    Topic = "AUs Intensities" // Fused feature vectors
	TopicCommands    Topic = "commands"        // Robot commands
)

// Topics lists every topic the bridge serves.
var Topics = []Topic{
	TopicFrames1, TopicFrames2, TopicAudio, TopicUtterances, TopicVerdicts,
	TopicDone, TopicAudioSynced, TopicFeatures, TopicCommands,
}

// Message is the envelope for every payload.
type Message struct {
	Message         json.RawMessage `json:"message"`
	OriginatingTime int64           `json:"originatingTime"` // Unix microseconds
}

// NewMessage wraps payload with its originating time.
func NewMessage(payload any, t time.Time) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Message{Message: raw, OriginatingTime: t.UnixMicro()}, nil
}

// Time returns the originating time.
func (m *Message) Time() time.Time {
	return time.UnixMicro(m.OriginatingTime)
}

// ParseData unmarshals the payload into v.
func (m *Message) ParseData(v any) error {
	if len(m.Message) == 0 {
		return ErrEmptyMessage
	}
	return json.Unmarshal(m.Message, v)
}

// Bytes returns the JSON-encoded envelope.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses an envelope from bytes.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}
