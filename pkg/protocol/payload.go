package protocol

import (
	"encoding/base64"
	"fmt"
)

// FrameData is one encoded camera frame.
type FrameData struct {
	Seq    uint64 `json:"seq"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"` // "jpeg", "png"
	Data   string `json:"data"`   // Base64 encoded
}

// NewFrameData wraps raw frame bytes.
func NewFrameData(seq uint64, width, height int, format string, raw []byte) FrameData {
	return FrameData{
		Seq:    seq,
		Width:  width,
		Height: height,
		Format: format,
		Data:   base64.StdEncoding.EncodeToString(raw),
	}
}

// Bytes decodes the frame payload.
func (f FrameData) Bytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %d: %w", f.Seq, err)
	}
	return b, nil
}

// AudioData is one chunk of microphone PCM.
type AudioData struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"` // "pcm16"
	Data       string `json:"data"`   // Base64 encoded
}

// NewAudioData wraps raw PCM bytes.
func NewAudioData(sampleRate, channels int, pcm []byte) AudioData {
	return AudioData{
		SampleRate: sampleRate,
		Channels:   channels,
		Format:     "pcm16",
		Data:       base64.StdEncoding.EncodeToString(pcm),
	}
}
