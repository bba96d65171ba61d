package stt

import (
	"context"

	"github.com/yoockh/meetbot/internal/models"
)

// Artifact is the audio handed to a transcriber. An empty Path means no
// audio was captured; transcribers must still answer.
type Artifact struct {
	Path   string
	Format string // "pcm" (16 kHz mono s16le), "wav", "webm", "ogg"
	Bytes  int64
}

type Transcriber interface {
	Transcribe(ctx context.Context, a Artifact, speakers []models.SpeakerEvent) (*models.TranscriptResult, error)
}

const (
	DefaultSpeaker = "SPEAKER_00"
	UnknownSpeaker = "Unknown"
)

// SpeakerAt picks the participant that was speaking at second t according
// to the speaker log: the last event at or before t.
func SpeakerAt(log []models.SpeakerEvent, t float64) string {
	if len(log) == 0 {
		return DefaultSpeaker
	}
	current := UnknownSpeaker
	for _, e := range log {
		if e.ElapsedSeconds > t {
			break
		}
		current = e.Name
	}
	return current
}
