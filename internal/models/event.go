package models

import "time"

type EventType string

const (
	EventJoined           EventType = "joined"
	EventRecordingStarted EventType = "recording_started"
	EventSpeakerChange    EventType = "speaker_change"
	EventTranscriptReady  EventType = "transcript_ready"
	EventBotKicked        EventType = "bot_kicked"
	EventError            EventType = "error"
	EventLeft             EventType = "left"
	EventCompleted        EventType = "completed"
)

// Event is the webhook envelope delivered to the owning application.
// EventID lets receivers drop duplicates.
type Event struct {
	EventID   string         `json:"event_id"`
	Type      EventType      `json:"type"`
	SessionID string         `json:"sessionId"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
