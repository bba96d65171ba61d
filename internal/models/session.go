package models

import (
	"time"
)

type Session struct {
	SessionID   string `bson:"session_id" json:"session_id"` // uuid v4
	MeetingID   string `bson:"meeting_id" json:"meeting_id"`
	JoinURL     string `bson:"join_url" json:"join_url"`
	DisplayName string `bson:"display_name" json:"display_name"`
	RecordAudio bool   `bson:"record_audio" json:"record_audio"`

	Status      Status `bson:"status" json:"status"`
	ErrorReason string `bson:"error_reason,omitempty" json:"error_reason,omitempty"`
	EndReason   string `bson:"end_reason,omitempty" json:"end_reason,omitempty"` // leave|meeting_ended|bot_kicked|max_duration|shutdown

	SpeakerLog []SpeakerEvent `bson:"speaker_log" json:"speaker_log"`
	ChunkIndex int64          `bson:"chunk_index" json:"chunk_index"`

	Transcript *TranscriptResult `bson:"transcript,omitempty" json:"transcript,omitempty"`

	History []StatusChange `bson:"history" json:"history"`

	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	JoinedAt    *time.Time `bson:"joined_at,omitempty" json:"joined_at,omitempty"`
	EndedAt     *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`

	Version int64 `bson:"version" json:"version"`
}

// SpeakerEvent marks the moment a participant started speaking, relative to JoinedAt.
type SpeakerEvent struct {
	Name           string  `bson:"name" json:"name"`
	ElapsedSeconds float64 `bson:"timestamp" json:"timestamp"`
}

type StatusChange struct {
	Status Status    `bson:"status" json:"status"`
	At     time.Time `bson:"at" json:"at"`
}

type TranscriptEntry struct {
	Start   float64 `bson:"start_time" json:"start_time"`
	End     float64 `bson:"end_time" json:"end_time"`
	Speaker string  `bson:"speaker_id" json:"speaker_id"`
	Text    string  `bson:"text" json:"text"`
}

type TranscriptResult struct {
	Entries         []TranscriptEntry `bson:"entries" json:"entries"`
	DurationSeconds float64           `bson:"duration_seconds" json:"duration_seconds"`
	Placeholder     bool              `bson:"placeholder" json:"placeholder"`
}

// Clone returns a deep copy; registry readers only ever see clones.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.SpeakerLog = append([]SpeakerEvent(nil), s.SpeakerLog...)
	out.History = append([]StatusChange(nil), s.History...)
	out.JoinedAt = cloneTime(s.JoinedAt)
	out.EndedAt = cloneTime(s.EndedAt)
	out.CompletedAt = cloneTime(s.CompletedAt)
	if s.Transcript != nil {
		t := *s.Transcript
		t.Entries = append([]TranscriptEntry(nil), s.Transcript.Entries...)
		out.Transcript = &t
	}
	return &out
}

// Active reports whether the session still counts against admission.
func (s *Session) Active() bool { return !s.Status.Terminal() }

// Elapsed returns seconds since the bot joined, the baseline for speaker events.
func (s *Session) Elapsed(now time.Time) float64 {
	if s.JoinedAt == nil {
		return 0
	}
	d := now.Sub(*s.JoinedAt).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

// SessionView is the shape returned to the owning application.
type SessionView struct {
	SessionID     string            `json:"session_id"`
	MeetingID     string            `json:"meeting_id"`
	Status        Status            `json:"status"`
	ErrorReason   string            `json:"error_reason,omitempty"`
	EndReason     string            `json:"end_reason,omitempty"`
	RecordAudio   bool              `json:"record_audio"`
	ChunkCount    int64             `json:"chunk_count"`
	SpeakerEvents int               `json:"speaker_events"`
	HasTranscript bool              `json:"has_transcript"`
	CreatedAt     time.Time         `json:"created_at"`
	JoinedAt      *time.Time        `json:"joined_at,omitempty"`
	EndedAt       *time.Time        `json:"ended_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Transcript    *TranscriptResult `json:"-"`
}

func (s *Session) View() SessionView {
	return SessionView{
		SessionID:     s.SessionID,
		MeetingID:     s.MeetingID,
		Status:        s.Status,
		ErrorReason:   s.ErrorReason,
		EndReason:     s.EndReason,
		RecordAudio:   s.RecordAudio,
		ChunkCount:    s.ChunkIndex,
		SpeakerEvents: len(s.SpeakerLog),
		HasTranscript: s.Transcript != nil,
		CreatedAt:     s.CreatedAt,
		JoinedAt:      s.JoinedAt,
		EndedAt:       s.EndedAt,
		CompletedAt:   s.CompletedAt,
		Transcript:    s.Transcript,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
