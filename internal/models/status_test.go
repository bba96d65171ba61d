package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusJoining, StatusJoined))
	assert.True(t, CanTransition(StatusJoined, StatusRecording))
	assert.True(t, CanTransition(StatusJoined, StatusProcessing))
	assert.True(t, CanTransition(StatusRecording, StatusProcessing))
	assert.True(t, CanTransition(StatusProcessing, StatusCompleted))

	for _, s := range []Status{StatusJoining, StatusJoined, StatusRecording, StatusProcessing} {
		assert.True(t, CanTransition(s, StatusError), s)
	}

	assert.False(t, CanTransition(StatusCompleted, StatusRecording))
	assert.False(t, CanTransition(StatusError, StatusError))
	assert.False(t, CanTransition(StatusJoining, StatusRecording))
	assert.False(t, CanTransition(StatusRecording, StatusCompleted))
	assert.False(t, CanTransition(StatusProcessing, StatusRecording))
}

func TestValidPath(t *testing.T) {
	assert.True(t, ValidPath([]Status{StatusJoining, StatusJoined, StatusRecording, StatusProcessing, StatusCompleted}))
	assert.True(t, ValidPath([]Status{StatusJoining, StatusError}))
	assert.False(t, ValidPath([]Status{StatusJoined, StatusRecording}))
	assert.False(t, ValidPath([]Status{StatusJoining, StatusJoined, StatusCompleted}))
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	s := &Session{
		SessionID:  "s1",
		SpeakerLog: []SpeakerEvent{{Name: "a", ElapsedSeconds: 1}},
		JoinedAt:   &now,
		Transcript: &TranscriptResult{Entries: []TranscriptEntry{{Text: "hi"}}},
	}
	c := s.Clone()
	c.SpeakerLog[0].Name = "b"
	c.Transcript.Entries[0].Text = "bye"
	*c.JoinedAt = now.Add(time.Hour)

	assert.Equal(t, "a", s.SpeakerLog[0].Name)
	assert.Equal(t, "hi", s.Transcript.Entries[0].Text)
	assert.Equal(t, now, *s.JoinedAt)
}

func TestElapsed(t *testing.T) {
	joined := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := &Session{JoinedAt: &joined}
	assert.InDelta(t, 90.0, s.Elapsed(joined.Add(90*time.Second)), 0.001)
	assert.Equal(t, 0.0, s.Elapsed(joined.Add(-time.Second)))
	assert.Equal(t, 0.0, (&Session{}).Elapsed(joined))
}

func TestTranscriptRecordResult(t *testing.T) {
	rec := &TranscriptRecord{
		Entries:         []byte(`[{"start_time":0,"end_time":2.5,"speaker_id":"Alice","text":"hi"}]`),
		DurationSeconds: 2.5,
	}
	tr, err := rec.Result()
	require.NoError(t, err)
	require.Len(t, tr.Entries, 1)
	assert.Equal(t, "Alice", tr.Entries[0].Speaker)
	assert.Equal(t, 2.5, tr.DurationSeconds)

	empty, err := (&TranscriptRecord{Placeholder: true}).Result()
	require.NoError(t, err)
	assert.Empty(t, empty.Entries)
	assert.True(t, empty.Placeholder)

	_, err = (&TranscriptRecord{Entries: []byte(`{`)}).Result()
	assert.Error(t, err)
}
