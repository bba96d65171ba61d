package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type TranscriptRecord struct {
	ID              string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID       string         `gorm:"column:session_id;type:uuid;uniqueIndex" json:"session_id"`
	MeetingID       string         `gorm:"column:meeting_id;type:text;index" json:"meeting_id"`
	Entries         datatypes.JSON `gorm:"column:entries;type:jsonb" json:"entries"`
	Speakers        datatypes.JSON `gorm:"column:speakers;type:jsonb" json:"speakers"`
	DurationSeconds float64        `gorm:"column:duration_seconds" json:"duration_seconds"`
	Placeholder     bool           `gorm:"column:placeholder" json:"placeholder"`
	Summary         string         `gorm:"column:summary;type:text" json:"summary"`
	CreatedAt       time.Time      `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
}

func (TranscriptRecord) TableName() string { return "meeting_transcripts" }

// Result decodes the stored entries back into a transcript.
func (r *TranscriptRecord) Result() (*TranscriptResult, error) {
	out := &TranscriptResult{
		Entries:         []TranscriptEntry{},
		DurationSeconds: r.DurationSeconds,
		Placeholder:     r.Placeholder,
	}
	if len(r.Entries) > 0 {
		if err := json.Unmarshal(r.Entries, &out.Entries); err != nil {
			return nil, err
		}
	}
	return out, nil
}
