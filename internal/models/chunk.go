package models

import (
	"time"
)

type RecordingChunk struct {
	SessionID  string `bson:"session_id" json:"session_id"`
	ChunkIndex int64  `bson:"chunk_index" json:"chunk_index"`

	Path  string `bson:"path" json:"path"`
	Bytes int64  `bson:"bytes" json:"bytes"`

	StartedAt time.Time `bson:"started_at" json:"started_at"`
	ClosedAt  time.Time `bson:"closed_at" json:"closed_at"`

	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}
