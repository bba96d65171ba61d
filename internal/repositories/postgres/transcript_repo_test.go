package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/meetbot/internal/models"
	"github.com/yoockh/meetbot/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection so every query sees the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.TranscriptRecord{}))
	return db
}

func record(sessionID, meetingID string, at time.Time) *models.TranscriptRecord {
	return &models.TranscriptRecord{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		MeetingID:       meetingID,
		Entries:         datatypes.JSON(`[{"start_time":0,"end_time":1,"speaker_id":"Alice","text":"hi"}]`),
		Speakers:        datatypes.JSON(`["Alice"]`),
		DurationSeconds: 1,
		CreatedAt:       at,
	}
}

func TestInsertOncePerSession(t *testing.T) {
	repo := NewTranscriptRepo(newTestDB(t))
	ctx := context.Background()
	sid := uuid.NewString()

	inserted, err := repo.Insert(ctx, record(sid, "m1", time.Now()))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(ctx, record(sid, "m1", time.Now()))
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.GetBySessionID(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "m1", got.MeetingID)
	assert.JSONEq(t, `["Alice"]`, string(got.Speakers))
}

func TestGetMissing(t *testing.T) {
	repo := NewTranscriptRepo(newTestDB(t))

	_, err := repo.GetBySessionID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.ErrorIs(t, repo.SetSummary(context.Background(), uuid.NewString(), "x"), utils.ErrNotFound)
}

func TestListByMeetingNewestFirst(t *testing.T) {
	repo := NewTranscriptRepo(newTestDB(t))
	ctx := context.Background()
	base := time.Now().UTC()

	older, newer := uuid.NewString(), uuid.NewString()
	_, err := repo.Insert(ctx, record(older, "m1", base.Add(-time.Hour)))
	require.NoError(t, err)
	_, err = repo.Insert(ctx, record(newer, "m1", base))
	require.NoError(t, err)
	_, err = repo.Insert(ctx, record(uuid.NewString(), "m2", base))
	require.NoError(t, err)

	rows, err := repo.ListByMeeting(ctx, "m1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer, rows[0].SessionID)
	assert.Equal(t, older, rows[1].SessionID)
}

func TestSetSummary(t *testing.T) {
	repo := NewTranscriptRepo(newTestDB(t))
	ctx := context.Background()
	sid := uuid.NewString()

	_, err := repo.Insert(ctx, record(sid, "m1", time.Now()))
	require.NoError(t, err)
	require.NoError(t, repo.SetSummary(ctx, sid, "Team agreed on Q3 goals."))

	got, err := repo.GetBySessionID(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "Team agreed on Q3 goals.", got.Summary)
}
