package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/meetbot/internal/cache"
	"github.com/yoockh/meetbot/internal/logger"
	"github.com/yoockh/meetbot/internal/models"
	pgrepo "github.com/yoockh/meetbot/internal/repositories/postgres"
	"github.com/yoockh/meetbot/internal/utils"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type stubLLM struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (s *stubLLM) StreamAnswer(context.Context, string) (<-chan string, <-chan error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	out := make(chan string, 1)
	errs := make(chan error, 1)
	if s.err != nil {
		errs <- s.err
	} else {
		out <- s.text
	}
	close(out)
	close(errs)
	return out, errs
}

func (s *stubLLM) Close() error { return nil }

func newService(t *testing.T, summarizer *stubLLM) (TranscriptService, pgrepo.TranscriptRepo) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.TranscriptRecord{}))

	repo := pgrepo.NewTranscriptRepo(db)
	if summarizer == nil {
		return NewTranscriptService(repo, cache.NewMemoryCache(), nil, logger.Discard()), repo
	}
	return NewTranscriptService(repo, cache.NewMemoryCache(), summarizer, logger.Discard()), repo
}

func completedSession(id string, placeholder bool) *models.Session {
	return &models.Session{
		SessionID:  id,
		MeetingID:  "m1",
		Status:     models.StatusCompleted,
		SpeakerLog: []models.SpeakerEvent{{Name: "Alice"}, {Name: "Bob", ElapsedSeconds: 4}},
		Transcript: &models.TranscriptResult{
			Entries:         []models.TranscriptEntry{{Start: 0, End: 2, Speaker: "Alice", Text: "hi"}},
			DurationSeconds: 2,
			Placeholder:     placeholder,
		},
	}
}

func TestArchiveStoresTranscriptAndSummary(t *testing.T) {
	llm := &stubLLM{text: "Alice said hi."}
	svc, _ := newService(t, llm)
	ctx := context.Background()

	require.NoError(t, svc.Archive(ctx, completedSession("6a1f0f4e-6d2b-4a1e-9a43-0d1f2b3c4d5e", false)))
	require.NoError(t, svc.Archive(ctx, completedSession("6a1f0f4e-6d2b-4a1e-9a43-0d1f2b3c4d5e", false)))
	assert.Equal(t, 1, llm.calls, "second archive is a no-op")

	got, err := svc.Get(ctx, "6a1f0f4e-6d2b-4a1e-9a43-0d1f2b3c4d5e")
	require.NoError(t, err)
	assert.Equal(t, "Alice said hi.", got.Summary)
	assert.JSONEq(t, `["Alice","Bob"]`, string(got.Speakers))
	assert.JSONEq(t, `[{"start_time":0,"end_time":2,"speaker_id":"Alice","text":"hi"}]`, string(got.Entries))
}

func TestArchivePlaceholderSkipsSummary(t *testing.T) {
	llm := &stubLLM{text: "x"}
	svc, _ := newService(t, llm)

	require.NoError(t, svc.Archive(context.Background(), completedSession("s-placeholder", true)))
	assert.Equal(t, 0, llm.calls)
}

func TestArchiveSummaryFailureKeepsTranscript(t *testing.T) {
	svc, _ := newService(t, &stubLLM{err: errors.New("quota")})

	require.NoError(t, svc.Archive(context.Background(), completedSession("s-quota", false)))
	got, err := svc.Get(context.Background(), "s-quota")
	require.NoError(t, err)
	assert.Empty(t, got.Summary)
}

func TestArchiveRequiresTranscript(t *testing.T) {
	svc, _ := newService(t, nil)
	err := svc.Archive(context.Background(), &models.Session{SessionID: "s"})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestGetUsesCache(t *testing.T) {
	svc, repo := newService(t, nil)
	ctx := context.Background()
	require.NoError(t, svc.Archive(ctx, completedSession("s-cache", false)))

	_, err := svc.Get(ctx, "s-cache")
	require.NoError(t, err)

	// a direct repo change is not visible until the cached copy expires
	require.NoError(t, repo.SetSummary(ctx, "s-cache", "changed"))
	got, err := svc.Get(ctx, "s-cache")
	require.NoError(t, err)
	assert.Empty(t, got.Summary)
}

func TestGetNotFound(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Get(context.Background(), "missing")
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))

	rows, err := svc.ListByMeeting(context.Background(), "m1", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
