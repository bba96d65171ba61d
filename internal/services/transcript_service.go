package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/meetbot/internal/cache"
	"github.com/yoockh/meetbot/internal/models"
	"github.com/yoockh/meetbot/internal/providers/llm"
	pgrepo "github.com/yoockh/meetbot/internal/repositories/postgres"
	"github.com/yoockh/meetbot/internal/utils"
	"gorm.io/datatypes"
)

type TranscriptService interface {
	// Archive stores the transcript of a completed session and, when a
	// summarizer is configured, its summary. Archiving twice is a no-op.
	Archive(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, sessionID string) (*models.TranscriptRecord, error)
	ListByMeeting(ctx context.Context, meetingID string, limit int) ([]models.TranscriptRecord, error)
}

type transcriptService struct {
	repo       pgrepo.TranscriptRepo
	cache      cache.Cache
	summarizer llm.Provider
	log        logrus.FieldLogger
	ttl        time.Duration
}

func NewTranscriptService(repo pgrepo.TranscriptRepo, c cache.Cache, summarizer llm.Provider, log logrus.FieldLogger) TranscriptService {
	if c == nil {
		c = cache.NewMemoryCache()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &transcriptService{repo: repo, cache: c, summarizer: summarizer, log: log, ttl: 10 * time.Minute}
}

func cacheKey(sessionID string) string { return "transcript:" + sessionID }

func speakerNames(tr *models.TranscriptResult, log []models.SpeakerEvent) []string {
	seen := map[string]bool{}
	var out []string
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, e := range log {
		add(e.Name)
	}
	for _, e := range tr.Entries {
		add(e.Speaker)
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func (s *transcriptService) Archive(ctx context.Context, sess *models.Session) error {
	const op = "TranscriptService.Archive"

	if sess == nil || sess.Transcript == nil {
		return utils.E(utils.CodeInvalidArgument, op, "session has no transcript", nil)
	}

	entries, err := json.Marshal(sess.Transcript.Entries)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to encode entries", err)
	}
	speakers, err := json.Marshal(speakerNames(sess.Transcript, sess.SpeakerLog))
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to encode speakers", err)
	}

	row := &models.TranscriptRecord{
		ID:              uuid.NewString(),
		SessionID:       sess.SessionID,
		MeetingID:       sess.MeetingID,
		Entries:         datatypes.JSON(entries),
		Speakers:        datatypes.JSON(speakers),
		DurationSeconds: sess.Transcript.DurationSeconds,
		Placeholder:     sess.Transcript.Placeholder,
		CreatedAt:       time.Now().UTC(),
	}

	inserted, err := s.repo.Insert(ctx, row)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to insert transcript", err)
	}
	if !inserted {
		return nil
	}

	log := s.log.WithFields(logrus.Fields{"session_id": sess.SessionID, "meeting_id": sess.MeetingID})
	if s.summarizer != nil && !sess.Transcript.Placeholder && len(sess.Transcript.Entries) > 0 {
		summary, err := llm.Summarize(ctx, s.summarizer, sess.Transcript)
		if err != nil {
			// the transcript is stored; a missing summary is not fatal
			log.WithError(err).Warn("summary generation failed")
		} else if err := s.repo.SetSummary(ctx, sess.SessionID, summary); err != nil {
			log.WithError(err).Warn("storing summary failed")
		}
	}

	_ = s.cache.Del(ctx, cacheKey(sess.SessionID))
	log.Info("transcript archived")
	return nil
}

func (s *transcriptService) Get(ctx context.Context, sessionID string) (*models.TranscriptRecord, error) {
	const op = "TranscriptService.Get"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}

	return cache.Load(ctx, s.cache, cacheKey(sessionID), s.ttl, func(ctx context.Context) (*models.TranscriptRecord, error) {
		row, err := s.repo.GetBySessionID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				return nil, utils.E(utils.CodeNotFound, op, "transcript not found", err)
			}
			return nil, utils.E(utils.CodeInternal, op, "failed to load transcript", err)
		}
		return row, nil
	})
}

func (s *transcriptService) ListByMeeting(ctx context.Context, meetingID string, limit int) ([]models.TranscriptRecord, error) {
	const op = "TranscriptService.ListByMeeting"

	if meetingID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "meeting_id is required", nil)
	}
	rows, err := s.repo.ListByMeeting(ctx, meetingID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list transcripts", err)
	}
	return rows, nil
}
