package postgres

import (
	"context"
	"errors"

	"github.com/yoockh/meetbot/internal/models"
	"github.com/yoockh/meetbot/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TranscriptRepo interface {
	// Insert stores rec once per session; a second insert is ignored and
	// reports false.
	Insert(ctx context.Context, rec *models.TranscriptRecord) (bool, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.TranscriptRecord, error)
	ListByMeeting(ctx context.Context, meetingID string, limit int) ([]models.TranscriptRecord, error)
	SetSummary(ctx context.Context, sessionID, summary string) error
}

type transcriptRepo struct {
	db *gorm.DB
}

func NewTranscriptRepo(db *gorm.DB) TranscriptRepo {
	return &transcriptRepo{db: db}
}

func (r *transcriptRepo) Insert(ctx context.Context, rec *models.TranscriptRecord) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "session_id"}}, DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *transcriptRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.TranscriptRecord, error) {
	var row models.TranscriptRecord
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *transcriptRepo) ListByMeeting(ctx context.Context, meetingID string, limit int) ([]models.TranscriptRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.TranscriptRecord
	err := r.db.WithContext(ctx).
		Where("meeting_id = ?", meetingID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *transcriptRepo) SetSummary(ctx context.Context, sessionID, summary string) error {
	res := r.db.WithContext(ctx).
		Model(&models.TranscriptRecord{}).
		Where("session_id = ?", sessionID).
		Update("summary", summary)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}
