package mongo

import (
	"context"
	"errors"

	"github.com/yoockh/meetbot/internal/models"
	"github.com/yoockh/meetbot/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const SessionsCollection = "bot_sessions"

// SessionRepository stores registry snapshots. It satisfies registry.Store.
type SessionRepository interface {
	Save(ctx context.Context, s *models.Session) error
	LoadAll(ctx context.Context) ([]*models.Session, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error)
}

type sessionRepo struct {
	col *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) SessionRepository {
	return &sessionRepo{col: db.Collection(SessionsCollection)}
}

// Save replaces the stored snapshot unless a newer version is already there.
func (r *sessionRepo) Save(ctx context.Context, s *models.Session) error {
	_, err := r.col.ReplaceOne(ctx,
		bson.M{"session_id": s.SessionID, "version": bson.M{"$lte": s.Version}},
		s,
		options.Replace().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		// a newer snapshot won the race; the upsert tried to insert a second doc
		return nil
	}
	return err
}

func (r *sessionRepo) LoadAll(ctx context.Context) ([]*models.Session, error) {
	cur, err := r.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.Session
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
