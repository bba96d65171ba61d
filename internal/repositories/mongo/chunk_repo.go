package mongo

import (
	"context"
	"time"

	"github.com/yoockh/meetbot/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ChunksCollection = "recording_chunks"

type ChunkRepository interface {
	Record(ctx context.Context, c models.RecordingChunk) error
	ListBySession(ctx context.Context, sessionID string) ([]models.RecordingChunk, error)
}

type chunkRepo struct {
	col *mongo.Collection
	ttl time.Duration
}

// NewChunkRepo keeps chunk metadata for ttl after the chunk closed.
func NewChunkRepo(db *mongo.Database, ttl time.Duration) ChunkRepository {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &chunkRepo{col: db.Collection(ChunksCollection), ttl: ttl}
}

func (r *chunkRepo) Record(ctx context.Context, c models.RecordingChunk) error {
	if c.ClosedAt.IsZero() {
		c.ClosedAt = time.Now().UTC()
	}
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = c.ClosedAt.Add(r.ttl)
	}
	_, err := r.col.InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (r *chunkRepo) ListBySession(ctx context.Context, sessionID string) ([]models.RecordingChunk, error) {
	cur, err := r.col.Find(ctx,
		bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "chunk_index", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.RecordingChunk
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
