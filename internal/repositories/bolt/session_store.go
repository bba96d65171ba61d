// Package bolt keeps session snapshots in a local BoltDB file for
// single-node deployments without MongoDB.
package bolt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/yoockh/meetbot/internal/models"
	"go.etcd.io/bbolt"
)

var sessionsBucket = []byte("bot_sessions")

type SessionStore struct {
	db *bbolt.DB
}

func Open(path string) (*SessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SessionStore{db: db}, nil
}

func (s *SessionStore) Close() error { return s.db.Close() }

// Save keeps the snapshot with the highest version.
func (s *SessionStore) Save(ctx context.Context, sess *models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	enc, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if cur := b.Get([]byte(sess.SessionID)); cur != nil {
			var stored struct {
				Version int64 `json:"version"`
			}
			if json.Unmarshal(cur, &stored) == nil && stored.Version > sess.Version {
				return nil
			}
		}
		return b.Put([]byte(sess.SessionID), enc)
	})
}

func (s *SessionStore) LoadAll(ctx context.Context) ([]*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*models.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var sess models.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				// skip malformed entries instead of failing the whole load
				return nil
			}
			out = append(out, &sess)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
