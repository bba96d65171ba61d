// Package registry is the authoritative in-memory store of bot sessions.
//
// Every mutation goes through Update, which applies the mutator to a private
// copy and swaps it in under the registry lock. Readers get deep copies and
// must not assume they stay current. Admission (dedup + capacity) shares the
// same lock so the admit decision and the insert are one critical section.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/meetbot/internal/models"
	"github.com/yoockh/meetbot/internal/utils"
)

var (
	ErrNotFound = fmt.Errorf("session %w", utils.ErrNotFound)
	ErrExists   = errors.New("session already exists")
)

// Store persists session snapshots so they survive a restart.
type Store interface {
	Save(ctx context.Context, s *models.Session) error
	LoadAll(ctx context.Context) ([]*models.Session, error)
}

type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	maxActive int

	flusher *flusher
}

type Option func(*Registry)

// WithStore enables write-behind persistence. RunPersistence must be started
// for snapshots to reach the store.
func WithStore(store Store, log logrus.FieldLogger) Option {
	return func(r *Registry) {
		if store == nil {
			return
		}
		r.flusher = newFlusher(r, store, log)
	}
}

// New creates a registry admitting at most maxActive non-terminal sessions.
// maxActive <= 0 disables the ceiling.
func New(maxActive int, opts ...Option) *Registry {
	r := &Registry{
		sessions:  make(map[string]*models.Session),
		maxActive: maxActive,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) MaxActive() int { return r.maxActive }

// Create inserts s without admission checks. The orchestrator goes through
// TryAdmit; Create exists for restores and tests.
func (r *Registry) Create(s *models.Session) error {
	if s == nil || s.SessionID == "" {
		return errors.New("session id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.SessionID]; ok {
		return ErrExists
	}
	r.insertLocked(s)
	return nil
}

func (r *Registry) insertLocked(s *models.Session) {
	c := s.Clone()
	c.Version++
	r.sessions[c.SessionID] = c
	r.markDirty(c.SessionID)
}

func (r *Registry) Get(sessionID string) (*models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// FindByMeeting returns the active session for meetingID, or the most
// recently created one when none is active.
func (r *Registry) FindByMeeting(meetingID string) (*models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *models.Session
	for _, s := range r.sessions {
		if s.MeetingID != meetingID {
			continue
		}
		if s.Active() {
			return s.Clone(), true
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, false
	}
	return latest.Clone(), true
}

// ListActive returns non-terminal sessions, oldest first.
func (r *Registry) ListActive() []*models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Session, 0)
	for _, s := range r.sessions {
		if s.Active() {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// List returns every session, newest first.
func (r *Registry) List() []*models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

func (r *Registry) activeLocked() int {
	n := 0
	for _, s := range r.sessions {
		if s.Active() {
			n++
		}
	}
	return n
}

// Update applies fn to a copy of the session and stores the copy when fn
// succeeds. A failing fn leaves the record untouched. fn runs under the
// registry lock and must not block.
func (r *Registry) Update(sessionID string, fn func(s *models.Session) error) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	r.sessions[sessionID] = next
	r.markDirty(sessionID)
	return next.Clone(), nil
}

// Load inserts previously persisted sessions, skipping ids already present.
func (r *Registry) Load(sessions []*models.Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range sessions {
		if s == nil || s.SessionID == "" {
			continue
		}
		if _, ok := r.sessions[s.SessionID]; ok {
			continue
		}
		r.sessions[s.SessionID] = s.Clone()
		n++
	}
	return n
}

func (r *Registry) markDirty(sessionID string) {
	if r.flusher != nil {
		r.flusher.mark(sessionID)
	}
}
