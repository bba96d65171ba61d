package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/meetbot/internal/logger"
	"github.com/yoockh/meetbot/internal/models"
	"github.com/yoockh/meetbot/internal/utils"
)

func newSession(meetingID string) *models.Session {
	return &models.Session{
		SessionID: uuid.NewString(),
		MeetingID: meetingID,
		Status:    models.StatusJoining,
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateGetReturnsCopies(t *testing.T) {
	r := New(5)
	s := newSession("m1")
	require.NoError(t, r.Create(s))
	assert.ErrorIs(t, r.Create(s), ErrExists)

	got, ok := r.Get(s.SessionID)
	require.True(t, ok)
	got.Status = models.StatusCompleted
	got.SpeakerLog = append(got.SpeakerLog, models.SpeakerEvent{Name: "x"})

	again, _ := r.Get(s.SessionID)
	assert.Equal(t, models.StatusJoining, again.Status)
	assert.Empty(t, again.SpeakerLog)
}

func TestUpdateIsAllOrNothing(t *testing.T) {
	r := New(5)
	s := newSession("m1")
	require.NoError(t, r.Create(s))

	_, err := r.Update(s.SessionID, func(s *models.Session) error {
		s.ChunkIndex = 7
		return errors.New("nope")
	})
	require.Error(t, err)

	got, _ := r.Get(s.SessionID)
	assert.Equal(t, int64(0), got.ChunkIndex)

	updated, err := r.Update(s.SessionID, func(s *models.Session) error {
		s.ChunkIndex = 3
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated.ChunkIndex)
	assert.Equal(t, int64(2), updated.Version)

	_, err = r.Update("missing", func(*models.Session) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestFindByMeetingPrefersActive(t *testing.T) {
	r := New(5)
	old := newSession("m1")
	old.Status = models.StatusCompleted
	old.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, r.Create(old))

	got, ok := r.FindByMeeting("m1")
	require.True(t, ok)
	assert.Equal(t, old.SessionID, got.SessionID)

	cur := newSession("m1")
	cur.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, r.Create(cur))

	got, ok = r.FindByMeeting("m1")
	require.True(t, ok)
	assert.Equal(t, cur.SessionID, got.SessionID)

	_, ok = r.FindByMeeting("nope")
	assert.False(t, ok)
}

func TestListActive(t *testing.T) {
	r := New(0)
	for i, st := range []models.Status{models.StatusJoining, models.StatusRecording, models.StatusError, models.StatusCompleted, models.StatusProcessing} {
		s := newSession(fmt.Sprintf("m%d", i))
		s.Status = st
		require.NoError(t, r.Create(s))
	}
	assert.Len(t, r.ListActive(), 3)
	assert.Equal(t, 3, r.ActiveCount())
	assert.Len(t, r.List(), 5)
}

func TestTryAdmitCapacity(t *testing.T) {
	r := New(5)
	var ids []string
	for i := 0; i < 5; i++ {
		res := r.TryAdmit(newSession(fmt.Sprintf("m%d", i)))
		require.Equal(t, Admitted, res.Outcome)
		ids = append(ids, res.SessionID)
	}

	res := r.TryAdmit(newSession("m6"))
	assert.Equal(t, Rejected, res.Outcome)
	assert.Equal(t, ReasonBusy, res.Reason)

	_, err := r.Update(ids[0], func(s *models.Session) error {
		s.Status = models.StatusCompleted
		return nil
	})
	require.NoError(t, err)

	res = r.TryAdmit(newSession("m6"))
	assert.Equal(t, Admitted, res.Outcome)
}

func TestTryAdmitAttachesToActiveMeeting(t *testing.T) {
	r := New(1)
	first := r.TryAdmit(newSession("m1"))
	require.Equal(t, Admitted, first.Outcome)

	// dedup wins over capacity
	second := r.TryAdmit(newSession("m1"))
	assert.Equal(t, Attached, second.Outcome)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestTryAdmitConcurrentSameMeeting(t *testing.T) {
	r := New(5)
	const n = 50

	var wg sync.WaitGroup
	results := make([]AdmitResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.TryAdmit(newSession("m1"))
		}(i)
	}
	wg.Wait()

	admitted := 0
	id := ""
	for _, res := range results {
		if res.Outcome == Admitted {
			admitted++
		}
		if id == "" {
			id = res.SessionID
		}
		assert.Equal(t, id, res.SessionID)
	}
	assert.Equal(t, 1, admitted)
	assert.Len(t, r.List(), 1)
}

func TestTryAdmitConcurrentCapacity(t *testing.T) {
	r := New(5)
	const n = 40

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.TryAdmit(newSession(fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, r.ActiveCount())
}

type memStore struct {
	mu    sync.Mutex
	saved map[string]*models.Session
	fail  bool
	tries int
}

func (m *memStore) setFail(fail bool) {
	m.mu.Lock()
	m.fail = fail
	m.mu.Unlock()
}

func (m *memStore) attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tries
}

func (m *memStore) Save(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tries++
	if m.fail {
		return errors.New("store down")
	}
	m.saved[s.SessionID] = s
	return nil
}

func (m *memStore) LoadAll(context.Context) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Session, 0, len(m.saved))
	for _, s := range m.saved {
		out = append(out, s)
	}
	return out, nil
}

func TestPersistenceFlushWritesLatestSnapshot(t *testing.T) {
	store := &memStore{saved: map[string]*models.Session{}, fail: true}
	r := New(5, WithStore(store, logger.Discard()))

	s := newSession("m1")
	require.Equal(t, Admitted, r.TryAdmit(s).Outcome)
	r.Flush(context.Background())
	assert.Empty(t, store.saved)

	store.fail = false
	_, err := r.Update(s.SessionID, func(s *models.Session) error {
		s.Status = models.StatusJoined
		return nil
	})
	require.NoError(t, err)
	r.Flush(context.Background())

	require.Contains(t, store.saved, s.SessionID)
	assert.Equal(t, models.StatusJoined, store.saved[s.SessionID].Status)

	restored := New(5, WithStore(store, logger.Discard()))
	ids, err := restored.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{s.SessionID}, ids)
	got, ok := restored.Get(s.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.StatusJoined, got.Status)
}

func TestRunPersistenceStopsOnCancel(t *testing.T) {
	store := &memStore{saved: map[string]*models.Session{}}
	r := New(5, WithStore(store, logger.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunPersistence(ctx)
		close(done)
	}()

	s := newSession("m1")
	require.NoError(t, r.Create(s))
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPersistence did not return")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Contains(t, store.saved, s.SessionID)
}

func TestRunPersistenceRetriesFailedSave(t *testing.T) {
	store := &memStore{saved: map[string]*models.Session{}, fail: true}
	r := New(5, WithStore(store, logger.Discard()))
	r.flusher.retryDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.RunPersistence(ctx)

	s := newSession("m1")
	require.NoError(t, r.Create(s))
	require.Eventually(t, func() bool { return store.attempts() >= 2 }, 2*time.Second, 5*time.Millisecond)

	// nothing else changes; the failed snapshot is still written
	store.setFail(false)
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, ok := store.saved[s.SessionID]
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}
