package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/meetbot/internal/logger"
)

type fakeWorker struct {
	mu        sync.Mutex
	joined    []joinBody
	connected bool
	deletes   atomic.Int32
	failJoin  bool
}

func (w *fakeWorker) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if w.failJoin {
			rw.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(rw).Encode(statusBody{Error: "meeting not found"})
			return
		}
		var b joinBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&b))
		w.mu.Lock()
		w.joined = append(w.joined, b)
		w.connected = true
		w.mu.Unlock()
		rw.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/sessions/s1", func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.mu.Lock()
			c := w.connected
			w.mu.Unlock()
			_ = json.NewEncoder(rw).Encode(statusBody{Connected: c})
		case http.MethodDelete:
			w.deletes.Add(1)
			w.mu.Lock()
			w.connected = false
			w.mu.Unlock()
			rw.WriteHeader(http.StatusNoContent)
		}
	})
	return mux
}

func newDriver(url string) *HTTPDriver {
	d := NewHTTPDriver(url, "tok", logger.Discard())
	d.PollInterval = 20 * time.Millisecond
	return d
}

func TestJoinAndLeave(t *testing.T) {
	w := &fakeWorker{}
	srv := httptest.NewServer(w.handler(t))
	defer srv.Close()

	conn, err := newDriver(srv.URL).Join(context.Background(), JoinRequest{
		SessionID: "s1", MeetingID: "m1", JoinURL: "https://meet.example/abc", DisplayName: "Notes Bot",
	})
	require.NoError(t, err)
	assert.True(t, conn.Connected())
	require.Len(t, w.joined, 1)
	assert.Equal(t, "https://meet.example/abc", w.joined[0].MeetingURL)

	require.NoError(t, conn.Leave(context.Background()))
	require.NoError(t, conn.Leave(context.Background()))
	assert.EqualValues(t, 1, w.deletes.Load())
	assert.False(t, conn.Connected())

	select {
	case <-conn.Done():
	default:
		t.Fatal("done not closed after leave")
	}
}

func TestJoinFailure(t *testing.T) {
	srv := httptest.NewServer((&fakeWorker{failJoin: true}).handler(t))
	defer srv.Close()

	_, err := newDriver(srv.URL).Join(context.Background(), JoinRequest{SessionID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "meeting not found")
}

func TestDoneOnRemoteDisconnect(t *testing.T) {
	w := &fakeWorker{}
	srv := httptest.NewServer(w.handler(t))
	defer srv.Close()

	conn, err := newDriver(srv.URL).Join(context.Background(), JoinRequest{SessionID: "s1"})
	require.NoError(t, err)

	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not detected")
	}
	assert.False(t, conn.Connected())
}
