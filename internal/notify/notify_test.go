package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/meetbot/internal/logger"
	"github.com/yoockh/meetbot/internal/metrics"
	"github.com/yoockh/meetbot/internal/models"
)

type recorder struct {
	mu     sync.Mutex
	events []models.EventType
}

func (r *recorder) Notify(_ context.Context, _ string, t models.EventType, _ map[string]any) {
	r.mu.Lock()
	r.events = append(r.events, t)
	r.mu.Unlock()
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, nil, b}.Notify(context.Background(), "s1", models.EventJoined, nil)

	assert.Equal(t, []models.EventType{models.EventJoined}, a.events)
	assert.Equal(t, []models.EventType{models.EventJoined}, b.events)
}

func TestNewEventHasUniqueID(t *testing.T) {
	e1 := NewEvent("s1", models.EventJoined, nil)
	e2 := NewEvent("s1", models.EventJoined, nil)

	assert.NotEmpty(t, e1.EventID)
	assert.NotEqual(t, e1.EventID, e2.EventID)
	assert.NotNil(t, e1.Data)
}

func TestSignVerify(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"type":"joined"}`)

	sig := Sign(secret, body)
	assert.True(t, Verify(secret, body, sig))
	assert.False(t, Verify([]byte("other"), body, sig))
	assert.False(t, Verify(secret, []byte(`{}`), sig))
}

func TestWebhookDeliverSignedAndRetried(t *testing.T) {
	var calls atomic.Int32
	var got models.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.True(t, Verify([]byte("k"), body, r.Header.Get(HeaderSignature)))
		assert.Equal(t, "transcript_ready", r.Header.Get(HeaderEventType))
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := metrics.New(prometheus.NewRegistry())
	c := NewWebhookClient(srv.URL, "k", m)
	c.Backoff = time.Millisecond

	ev := NewEvent("s1", models.EventTranscriptReady, map[string]any{"entries": 3})
	require.NoError(t, c.Deliver(context.Background(), ev))

	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDelivery.WithLabelValues("ok")))
}

func TestWebhookDeliverClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, "", nil)
	c.Backoff = time.Millisecond

	err := c.Deliver(context.Background(), NewEvent("s1", models.EventError, nil))
	require.ErrorIs(t, err, errPermanent)
	assert.EqualValues(t, 1, calls.Load())
}

func TestWebhookDeliverGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, "", nil)
	c.MaxAttempts = 3
	c.Backoff = time.Millisecond

	require.Error(t, c.Deliver(context.Background(), NewEvent("s1", models.EventError, nil)))
	assert.EqualValues(t, 3, calls.Load())
}

func TestWebhookDeliverStopsWaitingOnCancel(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := metrics.New(prometheus.NewRegistry())
	c := NewWebhookClient(srv.URL, "", m)
	c.Backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := c.Deliver(ctx, NewEvent("s1", models.EventLeft, nil))

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDelivery.WithLabelValues("failed")))
}

func TestWebhookNotifierDeliversAsync(t *testing.T) {
	var mu sync.Mutex
	var types []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		types = append(types, r.Header.Get(HeaderEventType))
		mu.Unlock()
	}))
	defer srv.Close()

	n := NewWebhookNotifier(NewWebhookClient(srv.URL, "", nil), 1, 8, logger.Discard(), nil)
	n.Notify(context.Background(), "s1", models.EventJoined, nil)
	n.Notify(context.Background(), "s1", models.EventLeft, nil)
	n.Close()

	// dropped after close, must not panic
	n.Notify(context.Background(), "s1", models.EventCompleted, nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"joined", "left"}, types)
}

func TestStreamNotifierSwallowsRedisErrors(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	m := metrics.New(prometheus.NewRegistry())
	n := NewStreamNotifier(rdb, "", logger.Discard(), m)
	assert.Equal(t, DefaultStream, n.Stream)

	n.Notify(context.Background(), "s1", models.EventJoined, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyFailures.WithLabelValues("stream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyFailures.WithLabelValues("pubsub")))
}

func TestDecodeStreamEvent(t *testing.T) {
	ev := NewEvent("s1", models.EventBotKicked, map[string]any{"reason": "host"})
	b, _ := json.Marshal(ev)

	got, ok := DecodeStreamEvent(map[string]any{"payload": string(b)})
	require.True(t, ok)
	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, models.EventBotKicked, got.Type)

	_, ok = DecodeStreamEvent(map[string]any{"payload": "{"})
	assert.False(t, ok)
	_, ok = DecodeStreamEvent(map[string]any{})
	assert.False(t, ok)
}

func TestStatusChannel(t *testing.T) {
	assert.Equal(t, "session:abc:status", StatusChannel("abc"))
}
