package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/meetbot/internal/metrics"
	"github.com/yoockh/meetbot/internal/models"
)

const DefaultStream = "bot:events"

// StreamNotifier appends events to a Redis stream for the webhook workers
// and publishes them on the session's status channel for live watchers.
type StreamNotifier struct {
	Redis   *redis.Client
	Stream  string
	MaxLen  int64
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}

func NewStreamNotifier(rdb *redis.Client, stream string, log logrus.FieldLogger, m *metrics.Metrics) *StreamNotifier {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamNotifier{Redis: rdb, Stream: stream, MaxLen: 100000, Log: log, Metrics: m}
}

func (n *StreamNotifier) Notify(ctx context.Context, sessionID string, t models.EventType, data map[string]any) {
	ev := NewEvent(sessionID, t, data)
	payload, err := json.Marshal(ev)
	if err != nil {
		n.fail(ev, "encode", err)
		return
	}

	ctx, cancel := detached(ctx, 3*time.Second)
	defer cancel()

	if err := n.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: n.Stream,
		MaxLen: n.MaxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":   ev.EventID,
			"session_id": sessionID,
			"type":       string(t),
			"payload":    string(payload),
		},
	}).Err(); err != nil {
		n.fail(ev, "stream", err)
	}

	if err := n.Redis.Publish(ctx, StatusChannel(sessionID), string(payload)).Err(); err != nil {
		n.fail(ev, "pubsub", err)
	}
}

func (n *StreamNotifier) fail(ev models.Event, channel string, err error) {
	if n.Metrics != nil {
		n.Metrics.NotifyFailures.WithLabelValues(channel).Inc()
	}
	if n.Log != nil {
		n.Log.WithError(err).WithFields(logrus.Fields{
			"session_id": ev.SessionID,
			"event":      ev.Type,
			"channel":    channel,
		}).Warn("event not delivered")
	}
}

// DecodeStreamEvent reads an event written by StreamNotifier.
func DecodeStreamEvent(values map[string]any) (models.Event, bool) {
	raw, _ := values["payload"].(string)
	if raw == "" {
		return models.Event{}, false
	}
	var ev models.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil || ev.SessionID == "" {
		return models.Event{}, false
	}
	return ev, true
}
