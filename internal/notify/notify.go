// Package notify reports session lifecycle events to the owning application.
// Delivery is best effort: a notifier never fails the caller.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yoockh/meetbot/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, sessionID string, t models.EventType, data map[string]any)
}

func NewEvent(sessionID string, t models.EventType, data map[string]any) models.Event {
	if data == nil {
		data = map[string]any{}
	}
	return models.Event{
		EventID:   uuid.NewString(),
		Type:      t,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

type Nop struct{}

func (Nop) Notify(context.Context, string, models.EventType, map[string]any) {}

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, sessionID string, t models.EventType, data map[string]any) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, sessionID, t, data)
		}
	}
}

// StatusChannel is the pub/sub channel watchers of a session subscribe to.
func StatusChannel(sessionID string) string {
	return "session:" + sessionID + ":status"
}

// detached keeps request values but not the caller's cancellation, so an
// event raised while a request is finishing is still delivered.
func detached(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}
