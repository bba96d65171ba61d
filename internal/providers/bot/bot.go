// Package bot drives the browser-automation worker that joins meetings.
package bot

import (
	"context"
)

type JoinRequest struct {
	SessionID   string
	MeetingID   string
	JoinURL     string
	DisplayName string
	RecordAudio bool
}

// Driver performs the join action. Join blocks until the bot is admitted
// into the call or the join fails; cancelling ctx aborts the attempt.
type Driver interface {
	Join(ctx context.Context, req JoinRequest) (Conn, error)
}

// Conn is a live bot inside a meeting.
type Conn interface {
	// Leave exits the call. Safe to call more than once.
	Leave(ctx context.Context) error
	// Done is closed once the bot is no longer in the call, for any reason.
	Done() <-chan struct{}
	Connected() bool
}
