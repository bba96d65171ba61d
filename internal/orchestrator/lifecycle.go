package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/meetbot/internal/models"
	"github.com/yoockh/meetbot/internal/pipeline"
	"github.com/yoockh/meetbot/internal/providers/bot"
	"github.com/yoockh/meetbot/internal/recording"
)

type eventKind int

const (
	evJoined eventKind = iota
	evJoinFailed
	evLeave
	evMeetingEnded
	evKicked
	evBotError
	evShutdown
	evPipelineDone
)

func (k eventKind) String() string {
	switch k {
	case evJoined:
		return "joined"
	case evJoinFailed:
		return "join_failed"
	case evLeave:
		return "leave"
	case evMeetingEnded:
		return "meeting_ended"
	case evKicked:
		return "bot_kicked"
	case evBotError:
		return "bot_error"
	case evShutdown:
		return "shutdown"
	case evPipelineDone:
		return "pipeline_done"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

type event struct {
	kind   eventKind
	conn   bot.Conn
	err    error
	detail string
	result pipeline.Result
}

// actor is the only writer of a session's status. Every external signal
// and every timer ends up in its mailbox and is handled in order.
type actor struct {
	o   *Orchestrator
	id  string
	log logrus.FieldLogger

	events chan event
	// unbuffered: a join result is only handed over while the actor is
	// still there to take ownership of the bot
	joinCh chan event
	done   chan struct{}

	// owned by the run goroutine
	status     models.Status
	conn       bot.Conn
	connDone   <-chan struct{}
	rec        *recording.Handle
	joinCancel context.CancelFunc
	joinTimer  *time.Timer
	maxTimer   *time.Timer
}

func newActor(o *Orchestrator, id string) *actor {
	return &actor{
		o:      o,
		id:     id,
		log:    o.log.WithField("session_id", id),
		events: make(chan event, 32),
		joinCh: make(chan event),
		done:   make(chan struct{}),
		status: models.StatusJoining,
	}
}

// post delivers ev unless the actor already finished.
func (a *actor) post(ev event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (a *actor) run() {
	defer func() {
		close(a.done)
		a.o.dropActor(a.id)
		a.o.refreshGauge()
	}()

	sess, ok := a.o.deps.Registry.Get(a.id)
	if !ok {
		return
	}

	joinCtx, cancel := context.WithCancel(a.o.baseCtx)
	a.joinCancel = cancel
	a.joinTimer = time.NewTimer(a.o.cfg.JoinTimeout)
	go a.join(joinCtx, sess)

	for {
		var terminal bool
		select {
		case ev := <-a.events:
			terminal = a.handle(ev)
		case ev := <-a.joinCh:
			terminal = a.handle(ev)
		case <-timerC(a.joinTimer):
			a.joinTimer = nil
			terminal = a.handleJoinTimeout()
		case <-timerC(a.maxTimer):
			a.maxTimer = nil
			terminal = a.handle(event{kind: evLeave, detail: EndMaxDuration})
		case <-a.connDone:
			a.connDone = nil
			terminal = a.handle(event{kind: evLeave, detail: EndDisconnected})
		}
		if terminal {
			return
		}
	}
}

// join runs the blocking join action. A bot that gets in after the actor
// gave up is sent straight back out.
func (a *actor) join(ctx context.Context, s *models.Session) {
	conn, err := a.o.deps.Driver.Join(ctx, bot.JoinRequest{
		SessionID:   s.SessionID,
		MeetingID:   s.MeetingID,
		JoinURL:     s.JoinURL,
		DisplayName: s.DisplayName,
		RecordAudio: s.RecordAudio,
	})
	ev := event{kind: evJoined, conn: conn}
	if err != nil {
		ev = event{kind: evJoinFailed, err: err}
	}

	select {
	case a.joinCh <- ev:
	case <-a.done:
		if conn != nil {
			lctx, cancel := context.WithTimeout(context.Background(), a.o.cfg.LeaveTimeout)
			defer cancel()
			if err := conn.Leave(lctx); err != nil {
				a.log.WithError(err).Warn("leaving after abandoned join")
			}
		}
	}
}

func (a *actor) handleJoinTimeout() bool {
	if a.status != models.StatusJoining {
		return false
	}
	a.fail(ReasonJoinTimeout, fmt.Errorf("bot did not join within %s", a.o.cfg.JoinTimeout))
	return true
}

// handle applies one event and reports whether the session is terminal.
func (a *actor) handle(ev event) bool {
	a.log.WithFields(logrus.Fields{"event": ev.kind.String(), "status": a.status}).Debug("session event")

	switch a.status {
	case models.StatusJoining:
		return a.handleJoining(ev)
	case models.StatusJoined, models.StatusRecording:
		return a.handleInCall(ev)
	case models.StatusProcessing:
		return a.handleProcessing(ev)
	}
	return true
}

func (a *actor) handleJoining(ev event) bool {
	switch ev.kind {
	case evJoined:
		return a.joined(ev.conn)
	case evJoinFailed:
		a.fail(ReasonJoinFailed, ev.err)
	case evLeave, evMeetingEnded:
		a.fail(ReasonJoinCancelled, fmt.Errorf("%s before the bot joined", ev.kind))
	case evKicked:
		a.o.deps.Notifier.Notify(a.o.baseCtx, a.id, models.EventBotKicked, map[string]any{"detail": ev.detail})
		a.fail(ReasonJoinFailed, fmt.Errorf("bot removed while joining: %s", ev.detail))
	case evBotError:
		a.fail(ReasonBotError, errors.New(ev.detail))
	case evShutdown:
		a.fail(ReasonShutdown, errors.New("orchestrator shutting down"))
	default:
		return false
	}
	return true
}

func (a *actor) handleInCall(ev event) bool {
	switch ev.kind {
	case evLeave:
		reason := ev.detail
		if reason == "" {
			reason = EndLeave
		}
		return a.end(reason)
	case evMeetingEnded:
		return a.end(EndMeetingEnded)
	case evKicked:
		a.o.deps.Notifier.Notify(a.o.baseCtx, a.id, models.EventBotKicked, map[string]any{"detail": ev.detail})
		return a.end(EndBotKicked)
	case evShutdown:
		return a.end(EndShutdown)
	case evBotError:
		a.fail(ReasonBotError, errors.New(ev.detail))
		return true
	}
	return false
}

func (a *actor) handleProcessing(ev event) bool {
	if ev.kind != evPipelineDone {
		// the session already left the call; repeated end signals are no-ops
		return false
	}
	if ev.err != nil {
		a.fail(ReasonMergeFailed, ev.err)
		return true
	}
	a.complete(ev.result)
	return true
}

func (a *actor) transition(to models.Status, mutate func(s *models.Session)) (*models.Session, error) {
	now := time.Now().UTC()
	s, err := a.o.deps.Registry.Update(a.id, func(s *models.Session) error {
		if !models.CanTransition(s.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
		}
		s.Status = to
		s.History = append(s.History, models.StatusChange{Status: to, At: now})
		if mutate != nil {
			mutate(s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.status = to
	a.o.deps.Metrics.TransitionsTotal.WithLabelValues(string(to)).Inc()
	a.log.WithField("status", to).Info("session status changed")
	return s, nil
}

func (a *actor) joined(conn bot.Conn) bool {
	stopTimer(a.joinTimer)
	a.joinTimer = nil
	a.conn = conn
	a.connDone = conn.Done()

	s, err := a.transition(models.StatusJoined, func(s *models.Session) {
		now := time.Now().UTC()
		s.JoinedAt = &now
	})
	if err != nil {
		a.fail(ReasonInvalidTransition, err)
		return true
	}
	a.o.deps.Notifier.Notify(a.o.baseCtx, a.id, models.EventJoined, map[string]any{"meeting_id": s.MeetingID})
	a.maxTimer = time.NewTimer(a.o.cfg.MaxSessionDuration)

	if !s.RecordAudio {
		return false
	}

	rec, err := a.o.deps.Chunker.Start(a.o.baseCtx, a.id, a.o.deps.Audio, recording.Hooks{OnChunk: a.onChunk})
	if err != nil {
		a.fail(ReasonRecordingFailed, err)
		return true
	}
	a.rec = rec

	if _, err := a.transition(models.StatusRecording, nil); err != nil {
		a.fail(ReasonInvalidTransition, err)
		return true
	}
	data := map[string]any{"meeting_id": s.MeetingID}
	if rec.AudioErr() != nil {
		data["audio_warning"] = rec.AudioErr().Error()
	}
	a.o.deps.Notifier.Notify(a.o.baseCtx, a.id, models.EventRecordingStarted, data)
	return false
}

// onChunk runs on the chunker's goroutine for every closed chunk.
func (a *actor) onChunk(c models.RecordingChunk) {
	_, err := a.o.deps.Registry.Update(a.id, func(s *models.Session) error {
		// A failed session is frozen; the chunk file and its metadata are
		// still kept below.
		if s.Status != models.StatusRecording || c.ChunkIndex+1 <= s.ChunkIndex {
			return errNoChange
		}
		s.ChunkIndex = c.ChunkIndex + 1
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		a.log.WithError(err).Warn("recording chunk index")
	}

	a.o.deps.Metrics.ChunksTotal.Inc()
	a.o.deps.Metrics.ChunkBytes.Observe(float64(c.Bytes))

	if a.o.deps.Chunks != nil {
		ctx, cancel := context.WithTimeout(a.o.baseCtx, 5*time.Second)
		defer cancel()
		if err := a.o.deps.Chunks.Record(ctx, c); err != nil {
			a.log.WithError(err).WithField("chunk_index", c.ChunkIndex).Warn("storing chunk metadata")
		}
	}
}

// release frees the bot, the recorder and the audio stream. Safe to call
// on every exit path.
func (a *actor) release() {
	stopTimer(a.joinTimer)
	stopTimer(a.maxTimer)
	a.joinTimer, a.maxTimer, a.connDone = nil, nil, nil
	if a.joinCancel != nil {
		a.joinCancel()
	}

	if a.rec != nil {
		a.rec.Stop()
	}
	if a.conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.o.cfg.LeaveTimeout)
		if err := a.conn.Leave(ctx); err != nil {
			a.log.WithError(err).Warn("bot leave failed")
		}
		cancel()
		a.conn = nil
	}
	if r, ok := a.o.deps.Audio.(releaser); ok {
		r.Release(a.id)
	}
}

// end leaves the call and hands the recording to the pipeline.
func (a *actor) end(reason string) bool {
	a.release()

	s, err := a.transition(models.StatusProcessing, func(s *models.Session) {
		now := time.Now().UTC()
		s.EndReason = reason
		s.EndedAt = &now
	})
	if err != nil {
		a.fail(ReasonInvalidTransition, err)
		return true
	}
	a.o.deps.Notifier.Notify(a.o.baseCtx, a.id, models.EventLeft, map[string]any{"reason": reason})

	in := pipeline.Input{
		SessionID:       s.SessionID,
		MeetingID:       s.MeetingID,
		SpeakerLog:      s.SpeakerLog,
		RecordedSeconds: s.Elapsed(*s.EndedAt),
	}
	if s.RecordAudio {
		in.Dir = a.o.deps.Chunker.SessionDir(a.id)
	}

	go func() {
		ctx, cancel := context.WithTimeout(a.o.baseCtx, a.o.cfg.PipelineTimeout)
		defer cancel()
		res, err := a.o.deps.Pipeline.Complete(ctx, in)
		a.post(event{kind: evPipelineDone, result: res, err: err})
	}()
	return false
}

func (a *actor) complete(res pipeline.Result) {
	s, err := a.o.deps.Registry.Update(a.id, func(s *models.Session) error {
		if s.Transcript != nil {
			return ErrTranscriptSet
		}
		if !models.CanTransition(s.Status, models.StatusCompleted) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, models.StatusCompleted)
		}
		now := time.Now().UTC()
		s.Transcript = res.Transcript
		s.Status = models.StatusCompleted
		s.History = append(s.History, models.StatusChange{Status: models.StatusCompleted, At: now})
		s.CompletedAt = &now
		return nil
	})
	if err != nil {
		a.fail(ReasonInvalidTransition, err)
		return
	}
	a.status = models.StatusCompleted
	a.o.deps.Metrics.TransitionsTotal.WithLabelValues(string(models.StatusCompleted)).Inc()

	a.log.WithFields(logrus.Fields{
		"chunks":      res.Chunks,
		"entries":     len(res.Transcript.Entries),
		"placeholder": res.Transcript.Placeholder,
	}).Info("session completed")

	a.o.deps.Notifier.Notify(a.o.baseCtx, a.id, models.EventTranscriptReady, map[string]any{
		"meeting_id":  s.MeetingID,
		"entries":     len(res.Transcript.Entries),
		"duration":    res.Transcript.DurationSeconds,
		"placeholder": res.Transcript.Placeholder,
		"archive_uri": res.ArchiveURI,
	})
	a.o.deps.Notifier.Notify(a.o.baseCtx, a.id, models.EventCompleted, map[string]any{"status": models.StatusCompleted})

	if a.o.deps.Transcripts != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(a.o.baseCtx), 2*time.Minute)
		defer cancel()
		if err := a.o.deps.Transcripts.Archive(ctx, s); err != nil {
			a.log.WithError(err).Warn("archiving transcript")
		}
	}
}

// fail moves the session to error before any resource is released, so no
// reader ever sees a half-torn-down session in a live status.
func (a *actor) fail(reason string, cause error) {
	if a.joinCancel != nil {
		a.joinCancel()
	}

	_, err := a.o.deps.Registry.Update(a.id, func(s *models.Session) error {
		if s.Status.Terminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, models.StatusError)
		}
		now := time.Now().UTC()
		s.Status = models.StatusError
		s.ErrorReason = reason
		s.History = append(s.History, models.StatusChange{Status: models.StatusError, At: now})
		if s.EndedAt == nil {
			s.EndedAt = &now
		}
		return nil
	})
	if err == nil {
		a.status = models.StatusError
		a.o.deps.Metrics.TransitionsTotal.WithLabelValues(string(models.StatusError)).Inc()
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	a.log.WithFields(logrus.Fields{"reason": reason, "cause": msg}).Warn("session failed")

	a.release()

	if a.rec != nil {
		a.log.WithField("dir", a.rec.Dir()).Info("recorded chunks kept after failure")
	}
	a.o.deps.Notifier.Notify(a.o.baseCtx, a.id, models.EventError, map[string]any{
		"reason":  reason,
		"message": msg,
	})
}
