// Package orchestrator runs bot sessions: it admits join requests, drives
// each session through its lifecycle and hands finished recordings to the
// completion pipeline.
package orchestrator

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/meetbot/internal/metrics"
	"github.com/yoockh/meetbot/internal/models"
	"github.com/yoockh/meetbot/internal/notify"
	"github.com/yoockh/meetbot/internal/pipeline"
	"github.com/yoockh/meetbot/internal/providers/bot"
	"github.com/yoockh/meetbot/internal/recording"
	"github.com/yoockh/meetbot/internal/registry"
	"github.com/yoockh/meetbot/internal/utils"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTranscriptSet     = errors.New("transcript already set")
)

// Error reasons recorded on sessions that end in StatusError.
const (
	ReasonJoinFailed        = "join_failed"
	ReasonJoinTimeout       = "join_timeout"
	ReasonJoinCancelled     = "join_cancelled"
	ReasonMergeFailed       = "merge_failed"
	ReasonBotError          = "bot_error"
	ReasonRecordingFailed   = "recording_failed"
	ReasonShutdown          = "shutdown"
	ReasonInvalidTransition = "invalid_transition"
	ReasonInterrupted       = "interrupted"
)

// End reasons recorded when a session leaves the call normally.
const (
	EndLeave        = "leave"
	EndMeetingEnded = "meeting_ended"
	EndBotKicked    = "bot_kicked"
	EndMaxDuration  = "max_duration"
	EndDisconnected = "disconnected"
	EndShutdown     = "shutdown"
)

type Config struct {
	JoinTimeout        time.Duration
	MaxSessionDuration time.Duration
	LeaveTimeout       time.Duration
	PipelineTimeout    time.Duration
	DisplayName        string
}

func (c *Config) defaults() {
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 60 * time.Second
	}
	if c.MaxSessionDuration <= 0 {
		c.MaxSessionDuration = 4 * time.Hour
	}
	if c.LeaveTimeout <= 0 {
		c.LeaveTimeout = 10 * time.Second
	}
	if c.PipelineTimeout <= 0 {
		c.PipelineTimeout = 30 * time.Minute
	}
	if c.DisplayName == "" {
		c.DisplayName = "Meeting Notes Bot"
	}
}

// ChunkRecorder stores metadata of every closed recording chunk.
type ChunkRecorder interface {
	Record(ctx context.Context, c models.RecordingChunk) error
}

// TranscriptArchive keeps completed transcripts beyond the session's
// lifetime in memory.
type TranscriptArchive interface {
	Archive(ctx context.Context, s *models.Session) error
}

// releaser is implemented by audio sources that hold per-session state.
type releaser interface {
	Release(sessionID string)
}

type Deps struct {
	Registry *registry.Registry
	Driver   bot.Driver
	Chunker  *recording.Chunker
	Audio    recording.Source
	Pipeline *pipeline.Pipeline
	Notifier notify.Notifier

	Chunks      ChunkRecorder
	Transcripts TranscriptArchive

	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}

type JoinRequest struct {
	MeetingID   string `json:"meeting_id"`
	JoinURL     string `json:"join_url"`
	DisplayName string `json:"display_name"`
	RecordAudio bool   `json:"record_audio"`
}

type JoinResult struct {
	SessionID string        `json:"session_id"`
	Status    models.Status `json:"status"`
	Attached  bool          `json:"attached"`
}

// Service is the surface used by the HTTP layer.
type Service interface {
	RequestJoin(ctx context.Context, req JoinRequest) (*JoinResult, error)
	RequestLeave(ctx context.Context, sessionID string) (*models.Session, error)
	MeetingEnded(ctx context.Context, sessionID string) error
	BotKicked(ctx context.Context, sessionID, detail string) error
	ReportError(ctx context.Context, sessionID, message string) error
	SpeakerChanged(ctx context.Context, sessionID, name string) error
	GetStatus(ctx context.Context, sessionID string) (*models.Session, error)
	GetStatusByMeeting(ctx context.Context, meetingID string) (*models.Session, error)
	GetTranscript(ctx context.Context, sessionID string) (*models.TranscriptResult, error)
	List(ctx context.Context, activeOnly bool) []*models.Session
}

type Orchestrator struct {
	cfg  Config
	deps Deps
	log  logrus.FieldLogger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu      sync.Mutex
	closing bool
	actors  map[string]*actor
	wg      sync.WaitGroup
}

var _ Service = (*Orchestrator)(nil)

func New(cfg Config, deps Deps) *Orchestrator {
	cfg.defaults()
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	if deps.Pipeline == nil {
		deps.Pipeline = &pipeline.Pipeline{Log: deps.Log, Metrics: deps.Metrics}
	}
	if deps.Chunker == nil {
		deps.Chunker = recording.NewChunker(recording.Config{}, deps.Log)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		deps:       deps,
		log:        deps.Log,
		baseCtx:    ctx,
		cancelBase: cancel,
		actors:     map[string]*actor{},
	}
}

func validJoinURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// RequestJoin admits a join request. A second request for a meeting that
// already has an active session attaches to it instead of starting a bot.
func (o *Orchestrator) RequestJoin(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	const op = "Orchestrator.RequestJoin"

	req.MeetingID = strings.TrimSpace(req.MeetingID)
	req.JoinURL = strings.TrimSpace(req.JoinURL)
	if req.MeetingID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "meeting_id is required", nil)
	}
	if !validJoinURL(req.JoinURL) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "join_url must be an http(s) URL", nil)
	}
	if req.DisplayName == "" {
		req.DisplayName = o.cfg.DisplayName
	}

	now := time.Now().UTC()
	candidate := &models.Session{
		SessionID:   uuid.NewString(),
		MeetingID:   req.MeetingID,
		JoinURL:     req.JoinURL,
		DisplayName: req.DisplayName,
		RecordAudio: req.RecordAudio,
		Status:      models.StatusJoining,
		SpeakerLog:  []models.SpeakerEvent{},
		History:     []models.StatusChange{{Status: models.StatusJoining, At: now}},
		CreatedAt:   now,
	}

	// The actor is registered before admission so that an event racing the
	// admit call still finds a mailbox. It is counted under the same lock
	// as the closing check, so Shutdown always waits for it.
	a := newActor(o, candidate.SessionID)
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return nil, utils.E(utils.CodeUnavailable, op, "shutting down", nil)
	}
	o.actors[a.id] = a
	o.wg.Add(1)
	o.mu.Unlock()

	res := o.deps.Registry.TryAdmit(candidate)
	o.deps.Metrics.AdmissionsTotal.WithLabelValues(string(res.Outcome)).Inc()

	log := o.log.WithFields(logrus.Fields{"meeting_id": req.MeetingID, "outcome": res.Outcome})

	switch res.Outcome {
	case registry.Rejected:
		o.dropActor(a.id)
		o.wg.Done()
		log.Warn("join rejected, at capacity")
		return nil, utils.E(utils.CodeBusy, op, "maximum concurrent sessions reached", nil)

	case registry.Attached:
		o.dropActor(a.id)
		o.wg.Done()
		existing, ok := o.deps.Registry.Get(res.SessionID)
		if !ok {
			return nil, utils.E(utils.CodeInternal, op, "attached session vanished", nil)
		}
		log.WithField("session_id", existing.SessionID).Info("join attached to active session")
		return &JoinResult{SessionID: existing.SessionID, Status: existing.Status, Attached: true}, nil
	}

	go func() {
		defer o.wg.Done()
		a.run()
	}()
	o.refreshGauge()

	log.WithField("session_id", candidate.SessionID).Info("session admitted")
	return &JoinResult{SessionID: candidate.SessionID, Status: models.StatusJoining}, nil
}

func (o *Orchestrator) dropActor(id string) {
	o.mu.Lock()
	delete(o.actors, id)
	o.mu.Unlock()
}

func (o *Orchestrator) refreshGauge() {
	o.deps.Metrics.ActiveSessions.Set(float64(o.deps.Registry.ActiveCount()))
}

// send hands an event to the session's actor. Sessions without a running
// actor are either unknown or already terminal; the latter is a no-op.
func (o *Orchestrator) send(op, sessionID string, ev event) error {
	o.mu.Lock()
	a, ok := o.actors[sessionID]
	o.mu.Unlock()

	if !ok {
		if _, exists := o.deps.Registry.Get(sessionID); exists {
			return nil
		}
		return utils.E(utils.CodeNotFound, op, "session not found", registry.ErrNotFound)
	}
	a.post(ev)
	return nil
}

// RequestLeave asks the bot to leave. Repeated calls, or calls on a session
// that already ended, are no-ops.
func (o *Orchestrator) RequestLeave(ctx context.Context, sessionID string) (*models.Session, error) {
	const op = "Orchestrator.RequestLeave"
	if err := o.send(op, sessionID, event{kind: evLeave}); err != nil {
		return nil, err
	}
	return o.GetStatus(ctx, sessionID)
}

func (o *Orchestrator) MeetingEnded(ctx context.Context, sessionID string) error {
	return o.send("Orchestrator.MeetingEnded", sessionID, event{kind: evMeetingEnded})
}

func (o *Orchestrator) BotKicked(ctx context.Context, sessionID, detail string) error {
	return o.send("Orchestrator.BotKicked", sessionID, event{kind: evKicked, detail: detail})
}

func (o *Orchestrator) ReportError(ctx context.Context, sessionID, message string) error {
	return o.send("Orchestrator.ReportError", sessionID, event{kind: evBotError, detail: message})
}

// SpeakerChanged appends to the speaker log while the bot is in the call.
// Timestamps are seconds since join and never go backwards.
func (o *Orchestrator) SpeakerChanged(ctx context.Context, sessionID, name string) error {
	const op = "Orchestrator.SpeakerChanged"

	name = strings.TrimSpace(name)
	if name == "" {
		return utils.E(utils.CodeInvalidArgument, op, "speaker name is required", nil)
	}

	var entry models.SpeakerEvent
	now := time.Now()
	_, err := o.deps.Registry.Update(sessionID, func(s *models.Session) error {
		if s.Status != models.StatusJoined && s.Status != models.StatusRecording {
			return utils.E(utils.CodeConflict, op, "session is not in a call", nil)
		}
		entry = models.SpeakerEvent{Name: name, ElapsedSeconds: s.Elapsed(now)}
		if n := len(s.SpeakerLog); n > 0 && entry.ElapsedSeconds < s.SpeakerLog[n-1].ElapsedSeconds {
			entry.ElapsedSeconds = s.SpeakerLog[n-1].ElapsedSeconds
		}
		s.SpeakerLog = append(s.SpeakerLog, entry)
		return nil
	})
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return err
	}

	o.deps.Notifier.Notify(ctx, sessionID, models.EventSpeakerChange, map[string]any{
		"speaker":   entry.Name,
		"timestamp": entry.ElapsedSeconds,
	})
	return nil
}

func (o *Orchestrator) GetStatus(ctx context.Context, sessionID string) (*models.Session, error) {
	const op = "Orchestrator.GetStatus"
	s, ok := o.deps.Registry.Get(sessionID)
	if !ok {
		return nil, utils.E(utils.CodeNotFound, op, "session not found", registry.ErrNotFound)
	}
	return s, nil
}

func (o *Orchestrator) GetStatusByMeeting(ctx context.Context, meetingID string) (*models.Session, error) {
	const op = "Orchestrator.GetStatusByMeeting"
	s, ok := o.deps.Registry.FindByMeeting(meetingID)
	if !ok {
		return nil, utils.E(utils.CodeNotFound, op, "no session for meeting", registry.ErrNotFound)
	}
	return s, nil
}

func (o *Orchestrator) GetTranscript(ctx context.Context, sessionID string) (*models.TranscriptResult, error) {
	const op = "Orchestrator.GetTranscript"
	s, err := o.GetStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Transcript == nil {
		return nil, utils.E(utils.CodeConflict, op, "transcript not ready, session is "+string(s.Status), nil)
	}
	return s.Transcript, nil
}

func (o *Orchestrator) List(ctx context.Context, activeOnly bool) []*models.Session {
	if activeOnly {
		return o.deps.Registry.ListActive()
	}
	return o.deps.Registry.List()
}

// Restore reloads persisted sessions. Sessions that were still running when
// the previous process stopped cannot be resumed and end as interrupted.
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	ids, err := o.deps.Registry.Restore(ctx)
	if err != nil {
		return 0, err
	}

	interrupted := 0
	now := time.Now().UTC()
	for _, id := range ids {
		_, err := o.deps.Registry.Update(id, func(s *models.Session) error {
			if !s.Active() {
				return errNoChange
			}
			s.Status = models.StatusError
			s.ErrorReason = ReasonInterrupted
			s.History = append(s.History, models.StatusChange{Status: models.StatusError, At: now})
			if s.EndedAt == nil {
				s.EndedAt = &now
			}
			return nil
		})
		if err == nil {
			interrupted++
		}
	}

	o.log.WithFields(logrus.Fields{"restored": len(ids), "interrupted": interrupted}).Info("sessions restored")
	return interrupted, nil
}

var errNoChange = errors.New("no change")

// Shutdown ends every running session and waits for their actors. When ctx
// expires first, in-flight pipelines are cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	actors := make([]*actor, 0, len(o.actors))
	for _, a := range o.actors {
		actors = append(actors, a)
	}
	o.mu.Unlock()

	for _, a := range actors {
		a.post(event{kind: evShutdown})
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancelBase()
		return nil
	case <-ctx.Done():
		o.cancelBase()
		return ctx.Err()
	}
}

// Wait blocks until every session actor has exited.
func (o *Orchestrator) Wait() { o.wg.Wait() }
