// Package recording writes a session's live audio into fixed-duration chunk
// files so no single file grows unbounded and a crash loses at most one
// interval of audio.
package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/meetbot/internal/models"
)

const DefaultInterval = 5 * time.Minute

// Source yields the live audio of one session.
type Source interface {
	Open(ctx context.Context, sessionID string) (io.ReadCloser, error)
}

type Config struct {
	Dir      string        // chunks land in Dir/<session_id>/
	Interval time.Duration // rotation period
	Ext      string        // chunk file extension, "pcm" for raw s16le
}

// Hooks are invoked outside the handle lock.
type Hooks struct {
	// OnChunk runs once per closed, non-empty chunk in creation order.
	OnChunk func(c models.RecordingChunk)
}

type Chunker struct {
	cfg Config
	log logrus.FieldLogger
}

func NewChunker(cfg Config, log logrus.FieldLogger) *Chunker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Ext == "" {
		cfg.Ext = "pcm"
	}
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(os.TempDir(), "meetbot")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Chunker{cfg: cfg, log: log}
}

func (c *Chunker) Ext() string { return c.cfg.Ext }

// SessionDir is the chunk directory owned by a single session.
func (c *Chunker) SessionDir(sessionID string) string {
	return filepath.Join(c.cfg.Dir, sessionID)
}

// Start opens the first chunk and begins pumping src into it. A source that
// fails to open is logged and the handle records silence; the session still
// completes, just without audio.
func (c *Chunker) Start(ctx context.Context, sessionID string, src Source, hooks Hooks) (*Handle, error) {
	dir := c.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating chunk dir: %w", err)
	}

	h := &Handle{
		sessionID: sessionID,
		dir:       dir,
		ext:       c.cfg.Ext,
		log:       c.log.WithField("session_id", sessionID),
		hooks:     hooks,
		quit:      make(chan struct{}),
		readDone:  make(chan struct{}),
		tickDone:  make(chan struct{}),
	}

	if err := h.openLocked(0); err != nil {
		return nil, err
	}

	if src != nil {
		rc, err := src.Open(ctx, sessionID)
		if err != nil {
			h.audioErr = err
			h.log.WithError(err).Warn("audio stream unavailable, recording silence")
		} else {
			h.src = rc
		}
	} else {
		h.audioErr = errors.New("no audio source configured")
	}

	if h.src != nil {
		go h.pump()
	} else {
		close(h.readDone)
	}
	go h.tick(c.cfg.Interval)

	return h, nil
}

// Handle owns the open chunk file of one recording session.
type Handle struct {
	sessionID string
	dir       string
	ext       string
	log       logrus.FieldLogger
	hooks     Hooks

	mu         sync.Mutex
	stopped    bool
	next       int64
	cur        *os.File
	curIndex   int64
	curBytes   int64
	curStarted time.Time
	closed     []models.RecordingChunk

	src      io.ReadCloser
	audioErr error

	stopOnce sync.Once
	quit     chan struct{}
	readDone chan struct{}
	tickDone chan struct{}
}

func (h *Handle) Dir() string { return h.dir }

// AudioErr is the reason the audio stream could not be opened, if any.
func (h *Handle) AudioErr() error { return h.audioErr }

func chunkName(index int64, ext string) string {
	return fmt.Sprintf("chunk_%05d.%s", index, ext)
}

func (h *Handle) openLocked(index int64) error {
	f, err := os.OpenFile(filepath.Join(h.dir, chunkName(index, h.ext)), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening chunk %d: %w", index, err)
	}
	h.cur = f
	h.curIndex = index
	h.curBytes = 0
	h.curStarted = time.Now().UTC()
	h.next = index + 1
	return nil
}

// closeLocked flushes and closes the current chunk. Empty chunks are removed.
func (h *Handle) closeLocked() *models.RecordingChunk {
	if h.cur == nil {
		return nil
	}
	f := h.cur
	h.cur = nil

	if err := f.Sync(); err != nil {
		h.log.WithError(err).WithField("chunk_index", h.curIndex).Warn("chunk sync failed")
	}
	if err := f.Close(); err != nil {
		h.log.WithError(err).WithField("chunk_index", h.curIndex).Warn("chunk close failed")
	}

	if h.curBytes == 0 {
		_ = os.Remove(f.Name())
		return nil
	}

	c := models.RecordingChunk{
		SessionID:  h.sessionID,
		ChunkIndex: h.curIndex,
		Path:       f.Name(),
		Bytes:      h.curBytes,
		StartedAt:  h.curStarted,
		ClosedAt:   time.Now().UTC(),
	}
	h.closed = append(h.closed, c)
	return &c
}

// Rotate closes the current chunk and opens the next one. It reports false
// when the handle was already stopped, in which case nothing is opened.
func (h *Handle) Rotate() bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	done := h.closeLocked()
	err := h.openLocked(h.next)
	h.mu.Unlock()

	if err != nil {
		h.log.WithError(err).Error("chunk rotation failed, dropping audio until stop")
	}
	h.emit(done)
	return err == nil
}

func (h *Handle) emit(c *models.RecordingChunk) {
	if c != nil && h.hooks.OnChunk != nil {
		h.hooks.OnChunk(*c)
	}
}

func (h *Handle) write(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped || h.cur == nil {
		return
	}
	n, err := h.cur.Write(p)
	h.curBytes += int64(n)
	if err != nil {
		h.log.WithError(err).WithField("chunk_index", h.curIndex).Warn("chunk write failed")
	}
}

// Write appends audio to the current chunk. Used when audio is pushed
// rather than pulled from a Source.
func (h *Handle) Write(p []byte) (int, error) {
	h.write(p)
	return len(p), nil
}

func (h *Handle) pump() {
	defer close(h.readDone)

	buf := make([]byte, 32<<10)
	for {
		n, err := h.src.Read(buf)
		if n > 0 {
			h.write(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !h.isStopped() {
				h.log.WithError(err).Warn("audio stream read failed")
			}
			return
		}
	}
}

func (h *Handle) tick(interval time.Duration) {
	defer close(h.tickDone)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			h.Rotate()
		case <-h.quit:
			return
		}
	}
}

func (h *Handle) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Stop closes the in-flight chunk and releases the audio stream. It is safe
// to call more than once; later calls just return the chunk list.
func (h *Handle) Stop() []models.RecordingChunk {
	h.stopOnce.Do(func() {
		close(h.quit)
		<-h.tickDone

		h.mu.Lock()
		h.stopped = true
		last := h.closeLocked()
		h.mu.Unlock()

		if h.src != nil {
			if err := h.src.Close(); err != nil {
				h.log.WithError(err).Debug("closing audio stream")
			}
		}
		select {
		case <-h.readDone:
		case <-time.After(5 * time.Second):
			h.log.Warn("audio reader did not exit after close")
		}

		h.emit(last)
	})
	return h.Chunks()
}

// Chunks returns the closed chunks in creation order.
func (h *Handle) Chunks() []models.RecordingChunk {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.RecordingChunk(nil), h.closed...)
}
