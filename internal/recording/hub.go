package recording

import (
	"context"
	"errors"
	"io"
	"sync"
)

var ErrHubClosed = errors.New("audio hub closed")

// Hub connects audio pushed by the bot (over the ingest WebSocket) with the
// chunker that pulls it. Either side may arrive first; the pipe is created
// on demand and lives until the reader is closed or the session is released.
type Hub struct {
	mu     sync.Mutex
	pipes  map[string]*hubPipe
	closed bool
}

type hubPipe struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func NewHub() *Hub {
	return &Hub{pipes: make(map[string]*hubPipe)}
}

func (h *Hub) pipe(sessionID string) (*hubPipe, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	p, ok := h.pipes[sessionID]
	if !ok {
		r, w := io.Pipe()
		p = &hubPipe{r: r, w: w}
		h.pipes[sessionID] = p
	}
	return p, nil
}

// Open implements Source.
func (h *Hub) Open(_ context.Context, sessionID string) (io.ReadCloser, error) {
	p, err := h.pipe(sessionID)
	if err != nil {
		return nil, err
	}
	return &hubReader{hub: h, sessionID: sessionID, p: p}, nil
}

// Writer returns the push side for a session. Writes block until the
// chunker reads them and fail once the session is released.
func (h *Hub) Writer(sessionID string) (io.Writer, error) {
	p, err := h.pipe(sessionID)
	if err != nil {
		return nil, err
	}
	return p.w, nil
}

// Release tears down the pipe of a finished session.
func (h *Hub) Release(sessionID string) {
	h.mu.Lock()
	p, ok := h.pipes[sessionID]
	delete(h.pipes, sessionID)
	h.mu.Unlock()

	if ok {
		_ = p.w.CloseWithError(io.ErrClosedPipe)
		_ = p.r.Close()
	}
}

// Close releases every pipe and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	pipes := h.pipes
	h.pipes = make(map[string]*hubPipe)
	h.closed = true
	h.mu.Unlock()

	for _, p := range pipes {
		_ = p.w.CloseWithError(io.ErrClosedPipe)
		_ = p.r.Close()
	}
}

type hubReader struct {
	hub       *Hub
	sessionID string
	p         *hubPipe
}

func (r *hubReader) Read(b []byte) (int, error) { return r.p.r.Read(b) }

func (r *hubReader) Close() error {
	r.hub.mu.Lock()
	if cur, ok := r.hub.pipes[r.sessionID]; ok && cur == r.p {
		delete(r.hub.pipes, r.sessionID)
	}
	r.hub.mu.Unlock()
	return r.p.r.Close()
}
