package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/meetbot/internal/models"
	"github.com/yoockh/meetbot/internal/notify"
	"github.com/yoockh/meetbot/internal/orchestrator"
	"github.com/yoockh/meetbot/internal/recording"
	"github.com/yoockh/meetbot/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// WSHandler serves the two WebSocket endpoints: audio ingest from the bot
// worker and the lifecycle event stream for watchers.
type WSHandler struct {
	svc      orchestrator.Service
	hub      *recording.Hub // nil unless audio arrives over WebSocket
	redis    *redis.Client  // nil disables the event stream
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(svc orchestrator.Service, hub *recording.Hub, rdb *redis.Client, log logrus.FieldLogger) *WSHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSHandler{
		svc:   svc,
		hub:   hub,
		redis: rdb,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 4 << 10,
			CheckOrigin:     func(r *http.Request) bool { return true }, // TODO: restrict origin once the app domain is fixed
		},
	}
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.writeText(b)
}

func (w *wsConn) close(code int, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

type wsAudioMsg struct {
	Type    string `json:"type"` // speaker_change
	Speaker string `json:"speaker"`
}

type wsErrorMsg struct {
	Type    string     `json:"type"`
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func wsError(code utils.Code, msg string) wsErrorMsg {
	return wsErrorMsg{Type: "error", Code: code, Message: msg}
}

// Audio accepts the bot's audio stream. Binary frames carry raw audio for
// the chunker; text frames carry speaker changes.
func (h *WSHandler) Audio(c *gin.Context) {
	const op = "WSHandler.Audio"
	sessionID := c.Param("session_id")
	if !authorizeSession(c, op, sessionID) {
		return
	}
	if h.hub == nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "audio ingest is disabled", nil))
		return
	}

	sess, err := h.svc.GetStatus(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !sess.Active() || sess.Status == models.StatusProcessing {
		writeError(c, utils.E(utils.CodeConflict, op, "session is not in a call", nil))
		return
	}
	if !sess.RecordAudio {
		writeError(c, utils.E(utils.CodeConflict, op, "session does not record audio", nil))
		return
	}

	sink, err := h.hub.Writer(sessionID)
	if err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "audio ingest is closed", err))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	log := h.log.WithField("session_id", sessionID)
	ctx := c.Request.Context()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	var received int64
	defer func() {
		log.WithField("bytes", received).Info("audio stream closed")
	}()

	for {
		kind, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch kind {
		case websocket.BinaryMessage:
			if len(data) == 0 {
				continue
			}
			// blocks until the chunker drains it; fails once the session is released
			if _, werr := sink.Write(data); werr != nil {
				wc.close(websocket.CloseNormalClosure, "session ended")
				return
			}
			received += int64(len(data))

		case websocket.TextMessage:
			var msg wsAudioMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = wc.writeJSON(wsError(utils.CodeInvalidArgument, "invalid json"))
				continue
			}
			if msg.Type != "speaker_change" {
				_ = wc.writeJSON(wsError(utils.CodeInvalidArgument, "unknown message type"))
				continue
			}
			if err := h.svc.SpeakerChanged(ctx, sessionID, msg.Speaker); err != nil {
				_ = wc.writeJSON(wsError(utils.CodeOf(err), utils.PublicMessage(err)))
			}
		}
	}
}

type wsStatusMsg struct {
	Type    string             `json:"type"`
	Session models.SessionView `json:"session"`
}

// Events streams lifecycle events of one session to a watcher. The first
// message is a snapshot of the session.
func (h *WSHandler) Events(c *gin.Context) {
	const op = "WSHandler.Events"
	sessionID := c.Param("session_id")
	if h.redis == nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "event stream is disabled", nil))
		return
	}

	sess, err := h.svc.GetStatus(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	pubsub := h.redis.Subscribe(ctx, notify.StatusChannel(sessionID))
	defer pubsub.Close()

	if err := wc.writeJSON(wsStatusMsg{Type: "status", Session: sess.View()}); err != nil {
		return
	}
	if sess.Status.Terminal() {
		wc.close(websocket.CloseNormalClosure, "session finished")
		return
	}

	// the reader only drains control frames and notices a closed client
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if err := wc.writeText([]byte(m.Payload)); err != nil {
				return
			}
			var ev models.Event
			if json.Unmarshal([]byte(m.Payload), &ev) == nil &&
				(ev.Type == models.EventCompleted || ev.Type == models.EventError) {
				wc.close(websocket.CloseNormalClosure, "session finished")
				return
			}
		}
	}
}
