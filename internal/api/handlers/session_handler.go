package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/meetbot/internal/models"
	"github.com/yoockh/meetbot/internal/orchestrator"
	"github.com/yoockh/meetbot/internal/services"
	"github.com/yoockh/meetbot/internal/utils"
)

// SessionHandler serves the control API used by the owning application.
type SessionHandler struct {
	svc         orchestrator.Service
	transcripts services.TranscriptService // optional
}

func NewSessionHandler(svc orchestrator.Service, transcripts services.TranscriptService) *SessionHandler {
	return &SessionHandler{svc: svc, transcripts: transcripts}
}

func (h *SessionHandler) Join(c *gin.Context) {
	var req orchestrator.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Join", "invalid request body", err))
		return
	}

	res, err := h.svc.RequestJoin(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, res)
}

func (h *SessionHandler) Leave(c *gin.Context) {
	sess, err := h.svc.RequestLeave(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sess.View())
}

func (h *SessionHandler) Get(c *gin.Context) {
	sess, err := h.svc.GetStatus(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.View())
}

func (h *SessionHandler) GetByMeeting(c *gin.Context) {
	sess, err := h.svc.GetStatusByMeeting(c.Request.Context(), c.Param("meeting_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.View())
}

type listResponse struct {
	Sessions []models.SessionView `json:"sessions"`
}

func (h *SessionHandler) List(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.Query("active"))

	sessions := h.svc.List(c.Request.Context(), activeOnly)
	out := listResponse{Sessions: make([]models.SessionView, 0, len(sessions))}
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, s.View())
	}
	c.JSON(http.StatusOK, out)
}

type transcriptResponse struct {
	SessionID string `json:"session_id"`
	*models.TranscriptResult
	Summary string `json:"summary,omitempty"`
}

// Transcript returns the transcript of a completed session. Sessions no
// longer held in memory are served from the archive.
func (h *SessionHandler) Transcript(c *gin.Context) {
	const op = "SessionHandler.Transcript"
	ctx := c.Request.Context()
	sessionID := c.Param("session_id")

	tr, err := h.svc.GetTranscript(ctx, sessionID)
	if err != nil && !(utils.IsCode(err, utils.CodeNotFound) && h.transcripts != nil) {
		writeError(c, err)
		return
	}

	resp := transcriptResponse{SessionID: sessionID, TranscriptResult: tr}
	if h.transcripts != nil {
		rec, aerr := h.transcripts.Get(ctx, sessionID)
		switch {
		case aerr == nil:
			resp.Summary = rec.Summary
			if resp.TranscriptResult == nil {
				decoded, derr := rec.Result()
				if derr != nil {
					writeError(c, utils.E(utils.CodeInternal, op, "archived transcript is unreadable", derr))
					return
				}
				resp.TranscriptResult = decoded
			}
		case tr == nil:
			writeError(c, aerr)
			return
		}
	}

	c.JSON(http.StatusOK, resp)
}

// MeetingTranscripts lists archived transcripts of a meeting, newest first.
func (h *SessionHandler) MeetingTranscripts(c *gin.Context) {
	const op = "SessionHandler.MeetingTranscripts"
	if h.transcripts == nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "transcript archive is not configured", nil))
		return
	}

	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeError(c, utils.E(utils.CodeInvalidArgument, op, "limit must be between 1 and 100", err))
			return
		}
		limit = n
	}

	recs, err := h.transcripts.ListByMeeting(c.Request.Context(), c.Param("meeting_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcripts": recs})
}
