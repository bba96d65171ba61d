package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/meetbot/internal/orchestrator"
	"github.com/yoockh/meetbot/internal/utils"
)

// BotHandler receives signals from the bot worker attending a meeting.
type BotHandler struct {
	svc orchestrator.Service
}

func NewBotHandler(svc orchestrator.Service) *BotHandler {
	return &BotHandler{svc: svc}
}

type BotEventRequest struct {
	Type    string `json:"type" binding:"required"` // meeting_ended|bot_kicked|speaker_change|error
	Speaker string `json:"speaker"`
	Message string `json:"message"`
}

func (h *BotHandler) Event(c *gin.Context) {
	const op = "BotHandler.Event"
	sessionID := c.Param("session_id")
	if !authorizeSession(c, op, sessionID) {
		return
	}

	var req BotEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}

	ctx := c.Request.Context()
	var err error
	switch req.Type {
	case "meeting_ended":
		err = h.svc.MeetingEnded(ctx, sessionID)
	case "bot_kicked":
		err = h.svc.BotKicked(ctx, sessionID, req.Message)
	case "speaker_change":
		err = h.svc.SpeakerChanged(ctx, sessionID, req.Speaker)
	case "error":
		err = h.svc.ReportError(ctx, sessionID, req.Message)
	default:
		err = utils.E(utils.CodeInvalidArgument, op, "unknown event type "+req.Type, nil)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
