package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/yoockh/meetbot/internal/utils"
)

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func writeError(c *gin.Context, err error) {
	c.JSON(utils.HTTPStatus(err), APIError{
		Code:    utils.CodeOf(err),
		Message: utils.PublicMessage(err),
	})
}

// authorizeSession rejects bot tokens issued for a different session.
// Tokens of other roles, and bot tokens without a session claim, pass.
func authorizeSession(c *gin.Context, op, sessionID string) bool {
	role := c.GetString("role")
	bound := c.GetString("token_session_id")
	if role == "bot" && bound != "" && bound != sessionID {
		writeError(c, utils.E(utils.CodeForbidden, op, "token is not valid for this session", nil))
		return false
	}
	return true
}
