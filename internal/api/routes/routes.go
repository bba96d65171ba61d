package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yoockh/meetbot/internal/api/handlers"
	"github.com/yoockh/meetbot/internal/api/middleware"
)

type Deps struct {
	Session *handlers.SessionHandler
	Bot     *handlers.BotHandler
	WS      *handlers.WSHandler

	// Metrics defaults to the process-wide Prometheus registry.
	Metrics http.Handler
	// Auth defaults to middleware.JWTAuth().
	Auth gin.HandlerFunc
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	metrics := d.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metrics))

	auth := d.Auth
	if auth == nil {
		auth = middleware.JWTAuth()
	}

	// owning application
	app := r.Group("/", auth, middleware.RequireApp())
	app.POST("/sessions", d.Session.Join)
	app.GET("/sessions", d.Session.List)
	app.GET("/sessions/:session_id", d.Session.Get)
	app.POST("/sessions/:session_id/leave", d.Session.Leave)
	app.GET("/sessions/:session_id/transcript", d.Session.Transcript)
	app.GET("/meetings/:meeting_id/session", d.Session.GetByMeeting)
	app.GET("/meetings/:meeting_id/transcripts", d.Session.MeetingTranscripts)
	app.GET("/ws/sessions/:session_id/events", d.WS.Events)

	// bot worker
	bot := r.Group("/", auth, middleware.RequireBot())
	bot.POST("/bot/sessions/:session_id/events", d.Bot.Event)
	bot.GET("/ws/bot/sessions/:session_id/audio", d.WS.Audio)
}
