package middleware

import (
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/yoockh/meetbot/internal/utils"
)

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

// botClaims are issued to the owning application (role "app" or "admin")
// and to bot workers (role "bot"). A bot token may be bound to one session.
type botClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	SessionID string `json:"session_id,omitempty"`
}

// JWTAuth validates HS256 bearer tokens signed with BOT_JWT_SECRET.
// BOT_JWT_ISSUER and BOT_JWT_AUDIENCE are checked when set.
func JWTAuth() gin.HandlerFunc {
	secret := os.Getenv("BOT_JWT_SECRET")
	issuer := os.Getenv("BOT_JWT_ISSUER")
	audience := os.Getenv("BOT_JWT_AUDIENCE")

	unauthorized := func(c *gin.Context, msg string) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{
			Code:    utils.CodeUnauthorized,
			Message: msg,
		})
	}

	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, apiError{
				Code:    utils.CodeInternal,
				Message: "BOT_JWT_SECRET is not set",
			})
			return
		}

		auth := c.GetHeader("Authorization")
		raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if !strings.HasPrefix(auth, "Bearer ") || raw == "" {
			// browsers cannot set headers on WebSocket upgrades
			raw = c.Query("access_token")
		}
		if raw == "" {
			unauthorized(c, "missing bearer token")
			return
		}

		claims := &botClaims{}
		tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil || tok == nil || !tok.Valid {
			unauthorized(c, "invalid token")
			return
		}

		if issuer != "" && claims.Issuer != issuer {
			unauthorized(c, "invalid token issuer")
			return
		}
		if audience != "" && !slices.Contains(claims.Audience, audience) {
			unauthorized(c, "invalid token audience")
			return
		}

		if claims.Subject == "" {
			unauthorized(c, "missing subject")
			return
		}

		role := strings.ToLower(strings.TrimSpace(claims.Role))
		if role == "" {
			role = "app"
		}

		c.Set("subject", claims.Subject)
		c.Set("role", role)
		if claims.SessionID != "" {
			c.Set("token_session_id", claims.SessionID)
		}
		c.Next()
	}
}
