package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/meetbot/internal/utils"
)

// RequireRole admits requests whose token role is one of allowed.
// It must run after JWTAuth.
func RequireRole(allowed ...string) gin.HandlerFunc {
	allow := map[string]struct{}{}
	for _, a := range allowed {
		a = strings.TrimSpace(strings.ToLower(a))
		if a != "" {
			allow[a] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		role := strings.ToLower(strings.TrimSpace(c.GetString("role")))
		if _, ok := allow[role]; role == "" || !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, apiError{
				Code:    utils.CodeForbidden,
				Message: "role " + quoteRole(role) + " may not call this endpoint",
			})
			return
		}
		c.Next()
	}
}

func quoteRole(r string) string {
	if r == "" {
		return "(none)"
	}
	return `"` + r + `"`
}

func RequireAdmin() gin.HandlerFunc { return RequireRole("admin") }

// RequireApp admits the owning application and operators.
func RequireApp() gin.HandlerFunc { return RequireRole("app", "admin") }

func RequireBot() gin.HandlerFunc { return RequireRole("bot", "admin") }
