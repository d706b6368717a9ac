package status

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"aqmap-bk/internal/pkg/response"
	"aqmap-bk/internal/pkg/token"
)

// AuthRequired validates the request's access token. Browser websocket
// clients cannot set headers, so a token query parameter is accepted too.
func AuthRequired(tm *token.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("token")
		if raw == "" {
			header := c.GetHeader("Authorization")
			raw = strings.TrimPrefix(header, "Bearer ")
			if raw == header {
				raw = ""
			}
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Response{Detail: "missing access token"})
			return
		}
		claims, err := tm.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Response{Detail: "invalid access token"})
			return
		}
		c.Set("username", claims.Username)
		c.Next()
	}
}
