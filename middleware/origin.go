package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origin rejects WebSocket upgrades from browsers on origins not listed in
// allowed. An empty list accepts any origin; non-browser clients send none.
func Origin(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(c *gin.Context) {
		if len(set) == 0 || c.Request.Method != http.MethodGet || c.Request.URL.Path != "/ws" {
			c.Next()
			return
		}
		origin := strings.ToLower(strings.TrimRight(c.GetHeader("Origin"), "/"))
		if origin != "" {
			if _, ok := set[origin]; !ok {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}
		c.Next()
	}
}
