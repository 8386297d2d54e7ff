package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Authentication 校验 Authorization: Bearer <token>，token 为空时放行所有请求
func Authentication(token string, public ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(public))
	for _, p := range public {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if token == "" || skip[c.FullPath()] {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
			log.Warn().Str("path", c.Request.URL.Path).Str("remote", c.ClientIP()).Msg("unauthorized request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "UNAUTHORIZED", "message": "missing or invalid bearer token"},
			})
			return
		}
		c.Next()
	}
}
