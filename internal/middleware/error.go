package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/authz-api/internal/handler"
)

// ErrorHandler renders errors attached with c.Error once the chain returns
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		requestID := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			log.Error().
				Err(e.Err).
				Str("request_id", requestID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Str("client_ip", c.ClientIP()).
				Msg("Request error")
		}

		handler.RespondError(c, c.Errors.Last().Err)
	}
}

// Debug marks requests so error responses carry the underlying cause
func Debug(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(handler.ContextDebug, enabled)
		c.Next()
	}
}
