package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/authz-api/internal/handler"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
)

// DefaultMaxBodySize bounds request bodies; decision requests are small
const DefaultMaxBodySize = 64 << 10

// SizeLimit rejects bodies larger than maxBytes
func SizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			handler.RespondError(c, apperrors.NewAppError(apperrors.ErrTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxBytes), nil))
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
