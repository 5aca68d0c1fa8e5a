package middleware

import (
	"net/http"

	"course_messaging/pkg/errors"
	"course_messaging/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last error attached with c.Error as {error, code}.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		statusCode := errors.HTTPStatusFromError(err)
		if statusCode >= http.StatusInternalServerError {
			log.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		}

		c.JSON(statusCode, errors.NewAPIError(errors.PublicMessage(err), statusCode))
	}
}
