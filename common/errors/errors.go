package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error is an error that knows its HTTP status.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a new Error
func New(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

var (
	ErrBadRequest     = New(http.StatusBadRequest, "Invalid request", nil)
	ErrInternalServer = New(http.StatusInternalServerError, "Internal server error", nil)
)

// ErrorMiddleware renders the last error a handler attached with c.Error.
// Errors that are not *Error become a 500 without leaking their text.
func ErrorMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		var appErr *Error
		if !errors.As(err, &appErr) {
			logger.Error("Unhandled request error", zap.String("path", c.Request.URL.Path), zap.Error(err))
			appErr = New(http.StatusInternalServerError, ErrInternalServer.Message, err)
		}
		c.AbortWithStatusJSON(appErr.Code, gin.H{"error": appErr.Message})
	}
}
